// SPDX-License-Identifier: AGPL-3.0-or-later
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// EmailJobRepository is read-write: Insert at intake time, then
// mutated only by the email worker while holding the row lock.
type EmailJobRepository struct {
	db *sql.DB
}

func NewEmailJobRepository(db *sql.DB) *EmailJobRepository {
	return &EmailJobRepository{db: db}
}

// Insert persists a new job in status=queued. Called before the
// broker task is enqueued, so the job row always exists by the time
// any worker could claim its task.
func (r *EmailJobRepository) Insert(ctx context.Context, job *models.EmailJob) error {
	const q = `
		INSERT INTO email_jobs (
			tenant_id, application_id, service_id, to_email, subject, body,
			status, max_retries, webhook_requested
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q,
		job.TenantID, job.ApplicationID, job.ServiceID, job.ToEmail, job.Subject, job.Body,
		models.EmailJobQueued, job.MaxRetries, job.WebhookRequested,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert email job: %w", err)
	}
	job.Status = models.EmailJobQueued
	return nil
}

// GetByID loads a job by primary key for the status API.
func (r *EmailJobRepository) GetByID(ctx context.Context, id int64) (*models.EmailJob, error) {
	const q = `
		SELECT id, tenant_id, application_id, service_id, to_email, subject, body,
		       status, sent_at, processing_started_at, error_message, error_category,
		       retry_count, max_retries, next_retry_at, webhook_requested, created_at, updated_at
		FROM email_jobs
		WHERE id = $1
	`
	job := &models.EmailJob{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, id).Scan(
		&job.ID, &job.TenantID, &job.ApplicationID, &job.ServiceID, &job.ToEmail, &job.Subject, &job.Body,
		&job.Status, &job.SentAt, &job.ProcessingStartedAt, &job.ErrorMessage, &job.ErrorCategory,
		&job.RetryCount, &job.MaxRetries, &job.NextRetryAt, &job.WebhookRequested, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email job %d: %w", id, err)
	}
	return job, nil
}

// LockForProcessing loads job id under FOR UPDATE SKIP LOCKED, the
// per-task claim of email worker §4.2 step 1. Returns (nil, nil) when
// the row is already locked by another worker's transaction (or,
// indistinguishably, does not exist) — callers treat that as "some
// other worker owns it" and simply return. Must be called with ctx
// carrying a transaction (store.RunInTx), since the lock is only held
// for the lifetime of that transaction.
func (r *EmailJobRepository) LockForProcessing(ctx context.Context, id int64) (*models.EmailJob, error) {
	const q = `
		SELECT id, tenant_id, application_id, service_id, to_email, subject, body,
		       status, sent_at, processing_started_at, error_message, error_category,
		       retry_count, max_retries, next_retry_at, webhook_requested, created_at, updated_at
		FROM email_jobs
		WHERE id = $1
		FOR UPDATE SKIP LOCKED
	`
	job := &models.EmailJob{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, id).Scan(
		&job.ID, &job.TenantID, &job.ApplicationID, &job.ServiceID, &job.ToEmail, &job.Subject, &job.Body,
		&job.Status, &job.SentAt, &job.ProcessingStartedAt, &job.ErrorMessage, &job.ErrorCategory,
		&job.RetryCount, &job.MaxRetries, &job.NextRetryAt, &job.WebhookRequested, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock email job %d: %w", id, err)
	}
	return job, nil
}

// MarkProcessing transitions a locked job to status=processing,
// stamping processing_started_at. Called within the same transaction
// as LockForProcessing, step 4 of §4.2.
func (r *EmailJobRepository) MarkProcessing(ctx context.Context, id int64) error {
	const q = `
		UPDATE email_jobs
		SET status = 'processing', processing_started_at = now(), updated_at = now()
		WHERE id = $1
	`
	_, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("failed to mark email job %d processing: %w", id, err)
	}
	return nil
}

// SetWebhookRequested flags that a WebhookDelivery was queued for
// this job's terminal event, per §4.5 step 6.
func (r *EmailJobRepository) SetWebhookRequested(ctx context.Context, id int64) error {
	const q = `UPDATE email_jobs SET webhook_requested = true, updated_at = now() WHERE id = $1`
	_, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("failed to flag webhook_requested for email job %d: %w", id, err)
	}
	return nil
}

// ListOrphanedQueued finds jobs still sitting in status=queued past
// olderThan: the narrow window §9's outbox note describes, where the
// job row committed but its send_email task never got enqueued (or
// was lost). It does not consult the tasks table, so a queued job
// whose task is still waiting in the broker is listed too. The
// reconciler re-enqueues a task for each.
func (r *EmailJobRepository) ListOrphanedQueued(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	const q = `
		SELECT id FROM email_jobs
		WHERE status = 'queued' AND created_at < now() - $1::interval
		ORDER BY created_at ASC
	`
	rows, err := GetQuerier(ctx, r.db).QueryContext(ctx, q, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned queued email jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan orphaned email job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSent finalizes a job as sent, gated on sent_at still being NULL
// so a redelivered task can never double-send after a prior worker
// already reached the terminal state.
func (r *EmailJobRepository) MarkSent(ctx context.Context, id int64) error {
	const q = `
		UPDATE email_jobs
		SET status = 'sent', sent_at = now(), updated_at = now()
		WHERE id = $1 AND sent_at IS NULL
	`
	_, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("failed to mark email job %d sent: %w", id, err)
	}
	return nil
}

// MarkRetryPending schedules a retryable failure for redelivery after delay.
func (r *EmailJobRepository) MarkRetryPending(ctx context.Context, id int64, errMsg, category string, delay time.Duration) error {
	const q = `
		UPDATE email_jobs
		SET status = 'retry_pending',
		    retry_count = retry_count + 1,
		    error_message = $1,
		    error_category = $2,
		    next_retry_at = now() + $3::interval,
		    updated_at = now()
		WHERE id = $4 AND sent_at IS NULL
	`
	_, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, errMsg, category, fmt.Sprintf("%d seconds", int(delay.Seconds())), id)
	if err != nil {
		return fmt.Errorf("failed to mark email job %d retry pending: %w", id, err)
	}
	return nil
}

// MarkFailed finalizes a job as permanently failed, either because the
// classifier deemed the error permanent or retries were exhausted.
func (r *EmailJobRepository) MarkFailed(ctx context.Context, id int64, errMsg, category string) error {
	const q = `
		UPDATE email_jobs
		SET status = 'failed', error_message = $1, error_category = $2, updated_at = now()
		WHERE id = $3 AND sent_at IS NULL
	`
	_, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, errMsg, category, id)
	if err != nil {
		return fmt.Errorf("failed to mark email job %d failed: %w", id, err)
	}
	return nil
}

// ResetStaleProcessing requeues jobs stuck in processing past
// staleAfter, rescuing rows orphaned by a worker crash mid-send.
func (r *EmailJobRepository) ResetStaleProcessing(ctx context.Context, staleAfter time.Duration) (int64, error) {
	const q = `
		UPDATE email_jobs
		SET status = 'retry_pending', next_retry_at = now()
		WHERE status = 'processing' AND processing_started_at < now() - $1::interval
	`
	res, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, fmt.Sprintf("%d seconds", int(staleAfter.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale processing email jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

