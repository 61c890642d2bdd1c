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

// WebhookDeliveryRepository is read-write: Insert at dispatch time,
// then mutated only by the webhook worker while holding the row lock.
// WebhookURL is whatever the dispatcher snapshotted into the row at
// Insert time; it is never re-read from applications here.
type WebhookDeliveryRepository struct {
	db *sql.DB
}

func NewWebhookDeliveryRepository(db *sql.DB) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db}
}

func (r *WebhookDeliveryRepository) Insert(ctx context.Context, d *models.WebhookDelivery) error {
	const q = `
		INSERT INTO webhook_deliveries (
			email_job_id, application_id, tenant_id, webhook_url, event_type,
			payload, status, max_retries
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q,
		d.EmailJobID, d.ApplicationID, d.TenantID, d.WebhookURL, d.EventType,
		d.Payload, models.WebhookDeliveryPending, d.MaxRetries,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue webhook delivery: %w", err)
	}
	d.Status = models.WebhookDeliveryPending
	return nil
}

func (r *WebhookDeliveryRepository) GetByID(ctx context.Context, id int64) (*models.WebhookDelivery, error) {
	const q = `
		SELECT id, email_job_id, application_id, tenant_id, webhook_url, event_type, payload,
		       status, retry_count, max_retries, next_retry_at, last_response_code,
		       last_response_body, last_error, delivered_at, created_at
		FROM webhook_deliveries
		WHERE id = $1
	`
	d := &models.WebhookDelivery{}
	if err := r.scanRow(GetQuerier(ctx, r.db).QueryRowContext(ctx, q, id), d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrWebhookDeliveryNotFound
		}
		return nil, fmt.Errorf("failed to load webhook delivery %d: %w", id, err)
	}
	return d, nil
}

// GetByEmailJobID loads the (at most one, per §8 invariant 5) webhook
// delivery bound to an EmailJob, for the Job Status API's /full view.
// Returns models.ErrWebhookDeliveryNotFound when the job never
// triggered a webhook.
func (r *WebhookDeliveryRepository) GetByEmailJobID(ctx context.Context, emailJobID int64) (*models.WebhookDelivery, error) {
	const q = `
		SELECT id, email_job_id, application_id, tenant_id, webhook_url, event_type, payload,
		       status, retry_count, max_retries, next_retry_at, last_response_code,
		       last_response_body, last_error, delivered_at, created_at
		FROM webhook_deliveries
		WHERE email_job_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	d := &models.WebhookDelivery{}
	if err := r.scanRow(GetQuerier(ctx, r.db).QueryRowContext(ctx, q, emailJobID), d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrWebhookDeliveryNotFound
		}
		return nil, fmt.Errorf("failed to load webhook delivery for email job %d: %w", emailJobID, err)
	}
	return d, nil
}

// LockForDelivery loads delivery id under FOR UPDATE SKIP LOCKED,
// analogous to EmailJobRepository.LockForProcessing. Returns (nil,
// nil) when another worker's transaction already holds the row (or it
// doesn't exist); callers treat that as "some other worker owns it".
// Must be called with ctx carrying a transaction (store.RunInTx).
func (r *WebhookDeliveryRepository) LockForDelivery(ctx context.Context, id int64) (*models.WebhookDelivery, error) {
	const q = `
		SELECT id, email_job_id, application_id, tenant_id, webhook_url, event_type, payload,
		       status, retry_count, max_retries, next_retry_at, last_response_code,
		       last_response_body, last_error, delivered_at, created_at
		FROM webhook_deliveries
		WHERE id = $1
		FOR UPDATE SKIP LOCKED
	`
	d := &models.WebhookDelivery{}
	err := r.scanRow(GetQuerier(ctx, r.db).QueryRowContext(ctx, q, id), d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock webhook delivery %d: %w", id, err)
	}
	return d, nil
}

func (r *WebhookDeliveryRepository) MarkDelivered(ctx context.Context, id int64, responseCode int, responseBody string) error {
	if len(responseBody) > models.MaxWebhookResponseBodyBytes {
		responseBody = responseBody[:models.MaxWebhookResponseBodyBytes]
	}
	const q = `
		UPDATE webhook_deliveries
		SET status = 'delivered', delivered_at = now(), last_response_code = $1, last_response_body = $2
		WHERE id = $3
	`
	_, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, responseCode, responseBody, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook delivery %d delivered: %w", id, err)
	}
	return nil
}

func (r *WebhookDeliveryRepository) MarkRetryPending(ctx context.Context, id int64, responseCode *int, errMsg string, delay time.Duration) error {
	const q = `
		UPDATE webhook_deliveries
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    last_response_code = $1,
		    last_error = $2,
		    next_retry_at = now() + $3::interval
		WHERE id = $4
	`
	_, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, responseCode, errMsg, fmt.Sprintf("%d seconds", int(delay.Seconds())), id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook delivery %d retry pending: %w", id, err)
	}
	return nil
}

func (r *WebhookDeliveryRepository) MarkFailed(ctx context.Context, id int64, responseCode *int, errMsg string) error {
	const q = `
		UPDATE webhook_deliveries
		SET status = 'failed', last_response_code = $1, last_error = $2
		WHERE id = $3
	`
	_, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, responseCode, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook delivery %d failed: %w", id, err)
	}
	return nil
}

func (r *WebhookDeliveryRepository) CleanupTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `
		DELETE FROM webhook_deliveries
		WHERE status IN ('delivered', 'failed') AND created_at < $1
	`
	cutoff := time.Now().Add(-olderThan)
	res, err := GetQuerier(ctx, r.db).ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up terminal webhook deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *WebhookDeliveryRepository) scanRow(row *sql.Row, d *models.WebhookDelivery) error {
	return row.Scan(
		&d.ID, &d.EmailJobID, &d.ApplicationID, &d.TenantID, &d.WebhookURL, &d.EventType, &d.Payload,
		&d.Status, &d.RetryCount, &d.MaxRetries, &d.NextRetryAt, &d.LastResponseCode,
		&d.LastResponseBody, &d.LastError, &d.DeliveredAt, &d.CreatedAt,
	)
}

func (r *WebhookDeliveryRepository) scanRows(rows *sql.Rows, d *models.WebhookDelivery) error {
	return rows.Scan(
		&d.ID, &d.EmailJobID, &d.ApplicationID, &d.TenantID, &d.WebhookURL, &d.EventType, &d.Payload,
		&d.Status, &d.RetryCount, &d.MaxRetries, &d.NextRetryAt, &d.LastResponseCode,
		&d.LastResponseBody, &d.LastError, &d.DeliveredAt, &d.CreatedAt,
	)
}
