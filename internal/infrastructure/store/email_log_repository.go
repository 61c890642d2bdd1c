// SPDX-License-Identifier: AGPL-3.0-or-later
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// EmailLogRepository is append-only: one row per delivery attempt
// outcome for an EmailJob.
type EmailLogRepository struct {
	db *sql.DB
}

func NewEmailLogRepository(db *sql.DB) *EmailLogRepository {
	return &EmailLogRepository{db: db}
}

func (r *EmailLogRepository) Append(ctx context.Context, log *models.EmailLog) error {
	const q = `
		INSERT INTO email_logs (job_id, status, response_code, response_message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q,
		log.JobID, log.Status, log.ResponseCode, log.ResponseMessage,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append email log for job %d: %w", log.JobID, err)
	}
	return nil
}

func (r *EmailLogRepository) ListByJob(ctx context.Context, jobID int64) ([]*models.EmailLog, error) {
	const q = `
		SELECT id, job_id, status, response_code, response_message, created_at
		FROM email_logs
		WHERE job_id = $1
		ORDER BY created_at ASC
	`
	rows, err := GetQuerier(ctx, r.db).QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list email logs for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var logs []*models.EmailLog
	for rows.Next() {
		log := &models.EmailLog{}
		if err := rows.Scan(&log.ID, &log.JobID, &log.Status, &log.ResponseCode, &log.ResponseMessage, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan email log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
