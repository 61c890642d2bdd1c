// SPDX-License-Identifier: AGPL-3.0-or-later
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// EmailServiceRepository is a read-only lookup over email_services.
type EmailServiceRepository struct {
	db *sql.DB
}

func NewEmailServiceRepository(db *sql.DB) *EmailServiceRepository {
	return &EmailServiceRepository{db: db}
}

// GetActiveByName resolves the named, active EmailService for a
// tenant. Intake rejects unknown or inactive service names.
func (r *EmailServiceRepository) GetActiveByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.EmailService, error) {
	const q = `
		SELECT id, tenant_id, name, status, template_id
		FROM email_services
		WHERE tenant_id = $1 AND name = $2 AND status = 'active'
	`
	svc := &models.EmailService{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, tenantID, name).Scan(
		&svc.ID, &svc.TenantID, &svc.Name, &svc.Status, &svc.TemplateID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEmailServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up email service %q: %w", name, err)
	}
	return svc, nil
}

// GetByID loads a service by primary key, used by the email worker to
// resolve a human-readable service name for the webhook payload.
func (r *EmailServiceRepository) GetByID(ctx context.Context, id int64) (*models.EmailService, error) {
	const q = `
		SELECT id, tenant_id, name, status, template_id
		FROM email_services
		WHERE id = $1
	`
	svc := &models.EmailService{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, id).Scan(
		&svc.ID, &svc.TenantID, &svc.Name, &svc.Status, &svc.TemplateID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEmailServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email service %d: %w", id, err)
	}
	return svc, nil
}
