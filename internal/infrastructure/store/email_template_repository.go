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

// EmailTemplateRepository is a read-only lookup over email_templates.
type EmailTemplateRepository struct {
	db *sql.DB
}

func NewEmailTemplateRepository(db *sql.DB) *EmailTemplateRepository {
	return &EmailTemplateRepository{db: db}
}

func (r *EmailTemplateRepository) GetByID(ctx context.Context, id int64) (*models.EmailTemplate, error) {
	const q = `
		SELECT id, tenant_id, name, subject_template, body_template
		FROM email_templates
		WHERE id = $1
	`
	tmpl := &models.EmailTemplate{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, id).Scan(
		&tmpl.ID, &tmpl.TenantID, &tmpl.Name, &tmpl.SubjectTemplate, &tmpl.BodyTemplate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email template %d: %w", id, err)
	}
	return tmpl, nil
}

// GetByTenantAndName resolves the template named on the intake
// request's ?template= query parameter.
func (r *EmailTemplateRepository) GetByTenantAndName(ctx context.Context, tenantID uuid.UUID, name string) (*models.EmailTemplate, error) {
	const q = `
		SELECT id, tenant_id, name, subject_template, body_template
		FROM email_templates
		WHERE tenant_id = $1 AND name = $2
	`
	tmpl := &models.EmailTemplate{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, tenantID, name).Scan(
		&tmpl.ID, &tmpl.TenantID, &tmpl.Name, &tmpl.SubjectTemplate, &tmpl.BodyTemplate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email template %s/%s: %w", tenantID, name, err)
	}
	return tmpl, nil
}
