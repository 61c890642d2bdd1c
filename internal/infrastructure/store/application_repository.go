// SPDX-License-Identifier: AGPL-3.0-or-later
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// ApplicationRepository resolves Applications. Rows are managed
// out-of-band (no CRUD here); this is a read-only lookup.
type ApplicationRepository struct {
	db *sql.DB
}

func NewApplicationRepository(db *sql.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// GetApplicationByAPIKey satisfies shared.ApplicationStore. Returns
// models.ErrInvalidAPIKey when no active application owns apiKey.
func (r *ApplicationRepository) GetApplicationByAPIKey(ctx context.Context, apiKey string) (*models.Application, error) {
	const q = `
		SELECT id, tenant_id, api_key, webhook_url, webhook_api_key,
		       webhook_enabled, webhook_events, status
		FROM applications
		WHERE api_key = $1 AND status = 'active'
	`
	app := &models.Application{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, apiKey).Scan(
		&app.ID,
		&app.TenantID,
		&app.APIKey,
		&app.WebhookURL,
		&app.WebhookAPIKey,
		&app.WebhookEnabled,
		pq.Array(&app.WebhookEvents),
		&app.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up application by api key: %w", err)
	}
	return app, nil
}

// GetByID loads an Application by primary key, used by the webhook
// worker to re-read webhook_api_key live at delivery time.
func (r *ApplicationRepository) GetByID(ctx context.Context, id int64) (*models.Application, error) {
	const q = `
		SELECT id, tenant_id, api_key, webhook_url, webhook_api_key,
		       webhook_enabled, webhook_events, status
		FROM applications
		WHERE id = $1
	`
	app := &models.Application{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, id).Scan(
		&app.ID,
		&app.TenantID,
		&app.APIKey,
		&app.WebhookURL,
		&app.WebhookAPIKey,
		&app.WebhookEnabled,
		pq.Array(&app.WebhookEvents),
		&app.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load application %d: %w", id, err)
	}
	return app, nil
}
