// SPDX-License-Identifier: AGPL-3.0-or-later
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// ServiceConfigurationRepository resolves the active SMTP pairing for
// an (EmailService, Application) pair.
type ServiceConfigurationRepository struct {
	db *sql.DB
}

func NewServiceConfigurationRepository(db *sql.DB) *ServiceConfigurationRepository {
	return &ServiceConfigurationRepository{db: db}
}

// GetActive returns the single active ServiceConfiguration for the
// given service and application, or ErrNoActiveConfiguration.
func (r *ServiceConfigurationRepository) GetActive(ctx context.Context, emailServiceID, applicationID int64) (*models.ServiceConfiguration, error) {
	const q = `
		SELECT id, email_service_id, application_id, smtp_configuration_id, is_active, max_retries
		FROM service_configurations
		WHERE email_service_id = $1 AND application_id = $2 AND is_active = true
	`
	cfg := &models.ServiceConfiguration{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, emailServiceID, applicationID).Scan(
		&cfg.ID, &cfg.EmailServiceID, &cfg.ApplicationID, &cfg.SMTPConfigurationID, &cfg.IsActive, &cfg.MaxRetries,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNoActiveConfiguration
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up active service configuration: %w", err)
	}
	return cfg, nil
}
