// SPDX-License-Identifier: AGPL-3.0-or-later
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// SMTPConfigurationRepository is a read-only lookup over
// smtp_configurations. PasswordWrapped is returned as stored; callers
// unwrap it with internal/infrastructure/crypto.
type SMTPConfigurationRepository struct {
	db *sql.DB
}

func NewSMTPConfigurationRepository(db *sql.DB) *SMTPConfigurationRepository {
	return &SMTPConfigurationRepository{db: db}
}

func (r *SMTPConfigurationRepository) GetByID(ctx context.Context, id int64) (*models.SMTPConfiguration, error) {
	const q = `
		SELECT id, host, port, username, password_wrapped, use_tls
		FROM smtp_configurations
		WHERE id = $1
	`
	cfg := &models.SMTPConfiguration{}
	err := GetQuerier(ctx, r.db).QueryRowContext(ctx, q, id).Scan(
		&cfg.ID, &cfg.Host, &cfg.Port, &cfg.Username, &cfg.PasswordWrapped, &cfg.UseTLS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSMTPConfigurationMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load smtp configuration %d: %w", id, err)
	}
	return cfg, nil
}
