// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store is the Postgres-backed persistence layer: one
// repository type per entity, row-level locking via
// SELECT ... FOR UPDATE SKIP LOCKED where the domain requires it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type Config struct {
	DSN string
}

// Open opens the pool and verifies connectivity with a bounded ping.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Ping is a lightweight liveness probe used by the readiness handler,
// bounded independently of Open's startup timeout.
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var ok int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&ok)
}
