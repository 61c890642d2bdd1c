// SPDX-License-Identifier: AGPL-3.0-or-later

// Package queue is the Job Queue Broker: a Postgres-table FIFO
// (tasks) standing in for an external message bus, using
// SELECT ... FOR UPDATE SKIP LOCKED to claim rows ordered by
// created_at ASC, id ASC, restricted to pending tasks whose redelivery
// delay has passed and processing tasks whose visibility timeout has
// expired.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btouchard/mailrelay/pkg/logger"
)

const (
	QueueEmailDelivery   = "email_delivery"
	QueueWebhookDelivery = "webhook_delivery"
)

// Task is one unit of work claimed from a named queue.
type Task struct {
	ID          int64
	Queue       string
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	LockedUntil *time.Time
}

// Broker is the Postgres-backed FIFO task bus.
type Broker struct {
	db *sql.DB
}

func NewBroker(db *sql.DB) *Broker {
	return &Broker{db: db}
}

// Enqueue inserts a new task on queueName with status=pending.
func (b *Broker) Enqueue(ctx context.Context, queueName string, payload any, maxAttempts int) (int64, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	const q = `
		INSERT INTO tasks (queue, payload, status, max_attempts)
		VALUES ($1, $2, 'pending', $3)
		RETURNING id
	`
	var id int64
	if err := b.db.QueryRowContext(ctx, q, queueName, payloadJSON, maxAttempts).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to enqueue task on %s: %w", queueName, err)
	}
	logger.Logger.Debug("task_enqueued", "queue", queueName, "id", id)
	return id, nil
}

// Claim atomically picks up to limit pending/redeliverable tasks from
// queueName, moving them to processing with locked_until set
// visibilityTimeout in the future. A task whose locked_until has
// already passed is eligible again (visibility-timeout redelivery).
func (b *Broker) Claim(ctx context.Context, queueName string, limit int, visibilityTimeout time.Duration) ([]*Task, error) {
	const q = `
		UPDATE tasks
		SET status = 'processing', locked_until = now() + $1::interval, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM tasks
			WHERE queue = $2
			  AND (
			      (status = 'pending' AND (locked_until IS NULL OR locked_until <= now()))
			      OR (status = 'processing' AND locked_until < now())
			  )
			ORDER BY created_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, payload, attempts, max_attempts, created_at, locked_until
	`
	rows, err := b.db.QueryContext(ctx, q, fmt.Sprintf("%d seconds", int(visibilityTimeout.Seconds())), queueName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks from %s: %w", queueName, err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(&t.ID, &t.Queue, &t.Payload, &t.Attempts, &t.MaxAttempts, &t.CreatedAt, &t.LockedUntil); err != nil {
			return nil, fmt.Errorf("failed to scan claimed task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Ack marks a task done and removes it from the table.
func (b *Broker) Ack(ctx context.Context, taskID int64) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID); err != nil {
		return fmt.Errorf("failed to ack task %d: %w", taskID, err)
	}
	return nil
}

// Nack schedules taskID for redelivery after delay by releasing its
// lock and pushing it back to pending with a future visibility.
func (b *Broker) Nack(ctx context.Context, taskID int64, delay time.Duration) error {
	const q = `
		UPDATE tasks
		SET status = 'pending', locked_until = now() + $1::interval
		WHERE id = $2
	`
	_, err := b.db.ExecContext(ctx, q, fmt.Sprintf("%d seconds", int(delay.Seconds())), taskID)
	if err != nil {
		return fmt.Errorf("failed to nack task %d: %w", taskID, err)
	}
	return nil
}

// Reconciler handles tasks abandoned by a crashed worker: rows stuck
// in processing past their locked_until are simply picked up again by
// the next Claim (locked_until < now() clause above), so the
// Reconciler only gives tasks past max_attempts a terminal resting
// state (DeadLetter) and reports how many it moved.
type Reconciler struct {
	broker *Broker
}

func NewReconciler(b *Broker) *Reconciler {
	return &Reconciler{broker: b}
}

// DeadLetter moves tasks that exhausted max_attempts out of queueName
// into a terminal 'dead' status so Claim stops considering them.
func (r *Reconciler) DeadLetter(ctx context.Context, queueName string) (int64, error) {
	const q = `
		UPDATE tasks
		SET status = 'dead'
		WHERE queue = $1 AND status = 'processing' AND attempts >= max_attempts AND locked_until < now()
	`
	res, err := r.broker.db.ExecContext(ctx, q, queueName)
	if err != nil {
		return 0, fmt.Errorf("failed to dead-letter tasks on %s: %w", queueName, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
