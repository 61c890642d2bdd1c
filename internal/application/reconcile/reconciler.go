// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile runs the periodic maintenance loop:
// rescue jobs stuck mid-send, re-enqueue orphaned outbox rows, dead-
// letter exhausted broker tasks, and prune old terminal rows on a
// ticker-driven background loop.
package reconcile

import (
	"context"
	"time"

	"github.com/btouchard/mailrelay/internal/infrastructure/queue"
	"github.com/btouchard/mailrelay/pkg/logger"
)

// JobRepository is the subset of store.EmailJobRepository the
// reconciler sweeps. EmailJob rows are never deleted by the core (see
// the EmailJob lifecycle note), so this interface only rescues
// stuck rows — it never purges terminal ones.
type JobRepository interface {
	ResetStaleProcessing(ctx context.Context, staleAfter time.Duration) (int64, error)
	ListOrphanedQueued(ctx context.Context, olderThan time.Duration) ([]int64, error)
}

// WebhookDeliveryRepository is the subset of
// store.WebhookDeliveryRepository the reconciler sweeps.
type WebhookDeliveryRepository interface {
	CleanupTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Broker enqueues a recovered job's send_email task.
type Broker interface {
	Enqueue(ctx context.Context, queueName string, payload any, maxAttempts int) (int64, error)
}

// SendEmailTask mirrors intake.SendEmailTask's wire shape, duplicated
// here (rather than imported) to avoid a reconcile->intake dependency
// for a single-field payload.
type SendEmailTask struct {
	JobID int64 `json:"job_id"`
}

// Config tunes the reconciler's sweep cadence and retention windows.
type Config struct {
	Interval               time.Duration
	StaleProcessingAfter    time.Duration
	OrphanedQueuedAfter     time.Duration
	TerminalRetentionPeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleProcessingAfter <= 0 {
		c.StaleProcessingAfter = 2 * time.Minute
	}
	if c.OrphanedQueuedAfter <= 0 {
		c.OrphanedQueuedAfter = 30 * time.Second
	}
	if c.TerminalRetentionPeriod <= 0 {
		c.TerminalRetentionPeriod = 7 * 24 * time.Hour
	}
	return c
}

// Reconciler is the maintenance loop run alongside the email and
// webhook workers.
type Reconciler struct {
	jobs       JobRepository
	deliveries WebhookDeliveryRepository
	broker     Broker
	taskBroker *queue.Reconciler
	cfg        Config
}

func New(jobs JobRepository, deliveries WebhookDeliveryRepository, broker Broker, taskBroker *queue.Reconciler, cfg Config) *Reconciler {
	return &Reconciler{jobs: jobs, deliveries: deliveries, broker: broker, taskBroker: taskBroker, cfg: cfg.withDefaults()}
}

// Run sweeps on a ticker until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep runs one maintenance pass. Each step is independent: a failure
// in one never blocks the others.
func (r *Reconciler) sweep(ctx context.Context) {
	if n, err := r.jobs.ResetStaleProcessing(ctx, r.cfg.StaleProcessingAfter); err != nil {
		logger.Logger.Error("reconcile_reset_stale_processing_failed", "error", err.Error())
	} else if n > 0 {
		logger.Logger.Info("reconcile_reset_stale_processing", "count", n)
	}

	r.reenqueueOrphaned(ctx)

	if n, err := r.taskBroker.DeadLetter(ctx, queue.QueueEmailDelivery); err != nil {
		logger.Logger.Error("reconcile_dead_letter_email_failed", "error", err.Error())
	} else if n > 0 {
		logger.Logger.Info("reconcile_dead_letter_email", "count", n)
	}
	if n, err := r.taskBroker.DeadLetter(ctx, queue.QueueWebhookDelivery); err != nil {
		logger.Logger.Error("reconcile_dead_letter_webhook_failed", "error", err.Error())
	} else if n > 0 {
		logger.Logger.Info("reconcile_dead_letter_webhook", "count", n)
	}

	if n, err := r.deliveries.CleanupTerminal(ctx, r.cfg.TerminalRetentionPeriod); err != nil {
		logger.Logger.Error("reconcile_cleanup_deliveries_failed", "error", err.Error())
	} else if n > 0 {
		logger.Logger.Info("reconcile_cleanup_deliveries", "count", n)
	}
}

// reenqueueOrphaned re-enqueues a send_email task for every job still
// in status=queued past OrphanedQueuedAfter, which covers jobs whose
// task the Job Queue Broker never received (or lost). A job whose task
// is merely still waiting in the broker gets a second task too.
func (r *Reconciler) reenqueueOrphaned(ctx context.Context) {
	ids, err := r.jobs.ListOrphanedQueued(ctx, r.cfg.OrphanedQueuedAfter)
	if err != nil {
		logger.Logger.Error("reconcile_list_orphaned_queued_failed", "error", err.Error())
		return
	}
	for _, id := range ids {
		if _, err := r.broker.Enqueue(ctx, queue.QueueEmailDelivery, SendEmailTask{JobID: id}, 4); err != nil {
			logger.Logger.Error("reconcile_reenqueue_orphaned_failed", "job_id", id, "error", err.Error())
			continue
		}
		logger.Logger.Info("reconcile_reenqueued_orphaned_job", "job_id", id)
	}
}
