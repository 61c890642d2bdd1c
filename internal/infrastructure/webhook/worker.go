// SPDX-License-Identifier: AGPL-3.0-or-later
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/btouchard/mailrelay/internal/application/webhookdispatch"
	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/queue"
	"github.com/btouchard/mailrelay/pkg/logger"
)

// DeliveryRepository is the subset of store.WebhookDeliveryRepository
// the worker needs to claim, transition, and finalize a delivery.
type DeliveryRepository interface {
	LockForDelivery(ctx context.Context, id int64) (*models.WebhookDelivery, error)
	MarkDelivered(ctx context.Context, id int64, responseCode int, responseBody string) error
	MarkRetryPending(ctx context.Context, id int64, responseCode *int, errMsg string, delay time.Duration) error
	MarkFailed(ctx context.Context, id int64, responseCode *int, errMsg string) error
}

// ApplicationRepository resolves the Application owning a delivery, so
// the worker always signs with the API key current at send time
// rather than whatever was live when the delivery was enqueued.
type ApplicationRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Application, error)
}

// Broker is the subset of queue.Broker the worker consumes tasks through.
type Broker interface {
	Claim(ctx context.Context, queueName string, limit int, visibilityTimeout time.Duration) ([]*queue.Task, error)
	Ack(ctx context.Context, taskID int64) error
	Nack(ctx context.Context, taskID int64, delay time.Duration) error
}

// Recorder is the metrics surface the worker reports into. A nil
// Recorder is valid: every method is a no-op.
type Recorder interface {
	WebhookDelivered()
	WebhookFailed()
	WebhookRetried()
	ObserveWebhookRequest(d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) WebhookDelivered()                      {}
func (noopRecorder) WebhookFailed()                         {}
func (noopRecorder) WebhookRetried()                        {}
func (noopRecorder) ObserveWebhookRequest(time.Duration) {}

// Config tunes the webhook worker's claim batch and backoff.
type Config struct {
	Concurrency       int
	BatchSize         int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	RetryBaseDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = c.Concurrency
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 30 * time.Second
	}
	return c
}

// Worker implements the deliver_webhook consumer: lock the delivery
// row, POST the frozen payload to the frozen URL, and retry with
// backoff on any non-2xx response or transport error.
type Worker struct {
	beginTx      func(ctx context.Context, fn func(ctx context.Context) error) error
	broker       Broker
	deliveries   DeliveryRepository
	applications ApplicationRepository
	client       *Client
	cfg          Config
	metrics      Recorder
}

func New(
	beginTx func(ctx context.Context, fn func(ctx context.Context) error) error,
	broker Broker,
	deliveries DeliveryRepository,
	applications ApplicationRepository,
	client *Client,
	cfg Config,
	rec Recorder,
) *Worker {
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Worker{
		beginTx:      beginTx,
		broker:       broker,
		deliveries:   deliveries,
		applications: applications,
		client:       client,
		cfg:          cfg.withDefaults(),
		metrics:      rec,
	}
}

// Run claims and processes tasks until ctx is cancelled or maxTasks
// have been handled (0 = unbounded). Mirrors delivery.Worker.Run's
// recycle-after-N shape.
func (w *Worker) Run(ctx context.Context, maxTasks int) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.cfg.Concurrency)
	processed := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		tasks, err := w.broker.Claim(ctx, queue.QueueWebhookDelivery, w.cfg.BatchSize, w.cfg.VisibilityTimeout)
		if err != nil {
			logger.Logger.Error("webhook_worker_claim_failed", "error", err.Error())
			continue
		}

		var wg sync.WaitGroup
		for _, task := range tasks {
			sem <- struct{}{}
			wg.Add(1)
			go func(t *queue.Task) {
				defer wg.Done()
				defer func() { <-sem }()
				w.handleTask(ctx, t)
			}(task)
		}
		wg.Wait()

		processed += len(tasks)
		if maxTasks > 0 && processed >= maxTasks {
			return nil
		}
	}
}

func (w *Worker) handleTask(ctx context.Context, task *queue.Task) {
	defer func() {
		if p := recover(); p != nil {
			logger.Logger.Error("webhook_worker_panic", "task_id", task.ID, "panic", fmt.Sprintf("%v", p))
			_ = w.broker.Ack(ctx, task.ID)
		}
	}()

	var payload webhookdispatch.DeliverWebhookTask
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		logger.Logger.Error("webhook_worker_bad_payload", "task_id", task.ID, "error", err.Error())
		_ = w.broker.Ack(ctx, task.ID)
		return
	}

	start := time.Now()
	action, delay := w.processDelivery(ctx, payload.DeliveryID)
	w.metrics.ObserveWebhookRequest(time.Since(start))

	switch action {
	case actionAck:
		if err := w.broker.Ack(ctx, task.ID); err != nil {
			logger.Logger.Error("webhook_worker_ack_failed", "task_id", task.ID, "error", err.Error())
		}
	case actionNack:
		if err := w.broker.Nack(ctx, task.ID, delay); err != nil {
			logger.Logger.Error("webhook_worker_nack_failed", "task_id", task.ID, "error", err.Error())
		}
	case actionLeave:
	}
}

type taskAction int

const (
	actionAck taskAction = iota
	actionNack
	actionLeave
)

// processDelivery locks the delivery row, gates on idempotency, POSTs
// the payload, then classifies the response and transitions the row.
func (w *Worker) processDelivery(ctx context.Context, deliveryID int64) (taskAction, time.Duration) {
	var delivery *models.WebhookDelivery
	var skip bool

	err := w.beginTx(ctx, func(ctx context.Context) error {
		d, err := w.deliveries.LockForDelivery(ctx, deliveryID)
		if err != nil {
			return err
		}
		if d == nil || d.Status == models.WebhookDeliveryDelivered || d.Status == models.WebhookDeliveryFailed {
			skip = true
			return nil
		}
		delivery = d
		return nil
	})
	if err != nil {
		logger.Logger.Error("webhook_worker_lock_tx_failed", "delivery_id", deliveryID, "error", err.Error())
		return actionNack, w.cfg.RetryBaseDelay
	}
	if skip {
		return actionAck, 0
	}

	app, err := w.applications.GetByID(ctx, delivery.ApplicationID)
	if err != nil {
		logger.Logger.Error("webhook_worker_application_lookup_failed", "delivery_id", delivery.ID, "error", err.Error())
		return w.retryOrFail(ctx, delivery, nil, fmt.Sprintf("failed to resolve application: %v", err))
	}

	apiKey := ""
	if app.WebhookAPIKey != nil {
		apiKey = *app.WebhookAPIKey
	}

	resp, err := w.client.Deliver(ctx, delivery.WebhookURL, delivery.Payload, apiKey)
	if err != nil {
		return w.retryOrFail(ctx, delivery, nil, err.Error())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return w.finalizeDelivered(ctx, delivery, resp)
	}
	return w.retryOrFail(ctx, delivery, &resp.StatusCode, truncate(resp.Body, models.MaxWebhookResponseBodyBytes))
}

func (w *Worker) finalizeDelivered(ctx context.Context, d *models.WebhookDelivery, resp *Response) (taskAction, time.Duration) {
	err := w.beginTx(ctx, func(ctx context.Context) error {
		return w.deliveries.MarkDelivered(ctx, d.ID, resp.StatusCode, resp.Body)
	})
	if err != nil {
		logger.Logger.Error("webhook_worker_mark_delivered_failed", "delivery_id", d.ID, "error", err.Error())
		return actionNack, w.cfg.RetryBaseDelay
	}
	w.metrics.WebhookDelivered()
	return actionAck, 0
}

// retryOrFail schedules a retry with backoff, or finalizes as failed
// once this failed attempt brings the attempt count to max_retries
// (retry_count counts completed failed attempts), per §4.6 step 6's
// retry table.
func (w *Worker) retryOrFail(ctx context.Context, d *models.WebhookDelivery, responseCode *int, errMsg string) (taskAction, time.Duration) {
	attempt := d.RetryCount
	if attempt+1 < d.MaxRetries {
		delay := backoff(w.cfg.RetryBaseDelay, attempt)
		err := w.beginTx(ctx, func(ctx context.Context) error {
			return w.deliveries.MarkRetryPending(ctx, d.ID, responseCode, errMsg, delay)
		})
		if err != nil {
			logger.Logger.Error("webhook_worker_mark_retry_pending_failed", "delivery_id", d.ID, "error", err.Error())
			return actionNack, w.cfg.RetryBaseDelay
		}
		w.metrics.WebhookRetried()
		logger.Logger.Info("webhook_retry_scheduled", "delivery_id", d.ID, "attempt", attempt, "delay", delay.String())
		return actionNack, delay
	}

	err := w.beginTx(ctx, func(ctx context.Context) error {
		return w.deliveries.MarkFailed(ctx, d.ID, responseCode, errMsg)
	})
	if err != nil {
		logger.Logger.Error("webhook_worker_mark_failed_failed", "delivery_id", d.ID, "error", err.Error())
		return actionNack, w.cfg.RetryBaseDelay
	}
	w.metrics.WebhookFailed()
	return actionAck, 0
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d <= 0 {
		return base
	}
	delta := int64(d) / 10
	if delta <= 0 {
		return d
	}
	jitter := rand.Int63n(2*delta+1) - delta
	return d + time.Duration(jitter)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
