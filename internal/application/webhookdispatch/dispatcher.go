// SPDX-License-Identifier: AGPL-3.0-or-later

// Package webhookdispatch builds a WebhookDelivery record from a
// terminal EmailJob and enqueues its delivery task: exactly one per
// Application, gated by webhook_enabled and event-type subscription.
package webhookdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/queue"
)

// WebhookDeliveryRepository is the subset of
// store.WebhookDeliveryRepository the dispatcher needs.
type WebhookDeliveryRepository interface {
	Insert(ctx context.Context, d *models.WebhookDelivery) error
}

// Broker is the subset of queue.Broker the dispatcher enqueues
// through.
type Broker interface {
	Enqueue(ctx context.Context, queueName string, payload any, maxAttempts int) (int64, error)
}

// DeliverWebhookTask is the payload enqueued onto queue.QueueWebhookDelivery.
type DeliverWebhookTask struct {
	DeliveryID int64 `json:"delivery_id"`
}

// Dispatcher implements the fire-and-forget webhook enqueue.
type Dispatcher struct {
	deliveries WebhookDeliveryRepository
	broker     Broker
	maxRetries int
}

// New constructs a Dispatcher. maxRetries <= 0 falls back to the
// §4.5 step 5's default of 3.
func New(deliveries WebhookDeliveryRepository, broker Broker, maxRetries int) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Dispatcher{deliveries: deliveries, broker: broker, maxRetries: maxRetries}
}

// payload mirrors the subscriber-facing JSON shape.
type payload struct {
	Event         string     `json:"event"`
	Timestamp     string     `json:"timestamp"`
	JobID         int64      `json:"job_id"`
	TenantID      string     `json:"tenant_id"`
	ApplicationID int64      `json:"application_id"`
	ServiceName   string     `json:"service_name"`
	ToEmail       string     `json:"to_email"`
	Subject       string     `json:"subject"`
	Status        string     `json:"status"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	ErrorCategory *string    `json:"error_category,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	RetryCount    int        `json:"retry_count"`
}

// Dispatch runs the enqueue decision end to end and reports whether a
// delivery row was inserted. A disabled webhook, a missing URL, or an
// unsubscribed event type returns (false, nil). A marshal or insert
// failure returns (false, err). An enqueue failure returns (true, err);
// the delivery row then stays in status pending and is not marked
// failed. None of these errors is a reason for the caller to fail the
// job.
func (d *Dispatcher) Dispatch(ctx context.Context, app *models.Application, job *models.EmailJob, serviceName, eventType string) (bool, error) {
	if !app.WebhookEnabled || app.WebhookURL == nil || *app.WebhookURL == "" {
		return false, nil
	}
	if !app.HasWebhookEvent(eventType) {
		return false, nil
	}

	p := payload{
		Event:         eventType,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		JobID:         job.ID,
		TenantID:      job.TenantID.String(),
		ApplicationID: job.ApplicationID,
		ServiceName:   serviceName,
		ToEmail:       job.ToEmail,
		Subject:       job.Subject,
		Status:        string(job.Status),
		SentAt:        job.SentAt,
		ErrorCategory: job.ErrorCategory,
		ErrorMessage:  job.ErrorMessage,
		RetryCount:    job.RetryCount,
	}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("failed to marshal webhook payload for job %d: %w", job.ID, err)
	}

	delivery := &models.WebhookDelivery{
		EmailJobID:    job.ID,
		ApplicationID: app.ID,
		TenantID:      job.TenantID,
		WebhookURL:    *app.WebhookURL,
		EventType:     eventType,
		Payload:       payloadJSON,
		MaxRetries:    d.maxRetries,
	}
	if err := d.deliveries.Insert(ctx, delivery); err != nil {
		return false, fmt.Errorf("failed to persist webhook delivery for job %d: %w", job.ID, err)
	}

	if _, err := d.broker.Enqueue(ctx, queue.QueueWebhookDelivery, DeliverWebhookTask{DeliveryID: delivery.ID}, delivery.MaxRetries+1); err != nil {
		return true, fmt.Errorf("failed to enqueue deliver_webhook task for delivery %d: %w", delivery.ID, err)
	}

	return true, nil
}
