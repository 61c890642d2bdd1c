// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

// Application is a tenant's registered sender, resolved by API key on
// every intake request. Managed out-of-band; read-only to the core.
type Application struct {
	ID             int64     `json:"id" db:"id"`
	TenantID       uuid.UUID `json:"tenant_id" db:"tenant_id"`
	APIKey         string    `json:"-" db:"api_key"`
	WebhookURL     *string   `json:"webhook_url,omitempty" db:"webhook_url"`
	WebhookAPIKey  *string   `json:"-" db:"webhook_api_key"`
	WebhookEnabled bool      `json:"webhook_enabled" db:"webhook_enabled"`
	WebhookEvents  []string  `json:"webhook_events" db:"webhook_events"`
	Status         string    `json:"status" db:"status"`
}

// HasWebhookEvent reports whether event is in the application's
// subscribed event set.
func (a *Application) HasWebhookEvent(event string) bool {
	for _, e := range a.WebhookEvents {
		if e == event {
			return true
		}
	}
	return false
}

const (
	ApplicationStatusActive = "active"
)

// EmailService is a named mail capability a tenant exposes to its
// applications (e.g. "transactional", "marketing").
type EmailService struct {
	ID         int64     `json:"id" db:"id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Name       string    `json:"name" db:"name"`
	Status     string    `json:"status" db:"status"`
	TemplateID *int64    `json:"template_id,omitempty" db:"template_id"`
}

const (
	EmailServiceStatusActive = "active"
)

// ServiceConfiguration pins one SMTP configuration as the active one
// for an (EmailService, Application) pair.
type ServiceConfiguration struct {
	ID                  int64  `json:"id" db:"id"`
	EmailServiceID      int64  `json:"email_service_id" db:"email_service_id"`
	ApplicationID       int64  `json:"application_id" db:"application_id"`
	SMTPConfigurationID int64  `json:"smtp_configuration_id" db:"smtp_configuration_id"`
	IsActive            bool   `json:"is_active" db:"is_active"`
	MaxRetries          *int   `json:"max_retries,omitempty" db:"max_retries"`
}

// EffectiveMaxRetries returns the configuration's override, falling
// back to DefaultMaxRetries when unset (0/NULL).
func (c *ServiceConfiguration) EffectiveMaxRetries() int {
	if c.MaxRetries == nil || *c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// SMTPConfiguration is an upstream relay credential set. Password is
// stored wrapped at rest; only the process holding the wrap key can
// reverse it.
type SMTPConfiguration struct {
	ID              int64  `json:"id" db:"id"`
	Host            string `json:"host" db:"host"`
	Port            int    `json:"port" db:"port"`
	Username        string `json:"username" db:"username"`
	PasswordWrapped string `json:"-" db:"password_wrapped"`
	UseTLS          bool   `json:"use_tls" db:"use_tls"`
}

// EmailTemplate holds a subject/body pair rendered by the Template
// Renderer against a caller-supplied variable map.
type EmailTemplate struct {
	ID              int64     `json:"id" db:"id"`
	TenantID        uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Name            string    `json:"name" db:"name"`
	SubjectTemplate string    `json:"subject_template" db:"subject_template"`
	BodyTemplate    string    `json:"body_template" db:"body_template"`
}

// EmailJobStatus is the lifecycle state of an EmailJob.
type EmailJobStatus string

const (
	EmailJobQueued       EmailJobStatus = "queued"
	EmailJobProcessing   EmailJobStatus = "processing"
	EmailJobSent         EmailJobStatus = "sent"
	EmailJobFailed       EmailJobStatus = "failed"
	EmailJobRetryPending EmailJobStatus = "retry_pending"
)

// DefaultMaxRetries is used when a ServiceConfiguration does not
// override max_retries (0/unset).
const DefaultMaxRetries = 3

// EmailJob is a single accepted send request, from intake through
// terminal sent/failed state. Mutated only by the email worker while
// holding the row lock; never deleted by the core.
type EmailJob struct {
	ID                  int64          `json:"id" db:"id"`
	TenantID            uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	ApplicationID       int64          `json:"application_id" db:"application_id"`
	ServiceID           int64          `json:"service_id" db:"service_id"`
	ToEmail             string         `json:"to_email" db:"to_email"`
	Subject             string         `json:"subject" db:"subject"`
	Body                string         `json:"body" db:"body"`
	Status              EmailJobStatus `json:"status" db:"status"`
	SentAt              *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	ProcessingStartedAt *time.Time     `json:"processing_started_at,omitempty" db:"processing_started_at"`
	ErrorMessage        *string        `json:"error_message,omitempty" db:"error_message"`
	ErrorCategory       *string        `json:"error_category,omitempty" db:"error_category"`
	RetryCount          int            `json:"retry_count" db:"retry_count"`
	MaxRetries          int            `json:"max_retries" db:"max_retries"`
	NextRetryAt         *time.Time     `json:"next_retry_at,omitempty" db:"next_retry_at"`
	WebhookRequested    bool           `json:"webhook_requested" db:"webhook_requested"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the job has reached a state the email
// worker will never mutate again.
func (j *EmailJob) Terminal() bool {
	return j.Status == EmailJobSent || j.Status == EmailJobFailed
}

// EmailLog is one append-only attempt outcome for an EmailJob.
type EmailLog struct {
	ID              int64          `json:"id" db:"id"`
	JobID           int64          `json:"job_id" db:"job_id"`
	Status          EmailJobStatus `json:"status" db:"status"`
	ResponseCode    *string        `json:"response_code,omitempty" db:"response_code"`
	ResponseMessage *string        `json:"response_message,omitempty" db:"response_message"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// WebhookDeliveryStatus is the lifecycle state of a WebhookDelivery.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryPending   WebhookDeliveryStatus = "pending"
	WebhookDeliveryDelivered WebhookDeliveryStatus = "delivered"
	WebhookDeliveryFailed    WebhookDeliveryStatus = "failed"
)

// MaxWebhookResponseBodyBytes bounds how much of a subscriber's
// response body is retained for diagnostics.
const MaxWebhookResponseBodyBytes = 1024

// WebhookDelivery notifies an Application's subscriber endpoint of an
// EmailJob's terminal outcome. WebhookURL is snapshotted at creation
// and never re-read from the Application; mutated only by the webhook
// worker.
type WebhookDelivery struct {
	ID               int64                 `json:"id" db:"id"`
	EmailJobID       int64                 `json:"email_job_id" db:"email_job_id"`
	ApplicationID    int64                 `json:"application_id" db:"application_id"`
	TenantID         uuid.UUID             `json:"tenant_id" db:"tenant_id"`
	WebhookURL       string                `json:"webhook_url" db:"webhook_url"`
	EventType        string                `json:"event_type" db:"event_type"`
	Payload          []byte                `json:"-" db:"payload"`
	Status           WebhookDeliveryStatus `json:"status" db:"status"`
	RetryCount       int                   `json:"retry_count" db:"retry_count"`
	MaxRetries       int                   `json:"max_retries" db:"max_retries"`
	NextRetryAt      *time.Time            `json:"next_retry_at,omitempty" db:"next_retry_at"`
	LastResponseCode *int                  `json:"last_response_code,omitempty" db:"last_response_code"`
	LastResponseBody *string               `json:"last_response_body,omitempty" db:"last_response_body"`
	LastError        *string               `json:"last_error,omitempty" db:"last_error"`
	DeliveredAt      *time.Time            `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt        time.Time             `json:"created_at" db:"created_at"`
}

const (
	// EventEmailSent fires when an EmailJob reaches status=sent.
	EventEmailSent = "email.sent"
	// EventEmailFailed fires when the email worker's send path
	// finalizes an EmailJob as status=failed. A job failed with
	// category "system" (panic recovery in the worker, or an enqueue
	// failure at intake) is marked failed without invoking the
	// dispatcher, so it does not fire this event.
	EventEmailFailed = "email.failed"
)
