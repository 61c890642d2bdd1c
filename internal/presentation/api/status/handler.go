// SPDX-License-Identifier: AGPL-3.0-or-later

// Package status is the Job Status API: GET /api/v1/jobs/{id} and
// GET /api/v1/jobs/{id}/full (path param, lookup scoped to the calling
// Application, 404 mapping).
package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/presentation/api/shared"
)

// JobRepository is the subset of store.EmailJobRepository the status
// API needs.
type JobRepository interface {
	GetByID(ctx context.Context, id int64) (*models.EmailJob, error)
}

// LogRepository lists the attempt history for the /full view.
type LogRepository interface {
	ListByJob(ctx context.Context, jobID int64) ([]*models.EmailLog, error)
}

// WebhookDeliveryRepository resolves the webhook delivery bound to a
// job, when one was requested.
type WebhookDeliveryRepository interface {
	GetByEmailJobID(ctx context.Context, emailJobID int64) (*models.WebhookDelivery, error)
}

// Handler serves the two job-status read endpoints.
type Handler struct {
	jobs        JobRepository
	logs        LogRepository
	deliveries  WebhookDeliveryRepository
}

func NewHandler(jobs JobRepository, logs LogRepository, deliveries WebhookDeliveryRepository) *Handler {
	return &Handler{jobs: jobs, logs: logs, deliveries: deliveries}
}

// jobSummary is the GET /jobs/{id} response.
// The rendered body is intentionally never echoed back (it can carry
// caller-supplied variable data); everything else named below is
// present.
type jobSummary struct {
	ID                  int64      `json:"id"`
	Status              string     `json:"status"`
	ToEmail             string     `json:"to_email"`
	Subject             string     `json:"subject"`
	CreatedAt           time.Time  `json:"created_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	SentAt              *time.Time `json:"sent_at,omitempty"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	ErrorCategory       *string    `json:"error_category,omitempty"`
	RetryCount          int        `json:"retry_count"`
	MaxRetries          int        `json:"max_retries"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
	WebhookRequested    bool       `json:"webhook_requested"`
}

// HandleGetJob implements GET /api/v1/jobs/{id}.
func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	shared.WriteJSON(w, http.StatusOK, summarize(job))
}

// jobFull adds the full attempt log and any webhook delivery outcome.
type jobFull struct {
	jobSummary
	Logs            []logEntry              `json:"logs"`
	WebhookDelivery *webhookDeliverySummary `json:"webhook_delivery"`
}

type logEntry struct {
	Status          string  `json:"status"`
	ResponseCode    *string `json:"response_code,omitempty"`
	ResponseMessage *string `json:"response_message,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// webhookDeliverySummary is the nested object the /full
// endpoint names; it is null when no delivery was ever queued.
type webhookDeliverySummary struct {
	ID               int64      `json:"id"`
	Status           string     `json:"status"`
	EventType        string     `json:"event_type"`
	RetryCount       int        `json:"retry_count"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	LastError        *string    `json:"last_error,omitempty"`
	LastResponseCode *int       `json:"last_response_code,omitempty"`
}

// HandleGetJobFull implements GET /api/v1/jobs/{id}/full.
func (h *Handler) HandleGetJobFull(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	logs, err := h.logs.ListByJob(r.Context(), job.ID)
	if err != nil {
		shared.WriteInternalError(w)
		return
	}

	full := jobFull{jobSummary: summarize(job)}
	for _, l := range logs {
		full.Logs = append(full.Logs, logEntry{
			Status:          string(l.Status),
			ResponseCode:    l.ResponseCode,
			ResponseMessage: l.ResponseMessage,
			CreatedAt:       l.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	if job.WebhookRequested {
		if d, err := h.deliveries.GetByEmailJobID(r.Context(), job.ID); err == nil {
			full.WebhookDelivery = &webhookDeliverySummary{
				ID:               d.ID,
				Status:           string(d.Status),
				EventType:        d.EventType,
				RetryCount:       d.RetryCount,
				DeliveredAt:      d.DeliveredAt,
				LastError:        d.LastError,
				LastResponseCode: d.LastResponseCode,
			}
		} else if !errors.Is(err, models.ErrWebhookDeliveryNotFound) {
			shared.WriteInternalError(w)
			return
		}
	}

	shared.WriteJSON(w, http.StatusOK, full)
}

func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (*models.EmailJob, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		shared.WriteBadRequest(w, "invalid job id")
		return nil, false
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if errors.Is(err, models.ErrJobNotFound) {
		shared.WriteNotFound(w, "job not found")
		return nil, false
	}
	if err != nil {
		shared.WriteInternalError(w)
		return nil, false
	}

	app, ok := shared.GetApplicationFromContext(r.Context())
	if !ok || app.ID != job.ApplicationID {
		shared.WriteNotFound(w, "job not found")
		return nil, false
	}

	return job, true
}

func summarize(job *models.EmailJob) jobSummary {
	return jobSummary{
		ID:                  job.ID,
		Status:              string(job.Status),
		ToEmail:             job.ToEmail,
		Subject:             job.Subject,
		CreatedAt:           job.CreatedAt,
		ProcessingStartedAt: job.ProcessingStartedAt,
		SentAt:              job.SentAt,
		ErrorMessage:        job.ErrorMessage,
		ErrorCategory:       job.ErrorCategory,
		RetryCount:          job.RetryCount,
		MaxRetries:          job.MaxRetries,
		NextRetryAt:         job.NextRetryAt,
		WebhookRequested:    job.WebhookRequested,
	}
}
