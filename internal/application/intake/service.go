// SPDX-License-Identifier: AGPL-3.0-or-later

// Package intake implements the Email Intake API orchestration: the
// validate -> render -> persist -> enqueue pipeline that runs once
// API key resolution (shared.Middleware) has already run.
package intake

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/queue"
	"github.com/btouchard/mailrelay/internal/infrastructure/template"
)

// Request is the decoded POST body plus the template name carried on
// the query string.
type Request struct {
	Template      string
	ServiceName   string
	ToEmail       string
	VariablesData map[string]any
}

// Result is returned to the handler for the 202 response.
type Result struct {
	JobID  int64
	Status models.EmailJobStatus
}

// EmailServiceRepository resolves the (tenant, name) active service.
type EmailServiceRepository interface {
	GetActiveByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.EmailService, error)
}

// ServiceConfigurationRepository resolves the active SMTP pairing,
// used here to fail fast before persisting the job and to stamp the
// job's max_retries. The SMTP configuration row itself is not looked
// up at intake.
type ServiceConfigurationRepository interface {
	GetActive(ctx context.Context, emailServiceID, applicationID int64) (*models.ServiceConfiguration, error)
}

// EmailTemplateRepository resolves a template by (tenant, name), per
// the template name travels on the intake request's query string,
// independent of the service's own TemplateID.
type EmailTemplateRepository interface {
	GetByTenantAndName(ctx context.Context, tenantID uuid.UUID, name string) (*models.EmailTemplate, error)
}

// EmailJobRepository is the subset of store.EmailJobRepository intake needs.
type EmailJobRepository interface {
	Insert(ctx context.Context, job *models.EmailJob) error
	MarkFailed(ctx context.Context, id int64, errMsg, category string) error
}

// Broker is the subset of queue.Broker intake enqueues through.
type Broker interface {
	Enqueue(ctx context.Context, queueName string, payload any, maxAttempts int) (int64, error)
}

// Service wires the Persistence Store lookups, the Template Renderer,
// and the Job Queue Broker into the intake pipeline.
type Service struct {
	emailServices  EmailServiceRepository
	configurations ServiceConfigurationRepository
	templates      EmailTemplateRepository
	jobs           EmailJobRepository
	broker         Broker
}

func New(
	emailServices EmailServiceRepository,
	configurations ServiceConfigurationRepository,
	templates EmailTemplateRepository,
	jobs EmailJobRepository,
	broker Broker,
) *Service {
	return &Service{
		emailServices:  emailServices,
		configurations: configurations,
		templates:      templates,
		jobs:           jobs,
		broker:         broker,
	}
}

// SendEmailTask is the payload enqueued onto queue.QueueEmailDelivery.
type SendEmailTask struct {
	JobID int64 `json:"job_id"`
}

// Accept runs steps 2-9: resolve service/configuration/template,
// render, persist the job, enqueue its task. Returns a
// models.Err* sentinel for any 4xx-mappable failure.
func (s *Service) Accept(ctx context.Context, app *models.Application, req Request) (*Result, error) {
	svc, err := s.emailServices.GetActiveByName(ctx, app.TenantID, req.ServiceName)
	if err != nil {
		return nil, err
	}

	serviceConfig, err := s.configurations.GetActive(ctx, svc.ID, app.ID)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.templates.GetByTenantAndName(ctx, app.TenantID, req.Template)
	if err != nil {
		return nil, err
	}

	subject, err := template.Render(tmpl.SubjectTemplate, req.VariablesData, req.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTemplateRenderFailed, err)
	}
	body, err := template.Render(tmpl.BodyTemplate, req.VariablesData, req.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTemplateRenderFailed, err)
	}

	job := &models.EmailJob{
		TenantID:      app.TenantID,
		ApplicationID: app.ID,
		ServiceID:     svc.ID,
		ToEmail:       req.ToEmail,
		Subject:       subject,
		Body:          body,
		Status:        models.EmailJobQueued,
		MaxRetries:    serviceConfig.EffectiveMaxRetries(),
	}

	if err := s.jobs.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist email job: %w", err)
	}

	if _, err := s.broker.Enqueue(ctx, queue.QueueEmailDelivery, SendEmailTask{JobID: job.ID}, job.MaxRetries+1); err != nil {
		_ = s.jobs.MarkFailed(ctx, job.ID, err.Error(), "system")
		return nil, fmt.Errorf("failed to enqueue send_email task for job %d: %w", job.ID, err)
	}

	return &Result{JobID: job.ID, Status: job.Status}, nil
}
