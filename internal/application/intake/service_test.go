// SPDX-License-Identifier: AGPL-3.0-or-later
package intake

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

type fakeEmailServices struct {
	svc *models.EmailService
	err error
}

func (f *fakeEmailServices) GetActiveByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.EmailService, error) {
	return f.svc, f.err
}

type fakeConfigurations struct {
	cfg *models.ServiceConfiguration
	err error
}

func (f *fakeConfigurations) GetActive(ctx context.Context, emailServiceID, applicationID int64) (*models.ServiceConfiguration, error) {
	return f.cfg, f.err
}

type fakeTemplates struct {
	tmpl *models.EmailTemplate
	err  error
}

func (f *fakeTemplates) GetByTenantAndName(ctx context.Context, tenantID uuid.UUID, name string) (*models.EmailTemplate, error) {
	return f.tmpl, f.err
}

type fakeJobs struct {
	inserted *models.EmailJob
	failedID int64
}

func (f *fakeJobs) Insert(ctx context.Context, job *models.EmailJob) error {
	job.ID = 42
	f.inserted = job
	return nil
}

func (f *fakeJobs) MarkFailed(ctx context.Context, id int64, errMsg, category string) error {
	f.failedID = id
	return nil
}

type fakeBroker struct {
	enqueued []SendEmailTask
	err      error
}

func (f *fakeBroker) Enqueue(ctx context.Context, queueName string, payload any, maxAttempts int) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.enqueued = append(f.enqueued, payload.(SendEmailTask))
	return 1, nil
}

func TestAccept_TemplateLookupFailurePropagates(t *testing.T) {
	app := &models.Application{ID: 1, TenantID: uuid.New()}
	svc := &models.EmailService{ID: 10}
	s := New(&fakeEmailServices{svc: svc}, &fakeConfigurations{cfg: &models.ServiceConfiguration{}}, &fakeTemplates{err: models.ErrTemplateNotFound}, &fakeJobs{}, nil)

	_, err := s.Accept(context.Background(), app, Request{ServiceName: "transactional", Template: "welcome"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTemplateNotFound)
}

func TestAccept_ServiceLookupFailurePropagates(t *testing.T) {
	app := &models.Application{ID: 1, TenantID: uuid.New()}
	s := New(&fakeEmailServices{err: models.ErrEmailServiceNotFound}, &fakeConfigurations{}, &fakeTemplates{}, &fakeJobs{}, nil)

	_, err := s.Accept(context.Background(), app, Request{ServiceName: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmailServiceNotFound)
}

func TestAccept_RenderFailurePropagates(t *testing.T) {
	app := &models.Application{ID: 1, TenantID: uuid.New()}
	svc := &models.EmailService{ID: 10}
	tmpl := &models.EmailTemplate{SubjectTemplate: "Hello {{name", BodyTemplate: "body"}
	s := New(&fakeEmailServices{svc: svc}, &fakeConfigurations{cfg: &models.ServiceConfiguration{}}, &fakeTemplates{tmpl: tmpl}, &fakeJobs{}, nil)

	_, err := s.Accept(context.Background(), app, Request{ServiceName: "transactional", VariablesData: map[string]any{"name": "Ada"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTemplateRenderFailed)
}

func TestAccept_HappyPathPersistsAndEnqueues(t *testing.T) {
	app := &models.Application{ID: 1, TenantID: uuid.New()}
	svc := &models.EmailService{ID: 10}
	cfg := &models.ServiceConfiguration{EmailServiceID: 10, ApplicationID: 1}
	tmpl := &models.EmailTemplate{SubjectTemplate: "Hi {{name}}", BodyTemplate: "Welcome, {{name}}!"}
	jobs := &fakeJobs{}
	broker := &fakeBroker{}
	s := New(&fakeEmailServices{svc: svc}, &fakeConfigurations{cfg: cfg}, &fakeTemplates{tmpl: tmpl}, jobs, broker)

	result, err := s.Accept(context.Background(), app, Request{
		Template:      "welcome",
		ServiceName:   "transactional",
		ToEmail:       "ada@example.com",
		VariablesData: map[string]any{"name": "Ada"},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), result.JobID)
	assert.Equal(t, models.EmailJobQueued, result.Status)
	require.NotNil(t, jobs.inserted)
	assert.Equal(t, "Hi Ada", jobs.inserted.Subject)
	assert.Equal(t, "Welcome, Ada!", jobs.inserted.Body)
	require.Len(t, broker.enqueued, 1)
	assert.Equal(t, int64(42), broker.enqueued[0].JobID)
}

func TestAccept_EnqueueFailureMarksJobFailed(t *testing.T) {
	app := &models.Application{ID: 1, TenantID: uuid.New()}
	svc := &models.EmailService{ID: 10}
	tmpl := &models.EmailTemplate{SubjectTemplate: "Hi", BodyTemplate: "Body"}
	jobs := &fakeJobs{}
	broker := &fakeBroker{err: assert.AnError}
	s := New(&fakeEmailServices{svc: svc}, &fakeConfigurations{cfg: &models.ServiceConfiguration{}}, &fakeTemplates{tmpl: tmpl}, jobs, broker)

	_, err := s.Accept(context.Background(), app, Request{ServiceName: "transactional", ToEmail: "a@example.com"})

	require.Error(t, err)
	assert.Equal(t, int64(42), jobs.failedID)
}
