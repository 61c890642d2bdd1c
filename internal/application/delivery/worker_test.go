// SPDX-License-Identifier: AGPL-3.0-or-later
package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/smtp"
)

func fakeBeginTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeJobs struct {
	job             *models.EmailJob
	markedProcessing bool
	sentID          int64
	retryPendingID  int64
	retryDelay      time.Duration
	failedID        int64
	failedCategory  string
	webhookFlagged  bool
}

func (f *fakeJobs) LockForProcessing(ctx context.Context, id int64) (*models.EmailJob, error) {
	return f.job, nil
}
func (f *fakeJobs) MarkProcessing(ctx context.Context, id int64) error {
	f.markedProcessing = true
	return nil
}
func (f *fakeJobs) MarkSent(ctx context.Context, id int64) error {
	f.sentID = id
	return nil
}
func (f *fakeJobs) MarkRetryPending(ctx context.Context, id int64, errMsg, category string, delay time.Duration) error {
	f.retryPendingID = id
	f.retryDelay = delay
	return nil
}
func (f *fakeJobs) MarkFailed(ctx context.Context, id int64, errMsg, category string) error {
	f.failedID = id
	f.failedCategory = category
	return nil
}
func (f *fakeJobs) SetWebhookRequested(ctx context.Context, id int64) error {
	f.webhookFlagged = true
	return nil
}

type fakeLogs struct {
	entries []*models.EmailLog
}

func (f *fakeLogs) Append(ctx context.Context, log *models.EmailLog) error {
	f.entries = append(f.entries, log)
	return nil
}

type fakeServiceConfigs struct {
	cfg *models.ServiceConfiguration
	err error
}

func (f *fakeServiceConfigs) GetActive(ctx context.Context, emailServiceID, applicationID int64) (*models.ServiceConfiguration, error) {
	return f.cfg, f.err
}

type fakeSMTPConfigs struct {
	cfg *models.SMTPConfiguration
	err error
}

func (f *fakeSMTPConfigs) GetByID(ctx context.Context, id int64) (*models.SMTPConfiguration, error) {
	return f.cfg, f.err
}

type fakeEmailServices struct {
	svc *models.EmailService
}

func (f *fakeEmailServices) GetByID(ctx context.Context, id int64) (*models.EmailService, error) {
	return f.svc, nil
}

type fakeApplications struct {
	app *models.Application
	err error
}

func (f *fakeApplications) GetByID(ctx context.Context, id int64) (*models.Application, error) {
	return f.app, f.err
}

type fakeDispatcher struct {
	called bool
	queued bool
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, app *models.Application, job *models.EmailJob, serviceName, eventType string) (bool, error) {
	f.called = true
	return f.queued, f.err
}

type fakeSender struct {
	err error
}

func (f *fakeSender) Send(ctx context.Context, cfg models.SMTPConfiguration, password string, msg smtp.Message) error {
	return f.err
}

func newTestWorker(job *models.EmailJob, sendErr error) (*Worker, *fakeJobs, *fakeLogs, *fakeDispatcher) {
	jobs := &fakeJobs{job: job}
	logs := &fakeLogs{}
	dispatcher := &fakeDispatcher{}
	wrapKey := make([]byte, 32)

	w := New(
		fakeBeginTx,
		nil,
		jobs,
		logs,
		&fakeServiceConfigs{cfg: &models.ServiceConfiguration{SMTPConfigurationID: 1}},
		&fakeSMTPConfigs{cfg: &models.SMTPConfiguration{Host: "smtp.test", Port: 587, Username: "noreply@test"}},
		&fakeEmailServices{svc: &models.EmailService{Name: "transactional"}},
		&fakeApplications{app: &models.Application{ID: 1, WebhookEnabled: false}},
		&fakeSender{err: sendErr},
		dispatcher,
		wrapKey,
		Config{RetryBaseDelay: time.Second},
		nil,
	)
	return w, jobs, logs, dispatcher
}

func baseJob() *models.EmailJob {
	return &models.EmailJob{
		ID:            1,
		TenantID:      uuid.New(),
		ApplicationID: 1,
		ServiceID:     1,
		ToEmail:       "user@example.com",
		Subject:       "hi",
		Body:          "body",
		Status:        models.EmailJobQueued,
		MaxRetries:    3,
	}
}

func TestProcessJob_SendSucceeds_MarksSentAndDispatchesWebhook(t *testing.T) {
	job := baseJob()
	w, jobs, logs, dispatcher := newTestWorker(job, nil)

	action, _ := w.processJob(context.Background(), job.ID)

	assert.Equal(t, actionAck, action)
	assert.True(t, jobs.markedProcessing)
	assert.Equal(t, job.ID, jobs.sentID)
	require.Len(t, logs.entries, 1)
	assert.Equal(t, models.EmailJobSent, logs.entries[0].Status)
	assert.True(t, dispatcher.called)
}

func TestProcessJob_TemporaryFailure_SchedulesRetry(t *testing.T) {
	job := baseJob()
	job.RetryCount = 0
	w, jobs, logs, _ := newTestWorker(job, errors.New("421 4.3.2 service not available"))

	action, delay := w.processJob(context.Background(), job.ID)

	assert.Equal(t, actionNack, action)
	assert.Greater(t, delay, time.Duration(0))
	assert.Equal(t, job.ID, jobs.retryPendingID)
	require.Len(t, logs.entries, 1)
	assert.Equal(t, models.EmailJobRetryPending, logs.entries[0].Status)
}

func TestProcessJob_TemporaryFailure_ExhaustedRetriesFails(t *testing.T) {
	job := baseJob()
	job.RetryCount = 3
	job.MaxRetries = 3
	w, jobs, _, dispatcher := newTestWorker(job, errors.New("connection refused"))

	action, _ := w.processJob(context.Background(), job.ID)

	assert.Equal(t, actionAck, action)
	assert.Equal(t, job.ID, jobs.failedID)
	assert.Equal(t, "temporary", jobs.failedCategory)
	assert.True(t, dispatcher.called)
}

func TestProcessJob_PermanentFailure_FailsImmediately(t *testing.T) {
	job := baseJob()
	job.RetryCount = 0
	job.MaxRetries = 3
	w, jobs, _, _ := newTestWorker(job, errors.New("550 5.1.1 user unknown"))

	action, _ := w.processJob(context.Background(), job.ID)

	assert.Equal(t, actionAck, action)
	assert.Equal(t, job.ID, jobs.failedID)
	assert.Equal(t, "permanent", jobs.failedCategory)
}

func TestProcessJob_AlreadySent_SkipsWithoutResend(t *testing.T) {
	job := baseJob()
	sentAt := time.Now().Add(-time.Minute)
	job.SentAt = &sentAt
	w, jobs, _, _ := newTestWorker(job, nil)

	action, _ := w.processJob(context.Background(), job.ID)

	assert.Equal(t, actionAck, action)
	assert.False(t, jobs.markedProcessing)
}

func TestProcessJob_StaleProcessing_LeavesForRedelivery(t *testing.T) {
	job := baseJob()
	job.Status = models.EmailJobProcessing
	started := time.Now().Add(-10 * time.Second)
	job.ProcessingStartedAt = &started
	w, jobs, _, _ := newTestWorker(job, nil)

	action, _ := w.processJob(context.Background(), job.ID)

	assert.Equal(t, actionLeave, action)
	assert.False(t, jobs.markedProcessing)
}

func TestProcessJob_RowAlreadyLocked_SkipsAck(t *testing.T) {
	jobs := &fakeJobs{job: nil}
	w := New(
		fakeBeginTx, nil, jobs, &fakeLogs{},
		&fakeServiceConfigs{}, &fakeSMTPConfigs{}, &fakeEmailServices{}, &fakeApplications{},
		&fakeSender{}, &fakeDispatcher{}, make([]byte, 32), Config{}, nil,
	)

	action, _ := w.processJob(context.Background(), 99)
	assert.Equal(t, actionAck, action)
}

func TestBackoff_GrowsExponentiallyWithJitterBound(t *testing.T) {
	base := time.Second
	for attempt := 0; attempt < 5; attempt++ {
		d := backoff(base, attempt)
		expected := time.Duration(float64(base) * pow2(attempt))
		lower := expected - expected/10 - time.Millisecond
		upper := expected + expected/10 + time.Millisecond
		assert.GreaterOrEqual(t, d, lower)
		assert.LessOrEqual(t, d, upper)
	}
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
