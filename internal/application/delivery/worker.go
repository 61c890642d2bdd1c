// SPDX-License-Identifier: AGPL-3.0-or-later

// Package delivery is the Email Worker: it consumes send_email tasks
// from the Job Queue Broker, locks the referenced job row, sends mail,
// classifies the outcome, and retries with backoff on temporary
// failure, recycling each worker goroutine after N tasks.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/btouchard/mailrelay/internal/application/intake"
	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/classify"
	"github.com/btouchard/mailrelay/internal/infrastructure/crypto"
	"github.com/btouchard/mailrelay/internal/infrastructure/queue"
	"github.com/btouchard/mailrelay/internal/infrastructure/smtp"
	"github.com/btouchard/mailrelay/pkg/logger"
)

// staleProcessingWindow is §4.2 step 3's "now - processing_started_at
// < 2 min" gate.
const staleProcessingWindow = 2 * time.Minute

// JobRepository is the subset of store.EmailJobRepository the worker
// needs to claim, transition, and finalize a job.
type JobRepository interface {
	LockForProcessing(ctx context.Context, id int64) (*models.EmailJob, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkSent(ctx context.Context, id int64) error
	MarkRetryPending(ctx context.Context, id int64, errMsg, category string, delay time.Duration) error
	MarkFailed(ctx context.Context, id int64, errMsg, category string) error
	SetWebhookRequested(ctx context.Context, id int64) error
}

// LogRepository appends one EmailLog row per attempt outcome.
type LogRepository interface {
	Append(ctx context.Context, log *models.EmailLog) error
}

// ServiceConfigurationRepository resolves the active SMTP pairing.
type ServiceConfigurationRepository interface {
	GetActive(ctx context.Context, emailServiceID, applicationID int64) (*models.ServiceConfiguration, error)
}

// SMTPConfigurationRepository resolves upstream relay credentials.
type SMTPConfigurationRepository interface {
	GetByID(ctx context.Context, id int64) (*models.SMTPConfiguration, error)
}

// EmailServiceRepository resolves a service's display name for the
// webhook payload.
type EmailServiceRepository interface {
	GetByID(ctx context.Context, id int64) (*models.EmailService, error)
}

// ApplicationRepository resolves the owning Application for webhook
// dispatch.
type ApplicationRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Application, error)
}

// Dispatcher is the subset of webhookdispatch.Dispatcher the worker
// invokes once a job reaches a terminal state.
type Dispatcher interface {
	Dispatch(ctx context.Context, app *models.Application, job *models.EmailJob, serviceName, eventType string) (bool, error)
}

// Broker is the subset of queue.Broker the worker consumes tasks
// through.
type Broker interface {
	Claim(ctx context.Context, queueName string, limit int, visibilityTimeout time.Duration) ([]*queue.Task, error)
	Ack(ctx context.Context, taskID int64) error
	Nack(ctx context.Context, taskID int64, delay time.Duration) error
}

// Recorder is the metrics surface the worker reports into. A nil
// Recorder is valid: every method is a no-op.
type Recorder interface {
	EmailSent()
	EmailFailed(category string)
	EmailRetried()
	ObserveEmailProcessing(d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) EmailSent()                             {}
func (noopRecorder) EmailFailed(string)                     {}
func (noopRecorder) EmailRetried()                           {}
func (noopRecorder) ObserveEmailProcessing(time.Duration) {}

// Config tunes the worker's claim batch, backoff, and recycling.
type Config struct {
	Concurrency           int
	BatchSize             int
	VisibilityTimeout     time.Duration
	PollInterval          time.Duration
	TasksPerWorker        int
	RetryBaseDelay        time.Duration
	StaleProcessingWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = c.Concurrency
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 120 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.TasksPerWorker <= 0 {
		c.TasksPerWorker = 500
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 60 * time.Second
	}
	if c.StaleProcessingWindow <= 0 {
		c.StaleProcessingWindow = staleProcessingWindow
	}
	return c
}

// Worker implements the send_email consumer.
type Worker struct {
	beginTx        func(ctx context.Context, fn func(ctx context.Context) error) error
	broker         Broker
	jobs           JobRepository
	logs           LogRepository
	serviceConfigs ServiceConfigurationRepository
	smtpConfigs    SMTPConfigurationRepository
	emailServices  EmailServiceRepository
	applications   ApplicationRepository
	sender         smtp.Sender
	dispatcher     Dispatcher
	wrapKey        []byte
	cfg            Config
	metrics        Recorder
}

// New constructs an Email Worker. beginTx is store.RunInTx bound to
// the process *sql.DB, injected so tests can substitute a fake
// transaction runner.
func New(
	beginTx func(ctx context.Context, fn func(ctx context.Context) error) error,
	broker Broker,
	jobs JobRepository,
	logs LogRepository,
	serviceConfigs ServiceConfigurationRepository,
	smtpConfigs SMTPConfigurationRepository,
	emailServices EmailServiceRepository,
	applications ApplicationRepository,
	sender smtp.Sender,
	dispatcher Dispatcher,
	wrapKey []byte,
	cfg Config,
	rec Recorder,
) *Worker {
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Worker{
		beginTx:        beginTx,
		broker:         broker,
		jobs:           jobs,
		logs:           logs,
		serviceConfigs: serviceConfigs,
		smtpConfigs:    smtpConfigs,
		emailServices:  emailServices,
		applications:   applications,
		sender:         sender,
		dispatcher:     dispatcher,
		wrapKey:        wrapKey,
		cfg:            cfg.withDefaults(),
		metrics:        rec,
	}
}

// Run claims and processes tasks until ctx is cancelled or maxTasks
// have been handled (0 = unbounded), whichever comes first. The
// caller is expected to call Run again in a loop — each call is one
// "worker process lifetime" under the recycle-after-N model.
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

		tasks, err := w.broker.Claim(ctx, queue.QueueEmailDelivery, w.cfg.BatchSize, w.cfg.VisibilityTimeout)
		if err != nil {
			logger.Logger.Error("email_worker_claim_failed", "error", err.Error())
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

// handleTask processes one claimed task to its conclusion, recovering
// from any panic as a models category-"system" terminal failure so one
// bad job can never wedge the worker loop.
func (w *Worker) handleTask(ctx context.Context, task *queue.Task) {
	defer func() {
		if p := recover(); p != nil {
			logger.Logger.Error("email_worker_panic", "task_id", task.ID, "panic", fmt.Sprintf("%v", p))
			w.failSystem(ctx, task)
		}
	}()

	var payload intake.SendEmailTask
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		logger.Logger.Error("email_worker_bad_payload", "task_id", task.ID, "error", err.Error())
		_ = w.broker.Ack(ctx, task.ID)
		return
	}

	start := time.Now()
	action, delay := w.processJob(ctx, payload.JobID)
	w.metrics.ObserveEmailProcessing(time.Since(start))

	switch action {
	case actionAck:
		if err := w.broker.Ack(ctx, task.ID); err != nil {
			logger.Logger.Error("email_worker_ack_failed", "task_id", task.ID, "error", err.Error())
		}
	case actionNack:
		if err := w.broker.Nack(ctx, task.ID, delay); err != nil {
			logger.Logger.Error("email_worker_nack_failed", "task_id", task.ID, "error", err.Error())
		}
	case actionLeave:
		// Stale-processing gate: no ack/nack, let the broker's own
		// visibility timeout redeliver.
	}
}

// failSystem finalizes a job as category=system after a panic was
// recovered. Best-effort: if the job id can't even be recovered from
// the task payload, the task is still acked so the loop doesn't spin.
func (w *Worker) failSystem(ctx context.Context, task *queue.Task) {
	var payload intake.SendEmailTask
	if err := json.Unmarshal(task.Payload, &payload); err == nil && payload.JobID != 0 {
		if err := w.jobs.MarkFailed(ctx, payload.JobID, "internal worker error", "system"); err != nil {
			logger.Logger.Error("email_worker_failsystem_markfailed_error", "job_id", payload.JobID, "error", err.Error())
		}
	}
	_ = w.broker.Ack(ctx, task.ID)
}

type taskAction int

const (
	actionAck taskAction = iota
	actionNack
	actionLeave
)

// processJob runs the full send pipeline for one job id and reports what
// the caller should do with the broker task.
func (w *Worker) processJob(ctx context.Context, jobID int64) (taskAction, time.Duration) {
	var job *models.EmailJob
	var skip, leave bool

	err := w.beginTx(ctx, func(ctx context.Context) error {
		j, err := w.jobs.LockForProcessing(ctx, jobID)
		if err != nil {
			return err
		}
		if j == nil {
			skip = true
			return nil
		}
		if j.SentAt != nil {
			logger.Logger.Debug("email_worker_skip_already_sent", "job_id", j.ID)
			skip = true
			return nil
		}
		if j.Status == models.EmailJobProcessing && j.ProcessingStartedAt != nil &&
			time.Since(*j.ProcessingStartedAt) < w.cfg.StaleProcessingWindow {
			leave = true
			return nil
		}
		if err := w.jobs.MarkProcessing(ctx, j.ID); err != nil {
			return err
		}
		j.Status = models.EmailJobProcessing
		job = j
		return nil
	})
	if err != nil {
		logger.Logger.Error("email_worker_lock_tx_failed", "job_id", jobID, "error", err.Error())
		return actionNack, w.cfg.RetryBaseDelay
	}
	if skip {
		return actionAck, 0
	}
	if leave {
		return actionLeave, 0
	}

	outcome, sendErr := w.send(ctx, job)
	return w.finalize(ctx, job, outcome, sendErr)
}

// sendOutcome is the classified result of invoking the SMTP Sender.
type sendOutcome int

const (
	outcomeSent sendOutcome = iota
	outcomePermanent
	outcomeTemporary
)

// send resolves the SMTP configuration and invokes the Sender, per
// §4.2 steps 5-6. Configuration resolution failures are classified
// permanent.
func (w *Worker) send(ctx context.Context, job *models.EmailJob) (sendOutcome, error) {
	cfg, err := w.serviceConfigs.GetActive(ctx, job.ServiceID, job.ApplicationID)
	if err != nil {
		return outcomePermanent, fmt.Errorf("no active smtp configuration: %w", err)
	}
	smtpCfg, err := w.smtpConfigs.GetByID(ctx, cfg.SMTPConfigurationID)
	if err != nil {
		return outcomePermanent, fmt.Errorf("smtp configuration not found: %w", err)
	}
	password, err := crypto.Unwrap(smtpCfg.PasswordWrapped, w.wrapKey)
	if err != nil {
		return outcomePermanent, fmt.Errorf("failed to unwrap smtp credentials: %w", err)
	}

	msg := smtp.Message{
		From:    smtpCfg.Username,
		To:      job.ToEmail,
		Subject: job.Subject,
		HTMLBody: job.Body,
	}
	if err := w.sender.Send(ctx, *smtpCfg, password, msg); err != nil {
		class, _ := classify.Classify(err)
		if class == classify.Permanent {
			return outcomePermanent, err
		}
		return outcomeTemporary, err
	}
	return outcomeSent, nil
}

// finalize applies §4.2 steps 7-10: classify, transition the job,
// append the log, dispatch the webhook on terminal state, and decide
// the broker task's fate.
func (w *Worker) finalize(ctx context.Context, job *models.EmailJob, outcome sendOutcome, sendErr error) (taskAction, time.Duration) {
	switch outcome {
	case outcomeSent:
		return w.finalizeTerminal(ctx, job, models.EmailJobSent, "", "", 0, nil)

	case outcomePermanent:
		_, category := classify.Classify(sendErr)
		return w.finalizeTerminal(ctx, job, models.EmailJobFailed, sendErr.Error(), string(classify.Permanent), 0, &category)

	default: // outcomeTemporary
		_, category := classify.Classify(sendErr)
		attempt := job.RetryCount
		if attempt < job.MaxRetries {
			delay := backoff(w.cfg.RetryBaseDelay, attempt)
			if err := w.jobs.MarkRetryPending(ctx, job.ID, sendErr.Error(), string(classify.Temporary), delay); err != nil {
				logger.Logger.Error("email_worker_mark_retry_pending_failed", "job_id", job.ID, "error", err.Error())
			}
			if err := w.logs.Append(ctx, &models.EmailLog{JobID: job.ID, Status: models.EmailJobRetryPending, ResponseMessage: strptr(sendErr.Error())}); err != nil {
				logger.Logger.Error("email_worker_log_append_failed", "job_id", job.ID, "error", err.Error())
			}
			w.metrics.EmailRetried()
			logger.Logger.Info("email_retry_scheduled", "job_id", job.ID, "attempt", attempt, "category", category, "delay", delay.String())
			return actionNack, delay
		}
		return w.finalizeTerminal(ctx, job, models.EmailJobFailed, sendErr.Error(), string(classify.Temporary), 0, &category)
	}
}

// finalizeTerminal commits the job's terminal state, appends the log,
// fires the webhook dispatcher, and returns actionAck — every
// terminal path removes the task from the broker.
func (w *Worker) finalizeTerminal(ctx context.Context, job *models.EmailJob, status models.EmailJobStatus, errMsg, category string, _ time.Duration, fineCategory *string) (taskAction, time.Duration) {
	var webhookErr error
	err := w.beginTx(ctx, func(ctx context.Context) error {
		switch status {
		case models.EmailJobSent:
			if err := w.jobs.MarkSent(ctx, job.ID); err != nil {
				return err
			}
			job.Status = models.EmailJobSent
			now := time.Now()
			job.SentAt = &now
		case models.EmailJobFailed:
			if err := w.jobs.MarkFailed(ctx, job.ID, errMsg, category); err != nil {
				return err
			}
			job.Status = models.EmailJobFailed
			job.ErrorMessage = &errMsg
			job.ErrorCategory = &category
		}

		logEntry := &models.EmailLog{JobID: job.ID, Status: status}
		if errMsg != "" {
			logEntry.ResponseMessage = &errMsg
		}
		if fineCategory != nil {
			logEntry.ResponseCode = fineCategory
		}
		if err := w.logs.Append(ctx, logEntry); err != nil {
			return err
		}

		serviceName := ""
		if svc, err := w.emailServices.GetByID(ctx, job.ServiceID); err == nil {
			serviceName = svc.Name
		}
		app, err := w.applications.GetByID(ctx, job.ApplicationID)
		if err != nil {
			webhookErr = err
			return nil
		}

		eventType := models.EventEmailSent
		if status == models.EmailJobFailed {
			eventType = models.EventEmailFailed
		}
		queued, err := w.dispatcher.Dispatch(ctx, app, job, serviceName, eventType)
		if err != nil {
			webhookErr = err
		}
		if queued {
			if err := w.jobs.SetWebhookRequested(ctx, job.ID); err != nil {
				logger.Logger.Error("email_worker_set_webhook_requested_failed", "job_id", job.ID, "error", err.Error())
			}
		}
		return nil
	})
	if err != nil {
		logger.Logger.Error("email_worker_finalize_tx_failed", "job_id", job.ID, "error", err.Error())
		return actionNack, w.cfg.RetryBaseDelay
	}
	if webhookErr != nil {
		logger.Logger.Warn("email_worker_webhook_dispatch_not_fired", "job_id", job.ID, "error", webhookErr.Error())
	}

	if status == models.EmailJobSent {
		w.metrics.EmailSent()
	} else {
		w.metrics.EmailFailed(category)
	}
	return actionAck, 0
}

// backoff computes base*2^attempt with up to ±10% jitter, per §4.2's
// "60·2^attempt seconds with jitter".
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

func strptr(s string) *string { return &s }
