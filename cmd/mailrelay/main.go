// SPDX-License-Identifier: AGPL-3.0-or-later

// Command mailrelay is the process entrypoint: it wires the
// Persistence Store, the Job Queue Broker, the Email Worker, the
// Webhook Worker, the Reconciler, and the HTTP API into one process
// and runs them until SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/btouchard/mailrelay/internal/application/delivery"
	"github.com/btouchard/mailrelay/internal/application/intake"
	"github.com/btouchard/mailrelay/internal/application/reconcile"
	"github.com/btouchard/mailrelay/internal/application/webhookdispatch"
	"github.com/btouchard/mailrelay/internal/infrastructure/config"
	"github.com/btouchard/mailrelay/internal/infrastructure/crypto"
	"github.com/btouchard/mailrelay/internal/infrastructure/queue"
	"github.com/btouchard/mailrelay/internal/infrastructure/smtp"
	"github.com/btouchard/mailrelay/internal/infrastructure/store"
	webhookinfra "github.com/btouchard/mailrelay/internal/infrastructure/webhook"
	"github.com/btouchard/mailrelay/internal/presentation/api"
	"github.com/btouchard/mailrelay/internal/presentation/api/health"
	intakeapi "github.com/btouchard/mailrelay/internal/presentation/api/intake"
	"github.com/btouchard/mailrelay/internal/presentation/api/status"
	"github.com/btouchard/mailrelay/pkg/logger"
	"github.com/btouchard/mailrelay/pkg/metrics"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logger.Level))

	db, err := store.Open(ctx, store.Config{DSN: cfg.Database.DSN})
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func(db *sql.DB) { _ = db.Close() }(db)

	wrapKey, err := crypto.DeriveKey(cfg.App.WrapKeySeed, "smtp-credentials")
	if err != nil {
		log.Fatalf("failed to derive credential wrap key: %v", err)
	}

	mx := metrics.New()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	runServer(runCtx, &wg, cfg, db, wrapKey, mx)

	<-runCtx.Done()
	logger.Logger.Info("shutdown_signal_received")

	wg.Wait()
	logger.Logger.Info("mailrelay_exited")
}

// runServer wires every repository, worker, and handler and launches
// the HTTP server plus the background worker/reconciler loops, each
// tracked on wg so main can wait for a clean stop.
func runServer(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, db *sql.DB, wrapKey []byte, mx *metrics.Metrics) {
	applications := store.NewApplicationRepository(db)
	emailServices := store.NewEmailServiceRepository(db)
	serviceConfigs := store.NewServiceConfigurationRepository(db)
	smtpConfigs := store.NewSMTPConfigurationRepository(db)
	templates := store.NewEmailTemplateRepository(db)
	jobs := store.NewEmailJobRepository(db)
	logs := store.NewEmailLogRepository(db)
	deliveries := store.NewWebhookDeliveryRepository(db)

	broker := queue.NewBroker(db)
	taskReconciler := queue.NewReconciler(broker)

	beginTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return store.RunInTx(ctx, db, fn)
	}

	webhookDispatcher := webhookdispatch.New(deliveries, broker, cfg.Webhook.MaxRetries)
	intakeService := intake.New(emailServices, serviceConfigs, templates, jobs, broker)

	sender := smtp.NewDialSender(cfg.SMTP.DialTimeout)
	webhookClient := webhookinfra.NewClient(cfg.Webhook.RequestTimeout, cfg.Webhook.UserAgent)

	emailWorker := delivery.New(
		beginTx, broker, jobs, logs, serviceConfigs, smtpConfigs, emailServices, applications,
		sender, webhookDispatcher, wrapKey,
		delivery.Config{
			Concurrency:    cfg.Queue.EmailWorkers,
			VisibilityTimeout: cfg.Queue.EmailVisibilityTimeout,
			PollInterval:   cfg.Queue.PollInterval,
			TasksPerWorker: cfg.Queue.TasksPerWorker,
		},
		emailRecorder{mx},
	)

	webhookWorker := webhookinfra.New(
		beginTx, broker, deliveries, applications, webhookClient,
		webhookinfra.Config{
			Concurrency:       cfg.Queue.WebhookWorkers,
			VisibilityTimeout: cfg.Queue.WebhookVisibilityTimeout,
			PollInterval:      cfg.Queue.PollInterval,
		},
		webhookRecorder{mx},
	)

	reconciler := reconcile.New(jobs, deliveries, broker, taskReconciler, reconcile.Config{})

	healthHandler := health.NewHandler(map[string]health.Pinger{
		"database": health.PingerFunc(func(ctx context.Context) error { return store.Ping(ctx, db) }),
	}, 3*time.Second)

	router := api.NewRouter(api.RouterConfig{
		Applications: applications,
		Intake:       intakeapi.NewHandler(intakeService),
		Status:       status.NewHandler(jobs, logs, deliveries),
		Health:       healthHandler,
		Metrics:      mx.Handler(),
	})

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Logger.Info("http_server_starting", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("http_server_failed", "error", err.Error())
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("http_server_shutdown_failed", "error", err.Error())
		}
	}()

	runWorkerLoop(ctx, wg, "email_worker", cfg.Queue.TasksPerWorker, emailWorker.Run)
	runWorkerLoop(ctx, wg, "webhook_worker", cfg.Queue.TasksPerWorker, webhookWorker.Run)

	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()
}

// runWorkerLoop repeatedly invokes a worker's Run(ctx, maxTasks),
// recycling it after every maxTasks-task batch until ctx is
// cancelled, per the recycle-after-N scheduling model.
func runWorkerLoop(ctx context.Context, wg *sync.WaitGroup, name string, maxTasks int, run func(ctx context.Context, maxTasks int) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := run(ctx, maxTasks); err != nil && !errors.Is(err, context.Canceled) {
				logger.Logger.Error(fmt.Sprintf("%s_failed", name), "error", err.Error())
			}
		}
	}()
}

// emailRecorder adapts *metrics.Metrics to delivery.Recorder.
type emailRecorder struct{ m *metrics.Metrics }

func (r emailRecorder) EmailSent()                            { r.m.EmailSent() }
func (r emailRecorder) EmailFailed(category string)           { r.m.EmailFailed(category) }
func (r emailRecorder) EmailRetried()                         { r.m.EmailRetried() }
func (r emailRecorder) ObserveEmailProcessing(d time.Duration) { r.m.ObserveEmailProcessing(d) }

// webhookRecorder adapts *metrics.Metrics to webhook.Recorder.
type webhookRecorder struct{ m *metrics.Metrics }

func (r webhookRecorder) WebhookDelivered()                    { r.m.WebhookDelivered() }
func (r webhookRecorder) WebhookFailed()                       { r.m.WebhookFailed() }
func (r webhookRecorder) WebhookRetried()                      { r.m.WebhookRetried() }
func (r webhookRecorder) ObserveWebhookRequest(d time.Duration) { r.m.ObserveWebhookRequest(d) }
