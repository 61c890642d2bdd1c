// SPDX-License-Identifier: AGPL-3.0-or-later
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/btouchard/mailrelay/internal/presentation/api/health"
	"github.com/btouchard/mailrelay/internal/presentation/api/intake"
	"github.com/btouchard/mailrelay/internal/presentation/api/shared"
	"github.com/btouchard/mailrelay/internal/presentation/api/status"
)

// RouterConfig bundles every handler and middleware dependency the
// router mounts. Built once at process startup in cmd/mailrelay.
type RouterConfig struct {
	Applications shared.ApplicationStore
	Intake       *intake.Handler
	Status       *status.Handler
	Health       *health.Handler
	Metrics      http.Handler
}

// NewRouter builds the HTTP API surface: public health/metrics,
// API-key-gated intake and job-status endpoints. Middleware order is
// RequestID, AddRequestIDToContext, RealIP, RequestLogger, Recoverer,
// SecurityHeaders — no session/CSRF/rate-limit layers, since this
// service has no browser-facing surface to protect.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	apiMiddleware := shared.NewMiddleware(cfg.Applications)

	r.Use(middleware.RequestID)
	r.Use(shared.AddRequestIDToContext)
	r.Use(middleware.RealIP)
	r.Use(shared.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(shared.SecurityHeaders)

	r.Get("/health/live", cfg.Health.HandleLive)
	r.Get("/health/ready", cfg.Health.HandleReady)
	r.Handle("/metrics", cfg.Metrics)
	r.Get("/openapi.json", serveOpenAPISpec)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.RequireAPIKey)

			r.Post("/send/email", cfg.Intake.HandleSendEmail)

			r.Route("/jobs/{id}", func(r chi.Router) {
				r.Get("/", cfg.Status.HandleGetJob)
				r.Get("/full", cfg.Status.HandleGetJobFull)
			})
		})
	})

	return r
}
