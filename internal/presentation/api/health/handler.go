// SPDX-License-Identifier: AGPL-3.0-or-later

// Package health implements the liveness/readiness split: a cheap
// liveness probe separate from a dependency-checking readiness probe.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/btouchard/mailrelay/internal/presentation/api/shared"
)

// Pinger checks one dependency's availability within ctx's deadline.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler serves /health/live and /health/ready.
type Handler struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// NewHandler builds a Handler that probes each named dependency on
// /health/ready. timeout bounds the aggregate check, defaulting to 3s.
func NewHandler(checks map[string]Pinger, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Handler{checks: checks, timeout: timeout}
}

type liveResponse struct {
	Status string `json:"status"`
}

// HandleLive always answers 200: the process is up and able to serve
// HTTP, independent of any downstream dependency.
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	shared.WriteJSON(w, http.StatusOK, liveResponse{Status: "ok"})
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HandleReady probes every registered dependency concurrently within
// an aggregate timeout and answers 503 with the per-dependency errors
// when any check fails.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(h.checks))
	for name, pinger := range h.checks {
		go func(name string, p Pinger) {
			results <- result{name: name, err: p.Ping(ctx)}
		}(name, pinger)
	}

	checks := make(map[string]string, len(h.checks))
	healthy := true
	for range h.checks {
		res := <-results
		if res.err != nil {
			checks[res.name] = res.err.Error()
			healthy = false
		} else {
			checks[res.name] = "ok"
		}
	}

	status := http.StatusOK
	statusText := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "unavailable"
	}
	shared.WriteJSON(w, status, readyResponse{Status: statusText, Checks: checks})
}
