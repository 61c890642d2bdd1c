// SPDX-License-Identifier: AGPL-3.0-or-later
package shared

import (
	"context"
	"net/http"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/pkg/logger"
)

// ContextKey represents a context key type
type ContextKey string

const (
	// ContextKeyApplication is the context key for the Application
	// resolved from the XAPIKey header.
	ContextKeyApplication ContextKey = "application"
	// ContextKeyRequestID is the context key for the request ID
	ContextKeyRequestID ContextKey = "request_id"
	// APIKeyHeader is the header carrying the caller's API key.
	APIKeyHeader = "XAPIKey"
)

// ApplicationStore resolves the caller's Application by API key.
type ApplicationStore interface {
	GetApplicationByAPIKey(ctx context.Context, apiKey string) (*models.Application, error)
}

// Middleware bundles the handlers shared across API routes.
type Middleware struct {
	applications ApplicationStore
}

// NewMiddleware creates a new middleware instance.
func NewMiddleware(applications ApplicationStore) *Middleware {
	return &Middleware{applications: applications}
}

// RequireAPIKey resolves the Application identified by the XAPIKey
// header and stores it in the request context. Missing or unknown
// keys are rejected with 401, per the intake contract's step 1.
func (m *Middleware) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r.Context())

		apiKey := r.Header.Get(APIKeyHeader)
		if apiKey == "" {
			WriteUnauthorized(w, "Invalid API key")
			return
		}

		app, err := m.applications.GetApplicationByAPIKey(r.Context(), apiKey)
		if err != nil || app == nil {
			logger.Logger.Debug("authentication_failed",
				"request_id", requestID,
				"path", r.URL.Path,
				"error", errToString(err))
			WriteUnauthorized(w, "Invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyApplication, app)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetApplicationFromContext retrieves the Application resolved by
// RequireAPIKey from the request context.
func GetApplicationFromContext(ctx context.Context) (*models.Application, bool) {
	app, ok := ctx.Value(ContextKeyApplication).(*models.Application)
	return app, ok
}

// SecurityHeaders middleware adds baseline security headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
		next.ServeHTTP(w, r)
	})
}
