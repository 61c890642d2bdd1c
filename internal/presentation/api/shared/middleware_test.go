// SPDX-License-Identifier: AGPL-3.0-or-later
package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockApplicationStore struct {
	byKey map[string]*models.Application
}

func newMockApplicationStore() *mockApplicationStore {
	return &mockApplicationStore{byKey: make(map[string]*models.Application)}
}

func (m *mockApplicationStore) GetApplicationByAPIKey(ctx context.Context, apiKey string) (*models.Application, error) {
	if app, ok := m.byKey[apiKey]; ok {
		return app, nil
	}
	return nil, nil
}

func TestMiddleware_RequireAPIKey(t *testing.T) {
	app := &models.Application{ID: 1, TenantID: uuid.New(), APIKey: "valid-key", Status: models.ApplicationStatusActive}
	store := newMockApplicationStore()
	store.byKey["valid-key"] = app

	m := NewMiddleware(store)

	var resolved *models.Application
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved, _ = GetApplicationFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid key resolves application", func(t *testing.T) {
		resolved = nil
		req := httptest.NewRequest(http.MethodPost, "/send/email", nil)
		req.Header.Set(APIKeyHeader, "valid-key")
		w := httptest.NewRecorder()

		m.RequireAPIKey(next).ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, resolved)
		assert.Equal(t, app.ID, resolved.ID)
	})

	t.Run("missing key is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/send/email", nil)
		w := httptest.NewRecorder()

		m.RequireAPIKey(next).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/send/email", nil)
		req.Header.Set(APIKeyHeader, "bogus")
		w := httptest.NewRecorder()

		m.RequireAPIKey(next).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	SecurityHeaders(next).ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
