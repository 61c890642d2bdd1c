// SPDX-License-Identifier: AGPL-3.0-or-later
package shared

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteUnauthorized(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		message         string
		expectedMessage string
	}{
		{"with message", "Invalid API key", "Invalid API key"},
		{"empty message falls back", "", "Authentication required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()

			WriteUnauthorized(w, tt.message)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
			}

			var response ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Detail != tt.expectedMessage {
				t.Errorf("expected detail %q, got %q", tt.expectedMessage, response.Detail)
			}
		})
	}
}

func TestWriteNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		message         string
		expectedMessage string
	}{
		{"with message", "Template not found", "Template not found"},
		{"empty message falls back", "", "Resource not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()

			WriteNotFound(w, tt.message)

			if w.Code != http.StatusNotFound {
				t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
			}

			var response ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Detail != tt.expectedMessage {
				t.Errorf("expected detail %q, got %q", tt.expectedMessage, response.Detail)
			}
		})
	}
}

func TestWriteBadRequest(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()

	WriteBadRequest(w, "No active SMTP configuration")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var response ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Detail != "No active SMTP configuration" {
		t.Errorf("unexpected detail: %q", response.Detail)
	}
}

func TestWriteInternalError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	WriteInternalError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}

	var response ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Detail != "An internal error occurred" {
		t.Errorf("expected detail 'An internal error occurred', got %q", response.Detail)
	}
}
