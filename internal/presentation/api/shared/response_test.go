// SPDX-License-Identifier: AGPL-3.0-or-later
package shared

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		data       interface{}
	}{
		{
			name:       "write struct data",
			statusCode: http.StatusOK,
			data: map[string]string{
				"job_id": "123",
				"status": "queued",
			},
		},
		{
			name:       "write created status",
			statusCode: http.StatusAccepted,
			data:       map[string]string{"status": "queued"},
		},
		{
			name:       "write nil data",
			statusCode: http.StatusOK,
			data:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()

			WriteJSON(w, tt.statusCode, tt.data)

			if w.Code != tt.statusCode {
				t.Errorf("expected status code %d, got %d", tt.statusCode, w.Code)
			}

			if contentType := w.Header().Get("Content-Type"); contentType != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", contentType)
			}

			if tt.data != nil {
				var decoded map[string]string
				if err := json.NewDecoder(w.Body).Decode(&decoded); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				for k, v := range tt.data.(map[string]string) {
					if decoded[k] != v {
						t.Errorf("expected %s=%s, got %s", k, v, decoded[k])
					}
				}
			}
		})
	}
}
