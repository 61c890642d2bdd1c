// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"errors"
	"testing"
)

func TestDomainErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		expectedMsg string
	}{
		{"ErrInvalidAPIKey", ErrInvalidAPIKey, "invalid api key"},
		{"ErrApplicationNotFound", ErrApplicationNotFound, "application not found"},
		{"ErrEmailServiceNotFound", ErrEmailServiceNotFound, "invalid email service"},
		{"ErrNoActiveConfiguration", ErrNoActiveConfiguration, "no active smtp configuration"},
		{"ErrSMTPConfigurationMissing", ErrSMTPConfigurationMissing, "smtp configuration not found"},
		{"ErrTemplateNotFound", ErrTemplateNotFound, "template not found"},
		{"ErrTemplateRenderFailed", ErrTemplateRenderFailed, "template rendering error"},
		{"ErrJobNotFound", ErrJobNotFound, "job not found"},
		{"ErrWebhookDeliveryNotFound", ErrWebhookDeliveryNotFound, "webhook delivery not found"},
		{"ErrDatabaseConnection", ErrDatabaseConnection, "database connection error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatal("error should not be nil")
			}
			if tt.err.Error() != tt.expectedMsg {
				t.Errorf("got %v, expected %v", tt.err.Error(), tt.expectedMsg)
			}
		})
	}
}

func TestErrorComparison(t *testing.T) {
	tests := []struct {
		name  string
		err1  error
		err2  error
		equal bool
	}{
		{"same error instances are equal", ErrJobNotFound, ErrJobNotFound, true},
		{"different error instances are not equal", ErrJobNotFound, ErrTemplateNotFound, false},
		{"distinct error with similar text is not equal", ErrInvalidAPIKey, errors.New("wrapped: invalid api key"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errors.Is(tt.err1, tt.err2) != tt.equal {
				t.Errorf("errors.Is mismatch for %v / %v", tt.err1, tt.err2)
			}
		})
	}
}

func TestErrorUniqueness(t *testing.T) {
	errs := map[string]error{
		"invalid api key":               ErrInvalidAPIKey,
		"application not found":         ErrApplicationNotFound,
		"invalid email service":         ErrEmailServiceNotFound,
		"no active smtp configuration":  ErrNoActiveConfiguration,
		"smtp configuration not found":  ErrSMTPConfigurationMissing,
		"template not found":            ErrTemplateNotFound,
		"template rendering error":      ErrTemplateRenderFailed,
		"job not found":                 ErrJobNotFound,
		"webhook delivery not found":    ErrWebhookDeliveryNotFound,
		"database connection error":     ErrDatabaseConnection,
	}

	seen := make(map[string]bool)
	for msg, err := range errs {
		if seen[msg] {
			t.Errorf("duplicate error message: %v", msg)
		}
		seen[msg] = true

		if err.Error() != msg {
			t.Errorf("message mismatch for %v: got %v, expected %v", err, err.Error(), msg)
		}
	}

	if len(seen) != len(errs) {
		t.Errorf("expected %d unique error messages, got %d", len(errs), len(seen))
	}
}
