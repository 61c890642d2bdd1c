// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import "errors"

var (
	ErrInvalidAPIKey            = errors.New("invalid api key")
	ErrApplicationNotFound      = errors.New("application not found")
	ErrEmailServiceNotFound     = errors.New("invalid email service")
	ErrNoActiveConfiguration    = errors.New("no active smtp configuration")
	ErrSMTPConfigurationMissing = errors.New("smtp configuration not found")
	ErrTemplateNotFound         = errors.New("template not found")
	ErrTemplateRenderFailed     = errors.New("template rendering error")
	ErrJobNotFound              = errors.New("job not found")
	ErrWebhookDeliveryNotFound  = errors.New("webhook delivery not found")
	ErrDatabaseConnection       = errors.New("database connection error")
)
