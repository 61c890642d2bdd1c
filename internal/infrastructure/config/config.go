// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the process-wide configuration, loaded once from the
// environment at startup.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Queue    QueueConfig
	SMTP     SMTPDefaultsConfig
	Webhook  WebhookConfig
	Server   ServerConfig
	Logger   LoggerConfig
}

// AppConfig holds process-wide identity and the at-rest credential
// wrap key.
type AppConfig struct {
	BaseURL     string
	WrapKeySeed []byte // MAILRELAY_WRAP_KEY, expanded via HKDF per credential class
}

type DatabaseConfig struct {
	DSN string
}

// QueueConfig tunes the Postgres-table task broker and worker pools.
type QueueConfig struct {
	EmailVisibilityTimeout   time.Duration
	WebhookVisibilityTimeout time.Duration
	EmailWorkers             int
	WebhookWorkers           int
	TasksPerWorker           int
	PollInterval             time.Duration
}

// SMTPDefaultsConfig provides fallbacks applied when a
// ServiceConfiguration does not override them.
type SMTPDefaultsConfig struct {
	DialTimeout time.Duration
	MaxRetries  int
}

// WebhookConfig tunes outbound webhook delivery.
type WebhookConfig struct {
	RequestTimeout time.Duration
	MaxRetries     int
	UserAgent      string
}

type ServerConfig struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ShutdownPeriod time.Duration
}

type LoggerConfig struct {
	Level  string
	Format string // "classic" or "json"
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.App.BaseURL = mustGetEnv("MAILRELAY_BASE_URL")

	wrapKeySeed := mustGetEnv("MAILRELAY_WRAP_KEY")
	if len(wrapKeySeed) < 16 {
		return nil, fmt.Errorf("MAILRELAY_WRAP_KEY must be at least 16 bytes")
	}
	cfg.App.WrapKeySeed = []byte(wrapKeySeed)

	cfg.Database.DSN = mustGetEnv("MAILRELAY_DB_DSN")

	cfg.Queue.EmailVisibilityTimeout = getEnvDuration("MAILRELAY_EMAIL_VISIBILITY_TIMEOUT", 120*time.Second)
	cfg.Queue.WebhookVisibilityTimeout = getEnvDuration("MAILRELAY_WEBHOOK_VISIBILITY_TIMEOUT", 60*time.Second)
	cfg.Queue.EmailWorkers = getEnvInt("MAILRELAY_EMAIL_WORKERS", 4)
	cfg.Queue.WebhookWorkers = getEnvInt("MAILRELAY_WEBHOOK_WORKERS", 2)
	cfg.Queue.TasksPerWorker = getEnvInt("MAILRELAY_TASKS_PER_WORKER", 200)
	cfg.Queue.PollInterval = getEnvDuration("MAILRELAY_QUEUE_POLL_INTERVAL", 2*time.Second)

	cfg.SMTP.DialTimeout = getEnvDuration("MAILRELAY_SMTP_DIAL_TIMEOUT", 30*time.Second)
	cfg.SMTP.MaxRetries = getEnvInt("MAILRELAY_SMTP_MAX_RETRIES", 3)

	cfg.Webhook.RequestTimeout = getEnvDuration("MAILRELAY_WEBHOOK_REQUEST_TIMEOUT", 10*time.Second)
	cfg.Webhook.MaxRetries = getEnvInt("MAILRELAY_WEBHOOK_MAX_RETRIES", 3)
	cfg.Webhook.UserAgent = getEnv("MAILRELAY_WEBHOOK_USER_AGENT", "Mailrelay-Webhook/1.0")

	cfg.Server.ListenAddr = getEnv("MAILRELAY_LISTEN_ADDR", ":8080")
	cfg.Server.ReadTimeout = getEnvDuration("MAILRELAY_SERVER_READ_TIMEOUT", 5*time.Second)
	cfg.Server.WriteTimeout = getEnvDuration("MAILRELAY_SERVER_WRITE_TIMEOUT", 10*time.Second)
	cfg.Server.ShutdownPeriod = getEnvDuration("MAILRELAY_SHUTDOWN_PERIOD", 15*time.Second)

	cfg.Logger.Level = getEnv("MAILRELAY_LOG_LEVEL", "info")
	cfg.Logger.Format = getEnv("MAILRELAY_LOG_FORMAT", "json")

	return cfg, nil
}

func mustGetEnv(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		panic(fmt.Sprintf("missing required environment variable: %s", key))
	}
	return value
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
		return result
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
