// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics is the counter/histogram surface for email delivery
// outcomes and webhook outcomes. Job intake is not counted.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter and histogram the delivery and
// webhook worker pipelines report into. Built on a private registry
// rather than the global default one so a process can construct more
// than one instance (e.g. in tests) without a duplicate-registration
// panic.
type Metrics struct {
	registry *prometheus.Registry

	emailSent          prometheus.Counter
	emailFailed        *prometheus.CounterVec
	emailRetried       prometheus.Counter
	emailProcessingDur prometheus.Histogram

	webhookDelivered  prometheus.Counter
	webhookFailed     prometheus.Counter
	webhookRetried    prometheus.Counter
	webhookRequestDur prometheus.Histogram
}

// New constructs a Metrics instance and registers all series on a
// dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		emailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_email_sent_total",
			Help: "Email jobs that reached status=sent.",
		}),
		emailFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailrelay_email_failed_total",
			Help: "Email jobs that reached status=failed, by error_category.",
		}, []string{"category"}),
		emailRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_email_retry_total",
			Help: "Email send attempts that ended in retry_pending.",
		}),
		emailProcessingDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailrelay_email_processing_duration_seconds",
			Help:    "Wall-clock time from claiming a send_email task to its terminal or retry outcome.",
			Buckets: prometheus.DefBuckets,
		}),
		webhookDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_webhook_delivered_total",
			Help: "Webhook deliveries that reached status=delivered.",
		}),
		webhookFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_webhook_failed_total",
			Help: "Webhook deliveries that reached status=failed.",
		}),
		webhookRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_webhook_retry_total",
			Help: "Webhook delivery attempts that were rescheduled for retry.",
		}),
		webhookRequestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailrelay_webhook_request_duration_seconds",
			Help:    "Wall-clock time of a single outbound webhook HTTP request.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.emailSent, m.emailFailed, m.emailRetried, m.emailProcessingDur,
		m.webhookDelivered, m.webhookFailed, m.webhookRetried, m.webhookRequestDur,
	)
	return m
}

// Handler exposes the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EmailSent()                           { m.emailSent.Inc() }
func (m *Metrics) EmailFailed(category string)          { m.emailFailed.WithLabelValues(category).Inc() }
func (m *Metrics) EmailRetried()                        { m.emailRetried.Inc() }
func (m *Metrics) ObserveEmailProcessing(d time.Duration) { m.emailProcessingDur.Observe(d.Seconds()) }

func (m *Metrics) WebhookDelivered()                      { m.webhookDelivered.Inc() }
func (m *Metrics) WebhookFailed()                         { m.webhookFailed.Inc() }
func (m *Metrics) WebhookRetried()                        { m.webhookRetried.Inc() }
func (m *Metrics) ObserveWebhookRequest(d time.Duration) { m.webhookRequestDur.Observe(d.Seconds()) }
