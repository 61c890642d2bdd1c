// SPDX-License-Identifier: AGPL-3.0-or-later

// Package smtp is the synchronous outbound SMTP client: go-mail
// dialer, implicit TLS on 465 vs STARTTLS otherwise, single envelope.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mail "github.com/go-mail/mail/v2"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// Message is a single outbound envelope submitted by the Email Worker.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	HTMLBody string
}

// Sender submits one Message over one SMTPConfiguration.
type Sender interface {
	Send(ctx context.Context, cfg models.SMTPConfiguration, password string, msg Message) error
}

// DialSender is the production Sender backed by go-mail/mail.
type DialSender struct {
	dialTimeout time.Duration
}

func NewDialSender(dialTimeout time.Duration) *DialSender {
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &DialSender{dialTimeout: dialTimeout}
}

// Send connects per cfg, authenticates, and submits msg as a
// multipart/alternative envelope (plain-text part mirrors the HTML
// body since go-mail always wants a primary body part; HTML is the
// only tracked content). Returns the transport or SMTP reply error
// wrapped (%w) with the relay host and port, for classify.Classify to
// categorize.
func (s *DialSender) Send(ctx context.Context, cfg models.SMTPConfiguration, password string, msg Message) error {
	m := mail.NewMessage()

	from := msg.From
	if msg.FromName != "" {
		from = m.FormatAddress(msg.From, msg.FromName)
	}
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.HTMLBody)
	m.AddAlternative("text/html", msg.HTMLBody)

	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, password)
	d.Timeout = s.dialTimeout

	if cfg.Port == 465 {
		d.SSL = true
		d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	} else if cfg.UseTLS {
		d.TLSConfig = &tls.Config{ServerName: cfg.Host}
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}

	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email via %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		return nil
	}
}
