// SPDX-License-Identifier: AGPL-3.0-or-later

// Package webhook is the outbound HTTP client and worker for
// WebhookDelivery rows: a dial-timeout HTTP POST with an
// HMAC-signed X-Signature header.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Client posts a webhook payload to a subscriber endpoint, signing it
// with HMAC-SHA256 over "timestamp.body" when an API key is present.
// X-Signature carries "sha256=<hex>", X-Event-Id is a fresh UUID per
// delivery attempt, X-Timestamp is a Unix second count.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "Mailrelay-Webhook/1.0"
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

// Response is the subset of an HTTP response the worker persists.
type Response struct {
	StatusCode int
	Body       string
}

// Deliver POSTs payload to url. apiKey, when non-empty, both signs the
// request (X-Signature) and is sent as X-API-Key so the subscriber can
// verify the sender's identity independent of the signature.
func (c *Client) Deliver(ctx context.Context, url string, payload []byte, apiKey string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Event-Id", uuid.NewString())

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Timestamp", timestamp)

	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
		req.Header.Set("X-Signature", sign(apiKey, timestamp, payload))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}

// maxResponseBodyRead bounds how much of a subscriber's response is
// ever read into memory, independent of how much is ultimately stored
// (models.MaxWebhookResponseBodyBytes truncates further downstream).
const maxResponseBodyRead = 64 * 1024

// sign computes "sha256=<hex hmac>" over "timestamp.payload", the
// scheme a subscriber reconstructs by concatenating the X-Timestamp
// header with the raw request body.
func sign(apiKey, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
