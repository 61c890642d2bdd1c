// SPDX-License-Identifier: AGPL-3.0-or-later

// Package classify maps SMTP reply codes and transport errors to a
// retry decision via reply-code substring matching.
package classify

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// Classification is the retry decision attached to a send failure.
type Classification string

const (
	Permanent Classification = "permanent"
	Temporary Classification = "temporary"
)

// Category is a short diagnostic tag stored alongside the classification.
type Category = string

const (
	CategorySMTPPermanent = "smtp_permanent"
	CategorySMTPTemporary = "smtp_temporary"
	CategoryAuth          = "auth"
	CategoryTimeout       = "timeout"
	CategoryConnection    = "connection"
	CategoryUnknown       = "unknown"
)

var permanentReplyCodes = map[int]bool{550: true, 551: true, 552: true, 553: true, 554: true}
var temporaryReplyCodes = map[int]bool{421: true, 450: true, 451: true, 452: true}

// Classify inspects err (as returned by the SMTP Sender) and decides
// whether the Email Worker should retry or finalize as failed.
func Classify(err error) (Classification, Category) {
	if err == nil {
		return Temporary, CategoryUnknown
	}

	msg := strings.ToLower(err.Error())

	// Auth failures are a system misconfiguration, not a transient
	// upstream condition, even though 535 falls in the 5xx range the
	// generic reply-code table below would otherwise classify. Checked
	// before replyCode so it takes priority over the 5xx-temporary
	// default.
	if strings.Contains(msg, "authentication") || strings.Contains(msg, "auth failed") || strings.Contains(msg, "535") {
		return Permanent, CategoryAuth
	}

	if code, ok := replyCode(msg); ok {
		switch {
		case permanentReplyCodes[code]:
			return Permanent, CategorySMTPPermanent
		case temporaryReplyCodes[code]:
			return Temporary, CategorySMTPTemporary
		case code >= 500 && code < 600:
			// Any other 5xx: temporary, the safe default per the
			// sender's own reply-code table.
			return Temporary, CategorySMTPTemporary
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Temporary, CategoryTimeout
	}

	if strings.Contains(msg, "timeout") {
		return Temporary, CategoryTimeout
	}

	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "dial tcp") {
		return Temporary, CategoryConnection
	}

	if strings.Contains(msg, "recipient refused") || strings.Contains(msg, "recipient rejected") {
		return Permanent, CategorySMTPPermanent
	}

	return Temporary, CategoryUnknown
}

// replyCode pulls the leading 3-digit SMTP reply code out of an error
// message shaped like "550 5.1.1 ...: user unknown".
func replyCode(msg string) (int, bool) {
	fields := strings.Fields(msg)
	for _, f := range fields {
		f = strings.TrimSuffix(f, ":")
		if len(f) == 3 {
			if n, err := strconv.Atoi(f); err == nil && n >= 100 && n < 600 {
				return n, true
			}
		}
	}
	return 0, false
}
