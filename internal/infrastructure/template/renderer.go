// SPDX-License-Identifier: AGPL-3.0-or-later

// Package template is a pure, I/O-free Mustache-compatible {{var}}
// substitution renderer: a small left-to-right scanner over a flat
// variable map with a missing-variable-renders-empty policy that text/template's
// stricter parsing doesn't offer without extra wrapping.
package template

import (
	"fmt"
	"strings"
)

// RenderError reports a malformed template: an unterminated "{{".
type RenderError struct {
	Template string
	Offset   int
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("malformed template at offset %d: unterminated {{", e.Offset)
}

// Render substitutes every {{name}} placeholder in tmpl with the
// string form of data[name]. "tenant_name" falls through to
// tenantName when data doesn't carry its own entry. Missing
// variables render as empty string. An unterminated "{{" returns a
// *RenderError.
func Render(tmpl string, data map[string]any, tenantName string) (string, error) {
	var out strings.Builder
	out.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start == -1 {
			out.WriteString(tmpl[i:])
			break
		}
		start += i
		out.WriteString(tmpl[i:start])

		end := strings.Index(tmpl[start:], "}}")
		if end == -1 {
			return "", &RenderError{Template: tmpl, Offset: start}
		}
		end += start

		name := strings.TrimSpace(tmpl[start+2 : end])
		out.WriteString(lookup(name, data, tenantName))
		i = end + 2
	}

	return out.String(), nil
}

func lookup(name string, data map[string]any, tenantName string) string {
	if v, ok := data[name]; ok {
		return fmt.Sprintf("%v", v)
	}
	if name == "tenant_name" {
		return tenantName
	}
	return ""
}
