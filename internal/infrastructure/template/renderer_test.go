// SPDX-License-Identifier: AGPL-3.0-or-later
package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Substitution(t *testing.T) {
	out, err := Render("Hello {{name}}, welcome to {{tenant_name}}.", map[string]any{"name": "Ada"}, "Acme")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, welcome to Acme.", out)
}

func TestRender_MissingVariableRendersEmpty(t *testing.T) {
	out, err := Render("Hi {{name}}, code: {{otp}}.", map[string]any{"name": "Ada"}, "Acme")
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, code: .", out)
}

func TestRender_TenantNameFallthrough(t *testing.T) {
	out, err := Render("{{tenant_name}}", nil, "Acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", out)
}

func TestRender_TenantNameOverride(t *testing.T) {
	out, err := Render("{{tenant_name}}", map[string]any{"tenant_name": "Override"}, "Acme")
	require.NoError(t, err)
	assert.Equal(t, "Override", out)
}

func TestRender_MalformedDelimiter(t *testing.T) {
	_, err := Render("Hello {{name", map[string]any{"name": "Ada"}, "Acme")
	require.Error(t, err)
	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, 6, renderErr.Offset)
}

func TestRender_NoPlaceholders(t *testing.T) {
	out, err := Render("plain text, no vars", nil, "Acme")
	require.NoError(t, err)
	assert.Equal(t, "plain text, no vars", out)
}

func TestRender_NumericAndBoolValues(t *testing.T) {
	out, err := Render("count={{count}} active={{active}}", map[string]any{"count": 3, "active": true}, "")
	require.NoError(t, err)
	assert.Equal(t, "count=3 active=true", out)
}
