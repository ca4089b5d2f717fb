package filter

import (
	"bytes"
	"context"
	"io"
	"testing"

	"security-monitor/internal/domain"
	"security-monitor/internal/logger"
	"security-monitor/internal/telemetry"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() map[string]domain.FieldPermissionRule {
	return map[string]domain.FieldPermissionRule{
		"client_secret": {Field: "client_secret", AllowedRoles: []string{"admin"}},
		"redirect_uris": {Field: "redirect_uris", AllowedRoles: []string{"admin", "client-manager"}},
		"created_by":    {Field: "created_by", AllowedRoles: []string{"admin", "svc-audit"}},
	}
}

func newTestFilter(strict bool) *FieldFilter {
	return NewFieldFilter(domain.FieldFilterConfig{
		Rules:               testRules(),
		DefaultAllowedRoles: []string{"admin"},
		StrictMode:          strict,
		TrustedClients:      []string{"svc-internal"},
	}, logger.NewLoggerWithOutput("error", "json", io.Discard), telemetry.NewNoop())
}

func TestFieldFilter_Allowed(t *testing.T) {
	tests := []struct {
		name     string
		strict   bool
		field    string
		caller   domain.CallerClaims
		expected bool
	}{
		{
			name:     "Restricted field hidden from anonymous caller",
			field:    "client_secret",
			caller:   domain.CallerClaims{},
			expected: false,
		},
		{
			name:     "Restricted field visible to matching role",
			field:    "client_secret",
			caller:   domain.CallerClaims{Roles: []string{"viewer", "admin"}},
			expected: true,
		},
		{
			name:     "Restricted field hidden from other roles",
			field:    "client_secret",
			caller:   domain.CallerClaims{Roles: []string{"client-manager"}},
			expected: false,
		},
		{
			name:     "Client identifier listed in the rule",
			field:    "created_by",
			caller:   domain.CallerClaims{ClientID: "svc-audit"},
			expected: true,
		},
		{
			name:     "Trusted client bypasses rules",
			field:    "client_secret",
			caller:   domain.CallerClaims{ClientID: "svc-internal"},
			expected: true,
		},
		{
			name:     "Unlisted field passes in non-strict mode",
			field:    "client_name",
			caller:   domain.CallerClaims{},
			expected: true,
		},
		{
			name:     "Unlisted field hidden in strict mode",
			strict:   true,
			field:    "client_name",
			caller:   domain.CallerClaims{Roles: []string{"client-manager"}},
			expected: false,
		},
		{
			name:     "Unlisted field visible to default role in strict mode",
			strict:   true,
			field:    "client_name",
			caller:   domain.CallerClaims{Roles: []string{"admin"}},
			expected: true,
		},
		{
			name:     "Trusted client bypasses strict mode",
			strict:   true,
			field:    "client_name",
			caller:   domain.CallerClaims{ClientID: "svc-internal"},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := newTestFilter(tt.strict)
			assert.Equal(t, tt.expected, filter.Allowed(tt.field, tt.caller))
		})
	}
}

func TestFieldFilter_FilterObject(t *testing.T) {
	// Arrange
	filter := newTestFilter(false)
	payload := map[string]any{
		"client_id":     "svc-A",
		"client_name":   "Service A",
		"client_secret": "s3cr3t",
		"redirect_uris": []any{"https://a.example/cb"},
	}
	caller := domain.CallerClaims{ClientID: "svc-B", Roles: []string{"client-manager"}}

	// Act
	filtered, removed := filter.Filter(payload, caller)

	// Assert
	object := filtered.(map[string]any)
	assert.Equal(t, []string{"client_secret"}, removed)
	assert.NotContains(t, object, "client_secret")
	assert.Contains(t, object, "redirect_uris")
	assert.Contains(t, object, "client_name")
	assert.Contains(t, object, "client_id")
}

func TestFieldFilter_FilterCollection(t *testing.T) {
	// Arrange
	filter := newTestFilter(false)
	payload := []any{
		map[string]any{"client_id": "a", "client_secret": "x", "created_by": "ops"},
		map[string]any{"client_id": "b", "client_secret": "y"},
		"not-an-object",
	}

	// Act
	filtered, removed := filter.Filter(payload, domain.CallerClaims{})

	// Assert
	items := filtered.([]any)
	require.Len(t, items, 3)
	for _, item := range items[:2] {
		object := item.(map[string]any)
		assert.NotContains(t, object, "client_secret")
		assert.NotContains(t, object, "created_by")
		assert.Contains(t, object, "client_id")
	}
	assert.Equal(t, "not-an-object", items[2])
	assert.Equal(t, []string{"client_secret", "created_by"}, removed)
}

func TestFieldFilter_StrictMode(t *testing.T) {
	// Arrange
	filter := newTestFilter(true)
	payload := map[string]any{"client_id": "svc-A", "client_secret": "x"}

	// Act
	_, removed := filter.Filter(payload, domain.CallerClaims{Roles: []string{"client-manager"}})

	// Assert
	assert.Equal(t, []string{"client_id", "client_secret"}, removed)
	assert.Empty(t, payload)
}

func TestFieldFilter_FilterJSON(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		expectedRemoved []string
		unchanged       bool
	}{
		{
			name:            "Object",
			body:            `{"client_id":"svc-A","client_secret":"x","count":12345678901234567890}`,
			expectedRemoved: []string{"client_secret"},
		},
		{
			name:            "Array of objects",
			body:            `[{"client_id":"a","client_secret":"x"},{"client_id":"b"}]`,
			expectedRemoved: []string{"client_secret"},
		},
		{
			name:      "Nothing to remove",
			body:      `{"client_id":"svc-A"}`,
			unchanged: true,
		},
		{
			name:      "Scalar body",
			body:      `"ok"`,
			unchanged: true,
		},
		{
			name:      "Empty body",
			body:      ``,
			unchanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			filter := newTestFilter(false)

			// Act
			out, removed, err := filter.FilterJSON(context.Background(), []byte(tt.body), domain.CallerClaims{})

			// Assert
			require.NoError(t, err)
			if tt.unchanged {
				assert.Equal(t, tt.body, string(out))
				assert.Empty(t, removed)
				return
			}
			assert.Equal(t, tt.expectedRemoved, removed)
			assert.NotContains(t, string(out), "client_secret")
			assert.True(t, json.Valid(out))
		})
	}
}

func TestFieldFilter_FilterJSONKeepsLargeNumbers(t *testing.T) {
	filter := newTestFilter(false)

	out, _, err := filter.FilterJSON(context.Background(), []byte(`{"count":12345678901234567890,"client_secret":"x"}`), domain.CallerClaims{})

	require.NoError(t, err)
	assert.Contains(t, string(out), "12345678901234567890")
}

func TestFieldFilter_FilterJSONInvalidBody(t *testing.T) {
	filter := newTestFilter(false)
	body := []byte(`{"client_secret":`)

	out, removed, err := filter.FilterJSON(context.Background(), body, domain.CallerClaims{})

	assert.Error(t, err)
	assert.Equal(t, body, out)
	assert.Empty(t, removed)
}

func TestFieldFilter_AuditLog(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	filter := NewFieldFilter(domain.FieldFilterConfig{
		Rules:              testRules(),
		AuditRemovedFields: true,
	}, logger.NewLoggerWithOutput("info", "json", &buf), nil)

	// Act
	_, _, err := filter.FilterJSON(context.Background(), []byte(`{"client_secret":"x"}`), domain.CallerClaims{ClientID: "svc-B"})

	// Assert
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Response fields removed")
	assert.Contains(t, output, "client_secret")
	assert.Contains(t, output, "svc-B")
}
