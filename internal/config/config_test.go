package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"security-monitor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoader_LoadConfig(t *testing.T) {
	tests := []struct {
		name                string
		envVars             map[string]string
		expectError         bool
		expectedGlobal      int
		expectedToken       int
		expectedSuspicious  int64
		expectedShortWindow time.Duration
	}{
		{
			name:                "Default values",
			envVars:             map[string]string{},
			expectError:         false,
			expectedGlobal:      100,
			expectedToken:       10,
			expectedSuspicious:  10,
			expectedShortWindow: 5 * time.Minute,
		},
		{
			name: "Custom values",
			envVars: map[string]string{
				"RATE_LIMIT_GLOBAL_LIMIT": "500",
				"RATE_LIMIT_TOKEN_LIMIT":  "5",
				"SUSPICIOUS_THRESHOLD":    "20",
				"SUSPICIOUS_WINDOW":       "120",
			},
			expectError:         false,
			expectedGlobal:      500,
			expectedToken:       5,
			expectedSuspicious:  20,
			expectedShortWindow: 2 * time.Minute,
		},
		{
			name: "Invalid global limit",
			envVars: map[string]string{
				"RATE_LIMIT_GLOBAL_LIMIT": "0",
			},
			expectError: true,
		},
		{
			name: "Non numeric threshold",
			envVars: map[string]string{
				"HIGH_FREQUENCY_THRESHOLD": "many",
			},
			expectError: true,
		},
		{
			name: "Postgres sink without connection string",
			envVars: map[string]string{
				"SECURITY_LOG_SINK": "postgres",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			loader := NewConfigLoader()
			cfg, err := loader.LoadConfig()

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedGlobal, cfg.RateLimit.Global.Limit)
			assert.Equal(t, tt.expectedToken, cfg.RateLimit.Token.Limit)
			assert.Equal(t, tt.expectedSuspicious, cfg.Classifier.SuspiciousThreshold)
			assert.Equal(t, tt.expectedShortWindow, cfg.Classifier.SuspiciousWindow)
		})
	}
}

func TestConfigLoader_Defaults(t *testing.T) {
	loader := NewConfigLoader()
	cfg, err := loader.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, domain.GlobalPolicy, cfg.RateLimit.Global.Name)
	assert.Equal(t, "/connect/token", cfg.RateLimit.TokenEndpointPath)
	assert.Equal(t, "/connect/introspect", cfg.RateLimit.IntrospectionEndpointPath)
	assert.Equal(t, int64(100), cfg.Classifier.HighFrequencyThreshold)
	assert.Equal(t, time.Hour, cfg.Classifier.HighFrequencyWindow)
	assert.Equal(t, time.Hour, cfg.Classifier.IdleRetention)
	assert.Equal(t, 30, cfg.EventLog.RetentionDays)
	assert.Equal(t, 24*time.Hour, cfg.EventLog.CleanupInterval)
	assert.Equal(t, 50, cfg.EventLog.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.EventLog.FlushInterval)
	assert.Equal(t, "console", cfg.EventLog.Sink)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.Identity.TrustedProxies)
	assert.Equal(t, 1, cfg.Identity.ForwardLimit)
	assert.False(t, cfg.FieldFilter.StrictMode)
	assert.Equal(t, []string{"admin"}, cfg.FieldFilter.DefaultAllowedRoles)
}

func TestConfigLoader_ReportsEveryViolation(t *testing.T) {
	t.Setenv("RATE_LIMIT_GLOBAL_LIMIT", "-1")
	t.Setenv("RATE_LIMIT_TOKEN_WINDOW", "0")
	t.Setenv("SUSPICIOUS_THRESHOLD", "abc")
	t.Setenv("STORAGE_TYPE", "etcd")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1,not-an-ip")

	loader := NewConfigLoader()
	_, err := loader.LoadConfig()
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	joined := validationErr.Error()
	assert.Contains(t, joined, "RATE_LIMIT_GLOBAL_LIMIT")
	assert.Contains(t, joined, "RATE_LIMIT_TOKEN_WINDOW")
	assert.Contains(t, joined, "invalid SUSPICIOUS_THRESHOLD")
	assert.Contains(t, joined, "STORAGE_TYPE")
	assert.Contains(t, joined, "not-an-ip")
	assert.GreaterOrEqual(t, len(validationErr.Violations), 5)
}

func TestConfigLoader_MalformedTrustedNetworkIsSkipped(t *testing.T) {
	t.Setenv("TRUSTED_NETWORKS", "10.0.0.0/8, 300.1.1.1/33 ,192.168.0.0/16")

	loader := NewConfigLoader()
	cfg, err := loader.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.Identity.TrustedNetworks)

	found := false
	for _, w := range loader.Warnings() {
		if strings.Contains(w, "300.1.1.1/33") {
			found = true
		}
	}
	assert.True(t, found, "malformed CIDR should be reported as a warning")
}

func TestConfigLoader_LoadFieldPermissions(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "field_permissions.json")
	content := `{"fields": {"client_secret": ["admin"], "redirect_uris": [" admin ", "client-manager", ""]}}`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	t.Setenv("FIELD_PERMISSIONS_FILE", file)

	loader := NewConfigLoader()
	cfg, err := loader.LoadConfig()
	require.NoError(t, err)

	require.Len(t, cfg.FieldFilter.Rules, 2)
	assert.Equal(t, []string{"admin"}, cfg.FieldFilter.Rules["client_secret"].AllowedRoles)
	assert.Equal(t, []string{"admin", "client-manager"}, cfg.FieldFilter.Rules["redirect_uris"].AllowedRoles)
}

func TestConfigLoader_InvalidFieldPermissionsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "field_permissions.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o600))

	t.Setenv("FIELD_PERMISSIONS_FILE", file)

	loader := NewConfigLoader()
	_, err := loader.LoadConfig()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse field permissions file")
}

func TestConfigLoader_RetentionMustCoverLongestWindow(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectError string
	}{
		{
			name: "Classifier window longer than counter retention",
			envVars: map[string]string{
				"HIGH_FREQUENCY_WINDOW":   "7200",
				"COUNTER_RETENTION_HOURS": "1",
			},
			expectError: "COUNTER_RETENTION_HOURS",
		},
		{
			name: "Rate limit window longer than rate limit retention",
			envVars: map[string]string{
				"RATE_LIMIT_TOKEN_WINDOW":    "5400",
				"RATE_LIMIT_RETENTION_HOURS": "1",
			},
			expectError: "RATE_LIMIT_RETENTION_HOURS",
		},
		{
			name: "Retention equal to the longest window",
			envVars: map[string]string{
				"HIGH_FREQUENCY_WINDOW":      "7200",
				"COUNTER_RETENTION_HOURS":    "2",
				"RATE_LIMIT_GLOBAL_WINDOW":   "3600",
				"RATE_LIMIT_RETENTION_HOURS": "1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			// Act
			cfg, err := NewConfigLoader().LoadConfig()

			// Assert
			if tt.expectError == "" {
				require.NoError(t, err)
				assert.NotNil(t, cfg)
				return
			}

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Len(t, validationErr.Violations, 1)
			assert.Contains(t, validationErr.Violations[0], tt.expectError)
		})
	}
}

func TestConfigLoader_RedisSettingsAreValidated(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "redis")
	t.Setenv("REDIS_DB", "20")

	_, err := NewConfigLoader().LoadConfig()

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"REDIS_DB must be between 0 and 15 (got 20)"}, validationErr.Violations)
}

func TestConfigLoader_WarnsWithoutSigningKey(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "")

	loader := NewConfigLoader()
	_, err := loader.LoadConfig()
	require.NoError(t, err)

	assert.Contains(t, loader.Warnings(), "JWT_SIGNING_KEY is empty: bearer tokens are ignored and /admin rejects every request")
}
