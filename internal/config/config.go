package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"security-monitor/internal/domain"
	"security-monitor/internal/storage"

	"github.com/joho/godotenv"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Server Configuration
	ServerPort  string
	GinMode     string
	Environment string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Counter storage (memory = por instância, redis = compartilhado)
	StorageType   string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Rate Limiting Configuration (janelas em segundos)
	GlobalLimit               int
	GlobalWindow              int
	TokenLimit                int
	TokenWindow               int
	IntrospectionLimit        int
	IntrospectionWindow       int
	TokenEndpointPath         string
	IntrospectionEndpointPath string
	RateLimitRetentionHours   int

	// Frequency classifier
	SuspiciousThreshold     int
	SuspiciousWindow        int
	HighFrequencyThreshold  int
	HighFrequencyWindow     int
	CounterRetentionHours   int
	CounterEvictionInterval int

	// Security event log
	SecurityLogSink                 string
	SecurityLogsConnectionString    string
	SecurityLogS3Bucket             string
	SecurityLogS3Prefix             string
	AWSRegion                       string
	SecurityLogQueueSize            int
	SecurityLogBatchSize            int
	SecurityLogFlushInterval        int
	SecurityLogFlushRetries         int
	SecurityLogRetentionDays        int
	SecurityLogCleanupIntervalHours int
	SecurityLogSweepTimeout         int
	SecurityLogMonitorEvents        bool

	// Identity resolution
	TrustedProxies        []string
	TrustedNetworks       []string
	ForwardLimit          int
	RequireHeaderSymmetry bool

	// Response field filter
	FieldPermissionsFile      string
	FieldFilterDefaultRoles   []string
	FieldFilterStrict         bool
	FieldFilterTrustedClients []string
	FieldFilterAudit          bool

	// Claims (HMAC) usados pelo middleware de claims
	JWTSigningKey string
}

// FieldPermissionsFile representa a estrutura do arquivo field_permissions.json
type FieldPermissionsFile struct {
	Fields map[string][]string `json:"fields"`
}

// ValidationError agrega todas as violações de configuração encontradas
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d configuration violation(s):\n  - %s", len(e.Violations), strings.Join(e.Violations, "\n  - "))
}

// ConfigLoader carrega a configuração do ambiente e a tabela de permissões de campos
type ConfigLoader struct {
	config      *Config
	permissions map[string]domain.FieldPermissionRule
	warnings    []string
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		permissions: make(map[string]domain.FieldPermissionRule),
	}
}

// LoadConfig carrega as configurações do .env e das variáveis de ambiente
func (c *ConfigLoader) LoadConfig() (*domain.MonitorConfig, error) {
	c.warnings = nil

	// Se não encontrar .env, continua com variáveis do sistema
	if err := godotenv.Load(); err != nil {
		c.warnings = append(c.warnings, ".env file not found, using system environment variables")
	}

	config, err := c.loadFromEnv()
	if err != nil {
		return nil, err
	}
	c.config = config

	permissions, err := c.LoadFieldPermissions()
	if err != nil {
		return nil, fmt.Errorf("failed to load field permissions: %w", err)
	}

	return c.buildMonitorConfig(config, permissions), nil
}

// LoadFieldPermissions carrega a tabela de permissões de campos do arquivo JSON
func (c *ConfigLoader) LoadFieldPermissions() (map[string]domain.FieldPermissionRule, error) {
	file := c.getFieldPermissionsFile()

	if _, err := os.Stat(file); os.IsNotExist(err) {
		c.warnings = append(c.warnings, fmt.Sprintf("field permissions file %s not found, response filter allows every field", file))
		return make(map[string]domain.FieldPermissionRule), nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read field permissions file: %w", err)
	}

	var permissionsFile FieldPermissionsFile
	if err := json.Unmarshal(data, &permissionsFile); err != nil {
		return nil, fmt.Errorf("failed to parse field permissions file: %w", err)
	}

	rules := make(map[string]domain.FieldPermissionRule, len(permissionsFile.Fields))
	for field, roles := range permissionsFile.Fields {
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, fmt.Errorf("field permissions file contains an empty field name")
		}
		rules[field] = domain.FieldPermissionRule{
			Field:        field,
			AllowedRoles: trimAll(roles),
		}
	}

	c.permissions = rules
	return rules, nil
}

// GetConfig retorna a configuração atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// Warnings retorna os avisos não fatais gerados no último carregamento
func (c *ConfigLoader) Warnings() []string {
	return c.warnings
}

// loadFromEnv carrega configurações das variáveis de ambiente
func (c *ConfigLoader) loadFromEnv() (*Config, error) {
	config := &Config{
		ServerPort:  getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:     getEnvWithDefault("GIN_MODE", "debug"),
		Environment: getEnvWithDefault("APP_ENV", "production"),

		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		StorageType:   strings.ToLower(getEnvWithDefault("STORAGE_TYPE", "memory")),
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),

		TokenEndpointPath:         getEnvWithDefault("TOKEN_ENDPOINT_PATH", "/connect/token"),
		IntrospectionEndpointPath: getEnvWithDefault("INTROSPECTION_ENDPOINT_PATH", "/connect/introspect"),

		SecurityLogSink:              strings.ToLower(getEnvWithDefault("SECURITY_LOG_SINK", "console")),
		SecurityLogsConnectionString: getEnvWithDefault("SECURITY_LOGS_CONNECTION_STRING", ""),
		SecurityLogS3Bucket:          getEnvWithDefault("SECURITY_LOG_S3_BUCKET", ""),
		SecurityLogS3Prefix:          getEnvWithDefault("SECURITY_LOG_S3_PREFIX", "security-events"),
		AWSRegion:                    getEnvWithDefault("AWS_REGION", "us-east-1"),

		TrustedProxies: splitList(getEnvWithDefault("TRUSTED_PROXIES", "127.0.0.1,::1")),

		FieldPermissionsFile:      getEnvWithDefault("FIELD_PERMISSIONS_FILE", "internal/config/field_permissions.json"),
		FieldFilterDefaultRoles:   splitList(getEnvWithDefault("FIELD_FILTER_DEFAULT_ROLES", "admin")),
		FieldFilterTrustedClients: splitList(getEnvWithDefault("FIELD_FILTER_TRUSTED_CLIENTS", "")),

		JWTSigningKey: getEnvWithDefault("JWT_SIGNING_KEY", ""),
	}

	p := &envParser{}

	config.RedisDB = p.intValue("REDIS_DB", "0")

	config.GlobalLimit = p.intValue("RATE_LIMIT_GLOBAL_LIMIT", "100")
	config.GlobalWindow = p.intValue("RATE_LIMIT_GLOBAL_WINDOW", "60")
	config.TokenLimit = p.intValue("RATE_LIMIT_TOKEN_LIMIT", "10")
	config.TokenWindow = p.intValue("RATE_LIMIT_TOKEN_WINDOW", "60")
	config.IntrospectionLimit = p.intValue("RATE_LIMIT_INTROSPECTION_LIMIT", "30")
	config.IntrospectionWindow = p.intValue("RATE_LIMIT_INTROSPECTION_WINDOW", "60")
	config.RateLimitRetentionHours = p.intValue("RATE_LIMIT_RETENTION_HOURS", "1")

	config.SuspiciousThreshold = p.intValue("SUSPICIOUS_THRESHOLD", "10")
	config.SuspiciousWindow = p.intValue("SUSPICIOUS_WINDOW", "300")
	config.HighFrequencyThreshold = p.intValue("HIGH_FREQUENCY_THRESHOLD", "100")
	config.HighFrequencyWindow = p.intValue("HIGH_FREQUENCY_WINDOW", "3600")
	config.CounterRetentionHours = p.intValue("COUNTER_RETENTION_HOURS", "1")
	config.CounterEvictionInterval = p.intValue("COUNTER_EVICTION_INTERVAL", "60")

	config.SecurityLogQueueSize = p.intValue("SECURITY_LOG_QUEUE_SIZE", "1000")
	config.SecurityLogBatchSize = p.intValue("SECURITY_LOG_BATCH_SIZE", "50")
	config.SecurityLogFlushInterval = p.intValue("SECURITY_LOG_FLUSH_INTERVAL", "5")
	config.SecurityLogFlushRetries = p.intValue("SECURITY_LOG_FLUSH_RETRIES", "3")
	config.SecurityLogRetentionDays = p.intValue("SECURITY_LOG_RETENTION_DAYS", "30")
	config.SecurityLogCleanupIntervalHours = p.intValue("SECURITY_LOG_CLEANUP_INTERVAL_HOURS", "24")
	config.SecurityLogSweepTimeout = p.intValue("SECURITY_LOG_SWEEP_TIMEOUT", "60")
	config.SecurityLogMonitorEvents = p.boolValue("SECURITY_LOG_MONITOR_EVENTS", "true")

	config.ForwardLimit = p.intValue("FORWARD_LIMIT", "1")
	config.RequireHeaderSymmetry = p.boolValue("REQUIRE_HEADER_SYMMETRY", "false")

	config.FieldFilterStrict = p.boolValue("FIELD_FILTER_STRICT", "false")
	config.FieldFilterAudit = p.boolValue("FIELD_FILTER_AUDIT", "false")

	// CIDRs malformados não abortam o startup: viram avisos
	config.TrustedNetworks, c.warnings = parseTrustedNetworks(getEnvWithDefault("TRUSTED_NETWORKS", ""), c.warnings)

	if config.JWTSigningKey == "" {
		c.warnings = append(c.warnings, "JWT_SIGNING_KEY is empty: bearer tokens are ignored and /admin rejects every request")
	}

	violations := append(p.violations, c.validateConfig(config)...)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	return config, nil
}

// validateConfig retorna todas as violações encontradas, não apenas a primeira
func (c *ConfigLoader) validateConfig(config *Config) []string {
	var violations []string

	positive := []struct {
		name  string
		value int
	}{
		{"RATE_LIMIT_GLOBAL_LIMIT", config.GlobalLimit},
		{"RATE_LIMIT_GLOBAL_WINDOW", config.GlobalWindow},
		{"RATE_LIMIT_TOKEN_LIMIT", config.TokenLimit},
		{"RATE_LIMIT_TOKEN_WINDOW", config.TokenWindow},
		{"RATE_LIMIT_INTROSPECTION_LIMIT", config.IntrospectionLimit},
		{"RATE_LIMIT_INTROSPECTION_WINDOW", config.IntrospectionWindow},
		{"RATE_LIMIT_RETENTION_HOURS", config.RateLimitRetentionHours},
		{"SUSPICIOUS_THRESHOLD", config.SuspiciousThreshold},
		{"SUSPICIOUS_WINDOW", config.SuspiciousWindow},
		{"HIGH_FREQUENCY_THRESHOLD", config.HighFrequencyThreshold},
		{"HIGH_FREQUENCY_WINDOW", config.HighFrequencyWindow},
		{"COUNTER_RETENTION_HOURS", config.CounterRetentionHours},
		{"COUNTER_EVICTION_INTERVAL", config.CounterEvictionInterval},
		{"SECURITY_LOG_QUEUE_SIZE", config.SecurityLogQueueSize},
		{"SECURITY_LOG_BATCH_SIZE", config.SecurityLogBatchSize},
		{"SECURITY_LOG_FLUSH_INTERVAL", config.SecurityLogFlushInterval},
		{"SECURITY_LOG_FLUSH_RETRIES", config.SecurityLogFlushRetries},
		{"SECURITY_LOG_RETENTION_DAYS", config.SecurityLogRetentionDays},
		{"SECURITY_LOG_CLEANUP_INTERVAL_HOURS", config.SecurityLogCleanupIntervalHours},
		{"SECURITY_LOG_SWEEP_TIMEOUT", config.SecurityLogSweepTimeout},
		{"FORWARD_LIMIT", config.ForwardLimit},
	}
	for _, p := range positive {
		if p.value <= 0 {
			violations = append(violations, fmt.Sprintf("%s must be greater than 0 (got %d)", p.name, p.value))
		}
	}

	if config.SecurityLogBatchSize > config.SecurityLogQueueSize && config.SecurityLogQueueSize > 0 {
		violations = append(violations, "SECURITY_LOG_BATCH_SIZE must not exceed SECURITY_LOG_QUEUE_SIZE")
	}

	if config.HighFrequencyWindow > 0 && config.SuspiciousWindow > config.HighFrequencyWindow {
		violations = append(violations, "SUSPICIOUS_WINDOW must not exceed HIGH_FREQUENCY_WINDOW")
	}

	// STORAGE_TYPE e REDIS_* são validados pelo próprio storage
	storageConfig := storage.BuildStorageConfigFromEnv(config.StorageType, config.RedisHost, config.RedisPort, config.RedisPassword, config.RedisDB)
	violations = append(violations, storageConfig.Validate()...)

	// Uma janela mais longa que a retenção seria removida ainda aberta
	seconds := func(v int) time.Duration { return time.Duration(v) * time.Second }
	hours := func(v int) time.Duration { return time.Duration(v) * time.Hour }

	if config.RateLimitRetentionHours > 0 {
		longest := max(config.GlobalWindow, config.TokenWindow, config.IntrospectionWindow)
		if seconds(longest) > hours(config.RateLimitRetentionHours) {
			violations = append(violations, fmt.Sprintf(
				"RATE_LIMIT_RETENTION_HOURS (%s) must not be shorter than the longest rate limit window (%s)",
				hours(config.RateLimitRetentionHours), seconds(longest)))
		}
	}

	if config.CounterRetentionHours > 0 {
		longest := max(config.SuspiciousWindow, config.HighFrequencyWindow)
		if seconds(longest) > hours(config.CounterRetentionHours) {
			violations = append(violations, fmt.Sprintf(
				"COUNTER_RETENTION_HOURS (%s) must not be shorter than the longest classifier window (%s)",
				hours(config.CounterRetentionHours), seconds(longest)))
		}
	}

	switch config.SecurityLogSink {
	case "console", "memory":
	case "postgres":
		if config.SecurityLogsConnectionString == "" {
			violations = append(violations, "SECURITY_LOGS_CONNECTION_STRING is required when SECURITY_LOG_SINK is 'postgres'")
		}
	case "s3":
		if config.SecurityLogS3Bucket == "" {
			violations = append(violations, "SECURITY_LOG_S3_BUCKET is required when SECURITY_LOG_SINK is 's3'")
		}
	default:
		violations = append(violations, fmt.Sprintf("SECURITY_LOG_SINK must be one of console, memory, postgres, s3 (got %q)", config.SecurityLogSink))
	}

	if !strings.HasPrefix(config.TokenEndpointPath, "/") {
		violations = append(violations, "TOKEN_ENDPOINT_PATH must start with '/'")
	}
	if !strings.HasPrefix(config.IntrospectionEndpointPath, "/") {
		violations = append(violations, "INTROSPECTION_ENDPOINT_PATH must start with '/'")
	}

	for _, proxy := range config.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			violations = append(violations, fmt.Sprintf("TRUSTED_PROXIES contains an invalid address: %q", proxy))
		}
	}

	return violations
}

// buildMonitorConfig converte a configuração plana nas estruturas de domínio
func (c *ConfigLoader) buildMonitorConfig(config *Config, permissions map[string]domain.FieldPermissionRule) *domain.MonitorConfig {
	seconds := func(v int) time.Duration { return time.Duration(v) * time.Second }

	return &domain.MonitorConfig{
		RateLimit: domain.RateLimitConfig{
			Global:                    domain.RateLimitPolicy{Name: domain.GlobalPolicy, Limit: config.GlobalLimit, Window: seconds(config.GlobalWindow)},
			Token:                     domain.RateLimitPolicy{Name: domain.TokenPolicy, Limit: config.TokenLimit, Window: seconds(config.TokenWindow)},
			Introspection:             domain.RateLimitPolicy{Name: domain.IntrospectionPolicy, Limit: config.IntrospectionLimit, Window: seconds(config.IntrospectionWindow)},
			TokenEndpointPath:         config.TokenEndpointPath,
			IntrospectionEndpointPath: config.IntrospectionEndpointPath,
			IdleRetention:             time.Duration(config.RateLimitRetentionHours) * time.Hour,
		},
		Classifier: domain.ClassifierConfig{
			SuspiciousThreshold:    int64(config.SuspiciousThreshold),
			SuspiciousWindow:       seconds(config.SuspiciousWindow),
			HighFrequencyThreshold: int64(config.HighFrequencyThreshold),
			HighFrequencyWindow:    seconds(config.HighFrequencyWindow),
			IdleRetention:          time.Duration(config.CounterRetentionHours) * time.Hour,
			EvictionInterval:       seconds(config.CounterEvictionInterval),
		},
		Identity: domain.IdentityConfig{
			TrustedProxies:        config.TrustedProxies,
			TrustedNetworks:       config.TrustedNetworks,
			ForwardLimit:          config.ForwardLimit,
			RequireHeaderSymmetry: config.RequireHeaderSymmetry,
		},
		EventLog: domain.EventLogConfig{
			Sink:            config.SecurityLogSink,
			QueueSize:       config.SecurityLogQueueSize,
			BatchSize:       config.SecurityLogBatchSize,
			FlushInterval:   seconds(config.SecurityLogFlushInterval),
			FlushRetries:    config.SecurityLogFlushRetries,
			RetentionDays:   config.SecurityLogRetentionDays,
			CleanupInterval: time.Duration(config.SecurityLogCleanupIntervalHours) * time.Hour,
			SweepTimeout:    seconds(config.SecurityLogSweepTimeout),
			MonitorEvents:   config.SecurityLogMonitorEvents,
		},
		FieldFilter: domain.FieldFilterConfig{
			Rules:               permissions,
			DefaultAllowedRoles: config.FieldFilterDefaultRoles,
			StrictMode:          config.FieldFilterStrict,
			TrustedClients:      config.FieldFilterTrustedClients,
			AuditRemovedFields:  config.FieldFilterAudit,
		},
	}
}

// getFieldPermissionsFile retorna o caminho do arquivo de permissões de campos
func (c *ConfigLoader) getFieldPermissionsFile() string {
	if c.config != nil && c.config.FieldPermissionsFile != "" {
		return c.config.FieldPermissionsFile
	}
	return getEnvWithDefault("FIELD_PERMISSIONS_FILE", "internal/config/field_permissions.json")
}

// envParser acumula erros de parsing para reportá-los todos de uma vez
type envParser struct {
	violations []string
}

func (p *envParser) intValue(key, defaultValue string) int {
	raw := getEnvWithDefault(key, defaultValue)
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.violations = append(p.violations, fmt.Sprintf("invalid %s value %q: must be an integer", key, raw))
		return 0
	}
	return value
}

func (p *envParser) boolValue(key, defaultValue string) bool {
	raw := getEnvWithDefault(key, defaultValue)
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.violations = append(p.violations, fmt.Sprintf("invalid %s value %q: must be a boolean", key, raw))
		return false
	}
	return value
}

// parseTrustedNetworks valida cada CIDR; entradas inválidas viram avisos e são ignoradas
func parseTrustedNetworks(raw string, warnings []string) ([]string, []string) {
	var networks []string
	for _, entry := range splitList(raw) {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			warnings = append(warnings, fmt.Sprintf("ignoring malformed TRUSTED_NETWORKS entry %q: %v", entry, err))
			continue
		}
		networks = append(networks, entry)
	}
	return networks, warnings
}

// splitList divide uma lista separada por vírgulas descartando itens vazios
func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
