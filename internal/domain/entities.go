package domain

import "time"

// PartitionKey identifica o bucket de rate limiting e de frequência de um chamador
// ("client:<id>" ou "ip:<endereço>")
type PartitionKey string

const (
	// UnknownPartitionKey é usada quando nenhum sinal de identidade foi resolvido
	UnknownPartitionKey PartitionKey = "ip:unknown"

	ClientKeyPrefix = "client:"
	IPKeyPrefix     = "ip:"
)

// String retorna a chave como string
func (k PartitionKey) String() string {
	return string(k)
}

// PolicyName define as políticas de rate limiting disponíveis
type PolicyName string

const (
	GlobalPolicy        PolicyName = "global"
	TokenPolicy         PolicyName = "token"
	IntrospectionPolicy PolicyName = "introspection"
)

// Policies lista as políticas na ordem em que são avaliadas
var Policies = []PolicyName{GlobalPolicy, TokenPolicy, IntrospectionPolicy}

// RequestInfo reúne os sinais de entrada de uma requisição usados na resolução de identidade
type RequestInfo struct {
	Method         string
	Path           string
	ClientID       string // client_id do corpo (form) ou query string
	PeerAddr       string // endereço do peer imediato (RemoteAddr)
	ForwardedFor   string // valor do header X-Forwarded-For
	ForwardedProto string // valor do header X-Forwarded-Proto
	UserAgent      string
}

// WindowCounter representa o contador de uma janela fixa para uma chave
type WindowCounter struct {
	Key         string        `json:"key"`
	Count       int64         `json:"count"`
	WindowStart time.Time     `json:"windowStart"`
	Window      time.Duration `json:"window"`
	LastSeen    time.Time     `json:"lastSeen"`
}

// WindowEnd retorna o fim (exclusivo) da janela corrente
func (w *WindowCounter) WindowEnd() time.Time {
	return w.WindowStart.Add(w.Window)
}

// RateLimitPolicy define o teto e a janela de uma política
type RateLimitPolicy struct {
	Name   PolicyName    `json:"name"`
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// RateLimitStatus representa o estado atual de um bucket (política x chave)
type RateLimitStatus struct {
	Policy      PolicyName   `json:"policy"`
	Key         PartitionKey `json:"key"`
	Count       int64        `json:"count"`
	Limit       int          `json:"limit"`
	Remaining   int          `json:"remaining"`
	WindowStart time.Time    `json:"windowStart"`
	ResetTime   time.Time    `json:"resetTime"`
}

// RateLimitResult representa o resultado de uma tentativa de aquisição de permissão
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Policy     PolicyName    `json:"policy"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"resetTime"`
	RetryAfter time.Duration `json:"retryAfter"`
}

// EventType enumera os tipos de evento de segurança
type EventType string

const (
	EventRequestMonitored     EventType = "request-monitored"
	EventSuspiciousFrequency  EventType = "suspicious-frequency"
	EventHighFrequency        EventType = "high-frequency"
	EventIntrospectionRequest EventType = "introspection-request"
	EventRequestCompleted     EventType = "request-completed"
	EventRequestException     EventType = "request-exception"
)

// SecurityEvent é um registro imutável de auditoria
type SecurityEvent struct {
	ID            string        `json:"id"`
	Type          EventType     `json:"type"`
	Timestamp     time.Time     `json:"timestamp"`
	CorrelationID string        `json:"correlationId"`
	PartitionKey  PartitionKey  `json:"partitionKey"`
	IPAddress     string        `json:"ipAddress"`
	UserAgent     string        `json:"userAgent"`
	Method        string        `json:"method"`
	Path          string        `json:"path"`
	StatusCode    *int          `json:"statusCode,omitempty"`
	Duration      time.Duration `json:"durationNs"`
	Message       string        `json:"message"`
}

// Observation é o resultado de uma observação do classificador de frequência
type Observation struct {
	Key           PartitionKey `json:"key"`
	ShortCount    int64        `json:"shortCount"`
	LongCount     int64        `json:"longCount"`
	Suspicious    bool         `json:"suspicious"`
	HighFrequency bool         `json:"highFrequency"`
}

// FieldPermissionRule mapeia um campo de resposta para os papéis/clientes que podem vê-lo
type FieldPermissionRule struct {
	Field        string   `json:"field"`
	AllowedRoles []string `json:"allowedRoles"`
}

// CallerClaims representa os claims do chamador autenticado
type CallerClaims struct {
	ClientID string   `json:"client_id"`
	Subject  string   `json:"sub"`
	Roles    []string `json:"roles"`
	Scopes   []string `json:"scopes"`
}

// RateLimitConfig representa as políticas do rate limiter
type RateLimitConfig struct {
	Global                    RateLimitPolicy `json:"global"`
	Token                     RateLimitPolicy `json:"token"`
	Introspection             RateLimitPolicy `json:"introspection"`
	TokenEndpointPath         string          `json:"tokenEndpointPath"`
	IntrospectionEndpointPath string          `json:"introspectionEndpointPath"`
	IdleRetention             time.Duration   `json:"idleRetention"`
}

// Policy retorna a política pelo nome
func (c *RateLimitConfig) Policy(name PolicyName) (RateLimitPolicy, bool) {
	switch name {
	case GlobalPolicy:
		return c.Global, true
	case TokenPolicy:
		return c.Token, true
	case IntrospectionPolicy:
		return c.Introspection, true
	default:
		return RateLimitPolicy{}, false
	}
}

// ClassifierConfig representa os limiares do classificador de frequência
type ClassifierConfig struct {
	SuspiciousThreshold    int64         `json:"suspiciousThreshold"`
	SuspiciousWindow       time.Duration `json:"suspiciousWindow"`
	HighFrequencyThreshold int64         `json:"highFrequencyThreshold"`
	HighFrequencyWindow    time.Duration `json:"highFrequencyWindow"`
	IdleRetention          time.Duration `json:"idleRetention"`
	EvictionInterval       time.Duration `json:"evictionInterval"`
}

// IdentityConfig representa a configuração de proxies confiáveis
type IdentityConfig struct {
	TrustedProxies        []string `json:"trustedProxies"`
	TrustedNetworks       []string `json:"trustedNetworks"` // CIDRs já validados
	ForwardLimit          int      `json:"forwardLimit"`
	RequireHeaderSymmetry bool     `json:"requireHeaderSymmetry"`
}

// EventLogConfig representa a configuração do emissor e do sweeper de eventos
type EventLogConfig struct {
	Sink            string        `json:"sink"`
	QueueSize       int           `json:"queueSize"`
	BatchSize       int           `json:"batchSize"`
	FlushInterval   time.Duration `json:"flushInterval"`
	FlushRetries    int           `json:"flushRetries"`
	RetentionDays   int           `json:"retentionDays"`
	CleanupInterval time.Duration `json:"cleanupInterval"`
	SweepTimeout    time.Duration `json:"sweepTimeout"`
	MonitorEvents   bool          `json:"monitorEvents"`
}

// FieldFilterConfig representa a configuração do filtro de campos de resposta
type FieldFilterConfig struct {
	Rules               map[string]FieldPermissionRule `json:"rules"`
	DefaultAllowedRoles []string                       `json:"defaultAllowedRoles"`
	StrictMode          bool                           `json:"strictMode"`
	TrustedClients      []string                       `json:"trustedClients"`
	AuditRemovedFields  bool                           `json:"auditRemovedFields"`
}

// MonitorConfig agrega todas as configurações do motor de monitoramento
type MonitorConfig struct {
	RateLimit   RateLimitConfig   `json:"rateLimit"`
	Classifier  ClassifierConfig  `json:"classifier"`
	Identity    IdentityConfig    `json:"identity"`
	EventLog    EventLogConfig    `json:"eventLog"`
	FieldFilter FieldFilterConfig `json:"fieldFilter"`
}
