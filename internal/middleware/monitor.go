package middleware

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"security-monitor/internal/domain"
	"security-monitor/internal/identity"
	"security-monitor/internal/logger"
)

const (
	// RequestIDHeader transporta o correlation id de entrada e de saída
	RequestIDHeader = "X-Request-ID"

	// chaves no gin.Context
	CorrelationIDKey = "correlation_id"
	PartitionKeyKey  = "partition_key"

	sanitizedExceptionMessage = "Unhandled exception while processing request"
	maxExceptionMessage       = 256

	defaultClassifyTimeout = time.Second
)

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// MonitorOptions configura o middleware de monitoramento
type MonitorOptions struct {
	IntrospectionPath string
	MonitorEvents     bool // emite request-monitored na entrada
	Production        bool // mensagens de exceção genéricas e sem stack

	// ClassifyTimeout limita a I/O de contadores no caminho da requisição (padrão 1s)
	ClassifyTimeout time.Duration
}

// MonitorMiddleware resolve a identidade do chamador, alimenta o classificador
// e emite os eventos de ciclo de vida da requisição
type MonitorMiddleware struct {
	resolver   *identity.Resolver
	classifier domain.FrequencyClassifier
	emitter    domain.EventEmitter
	logger     domain.Logger
	options    MonitorOptions
	now        func() time.Time
}

// NewMonitorMiddleware cria o middleware de monitoramento
func NewMonitorMiddleware(
	resolver *identity.Resolver,
	classifier domain.FrequencyClassifier,
	emitter domain.EventEmitter,
	options MonitorOptions,
	logger domain.Logger,
) gin.HandlerFunc {
	m := &MonitorMiddleware{
		resolver:   resolver,
		classifier: classifier,
		emitter:    emitter,
		logger:     logger,
		options:    options,
		now:        time.Now,
	}

	return m.Handle
}

// Handle é o handler principal do middleware
func (m *MonitorMiddleware) Handle(c *gin.Context) {
	start := m.now()

	correlationID := m.getRequestID(c)
	c.Header(RequestIDHeader, correlationID)

	info := identity.RequestInfoFromHTTP(c.Request)
	key := m.resolver.Resolve(info)

	ip := ""
	if addr, ok := m.resolver.ResolveAddr(info); ok {
		ip = addr.String()
	}

	c.Set(CorrelationIDKey, correlationID)
	c.Set(PartitionKeyKey, key)

	ctx := logger.ContextWithRequestInfo(c.Request.Context(), correlationID, ip, key, info.UserAgent)
	c.Request = c.Request.WithContext(ctx)
	log := m.logger.WithContext(ctx)

	// eventos da mesma requisição compartilham o correlation id
	request := domain.SecurityEvent{
		CorrelationID: correlationID,
		PartitionKey:  key,
		IPAddress:     ip,
		UserAgent:     info.UserAgent,
		Method:        info.Method,
		Path:          info.Path,
	}

	if m.options.MonitorEvents {
		m.emit(request, domain.EventRequestMonitored, "Request received", nil, 0)
	}
	if m.options.IntrospectionPath != "" && info.Path == m.options.IntrospectionPath {
		m.emit(request, domain.EventIntrospectionRequest, "Token introspection requested", nil, 0)
	}

	m.classify(ctx, key, request, log)

	defer func() {
		if recovered := recover(); recovered != nil {
			m.recoverPanic(c, request, recovered, start, log)
			return
		}
		m.complete(c, request, start)
	}()

	c.Next()
}

// classify alimenta o classificador com prazo curto: com Redis a contagem é
// I/O de rede, e uma falha ou timeout só é logada
func (m *MonitorMiddleware) classify(ctx context.Context, key domain.PartitionKey, request domain.SecurityEvent, log domain.Logger) {
	timeout := m.options.ClassifyTimeout
	if timeout <= 0 {
		timeout = defaultClassifyTimeout
	}

	classifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := m.classifier.Observe(classifyCtx, key, request); err != nil {
		log.Error("Frequency classification failed", err, map[string]interface{}{
			"partition_key": key.String(),
		})
	}
}

// complete emite request-completed, ou request-exception quando um handler
// registrou erro com status 5xx
func (m *MonitorMiddleware) complete(c *gin.Context, request domain.SecurityEvent, start time.Time) {
	status := c.Writer.Status()
	duration := m.now().Sub(start)

	if last := c.Errors.Last(); last != nil && status >= http.StatusInternalServerError {
		m.emit(request, domain.EventRequestException, m.sanitize(last.Err), &status, duration)
		return
	}

	m.emit(request, domain.EventRequestCompleted, fmt.Sprintf("Request completed with status %d", status), &status, duration)
}

func (m *MonitorMiddleware) recoverPanic(c *gin.Context, request domain.SecurityEvent, recovered interface{}, start time.Time, log domain.Logger) {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("%v", recovered)
	}

	fields := map[string]interface{}{
		"method": request.Method,
		"path":   request.Path,
	}
	if !m.options.Production {
		fields["stack"] = string(debug.Stack())
	}
	log.Error("Recovered from panic in request handler", err, fields)

	// corpo genérico independente do tipo da falha
	if !c.Writer.Written() {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "An unexpected error occurred.",
		})
	} else {
		c.Abort()
	}

	status := http.StatusInternalServerError
	m.emit(request, domain.EventRequestException, m.sanitize(err), &status, m.now().Sub(start))
}

// sanitize limita a mensagem registrada no evento; em produção nada da falha é exposto
func (m *MonitorMiddleware) sanitize(err error) string {
	if m.options.Production || err == nil {
		return sanitizedExceptionMessage
	}

	message := err.Error()
	if len(message) > maxExceptionMessage {
		message = message[:maxExceptionMessage]
	}
	return sanitizedExceptionMessage + ": " + message
}

func (m *MonitorMiddleware) emit(request domain.SecurityEvent, eventType domain.EventType, message string, status *int, duration time.Duration) {
	event := request
	event.ID = uuid.NewString()
	event.Type = eventType
	event.Timestamp = m.now().UTC()
	event.Message = message
	event.StatusCode = status
	event.Duration = duration

	m.emitter.Emit(event)
}

// getRequestID reaproveita um X-Request-ID bem formado ou gera um novo
func (m *MonitorMiddleware) getRequestID(c *gin.Context) string {
	if requestID := c.GetHeader(RequestIDHeader); requestIDPattern.MatchString(requestID) {
		return requestID
	}
	return uuid.New().String()
}

// GetCorrelationID retorna o correlation id definido pelo monitor
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(CorrelationIDKey)
}

// GetPartitionKey retorna a PartitionKey resolvida pelo monitor
func GetPartitionKey(c *gin.Context) (domain.PartitionKey, bool) {
	value, ok := c.Get(PartitionKeyKey)
	if !ok {
		return "", false
	}
	key, ok := value.(domain.PartitionKey)
	return key, ok
}
