package handler

import (
	"context"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"security-monitor/internal/domain"
	"security-monitor/internal/events"
	"security-monitor/internal/logger"
	"security-monitor/internal/middleware"
)

// EmitterStatsProvider expõe os contadores do emissor de eventos
type EmitterStatsProvider interface {
	Stats() events.EmitterStats
}

// CounterTracker expõe o número de contadores vivos do classificador
type CounterTracker interface {
	TrackedCounters() int
}

// Dependencies reúne os componentes consultados pelos handlers; todos são opcionais
type Dependencies struct {
	RateLimiter domain.RateLimiterService
	Storage     domain.CounterStorage
	Emitter     EmitterStatsProvider
	Classifier  CounterTracker
	Logger      domain.Logger

	// AdminAuth protege as rotas /admin (claims + papel admin)
	AdminAuth []gin.HandlerFunc
}

// Handlers contém os handlers da API
type Handlers struct {
	service    domain.RateLimiterService
	storage    domain.CounterStorage
	emitter    EmitterStatsProvider
	classifier CounterTracker
	logger     domain.Logger
	adminAuth  []gin.HandlerFunc
	startTime  time.Time
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(deps Dependencies) *Handlers {
	if deps.Logger == nil {
		deps.Logger = logger.NewLoggerWithOutput("error", "json", io.Discard)
	}

	return &Handlers{
		service:    deps.RateLimiter,
		storage:    deps.Storage,
		emitter:    deps.Emitter,
		classifier: deps.Classifier,
		logger:     deps.Logger,
		adminAuth:  deps.AdminAuth,
		startTime:  time.Now(),
	}
}

// SetupRoutes configura as rotas da API. pipeline é aplicado às rotas monitoradas.
func (h *Handlers) SetupRoutes(router *gin.Engine, pipeline ...gin.HandlerFunc) {
	// Rotas operacionais (sem monitoramento)
	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", h.MetricsHandler)

	admin := router.Group("/admin", h.adminAuth...)
	{
		admin.GET("/status", h.AdminStatusHandler)
		admin.POST("/reset", h.AdminResetHandler)
	}

	// Rotas monitoradas: identidade, classificação, rate limiting e filtro de campos
	monitored := router.Group("/", pipeline...)
	{
		monitored.GET("/", h.ExampleHandler)
		monitored.POST("/connect/token", h.TokenHandler)
		monitored.POST("/connect/introspect", h.IntrospectHandler)
		monitored.GET("/api/clients", h.ClientsHandler)
	}
}

// HealthHandler implementa health check com verificação do storage
func (h *Handlers) HealthHandler(c *gin.Context) {
	response := gin.H{
		"status":    "healthy",
		"service":   "Security Monitor API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.storage.Health(ctx); err != nil {
			h.log(c).Warn("Health check failed", map[string]interface{}{
				"error": err.Error(),
			})
			response["status"] = "unhealthy"
			response["storage"] = "unavailable"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response["storage"] = "available"
	}

	c.JSON(http.StatusOK, response)
}

// ExampleHandler implementa um endpoint de exemplo monitorado
func (h *Handlers) ExampleHandler(c *gin.Context) {
	key, _ := middleware.GetPartitionKey(c)

	c.JSON(http.StatusOK, gin.H{
		"message":        "Hello from Security Monitor API!",
		"service":        "Security Monitor API",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"partition_key":  key.String(),
		"correlation_id": middleware.GetCorrelationID(c),
		"path":           c.Request.URL.Path,
		"method":         c.Request.Method,
	})
}

// MetricsHandler implementa endpoint de métricas do sistema
func (h *Handlers) MetricsHandler(c *gin.Context) {
	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := gin.H{
		"service":        "Security Monitor API",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"system": gin.H{
			"go_version":   runtime.Version(),
			"goroutines":   runtime.NumGoroutine(),
			"memory_alloc": formatBytes(m.Alloc),
			"memory_total": formatBytes(m.TotalAlloc),
			"memory_sys":   formatBytes(m.Sys),
			"gc_runs":      m.NumGC,
		},
	}

	if h.emitter != nil {
		response["security_events"] = h.emitter.Stats()
	}
	if h.classifier != nil {
		response["classifier"] = gin.H{"tracked_counters": h.classifier.TrackedCounters()}
	}
	if h.storage != nil {
		response["rate_limiter"] = gin.H{"tracked_counters": h.storage.Size()}
	}

	c.JSON(http.StatusOK, response)
}

// AdminStatusHandler implementa endpoint de status administrativo
func (h *Handlers) AdminStatusHandler(c *gin.Context) {
	ctx := c.Request.Context()

	key := strings.TrimSpace(c.Query("key"))
	policyParam := strings.TrimSpace(c.Query("policy"))

	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "key parameter is required",
		})
		return
	}

	if policyParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "policy parameter is required",
		})
		return
	}

	policy, ok := parsePolicy(policyParam)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "policy must be 'global', 'token' or 'introspection'",
		})
		return
	}

	status, err := h.service.GetStatus(ctx, policy, domain.PartitionKey(key))
	if err != nil {
		h.log(c).Error("Failed to get rate limiter status", err, map[string]interface{}{
			"key":    key,
			"policy": policy,
		})

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to retrieve rate limiter status",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":          status.Key,
		"policy":       status.Policy,
		"limit":        status.Limit,
		"current":      status.Count,
		"remaining":    status.Remaining,
		"window_start": status.WindowStart.Unix(),
		"reset_time":   status.ResetTime.Unix(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// AdminResetRequest representa o corpo da requisição para reset
type AdminResetRequest struct {
	Key    string `json:"key" binding:"required"`
	Policy string `json:"policy" binding:"required"`
}

// AdminResetHandler implementa endpoint de reset administrativo
func (h *Handlers) AdminResetHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req AdminResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	req.Key = strings.TrimSpace(req.Key)
	policy, ok := parsePolicy(req.Policy)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "policy must be 'global', 'token' or 'introspection'",
		})
		return
	}

	h.log(c).Info("Admin reset endpoint accessed", map[string]interface{}{
		"key":    req.Key,
		"policy": policy,
	})

	if err := h.service.Reset(ctx, policy, domain.PartitionKey(req.Key)); err != nil {
		h.log(c).Error("Failed to reset rate limiter", err, map[string]interface{}{
			"key":    req.Key,
			"policy": policy,
		})

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to reset rate limiter",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Rate limiter reset successfully",
		"key":       req.Key,
		"policy":    policy,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// TokenHandler simula o endpoint de token do servidor OAuth (client_credentials)
func (h *Handlers) TokenHandler(c *gin.Context) {
	grantType := c.PostForm("grant_type")
	clientID := strings.TrimSpace(c.PostForm("client_id"))

	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "client_id is required",
		})
		return
	}

	if grantType != "client_credentials" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported_grant_type",
			"error_description": "Only client_credentials is supported",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": uuid.NewString(),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// IntrospectHandler simula o endpoint de introspecção do servidor OAuth
func (h *Handlers) IntrospectHandler(c *gin.Context) {
	token := strings.TrimSpace(c.PostForm("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "token is required",
		})
		return
	}

	if _, err := uuid.Parse(token); err != nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active":     true,
		"client_id":  c.PostForm("client_id"),
		"token_type": "Bearer",
	})
}

// ClientsHandler lista os clientes registrados; campos sensíveis são filtrados pelo middleware
func (h *Handlers) ClientsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, registeredClients)
}

var registeredClients = []gin.H{
	{
		"client_id":       "svc-A",
		"client_name":     "Service A",
		"client_secret":   "svc-a-secret",
		"redirect_uris":   []string{"https://svc-a.example.com/callback"},
		"allowed_scopes":  []string{"clients.read"},
		"created_by":      "ops@example.com",
		"last_rotated_at": "2024-05-01T00:00:00Z",
	},
	{
		"client_id":       "svc-B",
		"client_name":     "Service B",
		"client_secret":   "svc-b-secret",
		"redirect_uris":   []string{"https://svc-b.example.com/callback"},
		"allowed_scopes":  []string{"clients.read", "clients.write"},
		"created_by":      "ops@example.com",
		"last_rotated_at": "2024-04-12T00:00:00Z",
	},
}

func (h *Handlers) log(c *gin.Context) domain.Logger {
	return h.logger.WithContext(c.Request.Context())
}

// parsePolicy converte o parâmetro para uma política conhecida
func parsePolicy(value string) (domain.PolicyName, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, policy := range domain.Policies {
		if string(policy) == value {
			return policy, true
		}
	}
	return "", false
}

// formatBytes formata bytes em formato legível
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatUint(bytes, 10) + " B"
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return strconv.FormatFloat(float64(bytes)/float64(div), 'f', 1, 64) + " " + "KMGTPE"[exp:exp+1] + "B"
}
