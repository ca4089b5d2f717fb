package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"security-monitor/internal/domain"
	"security-monitor/internal/identity"
	"security-monitor/internal/service"
)

// RateLimiterMiddleware implementa o middleware de rate limiting por política
type RateLimiterMiddleware struct {
	service  domain.RateLimiterService
	resolver *identity.Resolver
	logger   domain.Logger
}

// NewRateLimiterMiddleware cria uma nova instância do middleware.
// resolver é usado quando o monitor não resolveu a PartitionKey antes.
func NewRateLimiterMiddleware(
	service domain.RateLimiterService,
	resolver *identity.Resolver,
	logger domain.Logger,
) gin.HandlerFunc {
	middleware := &RateLimiterMiddleware{
		service:  service,
		resolver: resolver,
		logger:   logger,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *RateLimiterMiddleware) Handle(c *gin.Context) {
	// Criar contexto com timeout para operações no storage
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	logger := m.logger.WithContext(ctx)
	key := m.partitionKey(c)

	for _, policy := range m.service.PoliciesFor(c.Request.URL.Path) {
		result, err := m.service.Acquire(ctx, policy, key)
		if err != nil {
			// Fail open: indisponibilidade do storage não derruba o tráfego
			logger.Error("Rate limiter unavailable, allowing request", err, map[string]interface{}{
				"policy":        policy,
				"partition_key": key.String(),
			})
			continue
		}

		m.setRateLimitHeaders(c, result)

		if !result.Allowed {
			m.reject(c, result)
			return
		}
	}

	c.Next()
}

// reject responde 429 com o retry-after no corpo e no header
func (m *RateLimiterMiddleware) reject(c *gin.Context, result *domain.RateLimitResult) {
	seconds := service.RetryAfterSeconds(result.RetryAfter)

	c.Header("Retry-After", strconv.Itoa(seconds))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":               "too_many_requests",
		"error_description":   fmt.Sprintf("Rate limit exceeded for the %s policy. Retry after %d seconds.", result.Policy, seconds),
		"retry_after_seconds": strconv.Itoa(seconds),
	})
}

func (m *RateLimiterMiddleware) partitionKey(c *gin.Context) domain.PartitionKey {
	if key, ok := GetPartitionKey(c); ok {
		return key
	}
	return m.resolver.Resolve(identity.RequestInfoFromHTTP(c.Request))
}

// setRateLimitHeaders define headers informativos de rate limiting
func (m *RateLimiterMiddleware) setRateLimitHeaders(c *gin.Context, result *domain.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	c.Header("X-RateLimit-Policy", string(result.Policy))
}
