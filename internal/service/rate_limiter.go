package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"security-monitor/internal/domain"
	"security-monitor/internal/storage"
	"security-monitor/internal/telemetry"
)

// RateLimiterService implementa a lógica de negócio do rate limiting.
// Janela fixa alinhada ao relógio por política x PartitionKey.
type RateLimiterService struct {
	storage domain.CounterStorage
	config  *domain.RateLimitConfig
	logger  domain.Logger
	metrics *telemetry.Metrics
}

// NewRateLimiterService cria uma nova instância do serviço
func NewRateLimiterService(
	storage domain.CounterStorage,
	config *domain.RateLimitConfig,
	logger domain.Logger,
	metrics *telemetry.Metrics,
) *RateLimiterService {
	return &RateLimiterService{
		storage: storage,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Acquire tenta adquirir uma permissão da política para a chave.
// A (limite+1)-ésima requisição da janela é negada com retry-after até o fim da janela.
func (s *RateLimiterService) Acquire(ctx context.Context, policyName domain.PolicyName, key domain.PartitionKey) (*domain.RateLimitResult, error) {
	policy, ok := s.config.Policy(policyName)
	if !ok {
		return nil, fmt.Errorf("unknown rate limit policy: %s", policyName)
	}

	storageKey := buildStorageKey(policyName, key)

	counter, err := s.storage.Increment(ctx, storageKey, policy.Window)
	if err != nil {
		s.logger.Error("Failed to increment counter", err, map[string]interface{}{
			"storage_key": storageKey,
			"policy":      policyName,
		})
		return nil, fmt.Errorf("failed to increment counter: %w", err)
	}

	// Importante: permitir até o limite inclusivo (ex.: 10ª requisição ainda é permitida)
	allowed := counter.Count <= int64(policy.Limit)

	remaining := policy.Limit - int(counter.Count)
	if remaining < 0 {
		remaining = 0
	}

	result := &domain.RateLimitResult{
		Allowed:   allowed,
		Policy:    policyName,
		Limit:     policy.Limit,
		Remaining: remaining,
		ResetTime: counter.WindowEnd(),
	}

	if !allowed {
		result.RetryAfter = retryAfter(counter, policy.Window)
		s.metrics.RecordRateLimitRejection(ctx, string(policyName))

		s.logger.Info("Rate limit exceeded", map[string]interface{}{
			"storage_key":   storageKey,
			"policy":        policyName,
			"current_count": counter.Count,
			"limit":         policy.Limit,
			"retry_after":   result.RetryAfter.String(),
		})
		return result, nil
	}

	s.logger.Debug("Request allowed", map[string]interface{}{
		"storage_key":   storageKey,
		"policy":        policyName,
		"current_count": counter.Count,
		"limit":         policy.Limit,
		"remaining":     remaining,
	})

	return result, nil
}

// PoliciesFor retorna as políticas aplicáveis a um path: global sempre,
// mais a política do endpoint sensível quando o path coincide
func (s *RateLimiterService) PoliciesFor(path string) []domain.PolicyName {
	policies := []domain.PolicyName{domain.GlobalPolicy}

	switch path {
	case s.config.TokenEndpointPath:
		policies = append(policies, domain.TokenPolicy)
	case s.config.IntrospectionEndpointPath:
		policies = append(policies, domain.IntrospectionPolicy)
	}

	return policies
}

// GetStatus retorna o estado atual do bucket sem consumir permissão
func (s *RateLimiterService) GetStatus(ctx context.Context, policyName domain.PolicyName, key domain.PartitionKey) (*domain.RateLimitStatus, error) {
	policy, ok := s.config.Policy(policyName)
	if !ok {
		return nil, fmt.Errorf("unknown rate limit policy: %s", policyName)
	}

	counter, err := s.storage.Get(ctx, buildStorageKey(policyName, key), policy.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	status := &domain.RateLimitStatus{
		Policy:    policyName,
		Key:       key,
		Limit:     policy.Limit,
		Remaining: policy.Limit,
	}

	if counter == nil {
		status.WindowStart = storage.WindowStart(time.Now(), policy.Window)
		status.ResetTime = status.WindowStart.Add(policy.Window)
		return status, nil
	}

	status.Count = counter.Count
	status.WindowStart = counter.WindowStart
	status.ResetTime = counter.WindowEnd()
	if remaining := policy.Limit - int(counter.Count); remaining > 0 {
		status.Remaining = remaining
	} else {
		status.Remaining = 0
	}

	return status, nil
}

// Reset limpa o bucket da política para a chave
func (s *RateLimiterService) Reset(ctx context.Context, policyName domain.PolicyName, key domain.PartitionKey) error {
	policy, ok := s.config.Policy(policyName)
	if !ok {
		return fmt.Errorf("unknown rate limit policy: %s", policyName)
	}

	storageKey := buildStorageKey(policyName, key)
	if err := s.storage.Reset(ctx, storageKey, policy.Window); err != nil {
		return fmt.Errorf("failed to reset key: %w", err)
	}

	s.logger.Info("Rate limit reset", map[string]interface{}{
		"key":         key,
		"policy":      policyName,
		"storage_key": storageKey,
	})

	return nil
}

// RunEviction remove buckets ociosos em intervalo fixo até o contexto ser cancelado
func (s *RateLimiterService) RunEviction(ctx context.Context, interval time.Duration) {
	runEviction(ctx, evictionLoop{
		name:      "rate_limiter",
		storage:   s.storage,
		interval:  interval,
		retention: s.config.IdleRetention,
		logger:    s.logger,
		metrics:   s.metrics,
	})
}

// retryAfter calcula o tempo até o fim da janela, arredondado para cima em segundos (mínimo 1s, máximo a janela)
func retryAfter(counter *domain.WindowCounter, window time.Duration) time.Duration {
	now := counter.LastSeen
	if now.IsZero() {
		now = time.Now()
	}

	remaining := counter.WindowEnd().Sub(now)
	seconds := math.Ceil(remaining.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	retry := time.Duration(seconds) * time.Second
	if retry > window && window >= time.Second {
		retry = window
	}
	return retry
}

// RetryAfterSeconds converte a duração para o valor inteiro usado no header Retry-After
func RetryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// buildStorageKey constrói a chave de storage no formato padrão
func buildStorageKey(policy domain.PolicyName, key domain.PartitionKey) string {
	return fmt.Sprintf("rate_limit:%s:%s", policy, key)
}
