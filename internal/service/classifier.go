package service

import (
	"context"
	"fmt"
	"time"

	"security-monitor/internal/domain"
	"security-monitor/internal/telemetry"

	"github.com/google/uuid"
)

const (
	shortWindowPrefix = "frequency:short:"
	longWindowPrefix  = "frequency:long:"
)

// FrequencyClassifier conta requisições por PartitionKey em duas janelas fixas
// e emite eventos de classificação. Apenas observa: nunca bloqueia tráfego.
type FrequencyClassifier struct {
	storage domain.CounterStorage
	config  domain.ClassifierConfig
	emitter domain.EventEmitter
	logger  domain.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewFrequencyClassifier cria o classificador sobre um storage dedicado
func NewFrequencyClassifier(
	storage domain.CounterStorage,
	config domain.ClassifierConfig,
	emitter domain.EventEmitter,
	logger domain.Logger,
	metrics *telemetry.Metrics,
) *FrequencyClassifier {
	return &FrequencyClassifier{
		storage: storage,
		config:  config,
		emitter: emitter,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Observe registra uma observação para a chave e retorna as contagens das duas janelas.
// request carrega o contexto da requisição (correlation id, ip, path) copiado para os eventos.
func (c *FrequencyClassifier) Observe(ctx context.Context, key domain.PartitionKey, request domain.SecurityEvent) (*domain.Observation, error) {
	short, err := c.storage.Increment(ctx, shortWindowPrefix+key.String(), c.config.SuspiciousWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to record short window observation: %w", err)
	}

	long, err := c.storage.Increment(ctx, longWindowPrefix+key.String(), c.config.HighFrequencyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to record long window observation: %w", err)
	}

	observation := &domain.Observation{
		Key:           key,
		ShortCount:    short.Count,
		LongCount:     long.Count,
		Suspicious:    short.Count > c.config.SuspiciousThreshold,
		HighFrequency: long.Count > c.config.HighFrequencyThreshold,
	}

	// Limiares independentes: os dois eventos podem disparar na mesma requisição
	if observation.Suspicious {
		c.raise(ctx, request, key, domain.EventSuspiciousFrequency, fmt.Sprintf(
			"Suspicious request frequency: %d requests in %s (threshold %d)",
			short.Count, c.config.SuspiciousWindow, c.config.SuspiciousThreshold))
	}

	if observation.HighFrequency {
		c.raise(ctx, request, key, domain.EventHighFrequency, fmt.Sprintf(
			"High request frequency: %d requests in %s (threshold %d)",
			long.Count, c.config.HighFrequencyWindow, c.config.HighFrequencyThreshold))
	}

	return observation, nil
}

// RunEviction remove contadores ociosos em intervalo fixo até o contexto ser cancelado
func (c *FrequencyClassifier) RunEviction(ctx context.Context) {
	runEviction(ctx, evictionLoop{
		name:      "classifier",
		storage:   c.storage,
		interval:  c.config.EvictionInterval,
		retention: c.config.IdleRetention,
		logger:    c.logger,
		metrics:   c.metrics,
	})
}

// TrackedCounters retorna o número de contadores vivos (-1 se desconhecido)
func (c *FrequencyClassifier) TrackedCounters() int {
	return c.storage.Size()
}

func (c *FrequencyClassifier) raise(ctx context.Context, request domain.SecurityEvent, key domain.PartitionKey, eventType domain.EventType, message string) {
	event := request
	event.ID = uuid.NewString()
	event.Type = eventType
	event.Timestamp = c.now().UTC()
	event.PartitionKey = key
	event.StatusCode = nil
	event.Duration = 0
	event.Message = message

	c.metrics.RecordClassification(ctx, string(eventType))
	c.logger.Debug("Caller classified", map[string]interface{}{
		"partition_key": key,
		"event_type":    eventType,
	})

	if c.emitter != nil {
		c.emitter.Emit(event)
	}
}
