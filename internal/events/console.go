package events

import (
	"context"
	"time"

	"security-monitor/internal/domain"
)

// securityEventLogger é implementado pelo logger estruturado
type securityEventLogger interface {
	LogSecurityEvent(event domain.SecurityEvent)
}

// ConsoleSink grava eventos como entradas de log estruturado.
// É o sink degradado: sem persistência, portanto sem retenção.
type ConsoleSink struct {
	logger domain.Logger
}

// NewConsoleSink cria o sink de console
func NewConsoleSink(logger domain.Logger) *ConsoleSink {
	return &ConsoleSink{logger: logger}
}

func (s *ConsoleSink) Name() string {
	return "console"
}

// WriteBatch registra cada evento do lote
func (s *ConsoleSink) WriteBatch(ctx context.Context, events []domain.SecurityEvent) error {
	structured, ok := s.logger.(securityEventLogger)
	for _, event := range events {
		if ok {
			structured.LogSecurityEvent(event)
			continue
		}
		s.logger.Info(event.Message, map[string]interface{}{
			"event_id":       event.ID,
			"event_type":     string(event.Type),
			"correlation_id": event.CorrelationID,
			"partition_key":  event.PartitionKey.String(),
		})
	}
	return nil
}

// DeleteOlderThan é um no-op: linhas de log não são retidas pelo processo
func (s *ConsoleSink) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *ConsoleSink) Close() error {
	return nil
}
