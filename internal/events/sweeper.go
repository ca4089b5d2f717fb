package events

import (
	"context"
	"time"

	"security-monitor/internal/domain"
	"security-monitor/internal/telemetry"
)

// RetentionSweeper remove periodicamente os eventos além do horizonte de retenção
type RetentionSweeper struct {
	sink      domain.EventSink
	retention time.Duration
	interval  time.Duration
	timeout   time.Duration
	logger    domain.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// NewRetentionSweeper cria o sweeper a partir da configuração do log de eventos
func NewRetentionSweeper(sink domain.EventSink, cfg domain.EventLogConfig, logger domain.Logger, metrics *telemetry.Metrics) *RetentionSweeper {
	return &RetentionSweeper{
		sink:      sink,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  cfg.CleanupInterval,
		timeout:   cfg.SweepTimeout,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run executa um ciclo imediatamente e depois um a cada intervalo, até o contexto ser cancelado
func (s *RetentionSweeper) Run(ctx context.Context) {
	if s.interval <= 0 || s.retention <= 0 {
		s.logger.Warn("Retention sweeper disabled", map[string]interface{}{
			"interval":  s.interval.String(),
			"retention": s.retention.String(),
		})
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// falhas são registradas e o ciclo é refeito no próximo intervalo
		_, _ = s.SweepOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce remove os eventos com timestamp anterior a now - retenção.
// Cada ciclo é limitado pelo timeout configurado.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	sweepCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		sweepCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	cutoff := s.now().Add(-s.retention)

	deleted, err := s.sink.DeleteOlderThan(sweepCtx, cutoff)
	if err != nil {
		s.logger.Error("Retention sweep failed, retrying next interval", err, map[string]interface{}{
			"sink":     s.sink.Name(),
			"cutoff":   cutoff,
			"next_run": s.interval.String(),
		})
		return 0, err
	}

	s.metrics.RecordSweep(ctx, s.sink.Name(), deleted)
	s.logger.Info("Retention sweep completed", map[string]interface{}{
		"sink":        s.sink.Name(),
		"cutoff":      cutoff,
		"deleted":     deleted,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return deleted, nil
}
