package service

import (
	"context"
	"time"

	"security-monitor/internal/domain"
	"security-monitor/internal/telemetry"
)

// evictionLoop descreve a varredura periódica de contadores ociosos de um storage
type evictionLoop struct {
	name      string
	storage   domain.CounterStorage
	interval  time.Duration
	retention time.Duration
	logger    domain.Logger
	metrics   *telemetry.Metrics
}

// runEviction executa a varredura a cada intervalo até o contexto ser cancelado.
// O corte é calculado no início de cada varredura: entradas tocadas depois dele são preservadas.
func runEviction(ctx context.Context, loop evictionLoop) {
	if loop.interval <= 0 || loop.retention <= 0 {
		return
	}

	ticker := time.NewTicker(loop.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evictOnce(ctx, loop, time.Now())
		}
	}
}

func evictOnce(ctx context.Context, loop evictionLoop, now time.Time) int {
	cutoff := now.Add(-loop.retention)

	removed, err := loop.storage.EvictIdle(ctx, cutoff)
	if err != nil {
		loop.logger.Error("Failed to evict idle counters", err, map[string]interface{}{
			"store": loop.name,
		})
		return 0
	}

	loop.metrics.RecordCounterEvictions(ctx, loop.name, removed)
	if removed > 0 {
		loop.logger.Debug("Idle counters evicted", map[string]interface{}{
			"store":     loop.name,
			"removed":   removed,
			"remaining": loop.storage.Size(),
		})
	}
	return removed
}
