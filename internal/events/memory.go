package events

import (
	"context"
	"sync"
	"time"

	"security-monitor/internal/domain"
)

// MemorySink mantém os eventos em memória (desenvolvimento e testes)
type MemorySink struct {
	mu     sync.RWMutex
	events []domain.SecurityEvent
}

// NewMemorySink cria o sink em memória
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string {
	return "memory"
}

// WriteBatch acrescenta o lote (append-only)
func (s *MemorySink) WriteBatch(ctx context.Context, events []domain.SecurityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// DeleteOlderThan remove eventos com timestamp estritamente anterior a cutoff
func (s *MemorySink) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, event := range s.events {
		if event.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return deleted, nil
}

// Events retorna uma cópia dos eventos gravados
func (s *MemorySink) Events() []domain.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Len retorna o número de eventos gravados
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemorySink) Close() error {
	return nil
}
