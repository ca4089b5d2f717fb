package storage

import (
	"context"
	"sync"
	"time"

	"security-monitor/internal/domain"
)

// counterKey identifica um contador: a mesma chave pode ter janelas distintas
type counterKey struct {
	key    string
	window time.Duration
}

// MemoryStorage implementa a interface domain.CounterStorage usando memória.
// Contadores são por instância: não agregam entre réplicas.
type MemoryStorage struct {
	data   map[counterKey]*domain.WindowCounter
	mutex  sync.Mutex
	logger domain.Logger
	now    func() time.Time
}

// MemoryOption customiza o MemoryStorage
type MemoryOption func(*MemoryStorage)

// WithClock substitui o relógio (usado nos testes de virada de janela)
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStorage) {
		m.now = now
	}
}

// NewMemoryStorage cria uma nova instância do MemoryStorage
func NewMemoryStorage(logger domain.Logger, opts ...MemoryOption) *MemoryStorage {
	storage := &MemoryStorage{
		data:   make(map[counterKey]*domain.WindowCounter),
		logger: logger,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(storage)
	}

	if logger != nil {
		logger.Info("Memory storage initialized", nil)
	}

	return storage
}

// Increment incrementa o contador da janela corrente.
// Virada de janela, reset e incremento acontecem sob o mesmo lock.
func (m *MemoryStorage) Increment(ctx context.Context, key string, window time.Duration) (*domain.WindowCounter, error) {
	start := time.Now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	windowStart := WindowStart(now, window)
	ck := counterKey{key: key, window: window}

	counter, exists := m.data[ck]
	if !exists {
		counter = &domain.WindowCounter{
			Key:         key,
			Window:      window,
			WindowStart: windowStart,
		}
		m.data[ck] = counter
	}

	// Janela expirou: reset, não decaimento
	if counter.WindowStart.Before(windowStart) {
		counter.Count = 0
		counter.WindowStart = windowStart
	}

	counter.Count++
	counter.LastSeen = now

	result := *counter

	logStorageOperation(m.logger, "INCREMENT", key, true, time.Since(start).Seconds()*1000, nil)
	return &result, nil
}

// Get recupera o contador da janela corrente sem incrementar
func (m *MemoryStorage) Get(ctx context.Context, key string, window time.Duration) (*domain.WindowCounter, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	counter, exists := m.data[counterKey{key: key, window: window}]
	if !exists {
		return nil, nil
	}

	// Cria cópia para evitar modificações concorrentes
	result := *counter
	if windowStart := WindowStart(m.now(), window); result.WindowStart.Before(windowStart) {
		result.Count = 0
		result.WindowStart = windowStart
	}

	return &result, nil
}

// Reset limpa os dados de uma chave
func (m *MemoryStorage) Reset(ctx context.Context, key string, window time.Duration) error {
	start := time.Now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.data, counterKey{key: key, window: window})

	logStorageOperation(m.logger, "RESET", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// EvictIdle remove apenas entradas cujo último acesso é anterior a idleSince
// e cuja janela já terminou. Uma entrada tocada durante a varredura tem
// LastSeen >= idleSince e nunca é removida; uma janela ainda aberta também não.
func (m *MemoryStorage) EvictIdle(ctx context.Context, idleSince time.Time) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	removed := 0
	for key, counter := range m.data {
		if counter.LastSeen.Before(idleSince) && !counter.WindowEnd().After(now) {
			delete(m.data, key)
			removed++
		}
	}

	if removed > 0 && m.logger != nil {
		m.logger.Debug("Memory storage cleanup completed", map[string]interface{}{
			"removed_entries":   removed,
			"remaining_entries": len(m.data),
		})
	}

	return removed, nil
}

// Size retorna o número de contadores rastreados
func (m *MemoryStorage) Size() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.data)
}

// Health verifica se o storage está saudável
func (m *MemoryStorage) Health(ctx context.Context) error {
	if m.logger != nil {
		m.logger.Debug("Memory storage health check", map[string]interface{}{
			"data_entries": m.Size(),
		})
	}
	return nil
}

// Close fecha a conexão com o storage (no-op para memory)
func (m *MemoryStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Limpa todos os dados
	m.data = make(map[counterKey]*domain.WindowCounter)

	if m.logger != nil {
		m.logger.Info("Memory storage closed", nil)
	}
	return nil
}

// WindowStart alinha o início da janela fixa ao relógio (múltiplo de window)
func WindowStart(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return now
	}
	return now.Truncate(window)
}
