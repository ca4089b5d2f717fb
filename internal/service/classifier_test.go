package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"security-monitor/internal/domain"
	"security-monitor/internal/storage"
	"security-monitor/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingEmitter guarda os eventos emitidos
type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (r *recordingEmitter) Emit(event domain.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) ofType(eventType domain.EventType) []domain.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SecurityEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func defaultClassifierConfig() domain.ClassifierConfig {
	return domain.ClassifierConfig{
		SuspiciousThreshold:    10,
		SuspiciousWindow:       5 * time.Minute,
		HighFrequencyThreshold: 100,
		HighFrequencyWindow:    time.Hour,
		IdleRetention:          time.Hour,
		EvictionInterval:       time.Minute,
	}
}

func newTestClassifier(clock *testClock, cfg domain.ClassifierConfig) (*FrequencyClassifier, *recordingEmitter) {
	emitter := &recordingEmitter{}
	store := storage.NewMemoryStorage(nil, storage.WithClock(clock.Now))
	classifier := NewFrequencyClassifier(store, cfg, emitter, newQuietLogger(), telemetry.NewNoop())
	classifier.now = clock.Now
	return classifier, emitter
}

func TestFrequencyClassifier_EndToEndScenario(t *testing.T) {
	// Arrange
	clock := &testClock{now: windowStart}
	classifier, emitter := newTestClassifier(clock, defaultClassifierConfig())
	ctx := context.Background()
	key := domain.PartitionKey("client:svc-A")

	// Act & Assert - requisições 1 a 10 não geram evento
	for i := 1; i <= 10; i++ {
		clock.Advance(time.Second)
		observation, err := classifier.Observe(ctx, key, domain.SecurityEvent{CorrelationID: "corr"})
		require.NoError(t, err)
		assert.False(t, observation.Suspicious)
	}
	assert.Empty(t, emitter.ofType(domain.EventSuspiciousFrequency))

	// Requisição 11 na mesma janela gera exatamente um evento
	observation, err := classifier.Observe(ctx, key, domain.SecurityEvent{CorrelationID: "corr-11"})
	require.NoError(t, err)
	assert.True(t, observation.Suspicious)
	assert.Equal(t, int64(11), observation.ShortCount)

	events := emitter.ofType(domain.EventSuspiciousFrequency)
	require.Len(t, events, 1)
	assert.Equal(t, key, events[0].PartitionKey)
	assert.Equal(t, "corr-11", events[0].CorrelationID)
	assert.NotEmpty(t, events[0].ID)

	// Após a janela expirar, a requisição 12 não gera evento
	clock.Advance(5 * time.Minute)
	observation, err = classifier.Observe(ctx, key, domain.SecurityEvent{CorrelationID: "corr-12"})
	require.NoError(t, err)
	assert.False(t, observation.Suspicious)
	assert.Equal(t, int64(1), observation.ShortCount)
	assert.Len(t, emitter.ofType(domain.EventSuspiciousFrequency), 1)
}

func TestFrequencyClassifier_IdempotentClassification(t *testing.T) {
	tests := []struct {
		name           string
		requests       int
		expectedEvents int
	}{
		{"Below threshold", 5, 0},
		{"At threshold", 10, 0},
		{"One above threshold", 11, 1},
		{"Well above threshold", 15, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			clock := &testClock{now: windowStart}
			classifier, emitter := newTestClassifier(clock, defaultClassifierConfig())
			ctx := context.Background()

			burst := func() int {
				before := len(emitter.ofType(domain.EventSuspiciousFrequency))
				for i := 0; i < tt.requests; i++ {
					_, err := classifier.Observe(ctx, "ip:198.51.100.4", domain.SecurityEvent{})
					require.NoError(t, err)
				}
				return len(emitter.ofType(domain.EventSuspiciousFrequency)) - before
			}

			// Act
			first := burst()
			clock.Advance(5 * time.Minute)
			second := burst()

			// Assert - a mesma rajada na janela seguinte classifica de forma independente
			assert.Equal(t, tt.expectedEvents, first)
			assert.Equal(t, tt.expectedEvents, second)
		})
	}
}

func TestFrequencyClassifier_BothThresholdsFire(t *testing.T) {
	// Arrange
	clock := &testClock{now: windowStart}
	cfg := defaultClassifierConfig()
	cfg.SuspiciousThreshold = 2
	cfg.HighFrequencyThreshold = 2
	classifier, emitter := newTestClassifier(clock, cfg)
	ctx := context.Background()

	// Act
	var observation *domain.Observation
	for i := 0; i < 3; i++ {
		var err error
		observation, err = classifier.Observe(ctx, "client:svc-B", domain.SecurityEvent{Path: "/connect/token"})
		require.NoError(t, err)
	}

	// Assert
	assert.True(t, observation.Suspicious)
	assert.True(t, observation.HighFrequency)
	require.Len(t, emitter.ofType(domain.EventSuspiciousFrequency), 1)
	require.Len(t, emitter.ofType(domain.EventHighFrequency), 1)
	assert.Equal(t, "/connect/token", emitter.ofType(domain.EventHighFrequency)[0].Path)
}

func TestFrequencyClassifier_LongWindowOutlivesShortWindow(t *testing.T) {
	// Arrange
	clock := &testClock{now: windowStart}
	classifier, _ := newTestClassifier(clock, defaultClassifierConfig())
	ctx := context.Background()

	// Act
	_, err := classifier.Observe(ctx, "client:svc-C", domain.SecurityEvent{})
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	observation, err := classifier.Observe(ctx, "client:svc-C", domain.SecurityEvent{})
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int64(1), observation.ShortCount)
	assert.Equal(t, int64(2), observation.LongCount)
}

func TestFrequencyClassifier_ConcurrentObservations(t *testing.T) {
	// Arrange
	clock := &testClock{now: windowStart}
	cfg := defaultClassifierConfig()
	cfg.SuspiciousThreshold = 1000
	cfg.HighFrequencyThreshold = 1000
	classifier, _ := newTestClassifier(clock, cfg)
	ctx := context.Background()
	var wg sync.WaitGroup

	// Act
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := classifier.Observe(ctx, "client:svc-D", domain.SecurityEvent{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Assert
	observation, err := classifier.Observe(ctx, "client:svc-D", domain.SecurityEvent{})
	require.NoError(t, err)
	assert.Equal(t, int64(101), observation.ShortCount)
	assert.Equal(t, int64(101), observation.LongCount)
	assert.Equal(t, 2, classifier.TrackedCounters())
}

func TestFrequencyClassifier_StorageError(t *testing.T) {
	// Arrange
	mockStorage := &MockStorage{}
	mockStorage.On("Increment", mock.Anything, "frequency:short:client:svc-A", 5*time.Minute).
		Return(nil, errors.New("storage down"))
	emitter := &recordingEmitter{}
	classifier := NewFrequencyClassifier(mockStorage, defaultClassifierConfig(), emitter, newQuietLogger(), nil)

	// Act
	observation, err := classifier.Observe(context.Background(), "client:svc-A", domain.SecurityEvent{})

	// Assert
	assert.Error(t, err)
	assert.Nil(t, observation)
	assert.Empty(t, emitter.events)
	mockStorage.AssertExpectations(t)
}

func TestFrequencyClassifier_EvictionRemovesIdleCounters(t *testing.T) {
	// Arrange
	clock := &testClock{now: windowStart}
	store := storage.NewMemoryStorage(nil, storage.WithClock(clock.Now))
	classifier := NewFrequencyClassifier(store, defaultClassifierConfig(), nil, newQuietLogger(), nil)
	ctx := context.Background()

	_, err := classifier.Observe(ctx, "ip:203.0.113.50", domain.SecurityEvent{})
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = classifier.Observe(ctx, "ip:203.0.113.51", domain.SecurityEvent{})
	require.NoError(t, err)

	// Act
	removed := evictOnce(ctx, evictionLoop{
		name:      "classifier",
		storage:   store,
		retention: classifier.config.IdleRetention,
		logger:    classifier.logger,
	}, clock.Now())

	// Assert
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, classifier.TrackedCounters())
}

func TestFrequencyClassifier_EvictionKeepsOpenLongWindow(t *testing.T) {
	// Arrange - janela longa de 2h maior que a retenção de 1h
	cfg := defaultClassifierConfig()
	cfg.HighFrequencyWindow = 2 * time.Hour
	cfg.HighFrequencyThreshold = 3

	clock := &testClock{now: windowStart}
	classifier, emitter := newTestClassifier(clock, cfg)
	ctx := context.Background()
	key := domain.PartitionKey("client:svc-A")

	for i := 0; i < 3; i++ {
		_, err := classifier.Observe(ctx, key, domain.SecurityEvent{})
		require.NoError(t, err)
	}
	clock.Advance(61 * time.Minute)

	// Act
	removed := evictOnce(ctx, evictionLoop{
		name:      "classifier",
		storage:   classifier.storage,
		retention: cfg.IdleRetention,
		logger:    classifier.logger,
	}, clock.Now())
	observation, err := classifier.Observe(ctx, key, domain.SecurityEvent{})

	// Assert - só o contador da janela curta (já encerrada) é removido
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, int64(4), observation.LongCount)
	assert.True(t, observation.HighFrequency)
	assert.Len(t, emitter.ofType(domain.EventHighFrequency), 1)
}
