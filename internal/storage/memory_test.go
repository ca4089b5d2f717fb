package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"security-monitor/internal/domain"
	"security-monitor/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock é um relógio controlável e seguro para uso concorrente
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var baseTime = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func TestMemoryStorage_Increment(t *testing.T) {
	tests := []struct {
		name          string
		window        time.Duration
		steps         []time.Duration // avanço do relógio antes de cada incremento
		expectedCount int64
		expectedStart time.Time
	}{
		{
			name:          "Should create counter on first observation",
			window:        time.Minute,
			steps:         []time.Duration{0},
			expectedCount: 1,
			expectedStart: baseTime,
		},
		{
			name:          "Should accumulate inside the same window",
			window:        time.Minute,
			steps:         []time.Duration{0, 10 * time.Second, 20 * time.Second, 29 * time.Second},
			expectedCount: 4,
			expectedStart: baseTime,
		},
		{
			name:          "Should reset when the window rolls over",
			window:        time.Minute,
			steps:         []time.Duration{0, 30 * time.Second, 30 * time.Second},
			expectedCount: 1,
			expectedStart: baseTime.Add(time.Minute),
		},
		{
			name:          "Should align window start on wall clock boundary",
			window:        5 * time.Minute,
			steps:         []time.Duration{7 * time.Minute},
			expectedCount: 1,
			expectedStart: baseTime.Add(5 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			clock := newFakeClock(baseTime)
			storage := NewMemoryStorage(logger.NewLogger("error", "text"), WithClock(clock.Now))
			ctx := context.Background()

			// Act
			var result *domain.WindowCounter
			for _, step := range tt.steps {
				clock.Advance(step)
				counter, err := storage.Increment(ctx, "client:svc-A", tt.window)
				require.NoError(t, err)
				result = counter
			}

			// Assert
			require.NotNil(t, result)
			assert.Equal(t, tt.expectedCount, result.Count)
			assert.True(t, tt.expectedStart.Equal(result.WindowStart))
			assert.True(t, clock.Now().Equal(result.LastSeen))
		})
	}
}

func TestMemoryStorage_WindowsAreIndependent(t *testing.T) {
	// Arrange
	clock := newFakeClock(baseTime)
	storage := NewMemoryStorage(nil, WithClock(clock.Now))
	ctx := context.Background()

	// Act
	for i := 0; i < 3; i++ {
		_, err := storage.Increment(ctx, "ip:10.0.0.1", 5*time.Minute)
		require.NoError(t, err)
	}
	long, err := storage.Increment(ctx, "ip:10.0.0.1", time.Hour)
	require.NoError(t, err)

	// Assert
	short, err := storage.Get(ctx, "ip:10.0.0.1", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), short.Count)
	assert.Equal(t, int64(1), long.Count)
	assert.Equal(t, 2, storage.Size())
}

func TestMemoryStorage_Get(t *testing.T) {
	t.Run("Should return nil when key doesn't exist", func(t *testing.T) {
		storage := NewMemoryStorage(nil)

		result, err := storage.Get(context.Background(), "client:missing", time.Minute)

		assert.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("Should report zero for an elapsed window without mutating it", func(t *testing.T) {
		// Arrange
		clock := newFakeClock(baseTime)
		storage := NewMemoryStorage(nil, WithClock(clock.Now))
		ctx := context.Background()
		_, err := storage.Increment(ctx, "client:svc-A", time.Minute)
		require.NoError(t, err)

		// Act
		clock.Advance(2 * time.Minute)
		result, err := storage.Get(ctx, "client:svc-A", time.Minute)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.Count)
		assert.True(t, baseTime.Add(2*time.Minute).Equal(result.WindowStart))
		assert.Equal(t, 1, storage.Size())
	})
}

func TestMemoryStorage_Reset(t *testing.T) {
	// Arrange
	storage := NewMemoryStorage(logger.NewLogger("debug", "text"))
	ctx := context.Background()
	_, err := storage.Increment(ctx, "client:svc-A", time.Minute)
	require.NoError(t, err)

	// Act
	err = storage.Reset(ctx, "client:svc-A", time.Minute)

	// Assert
	assert.NoError(t, err)
	result, err := storage.Get(ctx, "client:svc-A", time.Minute)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestMemoryStorage_EvictIdle(t *testing.T) {
	// Arrange
	clock := newFakeClock(baseTime)
	storage := NewMemoryStorage(logger.NewLogger("debug", "text"), WithClock(clock.Now))
	ctx := context.Background()

	_, err := storage.Increment(ctx, "ip:203.0.113.1", time.Minute)
	require.NoError(t, err)
	_, err = storage.Increment(ctx, "ip:203.0.113.2", time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = storage.Increment(ctx, "ip:203.0.113.2", time.Minute)
	require.NoError(t, err)
	_, err = storage.Increment(ctx, "ip:203.0.113.3", time.Minute)
	require.NoError(t, err)

	// Act
	removed, err := storage.EvictIdle(ctx, clock.Now().Add(-time.Hour))

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, storage.Size())

	gone, _ := storage.Get(ctx, "ip:203.0.113.1", time.Minute)
	assert.Nil(t, gone)
	kept, _ := storage.Get(ctx, "ip:203.0.113.2", time.Minute)
	assert.NotNil(t, kept)
}

func TestMemoryStorage_EvictIdleKeepsEntriesTouchedAtCutoff(t *testing.T) {
	// Arrange
	clock := newFakeClock(baseTime)
	storage := NewMemoryStorage(nil, WithClock(clock.Now))
	ctx := context.Background()
	_, err := storage.Increment(ctx, "client:svc-A", time.Minute)
	require.NoError(t, err)

	// Act
	removed, err := storage.EvictIdle(ctx, baseTime)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, storage.Size())
}

func TestMemoryStorage_EvictIdleKeepsOpenWindows(t *testing.T) {
	// Arrange - janela de 2h com retenção de 1h
	clock := newFakeClock(baseTime)
	storage := NewMemoryStorage(nil, WithClock(clock.Now))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := storage.Increment(ctx, "freq:long:client:svc-A", 2*time.Hour)
		require.NoError(t, err)
	}
	clock.Advance(61 * time.Minute)

	// Act
	removed, err := storage.EvictIdle(ctx, clock.Now().Add(-time.Hour))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	counter, err := storage.Increment(ctx, "freq:long:client:svc-A", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counter.Count)
}

func TestMemoryStorage_Health(t *testing.T) {
	storage := NewMemoryStorage(logger.NewLogger("debug", "text"))
	assert.NoError(t, storage.Health(context.Background()))
}

func TestMemoryStorage_Close(t *testing.T) {
	// Arrange
	storage := NewMemoryStorage(logger.NewLogger("debug", "text"))
	_, err := storage.Increment(context.Background(), "client:svc-A", time.Minute)
	require.NoError(t, err)

	// Act
	err = storage.Close()

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 0, storage.Size())
}

func TestMemoryStorage_ConcurrentAccess(t *testing.T) {
	// Arrange
	clock := newFakeClock(baseTime)
	storage := NewMemoryStorage(logger.NewLogger("error", "text"), WithClock(clock.Now))
	ctx := context.Background()

	key := "client:svc-A"
	numGoroutines := 200
	var wg sync.WaitGroup

	// Act - incrementos concorrentes e varreduras de ociosos em paralelo
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := storage.Increment(ctx, key, time.Minute)
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := storage.EvictIdle(ctx, baseTime.Add(-time.Second))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Assert
	counter, err := storage.Get(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(numGoroutines), counter.Count)
}

func TestWindowStart(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		window   time.Duration
		expected time.Time
	}{
		{"Minute boundary", baseTime.Add(42 * time.Second), time.Minute, baseTime},
		{"Five minute boundary", baseTime.Add(9 * time.Minute), 5 * time.Minute, baseTime.Add(5 * time.Minute)},
		{"Hour boundary", baseTime.Add(59 * time.Minute), time.Hour, baseTime},
		{"Zero window returns now", baseTime.Add(time.Second), 0, baseTime.Add(time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.expected.Equal(WindowStart(tt.now, tt.window)))
		})
	}
}
