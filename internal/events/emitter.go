package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"security-monitor/internal/domain"
	"security-monitor/internal/telemetry"

	"golang.org/x/time/rate"
)

const (
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 2 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// EmitterStats é a fotografia dos contadores do emissor
type EmitterStats struct {
	Sink          string `json:"sink"`
	Queued        int    `json:"queued"`
	QueueCapacity int    `json:"queueCapacity"`
	Emitted       int64  `json:"emitted"`
	Dropped       int64  `json:"dropped"`
	Written       int64  `json:"written"`
	FailedBatches int64  `json:"failedBatches"`
}

// Emitter enfileira eventos de segurança sem bloquear o caminho da requisição
// e os grava em lotes no sink por um único loop de flush.
//
// Fila cheia: o evento mais novo é descartado e contabilizado.
// Após Shutdown, Emit descarta.
type Emitter struct {
	sink     domain.EventSink
	fallback domain.EventSink
	cfg      domain.EventLogConfig
	logger   domain.Logger
	metrics  *telemetry.Metrics

	queue chan domain.SecurityEvent
	stop  chan context.Context
	done  chan struct{}

	// closed e o envio à fila ficam sob o mesmo lock: nenhum evento entra
	// na fila depois que Shutdown inicia a drenagem
	mu     sync.RWMutex
	closed bool

	emitted       atomic.Int64
	dropped       atomic.Int64
	written       atomic.Int64
	failedBatches atomic.Int64

	// um log de falha por intervalo, não um por lote
	failureLog   rate.Sometimes
	retryBackoff time.Duration
	writeTimeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
}

// EmitterOption customiza o Emitter
type EmitterOption func(*Emitter)

// WithRetryBackoff define o backoff inicial entre tentativas de gravação
func WithRetryBackoff(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		e.retryBackoff = d
	}
}

// WithWriteTimeout define o timeout de cada tentativa de gravação
func WithWriteTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		e.writeTimeout = d
	}
}

// NewEmitter cria o emissor. fallback recebe os lotes que esgotaram as tentativas no sink.
func NewEmitter(
	sink domain.EventSink,
	fallback domain.EventSink,
	cfg domain.EventLogConfig,
	logger domain.Logger,
	metrics *telemetry.Metrics,
	opts ...EmitterOption,
) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.FlushRetries <= 0 {
		cfg.FlushRetries = 1
	}

	e := &Emitter{
		sink:         sink,
		fallback:     fallback,
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		queue:        make(chan domain.SecurityEvent, cfg.QueueSize),
		stop:         make(chan context.Context, 1),
		done:         make(chan struct{}),
		failureLog:   rate.Sometimes{First: 1, Interval: time.Minute},
		retryBackoff: defaultRetryBackoff,
		writeTimeout: defaultWriteTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start inicia o loop de flush
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		go e.run()
	})
}

// Emit enfileira o evento sem bloquear
func (e *Emitter) Emit(event domain.SecurityEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop("closed")
		return
	}

	select {
	case e.queue <- event:
		e.emitted.Add(1)
		e.metrics.RecordEventEmitted(context.Background(), string(event.Type))
	default:
		e.drop("queue_full")
	}
}

// Shutdown interrompe a entrada de eventos, drena a fila e faz o flush final.
// Retorna o erro do contexto se o prazo expirar antes do fim da drenagem.
func (e *Emitter) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.Start()
		e.stop <- ctx
	})

	select {
	case <-e.done:
		e.logger.Info("Security event emitter stopped", map[string]interface{}{
			"written": e.written.Load(),
			"dropped": e.dropped.Load(),
		})
		return nil
	case <-ctx.Done():
		return fmt.Errorf("security event emitter did not drain in time: %w", ctx.Err())
	}
}

// Stats retorna os contadores atuais
func (e *Emitter) Stats() EmitterStats {
	return EmitterStats{
		Sink:          e.sink.Name(),
		Queued:        len(e.queue),
		QueueCapacity: cap(e.queue),
		Emitted:       e.emitted.Load(),
		Dropped:       e.dropped.Load(),
		Written:       e.written.Load(),
		FailedBatches: e.failedBatches.Load(),
	}
}

// Dropped retorna o número de eventos descartados
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

func (e *Emitter) drop(reason string) {
	e.dropped.Add(1)
	e.metrics.RecordEventDropped(context.Background(), reason)
}

// run é o único escritor do sink: lote por tamanho ou por intervalo
func (e *Emitter) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.SecurityEvent, 0, e.cfg.BatchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		e.flush(ctx, batch)
		// novo slice: o lote anterior pode ter sido retido pelo sink
		batch = make([]domain.SecurityEvent, 0, e.cfg.BatchSize)
	}

	for {
		select {
		case ctx := <-e.stop:
			for {
				select {
				case event := <-e.queue:
					batch = append(batch, event)
					if len(batch) >= e.cfg.BatchSize {
						flush(ctx)
					}
				default:
					flush(ctx)
					return
				}
			}

		case event := <-e.queue:
			batch = append(batch, event)
			if len(batch) >= e.cfg.BatchSize {
				flush(context.Background())
			}

		case <-ticker.C:
			flush(context.Background())
		}
	}
}

// flush grava o lote com tentativas limitadas e backoff; esgotadas, entrega ao fallback
func (e *Emitter) flush(ctx context.Context, batch []domain.SecurityEvent) {
	start := time.Now()
	backoff := e.retryBackoff

	var lastErr error
retry:
	for attempt := 1; attempt <= e.cfg.FlushRetries; attempt++ {
		if lastErr = e.write(ctx, e.sink, batch); lastErr == nil {
			e.written.Add(int64(len(batch)))
			e.metrics.RecordBatchWritten(ctx, e.sink.Name(), len(batch), time.Since(start).Seconds())
			return
		}

		if attempt == e.cfg.FlushRetries {
			break
		}

		select {
		case <-ctx.Done():
			break retry
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
		}
	}

	e.failedBatches.Add(1)
	e.metrics.RecordFlushFailure(ctx, e.sink.Name())

	failure := lastErr
	e.failureLog.Do(func() {
		e.logger.Error("Failed to write security events, using fallback sink", failure, map[string]interface{}{
			"sink":          e.sink.Name(),
			"batch_size":    len(batch),
			"attempts":      e.cfg.FlushRetries,
			"failed_total":  e.failedBatches.Load(),
			"fallback_sink": e.fallbackName(),
		})
	})

	if e.fallback == nil || e.fallback == e.sink {
		return
	}
	if err := e.write(context.Background(), e.fallback, batch); err != nil {
		e.logger.Error("Fallback sink rejected security events", err, map[string]interface{}{
			"sink":       e.fallback.Name(),
			"batch_size": len(batch),
		})
	}
}

func (e *Emitter) write(ctx context.Context, sink domain.EventSink, batch []domain.SecurityEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()
	return sink.WriteBatch(writeCtx, batch)
}

func (e *Emitter) fallbackName() string {
	if e.fallback == nil {
		return ""
	}
	return e.fallback.Name()
}
