package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"security-monitor/internal/domain"

	"github.com/go-redis/redis/v8"
)

// incrementScript incrementa o contador da janela e define a expiração na primeira observação.
// A chave já carrega o início da janela, então a virada é implícita.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisStorage implementa a interface domain.CounterStorage usando Redis,
// compartilhando os contadores entre instâncias
type RedisStorage struct {
	client redis.Cmdable
	logger domain.Logger
	now    func() time.Time
}

// NewRedisStorage cria uma nova instância do RedisStorage
func NewRedisStorage(host, port, password string, db int, logger domain.Logger) (*RedisStorage, error) {
	// Configura cliente Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Info("Redis connection established", map[string]interface{}{
			"host": host,
			"port": port,
			"db":   db,
		})
	}

	return NewRedisStorageWithClient(rdb, logger), nil
}

// NewRedisStorageWithClient cria o storage sobre um cliente já configurado
func NewRedisStorageWithClient(client redis.Cmdable, logger domain.Logger) *RedisStorage {
	return &RedisStorage{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Increment incrementa o contador da janela corrente de forma atômica (Lua)
func (r *RedisStorage) Increment(ctx context.Context, key string, window time.Duration) (*domain.WindowCounter, error) {
	start := time.Now()

	now := r.now()
	windowStart := WindowStart(now, window)
	redisKey := BuildKey(key, window, windowStart)

	// A expiração cobre o restante da janela mais uma janela de folga para leituras tardias
	ttl := windowStart.Add(window).Sub(now) + window

	count, err := incrementScript.Run(ctx, r.client, []string{redisKey}, ttl.Milliseconds()).Int64()
	if err != nil {
		logStorageOperation(r.logger, "INCREMENT", redisKey, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("failed to increment key %s: %w", redisKey, err)
	}

	logStorageOperation(r.logger, "INCREMENT", redisKey, true, time.Since(start).Seconds()*1000, nil)
	return &domain.WindowCounter{
		Key:         key,
		Count:       count,
		WindowStart: windowStart,
		Window:      window,
		LastSeen:    now,
	}, nil
}

// Get recupera o contador da janela corrente sem incrementar
func (r *RedisStorage) Get(ctx context.Context, key string, window time.Duration) (*domain.WindowCounter, error) {
	start := time.Now()

	windowStart := WindowStart(r.now(), window)
	redisKey := BuildKey(key, window, windowStart)

	result, err := r.client.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		logStorageOperation(r.logger, "GET", redisKey, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	count, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid count for key %s: %w", redisKey, err)
	}

	logStorageOperation(r.logger, "GET", redisKey, true, time.Since(start).Seconds()*1000, nil)
	return &domain.WindowCounter{
		Key:         key,
		Count:       count,
		WindowStart: windowStart,
		Window:      window,
	}, nil
}

// Reset limpa o contador da janela corrente
func (r *RedisStorage) Reset(ctx context.Context, key string, window time.Duration) error {
	start := time.Now()
	redisKey := BuildKey(key, window, WindowStart(r.now(), window))

	if err := r.client.Del(ctx, redisKey).Err(); err != nil {
		logStorageOperation(r.logger, "RESET", redisKey, false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("failed to reset key %s: %w", redisKey, err)
	}

	logStorageOperation(r.logger, "RESET", redisKey, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// EvictIdle é um no-op: a expiração das chaves (PEXPIRE) remove contadores ociosos
func (r *RedisStorage) EvictIdle(ctx context.Context, idleSince time.Time) (int, error) {
	return 0, nil
}

// Size retorna -1: o número de chaves vivas não é rastreado
func (r *RedisStorage) Size() int {
	return -1
}

// Health verifica se o storage está saudável
func (r *RedisStorage) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		logStorageOperation(r.logger, "HEALTH", "ping", false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("redis health check failed: %w", err)
	}

	logStorageOperation(r.logger, "HEALTH", "ping", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close fecha a conexão com o storage
func (r *RedisStorage) Close() error {
	if client, ok := r.client.(*redis.Client); ok {
		if err := client.Close(); err != nil {
			if r.logger != nil {
				r.logger.Error("Failed to close Redis connection", err, nil)
			}
			return err
		}
		if r.logger != nil {
			r.logger.Info("Redis connection closed", nil)
		}
	}
	return nil
}

// BuildKey constrói chaves padronizadas para Redis: uma chave por janela fixa
func BuildKey(key string, window time.Duration, windowStart time.Time) string {
	return fmt.Sprintf("counter:%s:%d:%d", key, window.Milliseconds(), windowStart.UnixMilli())
}
