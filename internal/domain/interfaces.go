package domain

import (
	"context"
	"time"
)

// CounterStorage define a interface para armazenamento dos contadores de janela fixa
// Strategy Pattern: memória (por instância) ou Redis (compartilhado entre instâncias)
type CounterStorage interface {
	// Increment registra uma observação e retorna o contador da janela corrente.
	// Leitura, reset na virada da janela e incremento são um único passo atômico.
	Increment(ctx context.Context, key string, window time.Duration) (*WindowCounter, error)

	// Get retorna o contador da janela corrente sem incrementar (nil se inexistente)
	Get(ctx context.Context, key string, window time.Duration) (*WindowCounter, error)

	// Reset limpa os dados de uma chave
	Reset(ctx context.Context, key string, window time.Duration) error

	// EvictIdle remove entradas cujo último acesso é anterior a idleSince
	EvictIdle(ctx context.Context, idleSince time.Time) (int, error)

	// Size retorna o número de entradas rastreadas (-1 se desconhecido)
	Size() int

	// Health verifica se o storage está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o storage
	Close() error
}

// RateLimiterService define a interface para o serviço de rate limiting
type RateLimiterService interface {
	// Acquire tenta adquirir uma permissão da política para a chave
	Acquire(ctx context.Context, policy PolicyName, key PartitionKey) (*RateLimitResult, error)

	// PoliciesFor retorna as políticas aplicáveis a um path
	PoliciesFor(path string) []PolicyName

	// GetStatus retorna o estado atual do bucket
	GetStatus(ctx context.Context, policy PolicyName, key PartitionKey) (*RateLimitStatus, error)

	// Reset limpa o bucket
	Reset(ctx context.Context, policy PolicyName, key PartitionKey) error
}

// FrequencyClassifier observa requisições e classifica chamadores anômalos
type FrequencyClassifier interface {
	// Observe registra uma requisição e retorna as contagens das janelas curta e longa
	Observe(ctx context.Context, key PartitionKey, event SecurityEvent) (*Observation, error)
}

// EventEmitter recebe eventos de segurança sem bloquear o caminho da requisição
type EventEmitter interface {
	Emit(event SecurityEvent)
}

// EventSink é o contrato de armazenamento dos eventos de segurança
type EventSink interface {
	// Name identifica o sink nos logs
	Name() string

	// WriteBatch grava um lote de eventos (append-only)
	WriteBatch(ctx context.Context, events []SecurityEvent) error

	// DeleteOlderThan remove eventos com timestamp anterior a cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Close libera os recursos do sink
	Close() error
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}
