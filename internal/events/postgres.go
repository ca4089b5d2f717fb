package events

import (
	"context"
	"fmt"
	"time"

	"security-monitor/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const securityEventsTable = "security_events"

const createSecurityEventsTable = `
	CREATE TABLE IF NOT EXISTS security_events (
		id             TEXT PRIMARY KEY,
		event_type     TEXT NOT NULL,
		timestamp      TIMESTAMPTZ NOT NULL,
		correlation_id TEXT NOT NULL,
		partition_key  TEXT NOT NULL,
		ip_address     TEXT,
		user_agent     TEXT,
		method         TEXT,
		path           TEXT,
		status_code    INTEGER,
		duration_ms    DOUBLE PRECISION,
		message        TEXT
	);
	CREATE INDEX IF NOT EXISTS security_events_timestamp_idx ON security_events (timestamp);
`

var securityEventColumns = []string{
	"id", "event_type", "timestamp", "correlation_id", "partition_key", "ip_address",
	"user_agent", "method", "path", "status_code", "duration_ms", "message",
}

// pgxPool é o subconjunto do *pgxpool.Pool usado pelo sink
type pgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresSink grava eventos no banco de logs de segurança
type PostgresSink struct {
	pool   pgxPool
	logger domain.Logger
}

// NewPostgresSink conecta ao banco, verifica a conexão e garante o schema
func NewPostgresSink(ctx context.Context, connectionString string, logger domain.Logger) (*PostgresSink, error) {
	config, err := pgxpool.ParseConfig(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid security logs connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	sink := newPostgresSinkWithPool(pool, logger)
	if err := sink.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if logger != nil {
		logger.Info("Postgres security event sink ready", map[string]interface{}{
			"host":     config.ConnConfig.Host,
			"database": config.ConnConfig.Database,
		})
	}

	return sink, nil
}

func newPostgresSinkWithPool(pool pgxPool, logger domain.Logger) *PostgresSink {
	return &PostgresSink{pool: pool, logger: logger}
}

func (s *PostgresSink) init(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := s.pool.Exec(ctx, createSecurityEventsTable); err != nil {
		return fmt.Errorf("failed to create %s table: %w", securityEventsTable, err)
	}
	return nil
}

func (s *PostgresSink) Name() string {
	return "postgres"
}

// WriteBatch grava o lote com COPY
func (s *PostgresSink) WriteBatch(ctx context.Context, events []domain.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(events))
	for _, event := range events {
		rows = append(rows, []any{
			event.ID,
			string(event.Type),
			event.Timestamp,
			event.CorrelationID,
			event.PartitionKey.String(),
			event.IPAddress,
			event.UserAgent,
			event.Method,
			event.Path,
			event.StatusCode,
			float64(event.Duration.Microseconds()) / 1000,
			event.Message,
		})
	}

	copied, err := s.pool.CopyFrom(ctx, pgx.Identifier{securityEventsTable}, securityEventColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy security events: %w", err)
	}
	if copied != int64(len(events)) {
		return fmt.Errorf("copied %d of %d security events", copied, len(events))
	}
	return nil
}

// DeleteOlderThan remove eventos com timestamp anterior a cutoff
func (s *PostgresSink) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM security_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired security events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close fecha o pool de conexões
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
