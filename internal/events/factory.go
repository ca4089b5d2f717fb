package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"security-monitor/internal/domain"
)

// SinkType define os sinks de eventos disponíveis
type SinkType string

const (
	ConsoleSinkType  SinkType = "console"
	MemorySinkType   SinkType = "memory"
	PostgresSinkType SinkType = "postgres"
	S3SinkType       SinkType = "s3"
)

// SinkConfig contém as configurações para criação do sink
type SinkConfig struct {
	Type             SinkType
	ConnectionString string
	S3Bucket         string
	S3Prefix         string
	AWSRegion        string
	ConnectTimeout   time.Duration
}

// CreateSink cria o sink configurado
func CreateSink(ctx context.Context, config SinkConfig, logger domain.Logger) (domain.EventSink, error) {
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch SinkType(strings.ToLower(string(config.Type))) {
	case ConsoleSinkType, "":
		return NewConsoleSink(logger), nil
	case MemorySinkType:
		return NewMemorySink(), nil
	case PostgresSinkType:
		if config.ConnectionString == "" {
			return nil, fmt.Errorf("postgres sink requires a connection string")
		}
		return NewPostgresSink(connectCtx, config.ConnectionString, logger)
	case S3SinkType:
		if config.S3Bucket == "" {
			return nil, fmt.Errorf("s3 sink requires a bucket")
		}
		return NewS3Sink(connectCtx, config.AWSRegion, config.S3Bucket, config.S3Prefix)
	default:
		return nil, fmt.Errorf("unsupported event sink type: %s", config.Type)
	}
}

// OpenSink cria o sink configurado e degrada para o console se ele estiver
// inalcançável ou mal configurado: o log de segurança nunca derruba o serviço
func OpenSink(ctx context.Context, config SinkConfig, logger domain.Logger) domain.EventSink {
	sink, err := CreateSink(ctx, config, logger)
	if err != nil {
		logger.Error("Security event sink unavailable, falling back to console", err, map[string]interface{}{
			"sink": string(config.Type),
		})
		return NewConsoleSink(logger)
	}

	logger.Info("Security event sink created successfully", map[string]interface{}{
		"sink": sink.Name(),
	})
	return sink
}
