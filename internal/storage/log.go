package storage

import (
	"security-monitor/internal/domain"
)

// storageEventLogger é implementado pelo logger estruturado
type storageEventLogger interface {
	LogStorageEvent(operation string, key string, success bool, latency float64, err error)
}

// logStorageOperation registra uma operação de storage, usando o formato
// dedicado do logger estruturado quando disponível
func logStorageOperation(log domain.Logger, operation, key string, success bool, latency float64, err error) {
	if log == nil {
		return
	}

	if structured, ok := log.(storageEventLogger); ok {
		structured.LogStorageEvent(operation, key, success, latency, err)
		return
	}

	fields := map[string]interface{}{
		"operation":  operation,
		"key":        key,
		"success":    success,
		"latency_ms": latency,
	}
	if err != nil {
		log.Error("Storage operation failed", err, fields)
		return
	}
	log.Debug("Storage operation completed", fields)
}
