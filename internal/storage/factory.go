package storage

import (
	"errors"
	"fmt"
	"strings"

	"security-monitor/internal/domain"
)

// StorageType define o backend dos contadores
type StorageType string

const (
	RedisStorageType  StorageType = "redis"
	MemoryStorageType StorageType = "memory"
)

// StorageConfig descreve o backend dos contadores de janela fixa
type StorageConfig struct {
	Type        StorageType
	RedisConfig *RedisConfig
}

// RedisConfig contém configurações específicas do Redis
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	Database int
}

// Validate retorna todas as violações da configuração, nomeadas pelas variáveis de ambiente
func (c *StorageConfig) Validate() []string {
	if c == nil {
		return []string{"storage config cannot be nil"}
	}

	switch StorageType(strings.ToLower(string(c.Type))) {
	case MemoryStorageType:
		return nil
	case RedisStorageType:
		if c.RedisConfig == nil {
			return []string{"REDIS_HOST and REDIS_PORT are required when STORAGE_TYPE is 'redis'"}
		}
	default:
		return []string{fmt.Sprintf("STORAGE_TYPE must be 'memory' or 'redis' (got %q)", c.Type)}
	}

	var violations []string
	if c.RedisConfig.Host == "" {
		violations = append(violations, "REDIS_HOST is required when STORAGE_TYPE is 'redis'")
	}
	if c.RedisConfig.Port == "" {
		violations = append(violations, "REDIS_PORT is required when STORAGE_TYPE is 'redis'")
	}
	if c.RedisConfig.Database < 0 || c.RedisConfig.Database > 15 {
		violations = append(violations, fmt.Sprintf("REDIS_DB must be between 0 and 15 (got %d)", c.RedisConfig.Database))
	}
	return violations
}

// Stores agrupa os contadores do rate limiter e do classificador.
// Com Redis os dois compartilham a conexão; os prefixos das chaves não colidem.
type Stores struct {
	Limiter    domain.CounterStorage
	Classifier domain.CounterStorage
}

// Close fecha os storages (uma vez só quando compartilhados)
func (s *Stores) Close() error {
	if s.Limiter == s.Classifier {
		return closeStore(s.Limiter)
	}
	return errors.Join(closeStore(s.Limiter), closeStore(s.Classifier))
}

func closeStore(store domain.CounterStorage) error {
	if store == nil {
		return nil
	}
	return store.Close()
}

// StorageFactory cria os storages de contadores seguindo Strategy Pattern.
// memory: contadores aproximados por instância; redis: contadores globais entre réplicas.
type StorageFactory struct{}

// NewStorageFactory cria uma nova instância da factory
func NewStorageFactory() *StorageFactory {
	return &StorageFactory{}
}

// ValidateConfig valida a configuração antes de abrir qualquer conexão
func (f *StorageFactory) ValidateConfig(config *StorageConfig) error {
	violations := config.Validate()
	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("invalid storage config: %s", strings.Join(violations, "; "))
}

// CreateStores cria os storages do limiter e do classificador.
// Em memória cada componente recebe o próprio mapa (tamanhos e eviction independentes).
func (f *StorageFactory) CreateStores(config *StorageConfig, logger domain.Logger) (*Stores, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	switch StorageType(strings.ToLower(string(config.Type))) {
	case RedisStorageType:
		redisConfig := config.RedisConfig
		shared, err := NewRedisStorage(redisConfig.Host, redisConfig.Port, redisConfig.Password, redisConfig.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis storage: %w", err)
		}
		if logger != nil {
			logger.Info("Counter storage ready", map[string]interface{}{
				"type":     string(RedisStorageType),
				"host":     redisConfig.Host,
				"port":     redisConfig.Port,
				"database": redisConfig.Database,
			})
		}
		return &Stores{Limiter: shared, Classifier: shared}, nil
	default:
		if logger != nil {
			logger.Info("Counter storage ready", map[string]interface{}{
				"type": string(MemoryStorageType),
			})
		}
		return &Stores{
			Limiter:    NewMemoryStorage(logger),
			Classifier: NewMemoryStorage(logger),
		}, nil
	}
}

// BuildStorageConfigFromEnv constrói configuração de storage a partir de variáveis de ambiente
func BuildStorageConfigFromEnv(storageType, redisHost, redisPort, redisPassword string, redisDB int) *StorageConfig {
	config := &StorageConfig{
		Type: StorageType(strings.ToLower(storageType)),
	}

	if config.Type == RedisStorageType {
		config.RedisConfig = &RedisConfig{
			Host:     redisHost,
			Port:     redisPort,
			Password: redisPassword,
			Database: redisDB,
		}
	}

	return config
}
