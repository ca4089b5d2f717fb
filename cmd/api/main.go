package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"security-monitor/internal/app"
	"security-monitor/internal/config"
	"security-monitor/internal/domain"
	"security-monitor/internal/events"
	"security-monitor/internal/logger"
	"security-monitor/internal/storage"
	"security-monitor/internal/telemetry"
)

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	cfg, err := configLoader.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Obter configurações do servidor
	serverConfig := configLoader.GetConfig()

	// Inicializar logger
	appLogger := logger.NewLogger(serverConfig.LogLevel, serverConfig.LogFormat)
	appLogger.Info("Starting Security Monitor API", map[string]interface{}{
		"version":     "1.0.0",
		"environment": serverConfig.Environment,
		"log_level":   serverConfig.LogLevel,
		"port":        serverConfig.ServerPort,
	})

	for _, warning := range configLoader.Warnings() {
		appLogger.Warn("Configuration warning", map[string]interface{}{"detail": warning})
	}

	metrics, err := telemetry.New(nil)
	if err != nil {
		appLogger.Warn("Metrics disabled", map[string]interface{}{"error": err.Error()})
		metrics = telemetry.NewNoop()
	}

	// Storage dos contadores do limiter e do classificador
	storageFactory := storage.NewStorageFactory()
	storageConfig := storage.BuildStorageConfigFromEnv(
		serverConfig.StorageType,
		serverConfig.RedisHost,
		serverConfig.RedisPort,
		serverConfig.RedisPassword,
		serverConfig.RedisDB,
	)

	stores := mustCreateStores(storageFactory, storageConfig, appLogger)

	// Sink dos eventos de segurança (console quando o destino configurado não está disponível)
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	sink := events.OpenSink(startupCtx, events.SinkConfig{
		Type:             events.SinkType(serverConfig.SecurityLogSink),
		ConnectionString: serverConfig.SecurityLogsConnectionString,
		S3Bucket:         serverConfig.SecurityLogS3Bucket,
		S3Prefix:         serverConfig.SecurityLogS3Prefix,
		AWSRegion:        serverConfig.AWSRegion,
	}, appLogger)
	startupCancel()

	// Configurar Gin
	if serverConfig.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	monitor := app.New(app.Options{
		Config:            cfg,
		Production:        serverConfig.Environment == "production",
		JWTSigningKey:     serverConfig.JWTSigningKey,
		LimiterStorage:    stores.Limiter,
		ClassifierStorage: stores.Classifier,
		Sink:              sink,
		Logger:            appLogger,
		Metrics:           metrics,
		Middlewares: []gin.HandlerFunc{
			// Middleware de logging customizado
			gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
				return fmt.Sprintf("[%s] \"%s %s %s %d %s \"%s\" %s\"\n",
					param.TimeStamp.Format("2006/01/02 - 15:04:05"),
					param.Method,
					param.Path,
					param.Request.Proto,
					param.StatusCode,
					param.Latency,
					param.Request.UserAgent(),
					param.ErrorMessage,
				)
			}),
		},
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	monitor.Start(rootCtx)

	// Configurar servidor HTTP
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", serverConfig.ServerPort),
		Handler:      monitor.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Iniciar servidor em goroutine
	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": serverConfig.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	// Aguardar sinais de interrupção
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("Security Monitor API is running", map[string]interface{}{
		"port":    serverConfig.ServerPort,
		"storage": serverConfig.StorageType,
		"sink":    sink.Name(),
		"endpoints": []string{
			"GET  /health",
			"GET  /metrics",
			"GET  /admin/status",
			"POST /admin/reset",
			"GET  /                    (monitored)",
			"POST /connect/token       (monitored)",
			"POST /connect/introspect  (monitored)",
			"GET  /api/clients         (monitored)",
		},
		"rate_limits": map[string]interface{}{
			"global":        policySummary(cfg.RateLimit.Global),
			"token":         policySummary(cfg.RateLimit.Token),
			"introspection": policySummary(cfg.RateLimit.Introspection),
		},
	})

	// Bloquear até receber sinal
	<-quit
	appLogger.Info("Shutting down server...", nil)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
	}

	// Drena a fila de eventos antes de fechar os destinos
	if err := monitor.Shutdown(ctx); err != nil {
		appLogger.Error("Security event queue not fully drained", err, nil)
	}

	closeQuietly(appLogger, "counter storage", stores)
	closeQuietly(appLogger, "event sink", sink)

	appLogger.Info("Server stopped gracefully", nil)
}

func mustCreateStores(factory *storage.StorageFactory, cfg *storage.StorageConfig, appLogger domain.Logger) *storage.Stores {
	if err := factory.ValidateConfig(cfg); err != nil {
		appLogger.Error("Invalid counter storage configuration", err, nil)
		os.Exit(1)
	}

	stores, err := factory.CreateStores(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to create counter storage", err, map[string]interface{}{
			"type": string(cfg.Type),
		})
		os.Exit(1)
	}
	return stores
}

func policySummary(policy domain.RateLimitPolicy) string {
	return fmt.Sprintf("%d/%s", policy.Limit, policy.Window)
}

func closeQuietly(appLogger domain.Logger, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		appLogger.Warn("Failed to close resource", map[string]interface{}{
			"resource": name,
			"error":    err.Error(),
		})
	}
}
