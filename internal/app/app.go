package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"

	"security-monitor/internal/domain"
	"security-monitor/internal/events"
	"security-monitor/internal/filter"
	"security-monitor/internal/handler"
	"security-monitor/internal/identity"
	"security-monitor/internal/middleware"
	"security-monitor/internal/service"
	"security-monitor/internal/telemetry"
)

// AdminRole é o papel exigido pelas rotas /admin
const AdminRole = "admin"

// Options reúne a configuração e as dependências externas do motor de monitoramento
type Options struct {
	Config            *domain.MonitorConfig
	Production        bool
	JWTSigningKey     string
	LimiterStorage    domain.CounterStorage
	ClassifierStorage domain.CounterStorage
	Sink              domain.EventSink
	Logger            domain.Logger
	Metrics           *telemetry.Metrics
	EmitterOptions    []events.EmitterOption

	// Middlewares globais aplicados antes do pipeline (ex.: access log)
	Middlewares []gin.HandlerFunc
}

// App monta os componentes e o router HTTP
type App struct {
	Router      *gin.Engine
	RateLimiter *service.RateLimiterService
	Classifier  *service.FrequencyClassifier
	Emitter     *events.Emitter
	Sweeper     *events.RetentionSweeper

	options Options
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// New cria os componentes e registra as rotas.
// Ordem do pipeline: monitor -> rate limiter -> claims -> filtro de resposta -> handler.
func New(opts Options) *App {
	cfg := opts.Config

	// o console é o destino dos lotes que o sink configurado recusa
	fallback := events.NewConsoleSink(opts.Logger)
	emitter := events.NewEmitter(opts.Sink, fallback, cfg.EventLog, opts.Logger, opts.Metrics, opts.EmitterOptions...)
	sweeper := events.NewRetentionSweeper(opts.Sink, cfg.EventLog, opts.Logger, opts.Metrics)

	rateLimiter := service.NewRateLimiterService(opts.LimiterStorage, &cfg.RateLimit, opts.Logger, opts.Metrics)
	classifier := service.NewFrequencyClassifier(opts.ClassifierStorage, cfg.Classifier, emitter, opts.Logger, opts.Metrics)
	resolver := identity.NewResolver(cfg.Identity)
	fieldFilter := filter.NewFieldFilter(cfg.FieldFilter, opts.Logger, opts.Metrics)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(opts.Middlewares...)

	handlers := handler.NewHandlers(handler.Dependencies{
		RateLimiter: rateLimiter,
		Storage:     opts.LimiterStorage,
		Emitter:     emitter,
		Classifier:  classifier,
		Logger:      opts.Logger,
		AdminAuth: []gin.HandlerFunc{
			middleware.NewClaimsMiddleware(opts.JWTSigningKey, opts.Logger),
			middleware.NewRequireRoleMiddleware(AdminRole, opts.Logger),
		},
	})

	handlers.SetupRoutes(router,
		middleware.NewMonitorMiddleware(resolver, classifier, emitter, middleware.MonitorOptions{
			IntrospectionPath: cfg.RateLimit.IntrospectionEndpointPath,
			MonitorEvents:     cfg.EventLog.MonitorEvents,
			Production:        opts.Production,
		}, opts.Logger),
		middleware.NewRateLimiterMiddleware(rateLimiter, resolver, opts.Logger),
		middleware.NewClaimsMiddleware(opts.JWTSigningKey, opts.Logger),
		middleware.NewResponseFilterMiddleware(fieldFilter, opts.Logger),
	)

	return &App{
		Router:      router,
		RateLimiter: rateLimiter,
		Classifier:  classifier,
		Emitter:     emitter,
		Sweeper:     sweeper,
		options:     opts,
	}
}

// Start inicia o loop de flush e as tarefas de fundo (retenção e eviction)
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.Emitter.Start()

	a.run(func() { a.Sweeper.Run(ctx) })
	a.run(func() { a.Classifier.RunEviction(ctx) })
	a.run(func() { a.RateLimiter.RunEviction(ctx, a.options.Config.Classifier.EvictionInterval) })
}

func (a *App) run(task func()) {
	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		task()
	}()
}

// Shutdown para as tarefas de fundo e drena o emissor dentro do prazo do contexto
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	stopped := make(chan struct{})
	go func() {
		a.workers.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		return fmt.Errorf("background tasks did not stop in time: %w", ctx.Err())
	}

	return a.Emitter.Shutdown(ctx)
}
