package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ForecastMCP/internal/domain/repository"
	mid "ForecastMCP/internal/middleware"
	"ForecastMCP/internal/service/stream"
	"ForecastMCP/pkg/cache"
	"ForecastMCP/pkg/config"
	xhttp "ForecastMCP/pkg/http"
	"ForecastMCP/pkg/http/middleware"
	pkgkafka "ForecastMCP/pkg/kafka"
	applogger "ForecastMCP/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	httpHandler xhttp.Handler
	pipeline    *mid.EventPipeline
	hub         *stream.Hub
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	producer    *pkgkafka.Producer
	cache       cache.Service
	store       repository.StudyStore
	httpServer  *xhttp.Server
}

// New creates a new App instance with all dependencies. Optional pieces
// (consumer, producer) may be nil.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	handler xhttp.Handler,
	pipeline *mid.EventPipeline,
	hub *stream.Hub,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	producer *pkgkafka.Producer,
	c cache.Service,
	store repository.StudyStore,
) *App {
	return &App{
		cfg:         cfg,
		logger:      logger,
		httpHandler: handler,
		pipeline:    pipeline,
		hub:         hub,
		consumer:    consumer,
		kh:          kh,
		producer:    producer,
		cache:       c,
		store:       store,
	}
}

// Run starts the application and blocks until interrupted or the listener fails.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.logger, []xhttp.Handler{a.httpHandler}, a.serverOptions()...)

	if a.pipeline != nil {
		a.pipeline.Start(ctx)
	}

	// Start consumer if configured
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.logger.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	errCh := a.httpServer.Start()
	a.logger.Info("server started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("environment", a.cfg.Environment),
		applogger.Bool("tuning", a.cfg.Tuning.Enabled),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case err := <-errCh:
		a.logger.Error("http server error", applogger.Error(err))
		runErr = err
	}

	if err := a.shutdown(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) serverOptions() []xhttp.ServerOption {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(a.cfg.Server.CORS),
		xhttp.WithBodyLimit("8M"),
	}
	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	opts = append(opts, xhttp.WithMetricsPath(metricsPath))
	if a.cfg.Server.RateLimit.Enabled {
		opts = append(opts, xhttp.WithRateLimit(middleware.RateLimitConfig{
			RPS:        a.cfg.Server.RateLimit.RPS,
			Burst:      a.cfg.Server.RateLimit.Burst,
			PathPrefix: "/tool",
			IdleTTL:    10 * time.Minute,
		}))
	}
	return opts
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
		firstErr = err
	}

	// Stop consumer before the producer it may publish through
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.pipeline != nil {
		if err := a.pipeline.Stop(shutdownCtx); err != nil {
			a.logger.Warn("event pipeline stop error", applogger.Error(err), applogger.Int("pending", a.pipeline.Pending()))
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}

	// The collector publishes through the producer
	a.logger.DetachCollector()
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close error", applogger.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return firstErr
}
