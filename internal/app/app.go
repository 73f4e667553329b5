// Package app holds the bootstrap shared by the relay and gateway servers:
// registry backend selection, observability and the base HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chatrelay/database"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/microservices/health"
	"chatrelay/internal/relay"
	"chatrelay/internal/repository"
	"chatrelay/internal/storage/redisstore"
	"chatrelay/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 10 * time.Second

// OpenRegistry opens the backend named by cfg.RegistryBackend.
// The returned close func releases its connections.
func OpenRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (relay.Registry, func(), error) {
	switch cfg.RegistryBackend {
	case config.BackendMemory:
		logger.Info("registry_backend_selected", "backend", cfg.RegistryBackend)
		return relay.NewMemoryRegistry(), func() {}, nil

	case config.BackendRedis:
		reg, err := redisstore.NewRegistry(cfg.RedisURL, cfg.RedisPassword, cfg.RedisRegistryKey)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("registry_backend_selected",
			"backend", cfg.RegistryBackend,
			"redis_addr", reg.Addr(),
			"key", cfg.RedisRegistryKey,
		)
		return reg, func() { reg.Close() }, nil

	case config.BackendPostgres:
		pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		gdb, err := database.OpenGorm(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := database.Migrate(gdb, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("registry_backend_selected", "backend", cfg.RegistryBackend)
		return repository.NewConnectionRepository(gdb), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}
}

// Observability bundles the metrics registry, the relay observer and the
// tracer shutdown hook.
type Observability struct {
	Metrics  *prometheus.Registry // nil when metrics are disabled
	Observer relay.Observer       // nil when metrics are disabled
	Shutdown telemetry.ShutdownFunc
}

func SetupObservability(ctx context.Context, cfg *config.Config) (*Observability, error) {
	shutdown, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	obs := &Observability{Shutdown: shutdown}
	if cfg.MetricsEnabled {
		obs.Metrics = metrics.NewRegistry()
		obs.Observer = metrics.NewRelayMetrics(obs.Metrics)
	}
	return obs, nil
}

// NewRouter returns a gin engine with access logging, recovery, /healthz and,
// when enabled, /metrics.
func NewRouter(cfg *config.Config, registry relay.Registry, promReg *prometheus.Registry) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.GET("/healthz", health.NewHandler(registry).Healthz)
	if promReg != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(promReg)))
	}
	return r
}

// ServeHTTP runs srv until ctx is cancelled, then shuts it down gracefully
func ServeHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("http_server_started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("http_server_stopped", "addr", srv.Addr)
	return nil
}
