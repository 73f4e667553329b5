package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/microservices/gateway"
	"chatrelay/internal/relay"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := app.SetupObservability(ctx, cfg)
	if err != nil {
		logger.Error("telemetry_init_failed", "error", err.Error())
		os.Exit(1)
	}
	defer obs.Shutdown(context.Background())

	registry, closeRegistry, err := app.OpenRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("registry_open_failed", "error", err.Error())
		os.Exit(1)
	}
	defer closeRegistry()

	if cfg.RegistryBackend == config.BackendMemory {
		logger.Warn("gateway_memory_registry",
			"detail", "connections are not shared between gateway instances",
		)
	}
	if cfg.CallbackEndpoint == "" {
		logger.Warn("gateway_no_default_callback_endpoint",
			"detail", "requests without "+gateway.HeaderCallbackEndpoint+" cannot be delivered",
		)
	}

	service := relay.NewService(relay.Deps{
		Registry:       registry,
		Client:         gateway.NewCallbackClient(cfg.CallbackEndpoint, cfg.CallbackTimeout),
		Logger:         logger,
		Observer:       obs.Observer,
		MaxMessageSize: cfg.MaxMessageSize,
	})

	router := app.NewRouter(cfg, registry, obs.Metrics)
	gateway.NewHandler(service).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.GatewayPort),
		Handler: router,
	}
	if err := app.ServeHTTP(ctx, httpServer, logger); err != nil {
		logger.Error("server_error", "error", err.Error())
		stop()
		os.Exit(1)
	}
	logger.Info("gateway_server_stopped")
}
