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

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/microservices/tcp"
	"chatrelay/internal/microservices/websocket"
	"chatrelay/internal/relay"
)

func main() {
	// Load config (fallback to env/default)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateRelayServer(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
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

	// every socket of this process, WebSocket and TCP alike
	local := relay.NewLocalDelivery()
	defer local.CloseAll()

	service := relay.NewService(relay.Deps{
		Registry:       registry,
		Client:         local,
		Logger:         logger,
		Observer:       obs.Observer,
		MaxMessageSize: cfg.MaxMessageSize,
	})

	router := app.NewRouter(cfg, registry, obs.Metrics)
	wsHandler := websocket.NewHandler(service, local, websocket.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		WriteTimeout:   cfg.WriteTimeout,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	})
	router.GET("/ws", wsHandler.WSHandler())

	tcpErr := make(chan error, 1)
	if cfg.TCPPort > 0 {
		tcpServer := tcp.NewServer(fmt.Sprintf(":%d", cfg.TCPPort), service, local, tcp.Options{
			WriteTimeout:  cfg.WriteTimeout,
			RateLimit:     cfg.RateLimit,
			RateBurst:     cfg.RateBurst,
			ShutdownGrace: time.Second, // let the shutdown notice flush before closing
		})
		go func() {
			if err := tcpServer.Start(); err != nil {
				tcpErr <- err
			}
		}()
		// runs before local.CloseAll: TCP clients get the shutdown notice first
		defer tcpServer.Stop()
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- app.ServeHTTP(ctx, httpServer, logger)
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
		if err := <-httpErr; err != nil {
			logger.Error("http_shutdown_failed", "error", err.Error())
		}
	case err := <-httpErr:
		// nil only after a signal raced this select
		if err != nil {
			logger.Error("server_error", "error", err.Error())
			stop()
			os.Exit(1)
		}
	case err := <-tcpErr:
		logger.Error("server_error", "error", err.Error())
		stop()
		os.Exit(1)
	}
	logger.Info("relay_server_stopping")
}
