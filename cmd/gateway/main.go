// cmd/gateway/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alarm-gateway/internal/anomaly"
	"alarm-gateway/internal/api"
	"alarm-gateway/internal/config"
	"alarm-gateway/internal/data"
	"alarm-gateway/internal/logger"
	"alarm-gateway/internal/metrics"
	"alarm-gateway/internal/processor"
	"alarm-gateway/internal/storage"
	"alarm-gateway/internal/websocket"

	"github.com/spf13/pflag"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "alarm-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// --- Configuration ---
	fs := pflag.NewFlagSet("gateway", pflag.ExitOnError)
	config.Flags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	configPath, _ := fs.GetString("config")

	cfg, err := config.Load(configPath, fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	root, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Component(root, "gateway")
	log.Info().
		Str("version", Version).
		Int("port", cfg.Server.Port).
		Int("history_max_size", cfg.History.MaxSize).
		Dur("tick_interval", cfg.Processor.TickInterval).
		Msg("starting alarm gateway")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Initialize Components ---
	m := metrics.New()
	store := storage.NewHistoryStore(cfg.History.MaxSize)
	builder := data.NewBuilder(anomaly.NewDetector(cfg.Processor.Threshold), nil)
	log.Info().Float64("threshold", builder.Threshold()).Msg("record builder ready")

	hub := websocket.NewHub(logger.Component(root, "websocket"), m)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	proc := processor.New(builder, store, hub,
		processor.WithInterval(cfg.Processor.TickInterval),
		processor.WithMetrics(m),
		processor.WithLogger(logger.Component(root, "processor")),
	)

	apiHandler := api.NewAPIHandler(builder, proc, store, hub, m, logger.Component(root, "api"))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.SetupRouter(apiHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	proc.Start()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// --- Graceful Shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-serverErr:
		if runErr != nil {
			log.Error().Err(runErr).Msg("http server failed")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	proc.Stop()
	stopHub()

	log.Info().Msg("alarm gateway stopped")
	return runErr
}
