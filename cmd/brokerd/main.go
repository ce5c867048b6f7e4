package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/outcatcher/gopsub/internal/broker"
	"github.com/outcatcher/gopsub/internal/config"
	"github.com/outcatcher/gopsub/internal/logging"
	"github.com/outcatcher/gopsub/internal/metrics"
	"github.com/outcatcher/gopsub/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	metricsRegistry := metrics.NewRegistry()
	b := broker.New(logger, metricsRegistry)
	listener := transport.New(cfg, logger, b, metricsRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := listener.Start(ctx); err != nil {
		logger.Fatal("listener start failed", zap.Error(err))
	}
	fmt.Printf("PSUB_PORT=%d\n", listener.Port())
	logger.Info("broker started", zap.Int("port", listener.Port()))

	var httpErrCh chan error
	if cfg.Metrics.Enabled {
		httpErrCh = make(chan error, 1)
		go func() {
			httpErrCh <- runHTTPServer(ctx, cfg, b, metricsRegistry, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("metrics http server error", zap.Error(err))
		}
		stop()
	}

	listener.Stop()
	logger.Info("broker stopped")
}

func runHTTPServer(ctx context.Context, cfg config.Config, b *broker.Broker, reg *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"clients":   b.ClientCount(),
			"topics":    b.TopicCount(),
		})
	})

	mux.Handle(cfg.Metrics.Endpoint, reg.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
