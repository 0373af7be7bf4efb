package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowlite/sidecar/internal/api"
	"github.com/flowlite/sidecar/internal/catalog"
	"github.com/flowlite/sidecar/internal/comfy"
	"github.com/flowlite/sidecar/internal/config"
	"github.com/flowlite/sidecar/internal/logging"
	"github.com/flowlite/sidecar/internal/metrics"
	"github.com/flowlite/sidecar/internal/storage"
	"github.com/flowlite/sidecar/internal/transcode"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sidecar HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		return err
	}
	defer logging.Sync()

	logging.Info("FlowLite sidecar starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("comfy", cfg.ComfyURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := comfy.NewClient(cfg.ComfyURL, cfg.ComfyTimeout)
	cache := catalog.New(client, cfg.CatalogTTL)

	store, err := storage.New(storage.Config{
		OutputDir: cfg.OutputDir,
		InputDir:  cfg.InputDir,
		TempDir:   cfg.TempDir,
		MaxBytes:  cfg.MaxImageBytes,
	})
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}

	srv := api.NewServer(cache, transcode.New(store), cfg)

	// Warm the catalog so the first client request doesn't pay for the
	// host's full introspection dump. Failure is fine; the host may still
	// be starting up.
	go func() {
		warmCtx, warmCancel := context.WithTimeout(ctx, cfg.ComfyTimeout)
		defer warmCancel()
		if _, err := cache.Get(warmCtx, false, false); err != nil {
			logging.Warn("catalog warm-up failed", zap.Error(err))
		}
	}()

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	logging.Info("sidecar listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
