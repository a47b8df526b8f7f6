package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autosave/internal/config"
	"autosave/internal/scheduler"

	"github.com/spf13/cobra"
)

func newServeCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, metrics endpoint and insight digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, setupLogger(os.Stdout, cfg))
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting application",
		slog.String("name", appName),
		slog.String("storage", cfg.Storage.Driver))

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}

	var digest *scheduler.Scheduler
	if cfg.Digest.Enabled {
		digest = scheduler.NewScheduler(context.WithoutCancel(ctx), a.rules, a.analytics, a.notifications, cfg.Digest.Period, logger)
		if err := digest.RegisterDigest(cfg.Digest.Cron); err != nil {
			return err
		}
		digest.Start()
	}

	metricsServer := a.metrics.StartMetricsServer(cfg.Server.MetricsAddr)
	httpServer, serveErr := startHTTPServer(a, cfg.Server.Addr, logger)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-serveErr:
		logger.Error("HTTP server failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}
	if digest != nil {
		if err := digest.Stop(shutdownCtx); err != nil {
			logger.Error("Scheduler shutdown failed", slog.String("error", err.Error()))
		}
	}
	a.shutdown(shutdownCtx)

	logger.Info("Application shutdown complete")
	return err
}

func startHTTPServer(a *app, addr string, logger *slog.Logger) (*http.Server, <-chan error) {
	mux := http.NewServeMux()

	a.handler.RegisterRoutes(mux)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	return server, errCh
}
