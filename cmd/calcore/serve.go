package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appLog "calcore/internal/log"
	"calcore/internal/metrics"
	"calcore/internal/pipeline"
	"calcore/internal/source"
	"calcore/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversion and expansion API",
		Long: `Serve starts an HTTP server exposing:
  POST /api/convert   convert the request body between encodings
  GET  /api/expand    occurrences of the subscribed sources
  POST /api/expand    occurrences of the request body
  GET  /api/calendar  the subscribed sources as one calendar
  GET  /api/sources   outcome of the last refresh
  POST /api/refresh   refresh the sources now
  GET  /metrics       Prometheus metrics
  GET  /health        liveness

Sources are refreshed on the config's cron schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Listen = listen
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(parent context.Context, a *app) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	appLog.Info("calcore starting",
		"version", version,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"sources", len(cfg.Sources),
		"strictness", cfg.Strictness,
	)

	provider, err := metrics.NewProvider("calcore", version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			appLog.Error("metrics shutdown failed", err)
		}
	}()

	pipe := pipeline.New(pipeline.OptionsFromConfig(cfg, provider.Metrics()))
	refresher := web.NewRefresher(source.NewFetcher(cfg.CacheDir), pipe, cfg.SourceList())
	if err := refresher.Start(ctx, cfg.RefreshCron); err != nil {
		return err
	}
	defer refresher.Stop()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(cfg, pipe, refresher, provider).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}
	appLog.Info("calcore exiting")
	return nil
}
