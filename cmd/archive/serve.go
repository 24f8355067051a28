package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/app"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion/router"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves POST/GET /api/conversation, GET /api/conversation/{id} and the
health probes. Store connections are opened on the first request that needs
them. When reconcile.interval is set, orphaned blobs are collected in the
background on the same stores. SIGINT or SIGTERM drains in-flight requests and
exits.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	slog.Info("starting conversation archive", "port", cfg.Server.Port)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(ctx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	rt := app.New(cfg, m)
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("closing backends", "error", err)
		}
	}()

	checker := health.NewChecker()
	rt.RegisterChecks(checker)

	h := handler.New(rt, handler.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		DefaultModel:   cfg.Archive.DefaultModel,
	})
	opts := router.Options{
		Metrics:        m,
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if cfg.Server.UploadsPerMinute > 0 {
		opts.UploadLimiter = ratelimit.New(cfg.Server.UploadsPerMinute, time.Minute)
		defer opts.UploadLimiter.Stop()
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, checker, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if reconciled := rt.StartReconciler(ctx); reconciled != nil {
		defer func() {
			stop()
			<-reconciled
		}()
	}
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("archive listening", "addr", server.Addr, "base_url", cfg.Archive.BaseURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("archive stopped")
	return nil
}
