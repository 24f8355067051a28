// Command analytics starts the standalone ingestion analytics service.
//
// It consumes conversation ingestion events from Kafka, aggregates them in
// memory (outcomes, failures by stage, latency percentiles, top models) and
// serves the totals at GET /api/v1/analytics. When postgres is enabled the
// totals are snapshotted periodically and restored on startup.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	checker := health.NewChecker()

	var snapshots *aggregator.Store
	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checker.Register("postgres", health.PingCheck(db))

		snapshots = aggregator.NewStore(db)
		latest, err := snapshots.LatestSnapshot(ctx)
		if err != nil {
			slog.Warn("could not load latest snapshot, starting from zero", "error", err)
		} else if latest != nil {
			agg.Restore(*latest)
			slog.Info("restored analytics snapshot", "total_ingestions", latest.TotalIngestions)
		}
		snapshots.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
	}

	topic := cfg.Kafka.Topics.ConversationEvents
	consumer := kafka.NewConsumer(cfg.Kafka, topic, analytics.HandleEvent(agg))
	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- consumer.Start(ctx)
	}()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		select {
		case err := <-consumerErr:
			consumerErr <- err
			return health.ComponentHealth{Status: health.StatusDown, Message: fmt.Sprintf("consumer stopped: %v", err)}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
		}
	})
	slog.Info("analytics consumer started", "topic", topic, "group", cfg.Kafka.ConsumerGroup)

	var lister analytics.SnapshotLister
	if snapshots != nil {
		lister = snapshots
	}
	analyticsHandler := analytics.NewHandler(agg, lister)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", analyticsHandler.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
