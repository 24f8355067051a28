// Package app assembles the archive's process-wide backends. Nothing is
// connected until the first request needs it; concurrent first requests share
// one construction.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/parser"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/reconcile"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/storage/blob"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/storage/cache"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/storage/memory"
	pgstore "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/storage/postgres"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/lazy"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/resilience"
)

// IndexStore is the uncached conversation index, including the lookup the
// reconciler needs.
type IndexStore interface {
	ingestion.ConversationStore
	ContentKeyExists(ctx context.Context, key string) (bool, error)
}

// Backends holds every initialized store client.
type Backends struct {
	Services *ingestion.Services
	// Index bypasses the listing cache.
	Index IndexStore
	Blobs *blob.Store
	// Postgres is nil when postgres is disabled.
	Postgres *postgres.Client
	// Redis is nil when the cache is disabled or was unreachable at startup.
	Redis *pkgredis.Client
	// Events is nil when kafka is disabled.
	Events *collector.BatchCollector

	closers []func() error
}

// Close releases the backends in reverse order of construction.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Runtime hands out Backends, building them on first use.
type Runtime struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	backends  *lazy.Value[*Backends]
	closeOnce sync.Once
	logger    *slog.Logger
}

var _ ingestion.Provider = (*Runtime)(nil)

// New creates a Runtime for cfg. m may be nil.
func New(cfg *config.Config, m *metrics.Metrics) *Runtime {
	r := &Runtime{
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "runtime"),
	}
	r.backends = lazy.New(func(ctx context.Context) (*Backends, error) {
		return build(ctx, cfg, m, r.logger)
	})
	return r
}

// newWithBuilder is used by tests to count constructions.
func newWithBuilder(cfg *config.Config, init lazy.InitFunc[*Backends]) *Runtime {
	return &Runtime{
		cfg:      cfg,
		backends: lazy.New(init),
		logger:   slog.Default().With("component", "runtime"),
	}
}

// Backends returns the initialized backends.
func (r *Runtime) Backends(ctx context.Context) (*Backends, error) {
	return r.backends.Get(ctx)
}

// Services implements ingestion.Provider.
func (r *Runtime) Services(ctx context.Context) (*ingestion.Services, error) {
	b, err := r.backends.Get(ctx)
	if err != nil {
		return nil, err
	}
	return b.Services, nil
}

// RegisterChecks adds readiness checks for the configured backends. A check
// builds the backends if no request has done so yet.
func (r *Runtime) RegisterChecks(checker *health.Checker) {
	checker.Register("blob", r.check(health.StatusDown, func(b *Backends) health.Pinger {
		return b.Blobs
	}))
	if r.cfg.Postgres.Enabled {
		checker.Register("postgres", r.check(health.StatusDown, func(b *Backends) health.Pinger {
			return b.Postgres
		}))
	}
	if r.cfg.Redis.Enabled {
		checker.Register("redis", r.check(health.StatusDegraded, func(b *Backends) health.Pinger {
			if b.Redis == nil {
				return nil
			}
			return b.Redis
		}))
	}
}

func (r *Runtime) check(failed health.Status, pick func(*Backends) health.Pinger) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		b, err := r.backends.Get(ctx)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		p := pick(b)
		if p == nil {
			return health.ComponentHealth{Status: failed, Message: "not connected"}
		}
		if err := p.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: failed, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	}
}

// StartReconciler runs the orphaned-blob pass every reconcile.interval on the
// shared backends until ctx ends, so it needs no second handle on the blob
// directory. It returns nil when no pass is scheduled: the interval is zero,
// or the index is held in memory while blobs are on disk, where every blob
// written before a restart would look orphaned.
func (r *Runtime) StartReconciler(ctx context.Context) <-chan struct{} {
	rc := r.cfg.Reconcile
	if rc.Interval <= 0 {
		return nil
	}
	if !r.cfg.Postgres.Enabled && !r.cfg.Blob.InMemory {
		r.logger.Warn("scheduled reconciliation disabled: index is in memory but blobs are on disk")
		return nil
	}
	return reconcile.StartPeriodic(ctx, rc.Interval,
		reconcile.Config{GracePeriod: rc.GracePeriod, DryRun: rc.DryRun},
		r.metrics,
		func(ctx context.Context) (reconcile.Blobs, reconcile.Index, error) {
			b, err := r.backends.Get(ctx)
			if err != nil {
				return nil, nil, err
			}
			return b.Blobs, b.Index, nil
		})
}

// Close releases the backends if they were ever built.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if b, ok := r.backends.Peek(); ok {
			err = b.Close()
			r.logger.Info("backends closed")
		}
	})
	return err
}

func build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Backends, error) {
	started := time.Now()
	b := &Backends{}
	fail := func(err error) (*Backends, error) {
		if cerr := b.Close(); cerr != nil {
			logger.Error("releasing partial backends failed", "error", cerr)
		}
		return nil, err
	}

	blobs, err := blob.Open(cfg.Blob.Dir, cfg.Blob.InMemory)
	if err != nil {
		return fail(err)
	}
	b.Blobs = blobs
	b.closers = append(b.closers, blobs.Close)
	logger.Info("blob store opened", "dir", cfg.Blob.Dir, "in_memory", cfg.Blob.InMemory)

	var metricStore ingestion.MetricStore
	if cfg.Postgres.Enabled {
		var db *postgres.Client
		err := resilience.Retry(ctx, "postgres connect", resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Retryable:    func(err error) bool { return !postgres.IsPermanent(err) },
		}, func(ctx context.Context) error {
			var err error
			db, err = postgres.New(ctx, cfg.Postgres)
			return err
		})
		if err != nil {
			return fail(fmt.Errorf("connecting to postgres: %w", err))
		}
		b.Postgres = db
		b.closers = append(b.closers, db.Close)
		b.Index = pgstore.NewConversationStore(db)
		metricStore = pgstore.NewMetricStore(db)
		logger.Info("connected to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	} else {
		b.Index = memory.NewConversationStore()
		metricStore = memory.NewMetricStore()
		logger.Warn("postgres disabled, conversations are kept in memory")
	}

	var opts []ingestion.Option
	if m != nil {
		opts = append(opts, ingestion.WithMetrics(m))
	}

	var conversations ingestion.ConversationStore = b.Index
	if cfg.Redis.Enabled {
		rdb, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, listing cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			b.Redis = rdb
			b.closers = append(b.closers, rdb.Close)
			listing := cache.New(rdb, cfg.Redis.CacheTTL, cache.WithMetrics(m))
			conversations = cache.Wrap(b.Index, listing)
			opts = append(opts, ingestion.WithInvalidator(listing))
			logger.Info("listing cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Kafka.Enabled {
		topic := cfg.Kafka.Topics.ConversationEvents
		producer := kafka.NewProducer(cfg.Kafka, topic)
		events := collector.NewBatchCollector(producer, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval)
		eventsCtx, stop := context.WithCancel(context.Background())
		events.Start(eventsCtx)
		b.Events = events
		b.closers = append(b.closers, func() error {
			stop()
			events.Close()
			return producer.Close()
		})
		opts = append(opts, ingestion.WithEvents(events))
		logger.Info("ingestion events enabled", "topic", topic)
	}

	pipeline := ingestion.NewPipeline(
		parser.Default(),
		blobs,
		b.Index,
		metricStore,
		cfg.Archive.BaseURL,
		opts...,
	)
	b.Services = &ingestion.Services{
		Pipeline:      pipeline,
		Conversations: conversations,
		Blobs:         blobs,
	}
	logger.Info("backends ready", "duration_ms", time.Since(started).Milliseconds())
	return b, nil
}
