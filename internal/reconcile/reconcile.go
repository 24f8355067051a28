// Package reconcile removes blobs that no index row references. Ingestion
// writes the blob before the index row and never rolls back, so a failed
// insert leaves its blob behind.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/metrics"
)

// Blobs is the part of the blob store the reconciler walks and prunes.
type Blobs interface {
	Walk(ctx context.Context, fn func(key string, storedAt time.Time) error) error
	Delete(ctx context.Context, key string) error
}

// Index answers whether a content key is still referenced.
type Index interface {
	ContentKeyExists(ctx context.Context, key string) (bool, error)
}

// Config controls one pass.
type Config struct {
	// GracePeriod skips blobs younger than this, so an ingestion that has
	// written its blob but not yet its row is left alone.
	GracePeriod time.Duration
	// DryRun reports orphans without deleting them.
	DryRun bool
}

// Report summarizes a pass.
type Report struct {
	Scanned int      `json:"scanned"`
	Skipped int      `json:"skipped_recent"`
	Orphans []string `json:"orphans"`
	Deleted int      `json:"deleted"`
	Failed  int      `json:"failed"`
	DryRun  bool     `json:"dry_run"`
}

type Reconciler struct {
	blobs   Blobs
	index   Index
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Reconciler. m may be nil.
func New(blobs Blobs, index Index, cfg Config, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		blobs:   blobs,
		index:   index,
		cfg:     cfg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default().With("component", "reconciler"),
	}
}

// Run makes one pass over the blob store. Keys are collected first and
// checked against the index afterwards, so no store transaction stays open
// while the index is queried. A failed delete is counted and the pass goes on.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	started := r.now()
	cutoff := started.Add(-r.cfg.GracePeriod)
	report := &Report{Orphans: []string{}, DryRun: r.cfg.DryRun}

	var candidates []string
	err := r.blobs.Walk(ctx, func(key string, storedAt time.Time) error {
		report.Scanned++
		if storedAt.After(cutoff) {
			report.Skipped++
			return nil
		}
		candidates = append(candidates, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking blobs: %w", err)
	}

	for _, key := range candidates {
		exists, err := r.index.ContentKeyExists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("checking index for %s: %w", key, err)
		}
		if exists {
			continue
		}
		report.Orphans = append(report.Orphans, key)
		if r.cfg.DryRun {
			r.count("reported")
			r.logger.Info("orphaned blob found", "key", key)
			continue
		}
		if err := r.blobs.Delete(ctx, key); err != nil {
			report.Failed++
			r.count("failed")
			r.logger.Error("deleting orphaned blob failed", "key", key, "error", err)
			continue
		}
		report.Deleted++
		r.count("deleted")
		r.logger.Info("orphaned blob deleted", "key", key)
	}

	r.logger.Info("reconciliation finished",
		"scanned", report.Scanned,
		"skipped_recent", report.Skipped,
		"orphans", len(report.Orphans),
		"deleted", report.Deleted,
		"failed", report.Failed,
		"dry_run", report.DryRun,
		"duration_ms", r.now().Sub(started).Milliseconds(),
	)
	return report, nil
}

// Source supplies the stores for one pass.
type Source func(ctx context.Context) (Blobs, Index, error)

// StartPeriodic launches a goroutine that runs a pass every interval until ctx
// ends. Stores are fetched from src at each tick, so a pass can wait for
// backends that are built lazily. The returned channel closes when the
// goroutine exits.
func StartPeriodic(ctx context.Context, interval time.Duration, cfg Config, m *metrics.Metrics, src Source) <-chan struct{} {
	logger := slog.Default().With("component", "reconciler")
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				blobs, index, err := src(ctx)
				if err != nil {
					logger.Error("scheduled reconciliation skipped", "error", err)
					continue
				}
				if _, err := New(blobs, index, cfg, m).Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("scheduled reconciliation failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	logger.Info("periodic reconciliation started", "interval", interval, "grace_period", cfg.GracePeriod, "dry_run", cfg.DryRun)
	return done
}

func (r *Reconciler) count(action string) {
	if r.metrics != nil {
		r.metrics.OrphanBlobsTotal.WithLabelValues(action).Inc()
	}
}
