// Package analytics aggregates ingestion events consumed from Kafka into
// running totals per model, failure counts per stage and duration
// percentiles.
package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/kafka"
)

// maxSamples bounds the duration reservoir; older samples are overwritten.
const maxSamples = 10000

type AggregatedStats struct {
	TotalIngestions     int64            `json:"total_ingestions"`
	Succeeded           int64            `json:"succeeded"`
	Failed              int64            `json:"failed"`
	Structured          int64            `json:"structured"`
	BytesIngested       int64            `json:"bytes_ingested"`
	MessagesExtracted   int64            `json:"messages_extracted"`
	FailuresByStage     map[string]int64 `json:"failures_by_stage"`
	AvgDurationMs       float64          `json:"avg_duration_ms"`
	P50DurationMs       int64            `json:"p50_duration_ms"`
	P95DurationMs       int64            `json:"p95_duration_ms"`
	P99DurationMs       int64            `json:"p99_duration_ms"`
	TopModels           []ModelCount     `json:"top_models"`
	IngestionsPerMinute float64          `json:"ingestions_per_minute"`
	LastIngestedAt      *time.Time       `json:"last_ingested_at,omitempty"`
}

type ModelCount struct {
	Model string `json:"model"`
	Count int64  `json:"count"`
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu        sync.RWMutex
	stats     AggregatedStats
	models    map[string]int64
	durations []int64
	next      int
	startTime time.Time
	now       func() time.Time
	logger    *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		stats:     AggregatedStats{FailuresByStage: make(map[string]int64)},
		models:    make(map[string]int64),
		durations: make([]int64, 0, 1024),
		startTime: time.Now(),
		now:       time.Now,
		logger:    slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes IngestedEvents for a kafka.Consumer. Undecodable
// messages are logged and skipped so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[conversation.IngestedEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode ingestion event",
				"key", string(key),
				"error", err,
			)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// Record folds one event into the running totals.
func (a *Aggregator) Record(event conversation.IngestedEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalIngestions++
	if event.Structured {
		a.stats.Structured++
	}
	switch event.Status {
	case conversation.StatusSuccess:
		a.stats.Succeeded++
		a.stats.BytesIngested += event.SourceHTMLBytes
		a.stats.MessagesExtracted += int64(event.MessageCount)
		a.models[event.Model]++
		ts := event.Timestamp
		if a.stats.LastIngestedAt == nil || ts.After(*a.stats.LastIngestedAt) {
			a.stats.LastIngestedAt = &ts
		}
	case conversation.StatusFailed:
		a.stats.Failed++
		stage := event.FailedStage
		if stage == "" {
			stage = "unknown"
		}
		a.stats.FailuresByStage[stage]++
	}

	if len(a.durations) < maxSamples {
		a.durations = append(a.durations, event.DurationMs)
	} else {
		a.durations[a.next] = event.DurationMs
		a.next = (a.next + 1) % maxSamples
	}
}

// Restore seeds the totals from a persisted snapshot. Duration samples are
// not persisted, so percentiles start over; model counts beyond the
// snapshot's top models are lost.
func (a *Aggregator) Restore(snapshot AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalIngestions = snapshot.TotalIngestions
	a.stats.Succeeded = snapshot.Succeeded
	a.stats.Failed = snapshot.Failed
	a.stats.Structured = snapshot.Structured
	a.stats.BytesIngested = snapshot.BytesIngested
	a.stats.MessagesExtracted = snapshot.MessagesExtracted
	a.stats.LastIngestedAt = snapshot.LastIngestedAt
	a.stats.FailuresByStage = make(map[string]int64, len(snapshot.FailuresByStage))
	for k, v := range snapshot.FailuresByStage {
		a.stats.FailuresByStage[k] = v
	}
	a.models = make(map[string]int64, len(snapshot.TopModels))
	for _, mc := range snapshot.TopModels {
		a.models[mc.Model] = mc.Count
	}
	a.logger.Info("aggregator restored from snapshot", "total_ingestions", snapshot.TotalIngestions)
}

// Stats returns a snapshot of the aggregated totals.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.stats
	stats.FailuresByStage = make(map[string]int64, len(a.stats.FailuresByStage))
	for k, v := range a.stats.FailuresByStage {
		stats.FailuresByStage[k] = v
	}
	if a.stats.LastIngestedAt != nil {
		ts := *a.stats.LastIngestedAt
		stats.LastIngestedAt = &ts
	}

	if len(a.durations) > 0 {
		sorted := make([]int64, len(a.durations))
		copy(sorted, a.durations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, d := range sorted {
			sum += d
		}
		stats.AvgDurationMs = float64(sum) / float64(len(sorted))
		stats.P50DurationMs = percentile(sorted, 50)
		stats.P95DurationMs = percentile(sorted, 95)
		stats.P99DurationMs = percentile(sorted, 99)
	}
	stats.TopModels = topN(a.models, 10)
	elapsed := a.now().Sub(a.startTime).Minutes()
	if elapsed > 0 {
		stats.IngestionsPerMinute = float64(stats.TotalIngestions) / elapsed
	}
	return stats
}

// ModelCount returns the successful ingestions recorded for model.
func (a *Aggregator) ModelCount(model string) (int64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.models[model]
	return n, ok
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []ModelCount {
	result := make([]ModelCount, 0, len(counts))
	for model, count := range counts {
		result = append(result, ModelCount{Model: model, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Model < result[j].Model
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
