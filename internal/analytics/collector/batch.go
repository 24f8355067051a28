// Package collector buffers ingestion events in memory and flushes them to
// Kafka in batches, so publishing never sits on the request path.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/kafka"
)

// Publisher writes a batch of events. *kafka.Producer implements it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

var (
	_ Publisher              = (*kafka.Producer)(nil)
	_ ingestion.EventTracker = (*BatchCollector)(nil)
)

// BatchCollector accumulates events and flushes them either when the batch
// reaches batchSize or after flushInterval, whichever comes first. Failed
// batches are requeued; beyond three batches' worth the oldest events are
// dropped.
type BatchCollector struct {
	publisher     Publisher
	mu            sync.Mutex
	flushMu       sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	started       bool
	done          chan struct{}
}

// NewBatchCollector creates a BatchCollector publishing through publisher.
func NewBatchCollector(publisher Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "batch-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which runs until ctx is
// cancelled and then makes a final flush.
func (bc *BatchCollector) Start(ctx context.Context) {
	bc.mu.Lock()
	bc.started = true
	bc.mu.Unlock()

	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				bc.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("batch collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Track buffers an event. Reaching batchSize triggers a flush in the
// background; Track itself never blocks on Kafka.
func (bc *BatchCollector) Track(key string, value any) {
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, eventFor(key, value))
	shouldFlush := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if shouldFlush {
		go bc.Flush(context.Background())
	}
}

// Close waits for the flush loop started by Start to finish. It returns
// immediately if Start was never called.
func (bc *BatchCollector) Close() {
	bc.mu.Lock()
	started := bc.started
	bc.mu.Unlock()
	if started {
		<-bc.done
	}
}

// BufferLen returns the current number of buffered events.
func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

// Flush publishes everything buffered so far.
func (bc *BatchCollector) Flush(ctx context.Context) {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()

	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	if err := bc.publisher.PublishBatch(ctx, batch); err != nil {
		bc.logger.Error("batch flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		bc.requeue(batch)
		return
	}

	bc.logger.Debug("batch flushed", "events", len(batch))
}

func (bc *BatchCollector) requeue(batch []kafka.Event) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.buffer = append(batch, bc.buffer...)
	limit := bc.batchSize * 3
	if len(bc.buffer) > limit {
		dropped := len(bc.buffer) - limit
		bc.buffer = bc.buffer[dropped:]
		bc.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
	}
}

// IngestedEventType labels ingestion outcomes on the wire.
const IngestedEventType = "conversation.ingested"

// eventFor stamps ingestion events with their type and time.
func eventFor(key string, value any) kafka.Event {
	event := kafka.Event{Key: key, Value: value}
	if ingested, ok := value.(conversation.IngestedEvent); ok {
		event.Type = IngestedEventType
		event.Time = ingested.Timestamp
	}
	return event
}
