package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/tracing"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageParse   Stage = "parse"
	StageBlob    Stage = "blob"
	StageIndex   Stage = "index"
	StageMetrics Stage = "metrics"
)

// StageError reports which stage stopped the pipeline.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the failed stage recorded in err, or "".
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Request is one submission.
type Request struct {
	Raw        []byte
	Model      string
	Structured bool
	// ReceivedAt is when the request arrived; durations are measured from it.
	ReceivedAt time.Time
	RequestID  string
}

// Result describes a successful ingestion.
type Result struct {
	Record       *conversation.Record
	URL          string
	Duration     time.Duration
	MessageCount int
}

// Pipeline coordinates the parse, blob, index and metrics stages.
type Pipeline struct {
	parsers       Parsers
	blobs         BlobStore
	conversations ConversationStore
	metricStore   MetricStore
	baseURL       string

	events      EventTracker
	invalidator Invalidator
	metrics     *metrics.Metrics
	newID       func() string
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEvents publishes an IngestedEvent for every attempt.
func WithEvents(events EventTracker) Option {
	return func(p *Pipeline) { p.events = events }
}

// WithInvalidator is called after every successful ingestion.
func WithInvalidator(inv Invalidator) Option {
	return func(p *Pipeline) { p.invalidator = inv }
}

// WithMetrics records Prometheus metrics for each attempt.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator overrides conversation id generation.
func WithIDGenerator(newID func() string) Option {
	return func(p *Pipeline) { p.newID = newID }
}

// WithLogger overrides the pipeline's base logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a Pipeline. Locators are built from baseURL.
func NewPipeline(
	parsers Parsers,
	blobs BlobStore,
	conversations ConversationStore,
	metricStore MetricStore,
	baseURL string,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		parsers:       parsers,
		blobs:         blobs,
		conversations: conversations,
		metricStore:   metricStore,
		baseURL:       strings.TrimRight(baseURL, "/"),
		newID:         uuid.NewString,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        slog.Default().With("component", "ingestion-pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Locator returns the public URL of conversation id.
func (p *Pipeline) Locator(id string) string {
	return p.baseURL + "/conversation/" + id
}

// Ingest runs all four stages for req. On failure the returned error is a
// *StageError and everything written by earlier stages stays in place.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	started := req.ReceivedAt
	if started.IsZero() {
		started = p.now()
	}
	ctx, root := tracing.StartSpan(ctx, "ingest", req.RequestID)
	root.SetAttr("model", req.Model)
	root.SetAttr("structured", req.Structured)
	defer func() {
		root.End()
		root.Log(p.log(ctx))
	}()

	var conv *conversation.Conversation
	err := p.stage(ctx, StageParse, func(ctx context.Context) error {
		var err error
		conv, err = p.parse(req)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, req, started, nil, err)
	}

	id := p.newID()
	var contentKey string
	err = p.stage(ctx, StageBlob, func(ctx context.Context) error {
		var err error
		contentKey, err = p.blobs.Store(ctx, id, []byte(conv.Content))
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, req, started, conv, err)
	}

	var record *conversation.Record
	err = p.stage(ctx, StageIndex, func(ctx context.Context) error {
		var err error
		record, err = p.conversations.Insert(ctx, &conversation.Record{
			ID:              id,
			Model:           conv.Model,
			ScrapedAt:       conv.ScrapedAt,
			SourceHTMLBytes: conv.SourceHTMLBytes,
			Views:           0,
			ContentKey:      contentKey,
		})
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, req, started, conv, err)
	}

	ended := p.now()
	duration := nonNegative(ended.Sub(started))
	err = p.stage(ctx, StageMetrics, func(ctx context.Context) error {
		_, err := p.metricStore.Insert(ctx, &conversation.MetricRecord{
			ConversationID:  &record.ID,
			ScrapeStartedAt: started,
			ScrapeEndedAt:   ended,
			DurationMs:      duration.Milliseconds(),
			Status:          conversation.StatusSuccess,
		})
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, req, started, conv, err)
	}

	if p.invalidator != nil {
		p.invalidator.Invalidate(ctx)
	}
	p.observe(conversation.StatusSuccess, "", conv.SourceHTMLBytes, duration)
	p.track(req, conversation.IngestedEvent{
		ConversationID:  record.ID,
		Model:           record.Model,
		Structured:      req.Structured,
		SourceHTMLBytes: record.SourceHTMLBytes,
		MessageCount:    len(conv.Messages),
		DurationMs:      duration.Milliseconds(),
		Status:          conversation.StatusSuccess,
		RequestID:       req.RequestID,
		Timestamp:       ended,
	})
	root.SetAttr("conversation_id", record.ID)

	p.log(ctx).Info("conversation ingested",
		"conversation_id", record.ID,
		"model", record.Model,
		"source_bytes", record.SourceHTMLBytes,
		"messages", len(conv.Messages),
		"duration_ms", duration.Milliseconds(),
	)
	return &Result{
		Record:       record,
		URL:          p.Locator(record.ID),
		Duration:     duration,
		MessageCount: len(conv.Messages),
	}, nil
}

func (p *Pipeline) log(ctx context.Context) *slog.Logger {
	if id := logger.RequestID(ctx); id != "" {
		return p.logger.With("request_id", id)
	}
	return p.logger
}

func (p *Pipeline) parse(req Request) (*conversation.Conversation, error) {
	raw := string(req.Raw)
	if req.Structured {
		return conversation.FromStructured(raw, req.Model, p.now()), nil
	}
	return p.parsers.Parse(req.Model, raw)
}

// stage runs fn under a child span and wraps its error with the stage name.
func (p *Pipeline) stage(ctx context.Context, stage Stage, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartChildSpan(ctx, string(stage))
	start := time.Now()
	err := fn(ctx)
	span.End()
	if p.metrics != nil {
		p.metrics.IngestionStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.SetError(err)
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// fail records a failed attempt and returns err unchanged. Unless the
// metrics stage itself failed, a failed MetricRecord is written on a best
// effort basis.
func (p *Pipeline) fail(ctx context.Context, req Request, started time.Time, conv *conversation.Conversation, err error) error {
	stage := StageOf(err)
	ended := p.now()
	duration := nonNegative(ended.Sub(started))
	log := p.log(ctx)

	log.Error("conversation ingestion failed",
		"stage", stage,
		"model", req.Model,
		"structured", req.Structured,
		"payload_bytes", len(req.Raw),
		"error", err,
	)

	if stage != StageMetrics {
		msg := err.Error()
		// The attempt is over either way; a cancelled request still gets
		// its failure recorded.
		writeCtx := context.WithoutCancel(ctx)
		if _, werr := p.metricStore.Insert(writeCtx, &conversation.MetricRecord{
			ScrapeStartedAt: started,
			ScrapeEndedAt:   ended,
			DurationMs:      duration.Milliseconds(),
			Status:          conversation.StatusFailed,
			ErrorMessage:    &msg,
		}); werr != nil {
			log.Error("failed to record failed ingestion metric", "stage", stage, "error", werr)
		}
	}

	event := conversation.IngestedEvent{
		Model:           req.Model,
		Structured:      req.Structured,
		SourceHTMLBytes: int64(len(req.Raw)),
		DurationMs:      duration.Milliseconds(),
		Status:          conversation.StatusFailed,
		FailedStage:     string(stage),
		RequestID:       req.RequestID,
		Timestamp:       ended,
	}
	if conv != nil {
		event.MessageCount = len(conv.Messages)
	}
	p.observe(conversation.StatusFailed, stage, int64(len(req.Raw)), duration)
	p.track(req, event)
	return err
}

func (p *Pipeline) observe(status conversation.MetricStatus, stage Stage, bytes int64, d time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.IngestionsTotal.WithLabelValues(string(status), string(stage)).Inc()
	p.metrics.IngestionDuration.Observe(d.Seconds())
	p.metrics.ConversationBytes.Observe(float64(bytes))
}

func (p *Pipeline) track(req Request, event conversation.IngestedEvent) {
	if p.events == nil {
		return
	}
	p.events.Track(req.Model, event)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
