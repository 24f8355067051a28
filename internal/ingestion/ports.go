// Package ingestion runs the conversation ingestion pipeline: parse the
// submitted transcript, write its content to the blob store, insert the index
// row, then record the attempt's metrics. Stages run strictly in that order and
// the first failure stops the pipeline. Nothing already written is rolled
// back; orphaned blobs are left for the reconciler.
package ingestion

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
)

// Parsers selects a parser by format label and runs it.
type Parsers interface {
	Parse(format string, raw string) (*conversation.Conversation, error)
}

// BlobStore persists conversation content.
type BlobStore interface {
	// Store writes content atomically and returns the key it is stored under.
	Store(ctx context.Context, id string, content []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// ConversationStore is the relational index of ingested conversations.
type ConversationStore interface {
	// Insert persists rec and returns it with store-assigned fields set.
	Insert(ctx context.Context, rec *conversation.Record) (*conversation.Record, error)
	// List returns a window of records, newest first.
	List(ctx context.Context, limit, offset int) ([]conversation.Record, error)
	Get(ctx context.Context, id string) (*conversation.Record, error)
	IncrementViews(ctx context.Context, id string) (*conversation.Record, error)
}

// MetricStore persists one MetricRecord per ingestion attempt.
type MetricStore interface {
	Insert(ctx context.Context, m *conversation.MetricRecord) (*conversation.MetricRecord, error)
}

// EventTracker receives ingestion events. Track must not block.
type EventTracker interface {
	Track(key string, value any)
}

// Invalidator drops derived state (such as cached listings) after a new
// conversation is indexed.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Services bundles the initialized dependencies request handlers use.
type Services struct {
	Pipeline      *Pipeline
	Conversations ConversationStore
	Blobs         BlobStore
}

// Provider hands out Services, initializing them on first use.
type Provider interface {
	Services(ctx context.Context) (*Services, error)
}
