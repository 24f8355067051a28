// Package conversation defines the values that flow through ingestion: the
// transient parsed Conversation, the persisted index Record, the per-attempt
// MetricRecord and the event emitted after each attempt.
package conversation

import "time"

// DefaultRole is assigned to messages extracted without an explicit role
// marker.
const DefaultRole = "user"

// Message is one extracted turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is produced by a parser (or passed through for structured
// input) and consumed once by the ingestion pipeline.
type Conversation struct {
	Model     string    `json:"model"`
	ScrapedAt time.Time `json:"scraped_at"`
	// SourceHTMLBytes is the byte length of the original payload, not of
	// Content.
	SourceHTMLBytes int64     `json:"source_html_bytes"`
	Content         string    `json:"content"`
	Messages        []Message `json:"messages,omitempty"`
}

// FromStructured wraps an already-structured payload without transforming it.
func FromStructured(raw string, model string, now time.Time) *Conversation {
	return &Conversation{
		Model:           model,
		ScrapedAt:       now,
		SourceHTMLBytes: int64(len(raw)),
		Content:         raw,
	}
}

// Record is the index row for one ingested conversation.
type Record struct {
	ID              string    `json:"id"`
	Model           string    `json:"model"`
	ScrapedAt       time.Time `json:"scraped_at"`
	SourceHTMLBytes int64     `json:"source_html_bytes"`
	Views           int64     `json:"views"`
	ContentKey      string    `json:"content_key"`
	CreatedAt       time.Time `json:"created_at"`
}

// MetricStatus is the outcome of an ingestion attempt.
type MetricStatus string

const (
	StatusPending MetricStatus = "pending"
	StatusSuccess MetricStatus = "success"
	StatusFailed  MetricStatus = "failed"
)

// MetricRecord captures timing and outcome for one ingestion attempt.
type MetricRecord struct {
	ID int64 `json:"id"`
	// ConversationID is nil when the conversation row was never persisted.
	ConversationID  *string      `json:"conversation_id"`
	ScrapeStartedAt time.Time    `json:"scrape_started_at"`
	ScrapeEndedAt   time.Time    `json:"scrape_ended_at"`
	DurationMs      int64        `json:"duration_ms"`
	Status          MetricStatus `json:"status"`
	ErrorMessage    *string      `json:"error_message"`
}

// IngestedEvent is published after every ingestion attempt that passed
// request validation.
type IngestedEvent struct {
	ConversationID  string       `json:"conversation_id,omitempty"`
	Model           string       `json:"model"`
	Structured      bool         `json:"structured"`
	SourceHTMLBytes int64        `json:"source_html_bytes"`
	MessageCount    int          `json:"message_count"`
	DurationMs      int64        `json:"duration_ms"`
	Status          MetricStatus `json:"status"`
	FailedStage     string       `json:"failed_stage,omitempty"`
	RequestID       string       `json:"request_id,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// View is a record together with its stored content.
type View struct {
	Record
	Content string `json:"content"`
}
