// Package postgres implements the conversation index and metrics stores on
// PostgreSQL.
//
// It requires the following tables:
//
//	CREATE TABLE conversations (
//	    id                UUID PRIMARY KEY,
//	    model             TEXT NOT NULL,
//	    scraped_at        TIMESTAMPTZ NOT NULL,
//	    source_html_bytes BIGINT NOT NULL CHECK (source_html_bytes >= 0),
//	    views             BIGINT NOT NULL DEFAULT 0,
//	    content_key       TEXT NOT NULL,
//	    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE INDEX conversations_created_at_idx ON conversations (created_at DESC);
//	CREATE INDEX conversations_content_key_idx ON conversations (content_key);
//
//	CREATE TABLE conversation_metrics (
//	    id                BIGSERIAL PRIMARY KEY,
//	    conversation_id   UUID REFERENCES conversations (id),
//	    scrape_started_at TIMESTAMPTZ NOT NULL,
//	    scrape_ended_at   TIMESTAMPTZ NOT NULL,
//	    duration_ms       BIGINT NOT NULL CHECK (duration_ms >= 0),
//	    status            TEXT NOT NULL,
//	    error_message     TEXT
//	);
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/postgres"
)

var _ ingestion.ConversationStore = (*ConversationStore)(nil)

const recordColumns = `id, model, scraped_at, source_html_bytes, views, content_key, created_at`

// ConversationStore is the Postgres-backed conversation index.
type ConversationStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewConversationStore(db *postgres.Client) *ConversationStore {
	return &ConversationStore{
		db:     db,
		logger: slog.Default().With("component", "conversation-store"),
	}
}

// Insert writes rec. Views always starts at zero and created_at is assigned
// by the database.
func (s *ConversationStore) Insert(ctx context.Context, rec *conversation.Record) (*conversation.Record, error) {
	stored := *rec
	stored.Views = 0
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO conversations (id, model, scraped_at, source_html_bytes, views, content_key)
		 VALUES ($1, $2, $3, $4, 0, $5)
		 RETURNING created_at`,
		rec.ID, rec.Model, rec.ScrapedAt, rec.SourceHTMLBytes, rec.ContentKey,
	).Scan(&stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: inserting conversation %s: %v", apperrors.ErrStorage, rec.ID, err)
	}
	s.logger.Debug("conversation indexed", "conversation_id", rec.ID, "content_key", rec.ContentKey)
	return &stored, nil
}

// List returns a window of conversations, newest first.
func (s *ConversationStore) List(ctx context.Context, limit, offset int) ([]conversation.Record, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM conversations
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %v", apperrors.ErrStorage, err)
	}
	defer rows.Close()

	records := make([]conversation.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning conversation row: %v", apperrors.ErrStorage, err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating conversations: %v", apperrors.ErrStorage, err)
	}
	return records, nil
}

// Get returns the conversation with id.
func (s *ConversationStore) Get(ctx context.Context, id string) (*conversation.Record, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM conversations WHERE id = $1`, id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading conversation %s: %v", apperrors.ErrStorage, id, err)
	}
	return rec, nil
}

// IncrementViews atomically adds one view and returns the updated row.
func (s *ConversationStore) IncrementViews(ctx context.Context, id string) (*conversation.Record, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`UPDATE conversations SET views = views + 1 WHERE id = $1
		 RETURNING `+recordColumns, id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: incrementing views for %s: %v", apperrors.ErrStorage, id, err)
	}
	return rec, nil
}

// ContentKeyExists reports whether any conversation references key.
func (s *ConversationStore) ContentKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE content_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: checking content key %s: %v", apperrors.ErrStorage, key, err)
	}
	return exists, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*conversation.Record, error) {
	var rec conversation.Record
	err := row.Scan(
		&rec.ID,
		&rec.Model,
		&rec.ScrapedAt,
		&rec.SourceHTMLBytes,
		&rec.Views,
		&rec.ContentKey,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ScrapedAt = rec.ScrapedAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
