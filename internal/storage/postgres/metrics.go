package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/postgres"
)

var _ ingestion.MetricStore = (*MetricStore)(nil)

// MetricStore appends ingestion metrics to conversation_metrics.
type MetricStore struct {
	db *postgres.Client
}

func NewMetricStore(db *postgres.Client) *MetricStore {
	return &MetricStore{db: db}
}

// Insert appends m and returns it with its generated id.
func (s *MetricStore) Insert(ctx context.Context, m *conversation.MetricRecord) (*conversation.MetricRecord, error) {
	stored := *m
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO conversation_metrics
		   (conversation_id, scrape_started_at, scrape_ended_at, duration_ms, status, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		nullString(m.ConversationID),
		m.ScrapeStartedAt,
		m.ScrapeEndedAt,
		m.DurationMs,
		string(m.Status),
		nullString(m.ErrorMessage),
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: inserting %s metric: %v", apperrors.ErrStorage, m.Status, err)
	}
	return &stored, nil
}

// ForConversation returns the metrics recorded for id, oldest first.
func (s *MetricStore) ForConversation(ctx context.Context, id string) ([]conversation.MetricRecord, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, conversation_id, scrape_started_at, scrape_ended_at, duration_ms, status, error_message
		 FROM conversation_metrics WHERE conversation_id = $1 ORDER BY id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing metrics for %s: %v", apperrors.ErrStorage, id, err)
	}
	defer rows.Close()

	var out []conversation.MetricRecord
	for rows.Next() {
		var (
			m        conversation.MetricRecord
			convID   sql.NullString
			errMsg   sql.NullString
			statusDB string
		)
		if err := rows.Scan(&m.ID, &convID, &m.ScrapeStartedAt, &m.ScrapeEndedAt, &m.DurationMs, &statusDB, &errMsg); err != nil {
			return nil, fmt.Errorf("%w: scanning metric row: %v", apperrors.ErrStorage, err)
		}
		m.Status = conversation.MetricStatus(statusDB)
		if convID.Valid {
			m.ConversationID = &convID.String
		}
		if errMsg.Valid {
			m.ErrorMessage = &errMsg.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
