package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
)

var _ ingestion.MetricStore = (*MetricStore)(nil)

// MetricStore is an append-only in-memory metrics store.
type MetricStore struct {
	mu      sync.RWMutex
	records []conversation.MetricRecord
	fault   error
}

func NewMetricStore() *MetricStore {
	return &MetricStore{}
}

// FailWith makes every subsequent insert return err. A nil err clears it.
func (s *MetricStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = err
}

// Insert appends m and assigns it the next id.
func (s *MetricStore) Insert(_ context.Context, m *conversation.MetricRecord) (*conversation.MetricRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStorage, s.fault)
	}
	stored := *m
	stored.ID = int64(len(s.records) + 1)
	s.records = append(s.records, stored)
	return &stored, nil
}

// All returns a copy of every stored record in insertion order.
func (s *MetricStore) All() []conversation.MetricRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]conversation.MetricRecord(nil), s.records...)
}
