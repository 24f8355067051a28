// Package memory provides in-process implementations of the conversation
// index and metrics stores, used by tests and by the serve command when
// postgres is disabled.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
)

var _ ingestion.ConversationStore = (*ConversationStore)(nil)

// ConversationStore is an in-memory conversation index.
type ConversationStore struct {
	mu      sync.RWMutex
	records map[string]conversation.Record
	// seq breaks CreatedAt ties so listing order is stable.
	seq   map[string]int64
	next  int64
	now   func() time.Time
	fault error
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		records: make(map[string]conversation.Record),
		seq:     make(map[string]int64),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FailWith makes every subsequent write return err. A nil err clears it.
func (s *ConversationStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = err
}

// Insert stores rec, setting CreatedAt.
func (s *ConversationStore) Insert(_ context.Context, rec *conversation.Record) (*conversation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStorage, s.fault)
	}
	if _, exists := s.records[rec.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate conversation id %s", apperrors.ErrStorage, rec.ID)
	}
	stored := *rec
	stored.CreatedAt = s.now()
	s.records[stored.ID] = stored
	s.next++
	s.seq[stored.ID] = s.next
	return &stored, nil
}

// List returns records newest first.
func (s *ConversationStore) List(_ context.Context, limit, offset int) ([]conversation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]conversation.Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return s.seq[all[i].ID] > s.seq[all[j].ID]
	})
	if offset >= len(all) {
		return []conversation.Record{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// Get returns the record for id.
func (s *ConversationStore) Get(_ context.Context, id string) (*conversation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	return &rec, nil
}

// IncrementViews adds one view to id and returns the updated record.
func (s *ConversationStore) IncrementViews(_ context.Context, id string) (*conversation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	rec.Views++
	s.records[id] = rec
	return &rec, nil
}

// ContentKeyExists reports whether any record references key.
func (s *ConversationStore) ContentKeyExists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ContentKey == key {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of stored records.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
