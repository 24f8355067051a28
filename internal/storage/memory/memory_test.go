package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
)

func TestConversationStore_InsertAndGet(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()

	saved, err := store.Insert(ctx, &conversation.Record{ID: "a", Model: "ChatGPT", ContentKey: "conversations/a.html"})
	require.NoError(t, err)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Equal(t, int64(0), saved.Views)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "ChatGPT", got.Model)
}

func TestConversationStore_DuplicateID(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()
	_, err := store.Insert(ctx, &conversation.Record{ID: "a"})
	require.NoError(t, err)

	_, err = store.Insert(ctx, &conversation.Record{ID: "a"})
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}

func TestConversationStore_GetMissing(t *testing.T) {
	store := NewConversationStore()
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = store.IncrementViews(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConversationStore_ListNewestFirst(t *testing.T) {
	store := NewConversationStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := store.Insert(ctx, &conversation.Record{ID: fmt.Sprintf("c%d", i)})
		require.NoError(t, err)
	}

	page, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c4", page[0].ID)
	assert.Equal(t, "c3", page[1].ID)

	page, err = store.List(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c0", page[0].ID)

	page, err = store.List(ctx, 10, 50)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func TestConversationStore_ListTiesUseInsertionOrder(t *testing.T) {
	store := NewConversationStore()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		_, err := store.Insert(ctx, &conversation.Record{ID: id})
		require.NoError(t, err)
	}

	page, err := store.List(ctx, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y", "x"}, []string{page[0].ID, page[1].ID, page[2].ID})
}

func TestConversationStore_ConcurrentViews(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()
	_, err := store.Insert(ctx, &conversation.Record{ID: "hot"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.IncrementViews(ctx, "hot")
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Views)
}

func TestConversationStore_ContentKeyExists(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()
	_, err := store.Insert(ctx, &conversation.Record{ID: "a", ContentKey: "conversations/a.html"})
	require.NoError(t, err)

	ok, err := store.ContentKeyExists(ctx, "conversations/a.html")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ContentKeyExists(ctx, "conversations/b.html")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConversationStore_FailWith(t *testing.T) {
	store := NewConversationStore()
	store.FailWith(errors.New("connection reset"))
	_, err := store.Insert(context.Background(), &conversation.Record{ID: "a"})
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.Equal(t, 0, store.Len())

	store.FailWith(nil)
	_, err = store.Insert(context.Background(), &conversation.Record{ID: "a"})
	assert.NoError(t, err)
}

func TestMetricStore_AssignsIDs(t *testing.T) {
	store := NewMetricStore()
	ctx := context.Background()
	id := "a"
	first, err := store.Insert(ctx, &conversation.MetricRecord{ConversationID: &id, Status: conversation.StatusSuccess})
	require.NoError(t, err)
	second, err := store.Insert(ctx, &conversation.MetricRecord{Status: conversation.StatusFailed})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	all := store.All()
	require.Len(t, all, 2)
	assert.Nil(t, all[1].ConversationID)
}

func TestMetricStore_FailWith(t *testing.T) {
	store := NewMetricStore()
	store.FailWith(errors.New("disk full"))
	_, err := store.Insert(context.Background(), &conversation.MetricRecord{})
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.Empty(t, store.All())
}
