package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendTestEvent(t *testing.T, store *MemoryStore, ts time.Time, category Category, subject string) *Event {
	t.Helper()
	event := &Event{
		ID:             newEventID(ts),
		Timestamp:      ts,
		Category:       category,
		Action:         ActionAccess,
		Level:          LevelInfo,
		Outcome:        OutcomeSuccess,
		Subject:        subject,
		RetentionUntil: ts.Add(365 * Day),
	}
	require.NoError(t, store.Append(context.Background(), event))
	return event
}

func TestMemoryStore_QueryAscendingOrder(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().UTC()

	// Append out of time order.
	appendTestEvent(t, store, base.Add(2*time.Second), CategorySecurity, "a")
	appendTestEvent(t, store, base, CategorySecurity, "b")
	appendTestEvent(t, store, base.Add(time.Second), CategorySecurity, "c")

	page, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, page.Events, 3)

	for i := 1; i < len(page.Events); i++ {
		assert.False(t, page.Events[i].Timestamp.Before(page.Events[i-1].Timestamp))
	}
	assert.Equal(t, "b", page.Events[0].Subject)
	assert.Equal(t, "a", page.Events[2].Subject)
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().UTC()

	appendTestEvent(t, store, base, CategorySecurity, "alice")
	appendTestEvent(t, store, base.Add(time.Second), CategoryAuthentication, "alice")
	appendTestEvent(t, store, base.Add(2*time.Second), CategorySecurity, "bob")

	page, err := store.Query(context.Background(), Filter{Category: CategorySecurity})
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)

	page, err = store.Query(context.Background(), Filter{Subject: "alice"})
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)

	page, err = store.Query(context.Background(), Filter{
		Category: CategorySecurity,
		Subject:  "bob",
	})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "bob", page.Events[0].Subject)

	page, err = store.Query(context.Background(), Filter{
		From: base.Add(500 * time.Millisecond),
		To:   base.Add(1500 * time.Millisecond),
	})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, CategoryAuthentication, page.Events[0].Category)
}

func TestMemoryStore_CursorPagination(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().UTC()

	const total = 25
	for i := 0; i < total; i++ {
		appendTestEvent(t, store, base.Add(time.Duration(i)*time.Millisecond),
			CategorySecurity, fmt.Sprintf("subject-%02d", i))
	}

	var collected []Event
	filter := Filter{Limit: 10}
	pages := 0
	for {
		page, err := store.Query(context.Background(), filter)
		require.NoError(t, err)
		collected = append(collected, page.Events...)
		pages++
		if page.NextCursor == "" {
			break
		}
		filter.Cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	require.Len(t, collected, total)
	for i, e := range collected {
		assert.Equal(t, fmt.Sprintf("subject-%02d", i), e.Subject)
	}
}

func TestMemoryStore_CursorIsStateless(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		appendTestEvent(t, store, base.Add(time.Duration(i)*time.Millisecond), CategorySecurity, "s")
	}

	first, err := store.Query(context.Background(), Filter{Limit: 2})
	require.NoError(t, err)
	require.NotEmpty(t, first.NextCursor)

	// The same cursor replayed twice yields the same page.
	second, err := store.Query(context.Background(), Filter{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	again, err := store.Query(context.Background(), Filter{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, second.Events, again.Events)
}

func TestMemoryStore_InvalidCursor(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Query(context.Background(), Filter{Cursor: "not-a-cursor"})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestMemoryStore_ExpiredEventsNeverReturned(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	expired := &Event{
		ID:             newEventID(now.Add(-time.Hour)),
		Timestamp:      now.Add(-time.Hour),
		Category:       CategorySession,
		Action:         ActionLogin,
		Outcome:        OutcomeSuccess,
		RetentionUntil: now.Add(-time.Minute),
	}
	require.NoError(t, store.Append(context.Background(), expired))
	appendTestEvent(t, store, now, CategorySession, "live")

	page, err := store.Query(context.Background(), Filter{Category: CategorySession})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "live", page.Events[0].Subject)
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	expired := &Event{
		ID:             newEventID(now.Add(-time.Hour)),
		Timestamp:      now.Add(-time.Hour),
		Category:       CategorySession,
		RetentionUntil: now.Add(-time.Minute),
	}
	require.NoError(t, store.Append(context.Background(), expired))
	appendTestEvent(t, store, now, CategorySecurity, "live")

	removed, err := store.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_AppendCopiesEvent(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	event := &Event{
		ID:             newEventID(now),
		Timestamp:      now,
		Category:       CategorySecurity,
		Details:        map[string]any{"k": "v"},
		RetentionUntil: now.Add(time.Hour),
	}
	require.NoError(t, store.Append(context.Background(), event))

	// Mutating the caller's event must not alter the stored copy.
	event.Subject = "tampered"
	event.Details["k"] = "tampered"

	page, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Empty(t, page.Events[0].Subject)
	assert.Equal(t, "v", page.Events[0].Details["k"])
}
