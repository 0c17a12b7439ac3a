package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultQueryLimit = 100

// MemoryStore implements Store in process. Events are held in
// insertion order and sorted on demand; the trail appends events with
// monotonically increasing IDs, so the sort is near-free in practice.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store. The event is stored by value, so later
// mutation of the caller's copy does not alter the trail.
func (s *MemoryStore) Append(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := *event
	if e.Details != nil {
		details := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		e.Details = details
	}

	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (f *Filter) matches(e *Event) bool {
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var cur cursor
	hasCursor := filter.Cursor != ""
	if hasCursor {
		var err error
		cur, err = decodeCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()

	s.mu.RLock()
	matched := make([]Event, 0, limit)
	for i := range s.events {
		e := &s.events[i]
		if !e.RetentionUntil.After(now) {
			continue
		}
		if !filter.matches(e) {
			continue
		}
		if hasCursor && !cur.after(e) {
			continue
		}
		matched = append(matched, *e)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].ID < matched[j].ID
	})

	page := &Page{}
	if len(matched) > limit {
		page.Events = matched[:limit]
		page.NextCursor = encodeCursor(&page.Events[limit-1])
	} else {
		page.Events = matched
	}
	return page, nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	removed := 0
	for i := range s.events {
		if s.events[i].RetentionUntil.After(now) {
			kept = append(kept, s.events[i])
		} else {
			removed++
		}
	}
	s.events = kept
	return removed, nil
}

// Len returns the number of stored events, including any past
// retention that the reaper has not removed yet.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
