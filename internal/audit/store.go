package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned when a query cursor cannot be decoded.
var ErrInvalidCursor = errors.New("audit: invalid query cursor")

// Filter selects events for a query. Zero fields match everything.
type Filter struct {
	Subject  string
	Action   Action
	Category Category
	From     time.Time
	To       time.Time

	// Cursor resumes a previous query. Empty starts from the oldest
	// event in range.
	Cursor string

	// Limit caps the page size. Non-positive means the store default.
	Limit int
}

// Page is one page of query results. NextCursor is empty when the
// query is exhausted.
type Page struct {
	Events     []Event
	NextCursor string
}

// Store is append-only audit event storage. Events are immutable once
// appended and may only leave the store through DeleteExpired.
type Store interface {
	// Append stores the event.
	Append(ctx context.Context, event *Event) error

	// Query returns events matching the filter in ascending
	// (timestamp, id) order. Events past their retention deadline are
	// never returned.
	Query(ctx context.Context, filter Filter) (*Page, error)

	// DeleteExpired removes events whose retention deadline has passed
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Close releases store resources.
	Close() error
}

// cursor is the decoded form of a query cursor: the (timestamp, id)
// pair of the last event of the previous page. The cursor is
// stateless; the store keeps nothing between calls.
type cursor struct {
	ts time.Time
	id string
}

func encodeCursor(e *Event) string {
	return strconv.FormatInt(e.Timestamp.UnixNano(), 10) + ":" + e.ID
}

func decodeCursor(s string) (cursor, error) {
	tsPart, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return cursor{}, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return cursor{ts: time.Unix(0, nanos), id: id}, nil
}

// after reports whether the event sorts strictly after the cursor
// position.
func (c cursor) after(e *Event) bool {
	if e.Timestamp.After(c.ts) {
		return true
	}
	return e.Timestamp.Equal(c.ts) && e.ID > c.id
}
