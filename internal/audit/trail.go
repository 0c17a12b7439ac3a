package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// ErrWriteFailed is returned when an audit event could not be written.
// Callers must treat this as a security-relevant failure, never as a
// condition to ignore.
var ErrWriteFailed = errors.New("audit: write failed")

// EscalationFunc receives events that could not be written, together
// with the write error. It is the out-of-band channel of last resort
// and must not itself write to the trail.
type EscalationFunc func(event *Event, err error)

// Trail records audit events. Every Record either lands the event in
// the store or returns ErrWriteFailed and pushes the event through the
// escalation hook; events are never dropped silently. A circuit
// breaker around the store sheds writes fast when the store is down,
// still via the failure path.
type Trail struct {
	store      Store
	policy     *RetentionPolicy
	redactor   *redactor
	breaker    *gobreaker.CircuitBreaker
	escalation EscalationFunc
	logger     observability.Logger
	metrics    *Metrics

	now func() time.Time
}

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithTrailLogger sets the logger.
func WithTrailLogger(logger observability.Logger) TrailOption {
	return func(t *Trail) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTrailMetrics sets the metrics collector.
func WithTrailMetrics(m *Metrics) TrailOption {
	return func(t *Trail) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithRetentionPolicy sets the per-category retention policy.
func WithRetentionPolicy(policy *RetentionPolicy) TrailOption {
	return func(t *Trail) {
		if policy != nil {
			t.policy = policy
		}
	}
}

// WithEscalationHook sets the out-of-band escalation hook for failed
// writes.
func WithEscalationHook(fn EscalationFunc) TrailOption {
	return func(t *Trail) {
		t.escalation = fn
	}
}

// WithRedactFields adds detail keys to redact beyond the defaults.
func WithRedactFields(fields []string) TrailOption {
	return func(t *Trail) {
		t.redactor = newRedactor(fields)
	}
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) TrailOption {
	return func(t *Trail) {
		t.now = now
	}
}

// NewTrail creates a Trail over the given store.
func NewTrail(store Store, opts ...TrailOption) *Trail {
	t := &Trail{
		store:    store,
		policy:   DefaultRetentionPolicy(),
		redactor: newRedactor(nil),
		logger:   observability.NopLogger(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "audit-sink",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("audit sink breaker state changed",
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return t
}

// Record writes the event to the trail and returns its assigned ID.
// Missing fields are filled in: ID, timestamp, and the retention
// deadline derived from the event category. Sensitive details are
// redacted before the event leaves this process.
func (t *Trail) Record(ctx context.Context, event *Event) (string, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now().UTC()
	}
	if event.ID == "" {
		event.ID = newEventID(event.Timestamp)
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}
	if event.RetentionUntil.IsZero() {
		event.RetentionUntil = event.Timestamp.Add(t.policy.PeriodFor(event.Category))
	}

	t.redactor.redactEvent(event)

	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.store.Append(ctx, event)
	})
	if err != nil {
		t.metrics.RecordWriteFailure()
		t.logger.Error("audit write failed",
			observability.String("event_id", event.ID),
			observability.String("category", string(event.Category)),
			observability.String("action", string(event.Action)),
			observability.Error(err),
		)
		if t.escalation != nil {
			t.escalation(event, err)
		}
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	t.metrics.RecordEvent(event.Category, event.Outcome)
	return event.ID, nil
}

// Query reads events back from the store.
func (t *Trail) Query(ctx context.Context, filter Filter) (*Page, error) {
	return t.store.Query(ctx, filter)
}
