// Package ratelimit provides dual-window request rate limiting backed
// by a pluggable counter store. Each key is evaluated against a
// per-minute and a per-hour sliding window; a request is denied when
// either window is over its limit.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit/store"
)

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is within limits.
	Allowed bool

	// Limit is the limit of the most constrained window.
	Limit int

	// Remaining is the number of requests left in the most constrained
	// window. Never negative.
	Remaining int

	// ResetAfter is the duration until the most constrained window
	// resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying. Zero when the
	// request was allowed, positive otherwise.
	RetryAfter time.Duration
}

// EscalationFunc is invoked when a key accumulates enough consecutive
// denials within the escalation window.
type EscalationFunc func(key string, denials int)

// Config holds limiter configuration.
type Config struct {
	// PerMinute is the request limit for the one minute window.
	PerMinute int

	// PerHour is the request limit for the one hour window.
	PerHour int

	// EscalationThreshold is the number of consecutive denials that
	// triggers the escalation callback.
	EscalationThreshold int

	// EscalationWindow bounds how far apart consecutive denials may be
	// and still count toward the threshold.
	EscalationWindow time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		PerMinute:           60,
		PerHour:             1000,
		EscalationThreshold: 5,
		EscalationWindow:    time.Minute,
	}
}

// window is one sliding window evaluated by the limiter.
type window struct {
	label    string
	limit    int
	duration time.Duration
}

// denialState tracks consecutive denials for escalation.
type denialState struct {
	count int
	first time.Time
}

// DualWindowLimiter evaluates keys against minute and hour sliding
// windows. The window count is approximated from the current and
// previous fixed buckets, weighting the previous bucket by the portion
// of it that still overlaps the sliding window. Admission compares the
// post-increment value of the store's atomic counter, so concurrent
// checks for one key never over-admit.
type DualWindowLimiter struct {
	store   store.Store
	windows []window
	logger  observability.Logger
	metrics *Metrics

	escalationThreshold int
	escalationWindow    time.Duration
	onEscalation        EscalationFunc

	mu      sync.Mutex
	denials map[string]*denialState
}

// Option configures a DualWindowLimiter.
type Option func(*DualWindowLimiter)

// WithLimiterLogger sets the logger.
func WithLimiterLogger(logger observability.Logger) Option {
	return func(l *DualWindowLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLimiterMetrics sets the metrics collector.
func WithLimiterMetrics(m *Metrics) Option {
	return func(l *DualWindowLimiter) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithEscalation sets the consecutive-denial escalation callback.
func WithEscalation(fn EscalationFunc) Option {
	return func(l *DualWindowLimiter) {
		l.onEscalation = fn
	}
}

// NewDualWindowLimiter creates a limiter over the given counter store.
func NewDualWindowLimiter(s store.Store, cfg *Config, opts ...Option) *DualWindowLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &DualWindowLimiter{
		store: s,
		windows: []window{
			{label: "minute", limit: cfg.PerMinute, duration: time.Minute},
			{label: "hour", limit: cfg.PerHour, duration: time.Hour},
		},
		logger:              observability.NopLogger(),
		escalationThreshold: cfg.EscalationThreshold,
		escalationWindow:    cfg.EscalationWindow,
		denials:             make(map[string]*denialState),
	}
	if l.escalationThreshold <= 0 {
		l.escalationThreshold = 5
	}
	if l.escalationWindow <= 0 {
		l.escalationWindow = time.Minute
	}

	for _, opt := range opts {
		opt(l)
	}
	return l
}

// consume increments the window's current bucket and returns the
// post-increment weighted sliding count together with the time until
// the current bucket rolls over. Incrementing before comparing keeps
// the admission decision on the store's atomic counter: concurrent
// checks for one key each observe their own slot and cannot all admit
// on a stale pre-increment read.
func (l *DualWindowLimiter) consume(
	ctx context.Context,
	key string,
	w window,
	now time.Time,
) (count int, rollover time.Duration, err error) {
	durMs := w.duration.Milliseconds()
	nowMs := now.UnixMilli()
	bucket := nowMs / durMs
	bucketStartMs := bucket * durMs

	prev, err := l.bucketValue(ctx, bucketKey(key, w.label, bucket-1))
	if err != nil {
		return 0, 0, err
	}
	cur, err := l.store.IncrementWithExpiry(
		ctx, bucketKey(key, w.label, bucket), 1, 2*w.duration,
	)
	if err != nil {
		return 0, 0, err
	}

	elapsed := float64(nowMs-bucketStartMs) / float64(durMs)
	weighted := float64(cur) + float64(prev)*(1-elapsed)

	rollover = time.Duration(bucketStartMs+durMs-nowMs) * time.Millisecond
	return int(weighted), rollover, nil
}

func (l *DualWindowLimiter) bucketValue(ctx context.Context, key string) (int64, error) {
	val, err := l.store.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return 0, nil
	}
	return val, err
}

func bucketKey(key, label string, bucket int64) string {
	return key + ":" + label + ":" + strconv.FormatInt(bucket, 10)
}

// Check evaluates the key against both windows at the given time. The
// counter store is the single source of truth, so limits hold across
// instances sharing one store. A slot is consumed in every window
// before comparing, so denied requests count too; under sustained
// pressure that only extends the denial. Store failures degrade open:
// the request is allowed and the failure is logged and counted.
func (l *DualWindowLimiter) Check(ctx context.Context, key string, now time.Time) *Result {
	type evaluated struct {
		window   window
		count    int
		rollover time.Duration
	}

	evals := make([]evaluated, 0, len(l.windows))
	for _, w := range l.windows {
		count, rollover, err := l.consume(ctx, key, w, now)
		if err != nil {
			l.logger.Warn("rate limit store unavailable, allowing request",
				observability.String("key", key),
				observability.String("window", w.label),
				observability.Error(err),
			)
			if l.metrics != nil {
				l.metrics.RecordStoreError()
			}
			return &Result{Allowed: true, Limit: w.limit, Remaining: w.limit, ResetAfter: w.duration}
		}
		evals = append(evals, evaluated{window: w, count: count, rollover: rollover})
	}

	// Deny when any window is over its limit. The denying window
	// determines the reported values; the minute window is evaluated
	// first and usually binds.
	for _, e := range evals {
		if e.count > e.window.limit {
			if l.metrics != nil {
				l.metrics.RecordCheck(e.window.label, "denied")
			}
			l.recordDenial(key, now)
			return &Result{
				Allowed:    false,
				Limit:      e.window.limit,
				Remaining:  0,
				ResetAfter: e.rollover,
				RetryAfter: e.rollover,
			}
		}
	}

	l.resetDenials(key)

	// Report the most constrained window; the count already includes
	// the consumed slot.
	result := &Result{Allowed: true}
	first := true
	for _, e := range evals {
		remaining := e.window.limit - e.count
		if remaining < 0 {
			remaining = 0
		}
		if first || remaining < result.Remaining {
			result.Limit = e.window.limit
			result.Remaining = remaining
			result.ResetAfter = e.rollover
			first = false
		}
		if l.metrics != nil {
			l.metrics.RecordCheck(e.window.label, "allowed")
		}
	}
	return result
}

// Reset clears the counters for the key in all windows. The time must
// come from the same clock Check is driven with so both resolve the
// same buckets.
func (l *DualWindowLimiter) Reset(ctx context.Context, key string, now time.Time) error {
	var firstErr error
	for _, w := range l.windows {
		durMs := w.duration.Milliseconds()
		bucket := now.UnixMilli() / durMs
		for _, b := range []int64{bucket, bucket - 1} {
			if err := l.store.Delete(ctx, bucketKey(key, w.label, b)); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	l.resetDenials(key)
	return firstErr
}

func (l *DualWindowLimiter) recordDenial(key string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.denials[key]
	if !ok || now.Sub(st.first) > l.escalationWindow {
		st = &denialState{first: now}
		l.denials[key] = st
	}
	st.count++

	if st.count >= l.escalationThreshold {
		delete(l.denials, key)
		if l.onEscalation != nil {
			if l.metrics != nil {
				l.metrics.RecordEscalation()
			}
			count := st.count
			go l.onEscalation(key, count)
		}
	}
}

func (l *DualWindowLimiter) resetDenials(key string) {
	l.mu.Lock()
	delete(l.denials, key)
	l.mu.Unlock()
}
