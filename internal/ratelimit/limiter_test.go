package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avsecmw/internal/ratelimit/store"
)

// windowStart returns a time aligned to both window boundaries so the
// previous buckets carry no weight.
func windowStart() time.Time {
	return time.Unix(0, 0).Add(500000 * time.Hour)
}

func newTestLimiter(t *testing.T, cfg *Config, opts ...Option) *DualWindowLimiter {
	t.Helper()
	s := store.NewMemoryStoreWithCleanupInterval(time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	return NewDualWindowLimiter(s, cfg, opts...)
}

func TestDualWindowLimiter_MinuteWindowSequence(t *testing.T) {
	l := newTestLimiter(t, &Config{PerMinute: 60, PerHour: 100000})
	ctx := context.Background()
	now := windowStart()

	for i := 0; i < 60; i++ {
		result := l.Check(ctx, "ip:10.0.0.1", now)
		require.True(t, result.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 60, result.Limit)
		assert.Equal(t, 60-i-1, result.Remaining)
	}

	result := l.Check(ctx, "ip:10.0.0.1", now)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
}

func TestDualWindowLimiter_HourWindowBinds(t *testing.T) {
	l := newTestLimiter(t, &Config{PerMinute: 1000, PerHour: 3})
	ctx := context.Background()
	now := windowStart()

	for i := 0; i < 3; i++ {
		result := l.Check(ctx, "ip:10.0.0.2", now)
		require.True(t, result.Allowed)
	}

	result := l.Check(ctx, "ip:10.0.0.2", now)
	assert.False(t, result.Allowed)
	assert.Equal(t, 3, result.Limit)
}

func TestDualWindowLimiter_RemainingNeverNegative(t *testing.T) {
	l := newTestLimiter(t, &Config{PerMinute: 2, PerHour: 100})
	ctx := context.Background()
	now := windowStart()

	for i := 0; i < 10; i++ {
		result := l.Check(ctx, "ip:10.0.0.3", now)
		assert.GreaterOrEqual(t, result.Remaining, 0)
		assert.GreaterOrEqual(t, result.RetryAfter, time.Duration(0))
	}
}

func TestDualWindowLimiter_PreviousWindowWeighted(t *testing.T) {
	s := store.NewMemoryStoreWithCleanupInterval(time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	l := NewDualWindowLimiter(s, &Config{PerMinute: 60, PerHour: 100000})
	ctx := context.Background()

	// Fill the previous minute bucket to the limit, then check half way
	// into the next bucket: half the previous count still weighs in, so
	// only half the budget is available.
	prevStart := windowStart()
	for i := 0; i < 60; i++ {
		require.True(t, l.Check(ctx, "ip:10.0.0.4", prevStart).Allowed)
	}

	halfway := prevStart.Add(90 * time.Second)
	allowed := 0
	for i := 0; i < 60; i++ {
		if l.Check(ctx, "ip:10.0.0.4", halfway).Allowed {
			allowed++
		}
	}
	assert.InDelta(t, 30, allowed, 2)
}

func TestDualWindowLimiter_WindowSlidesFullyOut(t *testing.T) {
	l := newTestLimiter(t, &Config{PerMinute: 5, PerHour: 100000})
	ctx := context.Background()
	now := windowStart()

	for i := 0; i < 5; i++ {
		require.True(t, l.Check(ctx, "ip:10.0.0.5", now).Allowed)
	}
	require.False(t, l.Check(ctx, "ip:10.0.0.5", now).Allowed)

	later := now.Add(2 * time.Minute)
	assert.True(t, l.Check(ctx, "ip:10.0.0.5", later).Allowed)
}

func TestDualWindowLimiter_IndependentKeys(t *testing.T) {
	l := newTestLimiter(t, &Config{PerMinute: 1, PerHour: 100})
	ctx := context.Background()
	now := windowStart()

	require.True(t, l.Check(ctx, "ip:10.0.0.6", now).Allowed)
	require.False(t, l.Check(ctx, "ip:10.0.0.6", now).Allowed)

	assert.True(t, l.Check(ctx, "ip:10.0.0.7", now).Allowed)
}

func TestDualWindowLimiter_EscalationAfterConsecutiveDenials(t *testing.T) {
	escalated := make(chan int, 1)
	l := newTestLimiter(t,
		&Config{PerMinute: 1, PerHour: 100, EscalationThreshold: 3, EscalationWindow: time.Minute},
		WithEscalation(func(key string, denials int) {
			assert.Equal(t, "ip:10.0.0.8", key)
			escalated <- denials
		}),
	)
	ctx := context.Background()
	now := windowStart()

	require.True(t, l.Check(ctx, "ip:10.0.0.8", now).Allowed)
	for i := 0; i < 3; i++ {
		require.False(t, l.Check(ctx, "ip:10.0.0.8", now).Allowed)
	}

	select {
	case denials := <-escalated:
		assert.Equal(t, 3, denials)
	case <-time.After(time.Second):
		t.Fatal("escalation callback was not invoked")
	}
}

func TestDualWindowLimiter_AllowResetsDenialStreak(t *testing.T) {
	escalated := make(chan int, 1)
	l := newTestLimiter(t,
		&Config{PerMinute: 2, PerHour: 100, EscalationThreshold: 3, EscalationWindow: time.Minute},
		WithEscalation(func(string, int) { escalated <- 1 }),
	)
	ctx := context.Background()
	now := windowStart()

	require.True(t, l.Check(ctx, "ip:10.0.0.9", now).Allowed)
	require.True(t, l.Check(ctx, "ip:10.0.0.9", now).Allowed)
	require.False(t, l.Check(ctx, "ip:10.0.0.9", now).Allowed)
	require.False(t, l.Check(ctx, "ip:10.0.0.9", now).Allowed)

	// A later allowed request breaks the streak; two more denials stay
	// below the threshold.
	later := now.Add(2 * time.Minute)
	require.True(t, l.Check(ctx, "ip:10.0.0.9", later).Allowed)
	require.True(t, l.Check(ctx, "ip:10.0.0.9", later).Allowed)
	require.False(t, l.Check(ctx, "ip:10.0.0.9", later).Allowed)
	require.False(t, l.Check(ctx, "ip:10.0.0.9", later).Allowed)

	select {
	case <-escalated:
		t.Fatal("escalation should not have fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDualWindowLimiter_StoreFailureAllowsRequest(t *testing.T) {
	l := NewDualWindowLimiter(&failingStore{}, &Config{PerMinute: 1, PerHour: 1})
	ctx := context.Background()

	result := l.Check(ctx, "ip:10.0.0.10", windowStart())
	assert.True(t, result.Allowed)
}

func TestDualWindowLimiter_Reset(t *testing.T) {
	l := newTestLimiter(t, &Config{PerMinute: 1, PerHour: 100})
	ctx := context.Background()
	now := windowStart()

	require.True(t, l.Check(ctx, "ip:10.0.0.11", now).Allowed)
	require.False(t, l.Check(ctx, "ip:10.0.0.11", now).Allowed)

	require.NoError(t, l.Reset(ctx, "ip:10.0.0.11", now))
	assert.True(t, l.Check(ctx, "ip:10.0.0.11", now).Allowed)
}

func TestDualWindowLimiter_ConcurrentChecksHoldLimit(t *testing.T) {
	s := store.NewMemoryStoreWithCleanupInterval(time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	l := NewDualWindowLimiter(&slowStore{Store: s}, &Config{PerMinute: 50, PerHour: 100000})
	ctx := context.Background()
	now := windowStart()

	const requests = 200
	var wg sync.WaitGroup
	var allowed int64
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check(ctx, "ip:10.0.0.12", now).Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "sub:user-1", Key("user-1", "10.0.0.1"))
	assert.Equal(t, "ip:10.0.0.1", Key("", "10.0.0.1"))
}

// failingStore returns ErrUnavailable for every operation.
type failingStore struct{}

func (f *failingStore) Get(context.Context, string) (int64, error) {
	return 0, store.ErrUnavailable
}

func (f *failingStore) Set(context.Context, string, int64, time.Duration) error {
	return store.ErrUnavailable
}

func (f *failingStore) IncrementWithExpiry(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, store.ErrUnavailable
}

func (f *failingStore) Delete(context.Context, string) error {
	return store.ErrUnavailable
}

func (f *failingStore) Close() error { return nil }

// slowStore adds a network-like delay to every operation, widening the
// window in which concurrent checks overlap.
type slowStore struct {
	store.Store
}

func (s *slowStore) Get(ctx context.Context, key string) (int64, error) {
	time.Sleep(200 * time.Microsecond)
	return s.Store.Get(ctx, key)
}

func (s *slowStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	time.Sleep(200 * time.Microsecond)
	return s.Store.IncrementWithExpiry(ctx, key, delta, expiration)
}
