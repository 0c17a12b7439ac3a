package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			s := NewMemoryStoreWithCleanupInterval(10 * time.Millisecond)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s := NewRedisStoreFromClient(client, "test:", nil)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStore_GetMissingKey(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)

			_, err := s.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestStore_SetGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "counter", 42, time.Minute))

			val, err := s.Get(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, int64(42), val)
		})
	}
}

func TestStore_IncrementWithExpiry(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			val, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(1), val)

			val, err = s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(2), val)

			val, err = s.IncrementWithExpiry(ctx, "counter", 5, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(7), val)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "counter", 1, time.Minute))
			require.NoError(t, s.Delete(ctx, "counter"))

			_, err := s.Get(ctx, "counter")
			assert.ErrorIs(t, err, ErrKeyNotFound)

			// Deleting a missing key is not an error.
			assert.NoError(t, s.Delete(ctx, "counter"))
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStoreWithCleanupInterval(time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", 1, 20*time.Millisecond))

	val, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	time.Sleep(30 * time.Millisecond)

	// Expiry is enforced on read even before the sweep runs.
	_, err = s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_IncrementAfterExpiryRestartsCounter(t *testing.T) {
	s := NewMemoryStoreWithCleanupInterval(time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "counter", 3, 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	val, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

func TestRedisStore_ExpirySetOnFirstIncrement(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "test:", nil)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "counter", 1, 2*time.Second)
	require.NoError(t, err)

	mr.FastForward(3 * time.Second)

	_, err = s.Get(ctx, "counter")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	const workers = 8
	const perWorker = 100

	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < perWorker; j++ {
				_, _ = s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
			}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}

	val, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), val)
}
