package cache

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestKeyCanonicalizesParams(t *testing.T) {
	a := Key("coingecko", "solana", map[string]string{"days": "60", "vs": "usd"})
	b := Key("coingecko", "solana", map[string]string{"vs": "usd", "days": "60"})
	assert.Equal(t, a, b)

	c := Key("coingecko", "solana", map[string]string{"days": "30", "vs": "usd"})
	assert.NotEqual(t, a, c)

	d := Key("coinmarketcap", "solana", map[string]string{"days": "60", "vs": "usd"})
	assert.NotEqual(t, a, d)
}

func TestFetchRoundTripInvokesSourceOnce(t *testing.T) {
	store := openTestStore(t)
	key := Key("coingecko", "solana", nil)

	var calls atomic.Int32
	fn := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(`{"current_price": 150}`), nil
	}

	payload, cached, err := store.Fetch(context.Background(), key, time.Hour, fn)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `{"current_price": 150}`, string(payload))

	payload, cached, err = store.Fetch(context.Background(), key, time.Hour, fn)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.JSONEq(t, `{"current_price": 150}`, string(payload))

	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchAfterExpiryReplacesEntry(t *testing.T) {
	store := openTestStore(t)
	key := Key("defillama", "solana", nil)

	now := time.Now()
	store.now = func() time.Time { return now }

	var calls atomic.Int32
	_, _, err := store.Fetch(context.Background(), key, time.Minute, func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(`{"tvl": 1}`), nil
	})
	require.NoError(t, err)

	// Advance past the TTL; the entry must be refetched and fully replaced.
	store.now = func() time.Time { return now.Add(2 * time.Minute) }

	payload, cached, err := store.Fetch(context.Background(), key, time.Minute, func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(`{"tvl": 2}`), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `{"tvl": 2}`, string(payload))
	assert.Equal(t, int32(2), calls.Load())

	payload, ok, err := store.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"tvl": 2}`, string(payload))
}

func TestFetchErrorIsNotCached(t *testing.T) {
	store := openTestStore(t)
	key := Key("coinmarketcap", "solana", nil)

	_, _, err := store.Fetch(context.Background(), key, time.Hour, func(context.Context) ([]byte, error) {
		return nil, assert.AnError
	})
	require.Error(t, err)

	_, ok, err := store.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchStampedeGuard(t *testing.T) {
	store := openTestStore(t)
	key := Key("websearch", "solana ecosystem", nil)

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte(`{"summary": "ok"}`), nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, _, err := store.Fetch(context.Background(), key, time.Hour, fn)
			assert.NoError(t, err)
			assert.JSONEq(t, `{"summary": "ok"}`, string(payload))
		}()
	}

	// Let all goroutines pile onto the same key before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
