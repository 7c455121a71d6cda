package secrets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingStore struct {
	Store
	gets int
}

func (c *countingStore) Get(path string) ([]byte, error) {
	c.gets++
	return c.Store.Get(path)
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	backing, err := NewMemoryStoreFromPassphrase("cache-test")
	require.NoError(t, err)
	return &countingStore{Store: backing}
}

func TestCachingStoreServesFromCacheWithinTTL(t *testing.T) {
	backing := newCountingStore(t)
	require.NoError(t, backing.Put("k", []byte("v1")))

	cache := NewCachingStore(backing, time.Minute)

	for i := 0; i < 3; i++ {
		v, err := cache.Get("k")
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), v)
	}
	require.Equal(t, 1, backing.gets)
}

func TestCachingStoreRereadsAfterTTLExpires(t *testing.T) {
	backing := newCountingStore(t)
	require.NoError(t, backing.Put("k", []byte("v1")))

	cache := NewCachingStore(backing, time.Millisecond)
	_, err := cache.Get("k")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = cache.Get("k")
	require.NoError(t, err)

	require.Equal(t, 2, backing.gets)
}

func TestCachingStorePutInvalidatesCacheImmediately(t *testing.T) {
	backing := newCountingStore(t)
	require.NoError(t, backing.Put("k", []byte("v1")))

	cache := NewCachingStore(backing, time.Hour)
	v, err := cache.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, cache.Put("k", []byte("v2")))

	v, err = cache.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

func TestCachingStoreDeleteInvalidatesCache(t *testing.T) {
	backing := newCountingStore(t)
	require.NoError(t, backing.Put("k", []byte("v1")))

	cache := NewCachingStore(backing, time.Hour)
	_, err := cache.Get("k")
	require.NoError(t, err)

	require.NoError(t, cache.Delete("k"))

	_, err = cache.Get("k")
	require.Error(t, err)
}
