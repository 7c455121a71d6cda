package secrets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStoreFromPassphrase("test-passphrase")
	require.NoError(t, err)
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("boot/image-signing-key", []byte("top-secret")))

	got, err := store.Get("boot/image-signing-key")
	require.NoError(t, err)
	require.Equal(t, []byte("top-secret"), got)
}

func TestGetMissingPathIsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("missing")
	require.Error(t, err)
}

func TestPutRejectsEmptyPath(t *testing.T) {
	store := newTestStore(t)
	require.Error(t, store.Put("", []byte("x")))
}

func TestDeleteRemovesValue(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("k", []byte("v")))
	require.NoError(t, store.Delete("k"))

	_, err := store.Get("k")
	require.Error(t, err)
}

func TestDeleteMissingPathIsNotError(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Delete("never-existed"))
}

func TestListFiltersByPrefix(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("worker/site-a/shared-key", []byte("a")))
	require.NoError(t, store.Put("worker/site-b/shared-key", []byte("b")))
	require.NoError(t, store.Put("agent/enrollment-key", []byte("c")))

	paths, err := store.List("worker/")
	require.NoError(t, err)
	require.Equal(t, []string{"worker/site-a/shared-key", "worker/site-b/shared-key"}, paths)
}

func TestValuesAreEncryptedAtRest(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("k", []byte("plaintext-value")))

	store.mu.RLock()
	stored := store.vals["k"]
	store.mu.RUnlock()

	require.NotContains(t, string(stored), "plaintext-value")
}
