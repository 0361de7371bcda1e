package pebble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/montana/pkg/db"
)

func TestKVStore(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store db.KVStore)
	}{
		{name: "basic_put_get", fn: testBasicPutGet},
		{name: "has", fn: testHas},
		{name: "delete_operations", fn: testDelete},
		{name: "store_closure", fn: testStoreClosure},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewKVStore()
			require.NoError(t, err)
			defer store.Close() //nolint:errcheck

			tc.fn(t, store)
		})
	}
}

func TestKVStoreAtSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewKVStoreAt(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put([]byte("k"), []byte("v")))
	require.NoError(t, store.Close())

	store, err = NewKVStoreAt(dir)
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	v, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func testBasicPutGet(t *testing.T, store db.KVStore) {
	key := []byte("test-key")
	value := []byte("test-value")

	require.NoError(t, store.Put(key, value))

	retrieved, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, retrieved)

	_, err = store.Get([]byte("non-existent"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func testHas(t *testing.T, store db.KVStore) {
	require.NoError(t, store.Put([]byte("present"), []byte{1}))

	ok, err := store.Has([]byte("present"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Has([]byte("absent"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDelete(t *testing.T, store db.KVStore) {
	key := []byte("delete-test")

	require.NoError(t, store.Put(key, []byte("to-be-deleted")))
	require.NoError(t, store.Delete(key))

	_, err := store.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, store.Delete([]byte("non-existent")))
}

func testStoreClosure(t *testing.T, store db.KVStore) {
	require.NoError(t, store.Close())

	_, err := store.Get([]byte("key"))
	assert.ErrorIs(t, err, ErrClosed)

	err = store.Put([]byte("key"), []byte("value"))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = store.NewIterator(nil, nil)
	assert.ErrorIs(t, err, ErrClosed)

	// Double close is a no-op.
	assert.NoError(t, store.Close())
}

func TestBatch(t *testing.T) {
	store, err := NewKVStore()
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	t.Run("commit_applies_all_writes", func(t *testing.T) {
		batch := store.NewBatch()
		defer batch.Close() //nolint:errcheck

		require.NoError(t, batch.Put([]byte("k1"), []byte("v1")))
		require.NoError(t, batch.Put([]byte("k2"), []byte("v2")))
		require.NoError(t, batch.Delete([]byte("k2")))

		_, err := store.Get([]byte("k1"))
		assert.ErrorIs(t, err, ErrNotFound, "writes are invisible before commit")

		require.NoError(t, batch.Commit())

		v, err := store.Get([]byte("k1"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), v)
		_, err = store.Get([]byte("k2"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("use_after_commit", func(t *testing.T) {
		batch := store.NewBatch()
		require.NoError(t, batch.Put([]byte("k3"), []byte("v3")))
		require.NoError(t, batch.Commit())

		assert.ErrorIs(t, batch.Put([]byte("k4"), nil), ErrBatchDone)
		assert.ErrorIs(t, batch.Delete([]byte("k3")), ErrBatchDone)
		assert.ErrorIs(t, batch.Commit(), ErrBatchDone)
		assert.NoError(t, batch.Close())
	})
}

func TestIterator(t *testing.T) {
	store, err := NewKVStore()
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Put([]byte(k), []byte("value-"+k)))
	}

	t.Run("bounded_range", func(t *testing.T) {
		iter, err := store.NewIterator([]byte("b"), []byte("e"))
		require.NoError(t, err)
		defer iter.Close() //nolint:errcheck

		assert.False(t, iter.Valid())
		var keys []string
		for iter.Next() {
			v, err := iter.Value()
			require.NoError(t, err)
			assert.Equal(t, "value-"+string(iter.Key()), string(v))
			keys = append(keys, string(iter.Key()))
		}
		assert.Equal(t, []string{"b", "c", "d"}, keys)

		_, err = iter.Value()
		assert.ErrorIs(t, err, ErrIteratorInvalid)
	})

	t.Run("prefix_range", func(t *testing.T) {
		iter, err := store.NewIterator([]byte("d"), db.PrefixEnd([]byte("d")))
		require.NoError(t, err)
		defer iter.Close() //nolint:errcheck

		var count int
		for iter.Next() {
			count++
		}
		assert.Equal(t, 1, count)
	})
}
