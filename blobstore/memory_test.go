package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutOpen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "snap-1", []byte("payload")))

	b, err := store.Open(ctx, "snap-1")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, int64(7), b.Size())
	data, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestMemoryStoreOpenMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCreateStreaming(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	w, err := store.Create(ctx, "snap-2")
	require.NoError(t, err)
	_, err = w.Write([]byte("part1-"))
	require.NoError(t, err)
	_, err = w.Write([]byte("part2"))
	require.NoError(t, err)

	// Not visible until Close commits.
	_, err = store.Open(ctx, "snap-2")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Close())

	b, err := store.Open(ctx, "snap-2")
	require.NoError(t, err)
	defer b.Close()
	data, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "part1-part2", string(data))
}

func TestMemoryStoreDeleteAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "a/1", []byte("x")))
	require.NoError(t, store.Put(ctx, "a/2", []byte("y")))
	require.NoError(t, store.Put(ctx, "b/1", []byte("z")))

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, names)

	require.NoError(t, store.Delete(ctx, "a/1"))
	require.NoError(t, store.Delete(ctx, "missing"))

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/2", "b/1"}, names)
}
