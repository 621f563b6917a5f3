package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "backups/snap-1", []byte("archive bytes")))

	b, err := store.Open(ctx, "backups/snap-1")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, int64(13), b.Size())
	data, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(data))
}

func TestLocalStoreOpenMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreCreateCommitsOnClose(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	w, err := store.Create(ctx, "snap-2")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)

	// Before Close only the temp file exists.
	_, statErr := os.Stat(filepath.Join(root, "snap-2"))
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(root, "snap-2"))
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))

	// Double close reports an error.
	assert.Error(t, w.Close())
}

func TestLocalStoreListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "a/snap", []byte("x")))
	w, err := store.Create(ctx, "a/pending")
	require.NoError(t, err)
	defer w.Close()

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/snap"}, names)
}

func TestLocalStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "snap", []byte("x")))
	require.NoError(t, store.Delete(ctx, "snap"))
	require.NoError(t, store.Delete(ctx, "snap"), "delete is idempotent")

	_, err = store.Open(ctx, "snap")
	assert.ErrorIs(t, err, ErrNotFound)
}
