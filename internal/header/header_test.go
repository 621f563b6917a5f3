package header

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeader(t *testing.T) (*Header, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "header.bin")
	h, err := Open(nil, path)
	require.NoError(t, err)
	return h, path
}

func TestOpenCreatesEmpty(t *testing.T) {
	h, path := newTestHeader(t)

	count, paths, err := h.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
	assert.Empty(t, paths)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(prefixSize), info.Size())
}

func TestRegisterFields(t *testing.T) {
	h, _ := newTestHeader(t)

	require.NoError(t, h.RegisterFields(1, []string{"name", "age", "__RECORD__"}))
	require.NoError(t, h.RegisterFields(2, []string{"address.city"}))

	count, paths, err := h.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
	assert.Equal(t, []string{"__RECORD__", "address.city", "age", "name"}, paths)
}

func TestRegisterFieldsDeduplicates(t *testing.T) {
	h, _ := newTestHeader(t)

	require.NoError(t, h.RegisterFields(1, []string{"a", "b"}))
	require.NoError(t, h.RegisterFields(2, []string{"b", "c"}))

	_, paths, err := h.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, paths)
}

func TestRegisterFieldsCountOnly(t *testing.T) {
	h, path := newTestHeader(t)

	require.NoError(t, h.RegisterFields(1, []string{"a"}))
	before, err := os.Stat(path)
	require.NoError(t, err)

	// No new paths: only the leading count changes, no rewrite.
	require.NoError(t, h.RegisterFields(7, nil))
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())

	count, paths, err := h.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), count)
	assert.Equal(t, []string{"a"}, paths)
}

func TestFieldExists(t *testing.T) {
	h, _ := newTestHeader(t)
	require.NoError(t, h.RegisterFields(1, []string{"name"}))

	ok, err := h.FieldExists("name")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.FieldExists("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReopenSeesDurableState(t *testing.T) {
	h, path := newTestHeader(t)
	require.NoError(t, h.RegisterFields(3, []string{"x", "y"}))

	reopened, err := Open(nil, path)
	require.NoError(t, err)

	count, paths, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
	assert.Equal(t, []string{"x", "y"}, paths)
}

func TestOpenRejectsCorrupt(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		data []byte
	}{
		{"short file", []byte{1, 2, 3}},
		{"truncated path entry", append(make([]byte, 8), []byte{2, 0, 0, 0, 0, 0, 0, 0, 5, 0, 'a'}...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, tt.data, 0o644))

			_, err := Open(nil, path)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}
