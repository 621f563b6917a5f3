package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ijsonl/internal/fs"
	"github.com/hupe1980/ijsonl/internal/header"
	"github.com/hupe1980/ijsonl/internal/scan"
)

func newTestEngine(t *testing.T, opts Options) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(dir, opts)
	require.NoError(t, err)
	return e, dir
}

func TestAddAndGet(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	defer e.Close()
	ctx := context.Background()

	alice := `{"name": "Alice", "age": 30}`
	bob := `{"name": "Bob", "age": 25, "address": {"city": "Berlin"}}`

	row, err := e.AddRecord(ctx, []byte(alice))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), row)

	row, err = e.AddRecord(ctx, []byte(bob))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row)
	assert.Equal(t, uint64(2), e.RecordCount())

	rec, err := e.GetRecord(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, alice, string(rec))

	rec, err = e.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, bob, string(rec))

	val, ok, err := e.GetField(ctx, 0, "age")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "30", string(val))

	val, ok, err = e.GetField(ctx, 1, "address.city")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"Berlin"`, string(val))

	// Alice has no address; absence is not an error.
	_, ok, err = e.GetField(ctx, 0, "address.city")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown field path.
	_, ok, err = e.GetField(ctx, 0, "salary")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddRecordRejectsMalformed(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	defer e.Close()
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"ok": true}`))
	require.NoError(t, err)

	_, err = e.AddRecord(ctx, []byte(`{"broken": `))
	require.Error(t, err)
	var syntaxErr *scan.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)

	// Nothing written: count and log are untouched.
	assert.Equal(t, uint64(1), e.RecordCount())

	row, err := e.AddRecord(ctx, []byte(`{"ok": false}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row)
}

func TestAddRecordRejectsEmbeddedNewline(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	defer e.Close()
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte("{\"a\":\n 1}"))
	assert.ErrorIs(t, err, ErrEmbeddedTerminator)
	assert.Equal(t, uint64(0), e.RecordCount())
}

func TestGetRowNotFound(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	defer e.Close()
	ctx := context.Background()

	_, err := e.GetRecord(ctx, 0)
	assert.ErrorIs(t, err, ErrRowNotFound)

	_, err = e.AddRecord(ctx, []byte(`{}`))
	require.NoError(t, err)

	_, _, err = e.GetField(ctx, 5, "a")
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestListFieldsExcludesRoot(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	defer e.Close()
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"b": 1, "a": {"x": 2}}`))
	require.NoError(t, err)
	_, err = e.AddRecord(ctx, []byte(`{"c": [true]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "a.x", "b", "c", "c.0"}, e.ListFields())
}

func TestScalarRecord(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	defer e.Close()
	ctx := context.Background()

	row, err := e.AddRecord(ctx, []byte(`42`))
	require.NoError(t, err)

	rec, err := e.GetRecord(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, "42", string(rec))
	assert.Empty(t, e.ListFields())
}

func TestReopenPersists(t *testing.T) {
	e, dir := newTestEngine(t, Options{})
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"name": "Alice", "age": 30}`))
	require.NoError(t, err)
	_, err = e.AddRecord(ctx, []byte(`{"name": "Bob"}`))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := Open(dir, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.RecordCount())
	assert.Equal(t, []string{"age", "name"}, reopened.ListFields())

	val, ok, err := reopened.GetField(ctx, 0, "age")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "30", string(val))

	_, ok, err = reopened.GetField(ctx, 1, "age")
	require.NoError(t, err)
	assert.False(t, ok)

	// Appends continue with the next row number.
	row, err := reopened.AddRecord(ctx, []byte(`{"age": 41}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), row)
}

func TestSparseFieldAcrossRecords(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	defer e.Close()
	ctx := context.Background()

	// "tag" present in rows 0 and 2 only.
	_, err := e.AddRecord(ctx, []byte(`{"tag": "a"}`))
	require.NoError(t, err)
	_, err = e.AddRecord(ctx, []byte(`{"other": 1}`))
	require.NoError(t, err)
	_, err = e.AddRecord(ctx, []byte(`{"tag": "c"}`))
	require.NoError(t, err)

	val, ok, err := e.GetField(ctx, 2, "tag")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"c"`, string(val))

	_, ok, err = e.GetField(ctx, 1, "tag")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetFields(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	defer e.Close()
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"name": "Alice", "age": 30, "address": {"city": "Oslo"}}`))
	require.NoError(t, err)

	got, err := e.GetFields(ctx, 0, []string{"name", "address.city", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"name":         []byte(`"Alice"`),
		"address.city": []byte(`"Oslo"`),
		"missing":      nil,
	}, got)
}

func TestColumn(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	defer e.Close()
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"n": 0}`))
	require.NoError(t, err)
	_, err = e.AddRecord(ctx, []byte(`{"x": true}`))
	require.NoError(t, err)
	_, err = e.AddRecord(ctx, []byte(`{"n": 2}`))
	require.NoError(t, err)

	col, err := e.Column(ctx, "n", 0, 3)
	require.NoError(t, err)
	require.Len(t, col, 3)
	assert.Equal(t, "0", string(col[0]))
	assert.Nil(t, col[1])
	assert.Equal(t, "2", string(col[2]))

	col, err = e.Column(ctx, "n", 2, 3)
	require.NoError(t, err)
	require.Len(t, col, 1)
	assert.Equal(t, "2", string(col[0]))

	col, err = e.Column(ctx, "n", 2, 2)
	require.NoError(t, err)
	assert.Empty(t, col)

	_, err = e.Column(ctx, "n", 0, 4)
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestClosedEngine(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	require.NoError(t, e.Close())

	_, err := e.AddRecord(ctx, []byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = e.GetField(ctx, 0, "a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.Close(), ErrClosed)
}

func TestReconcileReplaysUnindexedRecords(t *testing.T) {
	e, dir := newTestEngine(t, Options{})
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"a": 1}`))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// Simulate a crash after the log write but before any index append:
	// a terminated record sits in the log with no index entries.
	f, err := os.OpenFile(filepath.Join(dir, "data.jsonl"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"a": 2, "b": "late"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(dir, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.RecordCount())

	val, ok, err := reopened.GetField(ctx, 1, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"late"`, string(val))

	rec, err := reopened.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 2, "b": "late"}`, string(rec))
}

func TestReconcileTruncatesTornRecord(t *testing.T) {
	e, dir := newTestEngine(t, Options{})
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"a": 1}`))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// A fragment without a terminator never finished its log write.
	logPath := filepath.Join(dir, "data.jsonl")
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"torn": `)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(dir, Options{})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), reopened.RecordCount())

	// New appends land where the fragment was dropped.
	row, err := reopened.AddRecord(ctx, []byte(`{"a": 2}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row)
	require.NoError(t, reopened.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\": 1}\n{\"a\": 2}\n", string(data))
}

func TestReconcileMixedTail(t *testing.T) {
	e, dir := newTestEngine(t, Options{})
	require.NoError(t, e.Close())

	// Empty store whose log gained two complete records and one fragment.
	f, err := os.OpenFile(filepath.Join(dir, "data.jsonl"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"a\": 1}\n{\"a\": 2}\n{\"a\":")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(dir, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.RecordCount())

	ctx := context.Background()
	col, err := reopened.Column(ctx, "a", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, col)
}

func TestReopenRegistersIndexesMissingFromHeader(t *testing.T) {
	e, dir := newTestEngine(t, Options{})
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"a": 1}`))
	require.NoError(t, err)
	_, err = e.AddRecord(ctx, []byte(`{"a": 2, "x": 3}`))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// Simulate a crash between row 1's root-index append and the header
	// rewrite: every index file is complete on disk, but the header still
	// carries the pre-row-1 state and has never heard of "x".
	headerPath := filepath.Join(dir, "header.bin")
	require.NoError(t, os.Remove(headerPath))
	h, err := header.Open(nil, headerPath)
	require.NoError(t, err)
	require.NoError(t, h.RegisterFields(1, []string{RootPath, "a"}))

	reopened, err := Open(dir, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.RecordCount())
	assert.Equal(t, []string{"a", "x"}, reopened.ListFields())

	val, ok, err := reopened.GetField(ctx, 1, "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", string(val))

	// The repair is durable: the header on disk lists the adopted path.
	_, paths, err := h.Load()
	require.NoError(t, err)
	assert.Contains(t, paths, "x")
}

func TestFailedSyncLeavesCountUnchanged(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule("data.jsonl", fs.Fault{FailOnSync: true})

	e, _ := newTestEngine(t, Options{FS: faulty, SyncWrites: true})
	defer e.Close()
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"a": 1}`))
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, uint64(0), e.RecordCount())

	_, err = e.GetRecord(ctx, 0)
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestSyncWrites(t *testing.T) {
	e, _ := newTestEngine(t, Options{SyncWrites: true})
	defer e.Close()
	ctx := context.Background()

	_, err := e.AddRecord(ctx, []byte(`{"a": 1, "b": {"c": 2}}`))
	require.NoError(t, err)

	val, ok, err := e.GetField(ctx, 0, "b.c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(val))
}
