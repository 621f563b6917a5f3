package ijsonl

import (
	"context"
	"fmt"

	"github.com/hupe1980/ijsonl/codec"
	"github.com/hupe1980/ijsonl/internal/engine"
)

// Store is an append-only, field-indexed record store rooted at a directory.
// A single Store instance owns the directory: one writer, any number of
// concurrent readers. Use Open to obtain one and Close to release it.
type Store struct {
	eng   *engine.Engine
	codec codec.Codec
}

// Open opens the store at dir, creating it when the directory is empty.
// Indexes left behind the data log by an interrupted append are reconciled
// before Open returns.
func Open(dir string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.codec == nil {
		cfg.codec = codec.Default
	}

	eng, err := engine.Open(dir, engine.Options{
		FS:                cfg.fsys,
		Logger:            cfg.logger,
		MaxDepth:          cfg.maxDepth,
		SyncWrites:        cfg.syncWrites,
		MmapReads:         cfg.mmapReads,
		ColumnParallelism: cfg.columnParallelism,
	})
	if err != nil {
		return nil, translateError(err)
	}
	return &Store{eng: eng, codec: cfg.codec}, nil
}

// AddRecord serializes v with the store's codec and appends it as a new
// record. The returned row number is assigned in append order, starting at
// zero. If v does not serialize to a valid JSON value the store is left
// unchanged and ErrMalformedInput is returned.
func (s *Store) AddRecord(ctx context.Context, v any) (uint64, error) {
	b, err := s.codec.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return s.AddRecordBytes(ctx, b)
}

// AddRecordBytes appends pre-serialized record bytes. The bytes must be a
// single JSON value containing no raw newline (records live on
// newline-terminated lines); they are stored verbatim, so GetRecord returns
// them byte-for-byte.
func (s *Store) AddRecordBytes(ctx context.Context, b []byte) (uint64, error) {
	row, err := s.eng.AddRecord(ctx, b)
	if err != nil {
		return 0, translateError(err)
	}
	return row, nil
}

// GetRecord returns the full serialized record at row, byte-identical to
// what was appended.
func (s *Store) GetRecord(ctx context.Context, row uint64) ([]byte, error) {
	b, err := s.eng.GetRecord(ctx, row)
	if err != nil {
		return nil, translateError(err)
	}
	return b, nil
}

// GetField returns the raw serialized value of the field at path within row,
// without touching the rest of the record. ok is false when the row exists
// but does not contain the field; that is not an error. Nested fields use
// dot-joined paths, e.g. "address.city".
func (s *Store) GetField(ctx context.Context, row uint64, path string) ([]byte, bool, error) {
	if path == engine.RootPath {
		return nil, false, translateError(engine.ErrReservedPath)
	}
	b, ok, err := s.eng.GetField(ctx, row, path)
	if err != nil {
		return nil, false, translateError(err)
	}
	return b, ok, nil
}

// GetFields resolves several field paths of one row. The result maps every
// requested path to its raw bytes, or nil when the row does not contain it.
func (s *Store) GetFields(ctx context.Context, row uint64, paths []string) (map[string][]byte, error) {
	for _, p := range paths {
		if p == engine.RootPath {
			return nil, translateError(engine.ErrReservedPath)
		}
	}
	out, err := s.eng.GetFields(ctx, row, paths)
	if err != nil {
		return nil, translateError(err)
	}
	return out, nil
}

// Column fetches one field across the half-open row range [fromRow, toRow).
// The result has one slot per row in order, nil where the field is absent.
func (s *Store) Column(ctx context.Context, path string, fromRow, toRow uint64) ([][]byte, error) {
	if path == engine.RootPath {
		return nil, translateError(engine.ErrReservedPath)
	}
	out, err := s.eng.Column(ctx, path, fromRow, toRow)
	if err != nil {
		return nil, translateError(err)
	}
	return out, nil
}

// ListFields returns every field path the store has ever indexed, sorted.
func (s *Store) ListFields() []string {
	return s.eng.ListFields()
}

// RecordCount returns the number of committed records.
func (s *Store) RecordCount() uint64 {
	return s.eng.RecordCount()
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.eng.Dir()
}

// Sync flushes the data log and every index to stable storage.
func (s *Store) Sync() error {
	return translateError(s.eng.Sync())
}

// Close flushes and closes the store. Further calls return ErrClosed.
func (s *Store) Close() error {
	return translateError(s.eng.Close())
}
