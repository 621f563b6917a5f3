// Package engine composes the data log, the per-field sparse indexes, and
// the store header into the append and retrieval pipelines.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ijsonl/internal/datalog"
	"github.com/hupe1980/ijsonl/internal/fieldindex"
	"github.com/hupe1980/ijsonl/internal/fs"
	"github.com/hupe1980/ijsonl/internal/header"
	"github.com/hupe1980/ijsonl/internal/scan"
)

// RootPath is the reserved field path covering the whole record. It is stored
// in the header like any other path but never listed to callers.
const RootPath = "__RECORD__"

const (
	headerFile = "header.bin"
	dataFile   = "data.jsonl"
	indexDir   = "indices"

	indexSuffix = ".index"
	gapsSuffix  = ".gaps"
)

var (
	// ErrRowNotFound is returned for rows at or beyond the committed record
	// count. A missing field within a committed row is not an error.
	ErrRowNotFound = errors.New("engine: row not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine: store is closed")

	// ErrReservedPath is returned when a caller addresses the root sentinel
	// directly.
	ErrReservedPath = errors.New("engine: reserved field path")

	// ErrEmbeddedTerminator is returned for serialized records containing a
	// raw newline, which the log cannot frame.
	ErrEmbeddedTerminator = errors.New("engine: record contains a newline")
)

// Options configures an Engine.
type Options struct {
	FS         fs.FileSystem
	Logger     *slog.Logger
	MaxDepth   int  // scanner nesting bound; <= 0 selects scan.DefaultMaxDepth
	SyncWrites bool // fsync the log and indexes inside every append
	MmapReads  bool // mmap the data log prefix for span reads

	// ColumnParallelism bounds concurrent span reads in Column and
	// GetFields. <= 0 selects a small default.
	ColumnParallelism int
}

// Engine is the single-writer core of a store. All mutation funnels through
// AddRecord under an internal writer mutex; reads snapshot the committed
// record count and may run concurrently with an in-flight append.
type Engine struct {
	dir  string
	opts Options
	fsys fs.FileSystem
	log  *slog.Logger

	dlog *datalog.Log
	hdr  *header.Header

	writeMu sync.Mutex // serializes the append pipeline

	mu      sync.RWMutex // guards indexes
	indexes map[string]*fieldindex.Index

	recordCount atomic.Uint64
	closed      atomic.Bool
}

// Open opens (or creates) the store rooted at dir and reconciles any indexes
// left behind the data log by an interrupted append.
func Open(dir string, opts Options) (*Engine, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ColumnParallelism <= 0 {
		opts.ColumnParallelism = 8
	}

	if err := fsys.MkdirAll(filepath.Join(dir, indexDir), 0o755); err != nil {
		return nil, err
	}

	hdr, err := header.Open(fsys, filepath.Join(dir, headerFile))
	if err != nil {
		return nil, err
	}
	dlog, err := datalog.Open(fsys, filepath.Join(dir, dataFile), datalog.Options{Mmap: opts.MmapReads})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:     dir,
		opts:    opts,
		fsys:    fsys,
		log:     logger,
		dlog:    dlog,
		hdr:     hdr,
		indexes: make(map[string]*fieldindex.Index),
	}

	count, paths, err := hdr.Load()
	if err != nil {
		dlog.Close()
		return nil, err
	}
	for _, p := range paths {
		idx, err := fieldindex.Open(fsys, e.indexFilePath(p), e.gapsFilePath(p))
		if err != nil {
			e.closeIndexes()
			dlog.Close()
			return nil, fmt.Errorf("open index for %q: %w", p, err)
		}
		e.indexes[p] = idx
	}
	e.recordCount.Store(count)

	orphans, err := e.adoptOrphanIndexes(paths)
	if err != nil {
		e.closeIndexes()
		dlog.Close()
		return nil, err
	}

	if err := e.reconcile(orphans); err != nil {
		e.closeIndexes()
		dlog.Close()
		return nil, err
	}
	return e, nil
}

// adoptOrphanIndexes opens index files present on disk but missing from the
// header's path set, and returns their field paths for re-registration. A
// crash between the root-index append and the header rewrite leaves a fully
// committed row whose newly introduced fields the header never learned; the
// index files themselves are authoritative.
func (e *Engine) adoptOrphanIndexes(known []string) ([]string, error) {
	entries, err := e.fsys.ReadDir(filepath.Join(e.dir, indexDir))
	if err != nil {
		return nil, err
	}

	knownNames := make(map[string]struct{}, len(known))
	for _, p := range known {
		knownNames[fieldindex.FileName(p)] = struct{}{}
	}

	var orphans []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, found := strings.CutSuffix(entry.Name(), indexSuffix)
		if !found {
			continue
		}
		if _, ok := knownNames[name]; ok {
			continue
		}
		path, ok := fieldindex.PathFromFileName(name)
		if !ok {
			return nil, fmt.Errorf("%w: undecodable index file name %q", fieldindex.ErrCorrupt, entry.Name())
		}
		idx, err := fieldindex.Open(e.fsys, e.indexFilePath(path), e.gapsFilePath(path))
		if err != nil {
			return nil, fmt.Errorf("open orphan index for %q: %w", path, err)
		}
		e.indexes[path] = idx
		orphans = append(orphans, path)
		e.log.Warn("adopting index missing from header", "path", path)
	}
	return orphans, nil
}

func (e *Engine) indexFilePath(path string) string {
	return filepath.Join(e.dir, indexDir, fieldindex.FileName(path)+indexSuffix)
}

func (e *Engine) gapsFilePath(path string) string {
	return filepath.Join(e.dir, indexDir, fieldindex.FileName(path)+gapsSuffix)
}

// AddRecord validates serialized, appends it to the data log, and indexes
// every discovered field path. The returned row number is assigned in append
// order. On a scan failure nothing is written.
func (e *Engine) AddRecord(ctx context.Context, serialized []byte) (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Step 1: validate before any side effect. Records are stored verbatim
	// on newline-terminated lines, so a raw newline anywhere in the bytes
	// (legal JSON whitespace) would split the record on replay.
	if bytes.IndexByte(serialized, datalog.Terminator) >= 0 {
		return 0, ErrEmbeddedTerminator
	}
	spans, err := scan.Scan(serialized, e.opts.MaxDepth)
	if err != nil {
		return 0, err
	}
	for p := range spans {
		// A top-level field named like the sentinel would share the root
		// index and corrupt whole-record retrieval.
		if p == RootPath || strings.HasPrefix(p, RootPath+".") {
			return 0, fmt.Errorf("%w: record contains field %q", ErrReservedPath, p)
		}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	row := e.recordCount.Load()

	// Step 2: the log append commits the record.
	recSpan, err := e.dlog.Append(serialized)
	if err != nil {
		return 0, err
	}
	if e.opts.SyncWrites {
		if err := e.dlog.Sync(); err != nil {
			return 0, err
		}
	}

	if err := e.indexRecord(row, recSpan, spans); err != nil {
		return 0, err
	}

	e.recordCount.Store(row + 1)
	e.log.Debug("record appended", "row", row, "bytes", recSpan.Len(), "fields", len(spans))
	return row, nil
}

// indexRecord runs steps 3-5 of the append pipeline: per-field index appends
// (root last, as the commit point), then the header update. spans are
// scanner-local; recSpan locates the record in the log.
func (e *Engine) indexRecord(row uint64, recSpan scan.Span, spans map[string]scan.Span) error {
	paths := make([]string, 0, len(spans))
	for p := range spans {
		if p == "" {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var newPaths []string
	appendOne := func(path string, span scan.Span) error {
		idx, created, err := e.ensureIndex(path)
		if err != nil {
			return err
		}
		if created {
			newPaths = append(newPaths, path)
		}
		// Replay may find the entry already applied.
		if idx.LastRow() >= int64(row) {
			return nil
		}
		if err := idx.Append(row, span); err != nil {
			return err
		}
		if e.opts.SyncWrites {
			return idx.Sync()
		}
		return nil
	}

	for _, p := range paths {
		local := spans[p]
		abs := scan.Span{Start: recSpan.Start + local.Start, End: recSpan.Start + local.End}
		if err := appendOne(p, abs); err != nil {
			return err
		}
	}
	// Root goes last: its last_row marks the row's index entries complete.
	if err := appendOne(RootPath, recSpan); err != nil {
		return err
	}

	return e.hdr.RegisterFields(row+1, newPaths)
}

func (e *Engine) ensureIndex(path string) (*fieldindex.Index, bool, error) {
	e.mu.RLock()
	idx, ok := e.indexes[path]
	e.mu.RUnlock()
	if ok {
		return idx, false, nil
	}

	idx, err := fieldindex.Create(e.fsys, e.indexFilePath(path), e.gapsFilePath(path))
	if err != nil {
		if errors.Is(err, fieldindex.ErrExists) || os.IsExist(err) {
			// Index file survives from a torn append the header missed.
			idx, err = fieldindex.Open(e.fsys, e.indexFilePath(path), e.gapsFilePath(path))
		}
		if err != nil {
			return nil, false, err
		}
	}

	e.mu.Lock()
	e.indexes[path] = idx
	e.mu.Unlock()
	return idx, true, nil
}

func (e *Engine) index(path string) (*fieldindex.Index, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.indexes[path]
	return idx, ok
}

// RecordCount returns the number of committed records.
func (e *Engine) RecordCount() uint64 {
	return e.recordCount.Load()
}

// ListFields returns the sorted known field paths, excluding the root
// sentinel.
func (e *Engine) ListFields() []string {
	e.mu.RLock()
	paths := make([]string, 0, len(e.indexes))
	for p := range e.indexes {
		if p == RootPath {
			continue
		}
		paths = append(paths, p)
	}
	e.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// GetRecord returns the raw bytes of the record at row.
func (e *Engine) GetRecord(ctx context.Context, row uint64) ([]byte, error) {
	b, ok, err := e.GetField(ctx, row, RootPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Every committed row has a root entry.
		return nil, fmt.Errorf("%w: row %d has no root entry", fieldindex.ErrCorrupt, row)
	}
	return b, nil
}

// GetField returns the raw serialized bytes of the field at path in row.
// ok is false when the field is absent from that row; absence is not an
// error. The caller interprets the bytes (they are a serialized JSON value).
func (e *Engine) GetField(ctx context.Context, row uint64, path string) ([]byte, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	// Snapshot the committed count: rows at or beyond it may have index
	// entries from an in-flight append that is not yet complete.
	if row >= e.recordCount.Load() {
		return nil, false, fmt.Errorf("%w: row %d, have %d records", ErrRowNotFound, row, e.recordCount.Load())
	}

	idx, ok := e.index(path)
	if !ok {
		return nil, false, nil
	}
	span, ok, err := idx.Lookup(row)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	b, err := e.dlog.ReadSpan(span)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// GetFields resolves several paths of one row concurrently. The result maps
// each requested path to its raw bytes, or nil when absent (flat keys; the
// caller owns any re-nesting).
func (e *Engine) GetFields(ctx context.Context, row uint64, paths []string) (map[string][]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if row >= e.recordCount.Load() {
		return nil, fmt.Errorf("%w: row %d, have %d records", ErrRowNotFound, row, e.recordCount.Load())
	}

	results := make([][]byte, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ColumnParallelism)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			b, ok, err := e.GetField(ctx, row, p)
			if err != nil {
				return err
			}
			if ok {
				results[i] = b
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(paths))
	for i, p := range paths {
		out[p] = results[i]
	}
	return out, nil
}

// Column fetches one field across the row range [fromRow, toRow). Reads fan
// out across the range and results come back in row order, nil where the
// field is absent.
func (e *Engine) Column(ctx context.Context, path string, fromRow, toRow uint64) ([][]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	count := e.recordCount.Load()
	if toRow > count {
		return nil, fmt.Errorf("%w: row range end %d, have %d records", ErrRowNotFound, toRow, count)
	}
	if fromRow >= toRow {
		return nil, nil
	}

	results := make([][]byte, toRow-fromRow)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ColumnParallelism)
	for i := range results {
		i := i
		row := fromRow + uint64(i)
		g.Go(func() error {
			b, ok, err := e.GetField(ctx, row, path)
			if err != nil {
				return err
			}
			if ok {
				results[i] = b
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Sync flushes the log and every index to stable storage.
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.dlog.Sync(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for p, idx := range e.indexes {
		if err := idx.Sync(); err != nil {
			return fmt.Errorf("sync index for %q: %w", p, err)
		}
	}
	return nil
}

// Dir returns the store's root directory.
func (e *Engine) Dir() string { return e.dir }

func (e *Engine) closeIndexes() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, idx := range e.indexes {
		idx.Close()
	}
	e.indexes = make(map[string]*fieldindex.Index)
}

// Close flushes and closes all resources. The engine is unusable afterwards.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return ErrClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var firstErr error
	e.mu.Lock()
	for _, idx := range e.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.indexes = nil
	e.mu.Unlock()

	if err := e.dlog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
