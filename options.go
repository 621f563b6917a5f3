package ijsonl

import (
	"log/slog"

	"github.com/hupe1980/ijsonl/codec"
	"github.com/hupe1980/ijsonl/internal/fs"
)

// Option configures a Store at Open time.
type Option func(*config)

type config struct {
	fsys              fs.FileSystem
	logger            *slog.Logger
	codec             codec.Codec
	maxDepth          int
	syncWrites        bool
	mmapReads         bool
	columnParallelism int
}

func defaultConfig() config {
	return config{
		codec: codec.Default,
	}
}

// WithCodec sets the codec used by AddRecord to serialize values. The codec
// must emit a single JSON value. Pre-serialized input via AddRecordBytes
// bypasses the codec entirely.
func WithCodec(c codec.Codec) Option {
	return func(cfg *config) { cfg.codec = c }
}

// WithLogger sets a structured logger. Logging is off by default.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// WithMaxDepth bounds the nesting depth the scanner accepts. Deeper records
// are rejected as malformed instead of risking stack exhaustion. Zero keeps
// the default.
func WithMaxDepth(depth int) Option {
	return func(cfg *config) { cfg.maxDepth = depth }
}

// WithSyncWrites fsyncs the data log and every touched index inside each
// append. Without it durability rides on the OS page cache until Sync or
// Close.
func WithSyncWrites() Option {
	return func(cfg *config) { cfg.syncWrites = true }
}

// WithMmapReads memory-maps the existing data log prefix at open for
// zero-syscall span reads. Spans appended after open fall back to pread.
func WithMmapReads() Option {
	return func(cfg *config) { cfg.mmapReads = true }
}

// WithColumnParallelism bounds the concurrent span reads used by GetFields
// and Column. Zero keeps the default.
func WithColumnParallelism(n int) Option {
	return func(cfg *config) { cfg.columnParallelism = n }
}

// withFileSystem injects a FileSystem; used by tests for fault injection.
func withFileSystem(fsys fs.FileSystem) Option {
	return func(cfg *config) { cfg.fsys = fsys }
}
