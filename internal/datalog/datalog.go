// Package datalog manages the append-only record log.
//
// The log is a flat file of serialized records, each terminated by a single
// newline byte. Offsets handed out by the indexing layer are absolute file
// offsets; bytes once written are never mutated, so concurrent readers may
// slice any committed span while an append is in flight.
package datalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/ijsonl/internal/fs"
	"github.com/hupe1980/ijsonl/internal/mmap"
	"github.com/hupe1980/ijsonl/internal/scan"
)

// Terminator separates records in the log.
const Terminator = '\n'

// ErrOutOfBounds is returned when a span lies outside the written log.
var ErrOutOfBounds = errors.New("datalog: span out of bounds")

// Log is a handle to the data log file.
type Log struct {
	mu   sync.Mutex
	fsys fs.FileSystem
	path string
	file fs.File
	w    *countingWriter

	// mapped is an optional read-only mapping of the log prefix as it
	// existed at open time. Spans beyond it fall back to pread.
	mapped *mmap.Mapping
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Options configures a Log.
type Options struct {
	// Mmap maps the existing log prefix at open for zero-copy span reads.
	Mmap bool
}

// Open opens or creates the log at path.
func Open(fsys fs.FileSystem, path string, opts Options) (*Log, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(stat.Size(), io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	l := &Log{
		fsys: fsys,
		path: path,
		file: f,
		w:    &countingWriter{w: bufio.NewWriter(f), n: stat.Size()},
	}

	if opts.Mmap && stat.Size() > 0 {
		m, err := mmap.Open(path)
		if err != nil {
			f.Close()
			return nil, err
		}
		l.mapped = m
	}
	return l, nil
}

// Size returns the current log size in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.n
}

// Append writes record plus the terminator and returns the span the record
// bytes occupy, excluding the terminator. The bytes are flushed to the OS
// before return; durability beyond that is the caller's Sync decision.
func (l *Log) Append(record []byte) (scan.Span, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.w.n
	if _, err := l.w.Write(record); err != nil {
		return scan.Span{}, err
	}
	if _, err := l.w.Write([]byte{Terminator}); err != nil {
		return scan.Span{}, err
	}
	if err := l.w.w.Flush(); err != nil {
		return scan.Span{}, err
	}
	return scan.Span{Start: uint64(start), End: uint64(start) + uint64(len(record))}, nil
}

// ReadSpan returns the bytes in span. The read is served from the mapping
// when the span falls inside it, otherwise by pread.
func (l *Log) ReadSpan(span scan.Span) ([]byte, error) {
	if span.End < span.Start {
		return nil, fmt.Errorf("%w: inverted span (%d, %d)", ErrOutOfBounds, span.Start, span.End)
	}
	if int64(span.End) > l.Size() {
		return nil, fmt.Errorf("%w: span end %d past log size", ErrOutOfBounds, span.End)
	}

	buf := make([]byte, span.Len())
	if len(buf) == 0 {
		return buf, nil
	}

	if m := l.mapped; m != nil && span.End <= uint64(m.Size()) {
		if _, err := m.ReadAt(buf, int64(span.Start)); err != nil {
			return nil, err
		}
		return buf, nil
	}

	if _, err := l.file.ReadAt(buf, int64(span.Start)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Tail returns all bytes from offset to the end of the log. Used by startup
// reconciliation to inspect records past the last indexed one.
func (l *Log) Tail(offset int64) ([]byte, error) {
	size := l.Size()
	if offset > size {
		return nil, fmt.Errorf("%w: tail offset %d past log size %d", ErrOutOfBounds, offset, size)
	}
	buf := make([]byte, size-offset)
	if len(buf) == 0 {
		return buf, nil
	}
	if _, err := l.file.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// Truncate discards bytes at and past size. Only startup reconciliation calls
// this, to drop a torn final record that never gained its terminator.
func (l *Log) Truncate(size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if size > l.w.n {
		return fmt.Errorf("%w: truncate to %d past log size %d", ErrOutOfBounds, size, l.w.n)
	}
	if err := l.file.Truncate(size); err != nil {
		return err
	}
	if _, err := l.file.Seek(size, io.SeekStart); err != nil {
		return err
	}
	l.w = &countingWriter{w: bufio.NewWriter(l.file), n: size}
	return nil
}

// Sync flushes the log to stable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.w.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close closes the log file and any mapping.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.w.w.Flush()
	if l.mapped != nil {
		if merr := l.mapped.Close(); merr != nil && err == nil {
			err = merr
		}
	}
	if cerr := l.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
