package engine

import (
	"bytes"
	"fmt"

	"github.com/hupe1980/ijsonl/internal/datalog"
	"github.com/hupe1980/ijsonl/internal/scan"
)

// reconcile closes the gap between the data log and the indexes after a
// crash. The append pipeline orders the root-index append last, so the root
// index's last_row tells exactly how many rows are fully indexed. Records in
// the log past that point were committed (step 2 completed) but not indexed;
// they are replayed here. A trailing fragment without a terminator never
// completed its log write and is truncated. orphans are field paths adopted
// from index files the header does not list; they are re-registered alongside
// the settled count.
func (e *Engine) reconcile(orphans []string) error {
	var (
		nextRow uint64
		offset  int64
	)
	if root, ok := e.index(RootPath); ok && root.LastRow() >= 0 {
		lastRow := uint64(root.LastRow())
		span, found, err := root.Lookup(lastRow)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("root index missing its own last row %d", lastRow)
		}
		nextRow = lastRow + 1
		offset = int64(span.End) + 1 // past the terminator
	}

	tail, err := e.dlog.Tail(offset)
	if err != nil {
		return err
	}
	if len(tail) == 0 {
		return e.finishReconcile(nextRow, false, orphans)
	}

	e.log.Info("reconciling data log tail", "offset", offset, "bytes", len(tail))

	replayed := false
	pos := 0
	for pos < len(tail) {
		nl := bytes.IndexByte(tail[pos:], datalog.Terminator)
		if nl < 0 {
			// Torn final record: never terminated, never committed.
			e.log.Warn("truncating torn trailing record", "offset", offset+int64(pos), "bytes", len(tail)-pos)
			if err := e.dlog.Truncate(offset + int64(pos)); err != nil {
				return err
			}
			break
		}

		record := tail[pos : pos+nl]
		spans, err := scan.Scan(record, e.opts.MaxDepth)
		if err != nil {
			// A terminated record always passed validation before its log
			// write, so this is corruption, not a torn append.
			return fmt.Errorf("replay row %d: %w", nextRow, err)
		}

		recStart := uint64(offset) + uint64(pos)
		recSpan := scan.Span{Start: recStart, End: recStart + uint64(len(record))}
		if err := e.indexRecord(nextRow, recSpan, spans); err != nil {
			return fmt.Errorf("replay row %d: %w", nextRow, err)
		}

		e.log.Info("replayed record", "row", nextRow)
		nextRow++
		replayed = true
		pos += nl + 1
	}

	return e.finishReconcile(nextRow, replayed, orphans)
}

// finishReconcile settles the committed count and the field set. The header
// may trail the root index (crash between index appends and the header
// update); the root index and the on-disk index files are authoritative.
func (e *Engine) finishReconcile(count uint64, replayed bool, orphans []string) error {
	if replayed || len(orphans) > 0 || e.recordCount.Load() != count {
		if err := e.hdr.RegisterFields(count, orphans); err != nil {
			return err
		}
		if err := e.Sync(); err != nil {
			return err
		}
	}
	e.recordCount.Store(count)
	return nil
}
