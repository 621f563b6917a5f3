package ijsonl

import (
	"errors"
	"fmt"

	"github.com/hupe1980/ijsonl/internal/datalog"
	"github.com/hupe1980/ijsonl/internal/engine"
	"github.com/hupe1980/ijsonl/internal/fieldindex"
	"github.com/hupe1980/ijsonl/internal/header"
	"github.com/hupe1980/ijsonl/internal/scan"
)

var (
	// ErrMalformedInput is returned when a record's serialized bytes are not
	// a single valid JSON value. Nothing is written in that case.
	ErrMalformedInput = errors.New("malformed input")

	// ErrOutOfOrderAppend indicates an internal sequencing bug in the append
	// pipeline; it is fatal for that append.
	ErrOutOfOrderAppend = errors.New("out-of-order append")

	// ErrCorrupt is returned when an on-disk resource fails shape checks.
	// It is never masked: the alternative is silently serving wrong offsets.
	ErrCorrupt = errors.New("corrupt store")

	// ErrNotFound is returned for row numbers at or beyond the committed
	// record count. A missing field in an existing row is NOT an error; see
	// GetField's ok result.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")

	// ErrReservedPath is returned when a caller addresses the internal
	// whole-record field path directly. Use GetRecord instead.
	ErrReservedPath = errors.New("reserved field path")
)

// translateError maps internal errors onto the public taxonomy. The original
// error stays reachable through errors.Is/As.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var syntaxErr *scan.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, engine.ErrEmbeddedTerminator) {
		return fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	if errors.Is(err, fieldindex.ErrOutOfOrder) {
		return fmt.Errorf("%w: %w", ErrOutOfOrderAppend, err)
	}
	if errors.Is(err, fieldindex.ErrCorrupt) ||
		errors.Is(err, header.ErrCorrupt) ||
		errors.Is(err, datalog.ErrOutOfBounds) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if errors.Is(err, engine.ErrRowNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, engine.ErrReservedPath) {
		return fmt.Errorf("%w: %w", ErrReservedPath, err)
	}
	return err
}
