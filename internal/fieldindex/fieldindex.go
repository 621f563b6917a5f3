// Package fieldindex implements the per-field sparse row index.
//
// Each field path owns two append-only files:
//
//	<name>.index  16-byte prefix (last_row int64 LE, entry_count uint64 LE)
//	              followed by entry_count 16-byte spans (start, end uint64 LE),
//	              one per row in which the field is present, in row order.
//	<name>.gaps   16-byte entries (gap_start uint64 LE, run_length uint64 LE),
//	              ascending, covering exactly the absent rows in [0, last_row].
//
// Fields come and go across heterogeneous records, so a dense per-row array
// would waste space proportional to total row count for every sparse field.
// The gap list stores one entry per present/absent transition instead. An
// in-memory roaring bitmap of present rows, rebuilt from the gap list on
// open, turns the row to dense-position translation into a rank query.
package fieldindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/ijsonl/internal/fs"
	"github.com/hupe1980/ijsonl/internal/scan"
)

const (
	prefixSize = 16
	entrySize  = 16
)

var (
	// ErrOutOfOrder is returned when appending a row at or below last_row.
	// Rows enter the data log exactly once and in order, so this always
	// indicates a sequencing bug in the caller, not bad user input.
	ErrOutOfOrder = errors.New("fieldindex: out-of-order append")

	// ErrCorrupt is returned when an index resource fails shape checks that
	// self-healing cannot explain as a torn trailing write.
	ErrCorrupt = errors.New("fieldindex: corrupt")

	// ErrExists is returned by Create when the index already exists.
	ErrExists = errors.New("fieldindex: already exists")
)

// Gap is a contiguous run of rows in which the field is absent.
type Gap struct {
	Start uint64
	Run   uint64
}

// Index is a handle to one field's on-disk index.
type Index struct {
	mu sync.RWMutex

	fsys      fs.FileSystem
	indexPath string
	gapsPath  string

	indexFile fs.File
	gapsFile  fs.File

	lastRow    int64
	entryCount uint64
	gaps       []Gap
	present    *roaring.Bitmap
}

// Create initializes an empty index (last_row = -1, no entries, no gaps).
// It fails with ErrExists if the index file is already present.
func Create(fsys fs.FileSystem, indexPath, gapsPath string) (*Index, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if _, err := fsys.Stat(indexPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, indexPath)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	f, err := fsys.OpenFile(indexPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	var prefix [prefixSize]byte
	binary.LittleEndian.PutUint64(prefix[0:8], uint64(math.MaxUint64)) // -1
	binary.LittleEndian.PutUint64(prefix[8:16], 0)
	if _, err := f.Write(prefix[:]); err != nil {
		f.Close()
		return nil, err
	}
	gf, err := fsys.OpenFile(gapsPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Index{
		fsys:      fsys,
		indexPath: indexPath,
		gapsPath:  gapsPath,
		indexFile: f,
		gapsFile:  gf,
		lastRow:   -1,
		present:   roaring.New(),
	}, nil
}

// Open opens an existing index, healing torn trailing writes: a partial or
// header-uncounted trailing entry is truncated, as is a trailing gap lying
// entirely beyond last_row. Anything else that breaks the gap invariant is
// ErrCorrupt.
func Open(fsys fs.FileSystem, indexPath, gapsPath string) (*Index, error) {
	if fsys == nil {
		fsys = fs.Default
	}

	f, err := fsys.OpenFile(indexPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		fsys:      fsys,
		indexPath: indexPath,
		gapsPath:  gapsPath,
		indexFile: f,
	}
	if err := idx.loadAndHeal(); err != nil {
		f.Close()
		if idx.gapsFile != nil {
			idx.gapsFile.Close()
		}
		return nil, err
	}
	return idx, nil
}

func (idx *Index) loadAndHeal() error {
	stat, err := idx.indexFile.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()
	if size < prefixSize {
		return fmt.Errorf("%w: %s: %d byte file", ErrCorrupt, idx.indexPath, size)
	}

	var prefix [prefixSize]byte
	if _, err := idx.indexFile.ReadAt(prefix[:], 0); err != nil {
		return err
	}
	idx.lastRow = int64(binary.LittleEndian.Uint64(prefix[0:8]))
	idx.entryCount = binary.LittleEndian.Uint64(prefix[8:16])
	if idx.lastRow < -1 {
		return fmt.Errorf("%w: %s: last_row %d", ErrCorrupt, idx.indexPath, idx.lastRow)
	}

	want := int64(prefixSize) + int64(idx.entryCount)*entrySize
	switch {
	case size < want:
		return fmt.Errorf("%w: %s: %d bytes, header claims %d entries", ErrCorrupt, idx.indexPath, size, idx.entryCount)
	case size > want:
		// Torn append: the entry hit disk but the header update did not.
		// The row was never committed (the root index commits rows), so the
		// extra bytes are safe to drop; replay rewrites them.
		if err := idx.indexFile.Truncate(want); err != nil {
			return err
		}
	}

	gf, err := idx.fsys.OpenFile(idx.gapsPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	idx.gapsFile = gf

	gaps, err := idx.loadGaps()
	if err != nil {
		return err
	}
	idx.gaps = gaps

	if idx.lastRow > math.MaxUint32 {
		// Beyond the 32-bit bitmap range lookups use the gap walk alone.
		idx.present = nil
		return idx.checkInvariant()
	}

	idx.present = roaring.New()
	next := uint64(0)
	for _, g := range idx.gaps {
		if g.Start > next {
			idx.present.AddRange(next, g.Start)
		}
		next = g.Start + g.Run
	}
	if idx.lastRow >= 0 && next <= uint64(idx.lastRow) {
		idx.present.AddRange(next, uint64(idx.lastRow)+1)
	}

	// len(dense) + sum(run) == last_row + 1 must hold after healing.
	if got := idx.present.GetCardinality(); got != idx.entryCount {
		return fmt.Errorf("%w: %s: %d present rows vs %d entries", ErrCorrupt, idx.indexPath, got, idx.entryCount)
	}
	return nil
}

func (idx *Index) checkInvariant() error {
	covered := uint64(0)
	for _, g := range idx.gaps {
		covered += g.Run
	}
	if idx.lastRow >= 0 && idx.entryCount+covered != uint64(idx.lastRow)+1 {
		return fmt.Errorf("%w: %s: %d entries + %d gap rows != last_row %d + 1",
			ErrCorrupt, idx.indexPath, idx.entryCount, covered, idx.lastRow)
	}
	return nil
}

// loadGaps reads the gaps file, truncating a torn trailing entry and a
// trailing gap beyond last_row, and validating order and coverage.
func (idx *Index) loadGaps() ([]Gap, error) {
	stat, err := idx.gapsFile.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if rem := size % entrySize; rem != 0 {
		size -= rem
		if err := idx.gapsFile.Truncate(size); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, size)
	if size > 0 {
		if _, err := idx.gapsFile.ReadAt(buf, 0); err != nil {
			return nil, err
		}
	}

	gaps := make([]Gap, 0, size/entrySize)
	for off := int64(0); off < size; off += entrySize {
		g := Gap{
			Start: binary.LittleEndian.Uint64(buf[off : off+8]),
			Run:   binary.LittleEndian.Uint64(buf[off+8 : off+16]),
		}
		if g.Run == 0 {
			return nil, fmt.Errorf("%w: %s: zero-length gap at %d", ErrCorrupt, idx.gapsPath, off)
		}
		if n := len(gaps); n > 0 && g.Start < gaps[n-1].Start+gaps[n-1].Run {
			return nil, fmt.Errorf("%w: %s: unsorted or overlapping gap at %d", ErrCorrupt, idx.gapsPath, off)
		}
		gaps = append(gaps, g)
	}

	// A crash between the gap write and the entry write leaves one gap that
	// starts past last_row. Drop it; replay recreates it.
	if n := len(gaps); n > 0 {
		last := gaps[n-1]
		if idx.lastRow < 0 || last.Start > uint64(idx.lastRow) {
			gaps = gaps[:n-1]
			if err := idx.gapsFile.Truncate(size - entrySize); err != nil {
				return nil, err
			}
		} else if last.Start+last.Run > uint64(idx.lastRow)+1 {
			return nil, fmt.Errorf("%w: %s: gap extends past last_row", ErrCorrupt, idx.gapsPath)
		}
	}
	return gaps, nil
}

// LastRow returns the highest appended row, or -1 if the index is empty.
func (idx *Index) LastRow() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lastRow
}

// EntryCount returns the number of dense span entries.
func (idx *Index) EntryCount() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.entryCount
}

// Gaps returns a copy of the gap list.
func (idx *Index) Gaps() []Gap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Gap, len(idx.gaps))
	copy(out, idx.gaps)
	return out
}

// Append records span for row. Rows must be strictly increasing; skipped rows
// are recorded as one gap run. Write order is gap, entry, prefix: every
// intermediate crash state is healed by Open and replayed by the engine.
func (idx *Index) Append(row uint64, span scan.Span) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.lastRow >= 0 && row <= uint64(idx.lastRow) {
		return fmt.Errorf("%w: row %d, last_row %d", ErrOutOfOrder, row, idx.lastRow)
	}

	if gapStart := uint64(idx.lastRow + 1); row > gapStart {
		g := Gap{Start: gapStart, Run: row - gapStart}
		var buf [entrySize]byte
		binary.LittleEndian.PutUint64(buf[0:8], g.Start)
		binary.LittleEndian.PutUint64(buf[8:16], g.Run)
		if _, err := idx.gapsFile.Seek(0, 2); err != nil {
			return err
		}
		if _, err := idx.gapsFile.Write(buf[:]); err != nil {
			return err
		}
		idx.gaps = append(idx.gaps, g)
	}

	var entry [entrySize]byte
	binary.LittleEndian.PutUint64(entry[0:8], span.Start)
	binary.LittleEndian.PutUint64(entry[8:16], span.End)
	if _, err := idx.indexFile.Seek(0, 2); err != nil {
		return err
	}
	if _, err := idx.indexFile.Write(entry[:]); err != nil {
		return err
	}

	var prefix [prefixSize]byte
	binary.LittleEndian.PutUint64(prefix[0:8], uint64(int64(row)))
	binary.LittleEndian.PutUint64(prefix[8:16], idx.entryCount+1)
	if _, err := idx.indexFile.Seek(0, 0); err != nil {
		return err
	}
	if _, err := idx.indexFile.Write(prefix[:]); err != nil {
		return err
	}

	idx.lastRow = int64(row)
	idx.entryCount++
	if row <= math.MaxUint32 {
		idx.present.Add(uint32(row))
	} else {
		// Beyond the 32-bit bitmap range lookups fall back to the gap walk.
		idx.present = nil
	}
	return nil
}

// Lookup returns the span recorded for row. ok is false when the row is
// beyond last_row or inside a gap; that is the normal absent outcome, not an
// error.
func (idx *Index) Lookup(row uint64) (scan.Span, bool, error) {
	idx.mu.RLock()
	pos, ok := idx.densePosition(row)
	idx.mu.RUnlock()
	if !ok {
		return scan.Span{}, false, nil
	}

	var entry [entrySize]byte
	off := int64(prefixSize) + int64(pos)*entrySize
	if _, err := idx.indexFile.ReadAt(entry[:], off); err != nil {
		return scan.Span{}, false, fmt.Errorf("%w: %s: entry %d: %v", ErrCorrupt, idx.indexPath, pos, err)
	}
	span := scan.Span{
		Start: binary.LittleEndian.Uint64(entry[0:8]),
		End:   binary.LittleEndian.Uint64(entry[8:16]),
	}
	if span.End < span.Start {
		return scan.Span{}, false, fmt.Errorf("%w: %s: inverted span at entry %d", ErrCorrupt, idx.indexPath, pos)
	}
	return span, true, nil
}

// densePosition translates row to its position in the dense span sequence:
// row minus the run lengths of every gap starting at or before it.
func (idx *Index) densePosition(row uint64) (uint64, bool) {
	if idx.lastRow < 0 || row > uint64(idx.lastRow) {
		return 0, false
	}
	if idx.present != nil && row <= math.MaxUint32 {
		r := uint32(row)
		if !idx.present.Contains(r) {
			return 0, false
		}
		return idx.present.Rank(r) - 1, true
	}

	skipped := uint64(0)
	for _, g := range idx.gaps {
		if g.Start > row {
			break
		}
		if row < g.Start+g.Run {
			return 0, false
		}
		skipped += g.Run
	}
	return row - skipped, true
}

// Sync flushes both files to stable storage.
func (idx *Index) Sync() error {
	if err := idx.indexFile.Sync(); err != nil {
		return err
	}
	return idx.gapsFile.Sync()
}

// Close closes the underlying files.
func (idx *Index) Close() error {
	err := idx.indexFile.Close()
	if cerr := idx.gapsFile.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
