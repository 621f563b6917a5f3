// Package header maintains the store header resource: the committed record
// count and the set of known field paths.
//
// On-disk layout (little-endian):
//
//	record_count uint64
//	field_count  uint64
//	field_count entries of: length uint16, UTF-8 path bytes
//
// The header is small (record count plus path names) and is rewritten in full
// whenever new field paths appear. It is reread rather than cached across
// writers so a reopened store always sees the durable state.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/hupe1980/ijsonl/internal/fs"
)

const prefixSize = 16

// ErrCorrupt is returned when the on-disk header fails size/shape checks.
// It is fatal for the store; no partial recovery is attempted here.
var ErrCorrupt = errors.New("header: corrupt")

// Header is a handle to the header resource at a fixed path.
type Header struct {
	fsys fs.FileSystem
	path string
}

// Open opens the header at path, creating an empty one if absent.
func Open(fsys fs.FileSystem, path string) (*Header, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	h := &Header{fsys: fsys, path: path}
	if _, err := fsys.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := h.write(0, nil); err != nil {
			return nil, err
		}
	}
	// Validate shape eagerly so corruption surfaces at open, not mid-append.
	if _, _, err := h.Load(); err != nil {
		return nil, err
	}
	return h, nil
}

// Load reads the record count and the sorted field path set.
func (h *Header) Load() (uint64, []string, error) {
	data, err := fs.ReadFile(h.fsys, h.path)
	if err != nil {
		return 0, nil, err
	}
	if len(data) < prefixSize {
		return 0, nil, fmt.Errorf("%w: %d byte file, want at least %d", ErrCorrupt, len(data), prefixSize)
	}

	count := binary.LittleEndian.Uint64(data[0:8])
	fieldCount := binary.LittleEndian.Uint64(data[8:16])

	paths := make([]string, 0, fieldCount)
	pos := prefixSize
	for i := uint64(0); i < fieldCount; i++ {
		if pos+2 > len(data) {
			return 0, nil, fmt.Errorf("%w: truncated field entry %d", ErrCorrupt, i)
		}
		n := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+n > len(data) {
			return 0, nil, fmt.Errorf("%w: truncated field path %d", ErrCorrupt, i)
		}
		paths = append(paths, string(data[pos:pos+n]))
		pos += n
	}
	if pos != len(data) {
		return 0, nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(data)-pos)
	}
	return count, paths, nil
}

// RecordCount reads only the committed record count.
func (h *Header) RecordCount() (uint64, error) {
	count, _, err := h.Load()
	return count, err
}

// FieldExists reports whether path is a known field path.
func (h *Header) FieldExists(path string) (bool, error) {
	_, paths, err := h.Load()
	if err != nil {
		return false, err
	}
	for _, p := range paths {
		if p == path {
			return true, nil
		}
	}
	return false, nil
}

// RegisterFields sets the record count to count and merges newPaths into the
// field set. When newPaths is empty the full rewrite is skipped and only the
// leading count is updated in place.
func (h *Header) RegisterFields(count uint64, newPaths []string) error {
	if len(newPaths) == 0 {
		return h.SetRecordCount(count)
	}

	_, existing, err := h.Load()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(existing)+len(newPaths))
	merged := make([]string, 0, len(existing)+len(newPaths))
	for _, p := range existing {
		seen[p] = struct{}{}
		merged = append(merged, p)
	}
	for _, p := range newPaths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		merged = append(merged, p)
	}
	sort.Strings(merged)

	return h.write(count, merged)
}

// SetRecordCount updates the leading count without touching the field set.
func (h *Header) SetRecordCount(count uint64) error {
	f, err := h.fsys.OpenFile(h.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], count)
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := f.Write(buf[:]); err != nil {
		return err
	}
	return f.Sync()
}

func (h *Header) write(count uint64, paths []string) error {
	size := prefixSize
	for _, p := range paths {
		size += 2 + len(p)
	}
	buf := make([]byte, 0, size)

	var prefix [prefixSize]byte
	binary.LittleEndian.PutUint64(prefix[0:8], count)
	binary.LittleEndian.PutUint64(prefix[8:16], uint64(len(paths)))
	buf = append(buf, prefix[:]...)

	for _, p := range paths {
		if len(p) > math.MaxUint16 {
			return fmt.Errorf("header: field path too long (%d bytes)", len(p))
		}
		var n [2]byte
		binary.LittleEndian.PutUint16(n[:], uint16(len(p)))
		buf = append(buf, n[:]...)
		buf = append(buf, p...)
	}

	// Full rewrites go through a temp file so a crash never leaves a torn
	// header behind.
	return fs.WriteFileAtomic(h.fsys, h.path, buf, 0o644)
}
