package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MagicNumber identifies ijsonl snapshot archives (ASCII: "IJS1")
	MagicNumber = 0x494A5331
	// Version is the current archive format version (v1.0.0)
	Version = 0x00010000

	headerSize  = 16
	trailerSize = 4
)

// Compression selects the stream compression applied to the archive payload.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("unsupported version")
	ErrInvalidCompression = errors.New("unknown compression")
	ErrTruncated          = errors.New("truncated archive")
)

// header is the fixed-size prefix of every snapshot archive. The CRC32 of
// the compressed payload follows the payload as a 4-byte little-endian
// trailer.
type header struct {
	Magic       uint32
	Version     uint32
	Compression Compression
}

func (h header) encode() [headerSize]byte {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	buf[8] = uint8(h.Compression)
	return buf
}

func decodeHeader(buf [headerSize]byte) (header, error) {
	h := header{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		Compression: Compression(buf[8]),
	}
	if h.Magic != MagicNumber {
		return h, fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, h.Magic)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: 0x%08x", ErrInvalidVersion, h.Version)
	}
	switch h.Compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return h, fmt.Errorf("%w: %d", ErrInvalidCompression, uint8(h.Compression))
	}
	return h, nil
}
