// Package snapshot writes and restores point-in-time archives of a store
// directory.
//
// A snapshot is a tar archive of the store's files wrapped in a small
// framed format: a magic/version/compression header, the compressed tar
// payload, and a CRC32 trailer over the compressed bytes. The store must be
// quiesced while the archive is written: call Sync first and do not append
// until Create returns.
package snapshot

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/ijsonl/blobstore"
)

// Options configures snapshot creation. The zero value writes an
// uncompressed, unthrottled archive; DefaultOptions enables zstd.
type Options struct {
	// Compression selects the payload compression.
	Compression Compression

	// BytesPerSecond throttles archive output. Zero means unlimited.
	BytesPerSecond int
}

// DefaultOptions returns Options with zstd compression enabled.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// Create writes a snapshot archive of the store directory dir to w.
func Create(ctx context.Context, dir string, w io.Writer, opts Options) error {
	comp := opts.Compression
	switch comp {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidCompression, uint8(comp))
	}

	hdr := header{Magic: MagicNumber, Version: Version, Compression: comp}
	buf := hdr.encode()
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	out := w
	if opts.BytesPerSecond > 0 {
		out = newThrottledWriter(ctx, w, opts.BytesPerSecond)
	}
	cw := newChecksumWriter(out)

	if err := writePayload(ctx, dir, cw, comp); err != nil {
		return err
	}

	var trailer [trailerSize]byte
	sum := cw.Sum()
	trailer[0] = byte(sum)
	trailer[1] = byte(sum >> 8)
	trailer[2] = byte(sum >> 16)
	trailer[3] = byte(sum >> 24)
	_, err := w.Write(trailer[:])
	return err
}

func writePayload(ctx context.Context, dir string, cw io.Writer, comp Compression) error {
	var (
		payload io.Writer
		finish  func() error
	)
	switch comp {
	case CompressionZstd:
		enc, err := zstd.NewWriter(cw)
		if err != nil {
			return err
		}
		payload, finish = enc, enc.Close
	case CompressionLZ4:
		enc := lz4.NewWriter(cw)
		payload, finish = enc, enc.Close
	default:
		payload, finish = cw, func() error { return nil }
	}

	tw := tar.NewWriter(payload)
	if err := archiveDir(ctx, dir, tw); err != nil {
		tw.Close()
		finish()
		return err
	}
	if err := tw.Close(); err != nil {
		finish()
		return err
	}
	return finish()
}

func archiveDir(ctx context.Context, dir string, tw *tar.Writer) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		if info.IsDir() {
			return tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     name + "/",
				Mode:     int64(info.Mode().Perm()),
				ModTime:  info.ModTime(),
			})
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Size:     info.Size(),
			Mode:     int64(info.Mode().Perm()),
			ModTime:  info.ModTime(),
		}); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		// Copy exactly the size recorded in the tar header. A file growing
		// mid-walk means the store was not quiesced.
		_, err = io.CopyN(tw, f, info.Size())
		f.Close()
		return err
	})
}

// Restore extracts a snapshot archive into destDir and verifies the payload
// checksum. size is the total archive size in bytes (blobs report it via
// Size). destDir must be empty or absent.
func Restore(_ context.Context, r io.Reader, size int64, destDir string) error {
	if size < headerSize+trailerSize {
		return ErrTruncated
	}

	var hbuf [headerSize]byte
	if _, err := io.ReadFull(r, hbuf[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	hdr, err := decodeHeader(hbuf)
	if err != nil {
		return err
	}

	if err := ensureEmptyDir(destDir); err != nil {
		return err
	}

	payloadSize := size - headerSize - trailerSize
	cr := newChecksumReader(io.LimitReader(r, payloadSize))

	if err := extractPayload(cr, hdr.Compression, destDir); err != nil {
		return err
	}

	// Drain compressor read-ahead remainder so the checksum covers the
	// whole payload.
	if _, err := io.Copy(io.Discard, cr); err != nil {
		return err
	}

	var tbuf [trailerSize]byte
	if _, err := io.ReadFull(r, tbuf[:]); err != nil {
		return fmt.Errorf("read trailer: %w", ErrTruncated)
	}
	expected := uint32(tbuf[0]) | uint32(tbuf[1])<<8 | uint32(tbuf[2])<<16 | uint32(tbuf[3])<<24
	return cr.Verify(expected)
}

func extractPayload(cr io.Reader, comp Compression, destDir string) error {
	var payload io.Reader
	switch comp {
	case CompressionZstd:
		dec, err := zstd.NewReader(cr)
		if err != nil {
			return err
		}
		defer dec.Close()
		payload = dec
	case CompressionLZ4:
		payload = lz4.NewReader(cr)
	default:
		payload = cr
	}

	tr := tar.NewReader(payload)
	for {
		th, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		name := filepath.FromSlash(th.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("archive entry escapes destination: %q", th.Name)
		}
		target := filepath.Join(destDir, name)

		switch th.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(th.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, os.FileMode(th.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported archive entry type %d: %q", th.Typeflag, th.Name)
		}
	}
}

func ensureEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("destination %s is not empty", dir)
	}
	return nil
}

// Upload creates a snapshot of dir and streams it into the blob store under
// key.
func Upload(ctx context.Context, dir string, bs blobstore.BlobStore, key string, opts Options) error {
	w, err := bs.Create(ctx, key)
	if err != nil {
		return err
	}
	if err := Create(ctx, dir, w, opts); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Download fetches the snapshot stored under key and restores it into
// destDir.
func Download(ctx context.Context, bs blobstore.BlobStore, key, destDir string) error {
	b, err := bs.Open(ctx, key)
	if err != nil {
		return err
	}
	defer b.Close()
	return Restore(ctx, b, b.Size(), destDir)
}
