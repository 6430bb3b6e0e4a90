// Package storage implements the on-disk completion sink: it accepts
// already-verified piece bytes from the picker and writes them to their
// final position in a single preallocated file.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/arnesson/leech/internal/picker"
)

// Disk is a completion sink backed by one preallocated file spanning the
// torrent's full content length. Multi-file torrents are flattened to this
// single contiguous layout; the content is not split into its individual
// files.
type Disk struct {
	f           *os.File
	pieceLength int64
}

// Open creates (or truncates) the file at path and preallocates it to size
// bytes so writes never need to grow it.
func Open(path string, size, pieceLength int64) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: preallocate: %w", err)
	}

	return &Disk{f: f, pieceLength: pieceLength}, nil
}

// Close flushes and closes the underlying file.
func (d *Disk) Close() error { return d.f.Close() }

// WritePiece writes a verified piece at its canonical offset and fsyncs.
func (d *Disk) WritePiece(_ context.Context, pieceID int, data []byte) error {
	offset := int64(pieceID) * d.pieceLength
	if _, err := d.f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("storage: write piece %d: %w", pieceID, err)
	}
	return d.f.Sync()
}

// VerifyOnDisk reads back a previously written piece and reports whether its
// bytes are still present, for resuming a partially completed download.
func (d *Disk) VerifyOnDisk(pieceID, length int) ([]byte, error) {
	data := make([]byte, length)
	offset := int64(pieceID) * d.pieceLength

	n, err := d.f.ReadAt(data, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("storage: read piece %d: %w", pieceID, err)
	}
	if n != length {
		return nil, fmt.Errorf("storage: read %d bytes of piece %d, want %d", n, pieceID, length)
	}
	return data, nil
}

// Drain consumes the picker's completion channel until the download
// finishes, persisting every piece and acknowledging it so the picker can
// release backpressure on the submitting session.
func Drain(ctx context.Context, p *picker.Picker, sink *Disk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Done():
			return nil
		case c := <-p.Completions():
			if err := sink.WritePiece(ctx, c.PieceID, c.Data); err != nil {
				return err
			}
			c.Ack()
		}
	}
}
