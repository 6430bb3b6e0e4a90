package storage

import (
	"context"
	"crypto/sha1"
	"path/filepath"
	"testing"
	"time"

	"github.com/arnesson/leech/internal/picker"
)

func TestWritePieceAndReadBack(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(filepath.Join(dir, "out.bin"), 2*16384, 16384)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer d.Close()

	data := make([]byte, 16384)
	for i := range data {
		data[i] = byte(i)
	}

	if err := d.WritePiece(context.Background(), 1, data); err != nil {
		t.Fatalf("WritePiece error: %v", err)
	}

	got, err := d.VerifyOnDisk(1, len(data))
	if err != nil {
		t.Fatalf("VerifyOnDisk error: %v", err)
	}
	for i := range got {
		if got[i] != data[i] {
			t.Fatalf("byte %d mismatch: got %d, want %d", i, got[i], data[i])
		}
	}
}

func TestDrain_PersistsAndAcksEveryPiece(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(filepath.Join(dir, "out.bin"), 2*16384, 16384)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer d.Close()

	hashes := [][sha1.Size]byte{sha1.Sum([]byte{0}), sha1.Sum([]byte{1})}
	p := picker.New(hashes, 16384, 2*16384)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drainErr := make(chan error, 1)
	go func() { drainErr <- Drain(ctx, p, d) }()

	for i := 0; i < 2; i++ {
		lease, err := p.Next(ctx, func(int) bool { return true })
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if err := p.Submit(ctx, lease, make([]byte, 16384)); err != nil {
			t.Fatalf("Submit error: %v", err)
		}
	}

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatalf("picker did not reach Done() after both pieces were submitted")
	}

	select {
	case err := <-drainErr:
		if err != nil {
			t.Fatalf("Drain error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Drain did not return after picker finished")
	}
}
