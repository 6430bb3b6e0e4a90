package piecemath

import "testing"

func TestPieceCountAndLastPieceLength(t *testing.T) {
	// 5 pieces of 16 KiB each, last one partial.
	total := int64(4*16384 + 100)
	if got := PieceCount(total, 16384); got != 5 {
		t.Fatalf("PieceCount = %d, want 5", got)
	}
	if got := LastPieceLength(total, 16384); got != 100 {
		t.Fatalf("LastPieceLength = %d, want 100", got)
	}

	// Exact multiple: last piece is full-size.
	total = int64(3 * 16384)
	if got := PieceCount(total, 16384); got != 3 {
		t.Fatalf("PieceCount = %d, want 3", got)
	}
	if got := LastPieceLength(total, 16384); got != 16384 {
		t.Fatalf("LastPieceLength = %d, want 16384", got)
	}
}

func TestPieceLengthAt(t *testing.T) {
	total := int64(2*16384 + 1)
	if l, err := PieceLengthAt(0, total, 16384); err != nil || l != 16384 {
		t.Fatalf("PieceLengthAt(0) = (%d,%v), want (16384,nil)", l, err)
	}
	if l, err := PieceLengthAt(2, total, 16384); err != nil || l != 1 {
		t.Fatalf("PieceLengthAt(2) = (%d,%v), want (1,nil)", l, err)
	}
	if _, err := PieceLengthAt(3, total, 16384); err == nil {
		t.Fatalf("expected out-of-range error for index 3")
	}
}

func TestBlockCountAndLastBlockLength(t *testing.T) {
	pieceLen := 3*BlockLength + 1000
	if got := BlockCount(pieceLen); got != 4 {
		t.Fatalf("BlockCount = %d, want 4", got)
	}
	if got := LastBlockLength(pieceLen); got != 1000 {
		t.Fatalf("LastBlockLength = %d, want 1000", got)
	}

	if got := BlockCount(2 * BlockLength); got != 2 {
		t.Fatalf("BlockCount = %d, want 2", got)
	}
	if got := LastBlockLength(2 * BlockLength); got != BlockLength {
		t.Fatalf("LastBlockLength = %d, want %d", got, BlockLength)
	}
}

func TestBlockBounds(t *testing.T) {
	pieceLen := 2*BlockLength + 5
	begin, length, err := BlockBounds(pieceLen, 2)
	if err != nil {
		t.Fatalf("BlockBounds error: %v", err)
	}
	if begin != 2*BlockLength || length != 5 {
		t.Fatalf("BlockBounds(2) = (%d,%d), want (%d,5)", begin, length, 2*BlockLength)
	}

	if _, _, err := BlockBounds(pieceLen, 3); err == nil {
		t.Fatalf("expected out-of-range error for block 3")
	}
}

func TestBlockIndexForBegin(t *testing.T) {
	pieceLen := 2*BlockLength + 5
	if got := BlockIndexForBegin(BlockLength, pieceLen); got != 1 {
		t.Fatalf("BlockIndexForBegin = %d, want 1", got)
	}
	if got := BlockIndexForBegin(pieceLen, pieceLen); got != -1 {
		t.Fatalf("BlockIndexForBegin at piece length should be -1 (out of range), got %d", got)
	}
}
