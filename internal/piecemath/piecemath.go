// Package piecemath provides the pure byte-arithmetic shared by piece
// assignment, the per-piece download pipeline, and disk placement: piece
// count/length and block count/length, where every piece and every block is
// uniform-sized except possibly the last of its kind.
package piecemath

import "fmt"

// BlockLength is the fixed block size requested from peers; only the final
// block of a piece may be shorter.
const BlockLength = 16 * 1024

// PieceCount returns how many pieces cover totalSize bytes at pieceLength
// each (the last piece may be shorter).
func PieceCount(totalSize, pieceLength int64) int {
	if totalSize <= 0 || pieceLength <= 0 {
		return 0
	}
	return int((totalSize + pieceLength - 1) / pieceLength)
}

// LastPieceLength returns the byte length of the final piece.
func LastPieceLength(totalSize, pieceLength int64) int {
	if totalSize <= 0 || pieceLength <= 0 {
		return 0
	}
	if rem := int(totalSize % pieceLength); rem != 0 {
		return rem
	}
	return int(pieceLength)
}

// PieceLengthAt returns the length of piece index.
func PieceLengthAt(index int, totalSize, pieceLength int64) (int, error) {
	pc := PieceCount(totalSize, pieceLength)
	if index < 0 || index >= pc {
		return 0, fmt.Errorf("piecemath: piece index out of range: %d (count=%d)", index, pc)
	}
	if index == pc-1 {
		return LastPieceLength(totalSize, pieceLength), nil
	}
	return int(pieceLength), nil
}

// BlockCount returns how many blocks compose a piece of length pieceLen.
func BlockCount(pieceLen int) int {
	if pieceLen <= 0 {
		return 0
	}
	n := pieceLen / BlockLength
	if pieceLen%BlockLength != 0 {
		n++
	}
	return n
}

// LastBlockLength returns the byte length of the final block in a piece.
func LastBlockLength(pieceLen int) int {
	if pieceLen <= 0 {
		return 0
	}
	if rem := pieceLen % BlockLength; rem != 0 {
		return rem
	}
	return BlockLength
}

// BlockBounds returns the [begin,length) of block blockIdx within a piece of
// length pieceLen.
func BlockBounds(pieceLen, blockIdx int) (begin, length int, err error) {
	bc := BlockCount(pieceLen)
	if blockIdx < 0 || blockIdx >= bc {
		return 0, 0, fmt.Errorf("piecemath: block index out of range: %d (count=%d)", blockIdx, bc)
	}
	begin = blockIdx * BlockLength
	length = BlockLength
	if blockIdx == bc-1 {
		length = LastBlockLength(pieceLen)
	}
	return begin, length, nil
}

// BlockIndexForBegin maps a byte offset within a piece to its block index.
// Returns -1 when out of range.
func BlockIndexForBegin(begin, pieceLen int) int {
	if begin < 0 || begin >= pieceLen {
		return -1
	}
	return begin / BlockLength
}
