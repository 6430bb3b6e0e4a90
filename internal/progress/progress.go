// Package progress tracks the in-flight block request pipeline for a single
// piece being downloaded from a single peer.
package progress

import (
	"time"

	"github.com/arnesson/leech/internal/piecemath"
)

// MaxPendingBlocks bounds how many block requests may be outstanding at
// once for a single piece.
const MaxPendingBlocks = 5

// RequeueTimeout is how long a request may sit unanswered before its block
// is offered again as the next request.
const RequeueTimeout = 800 * time.Millisecond

type requested struct {
	blockID     int
	requestedAt time.Time
}

// Progress tracks which blocks of a piece have been requested and received.
// A Progress value is owned by exactly one peer session at a time; it is not
// safe for concurrent use.
type Progress struct {
	pieceLength int
	pending     []requested   // FIFO queue, oldest at index 0
	received    map[int]bool // blockID -> received
}

// New returns a Progress for a piece of the given length.
func New(pieceLength int) *Progress {
	return &Progress{
		pieceLength: pieceLength,
		received:    make(map[int]bool, piecemath.BlockCount(pieceLength)),
	}
}

// BlockRequest describes a block to request from the peer: begin is the byte
// offset within the piece, length is the block's byte length.
type BlockRequest struct {
	Begin  int
	Length int
}

// NextRequest returns the next block to request, or ok=false when the
// pipeline is full or every block has already been requested.
//
// If the oldest pending request has aged past RequeueTimeout it is rotated
// to the back of the queue and returned again, retrying a stalled peer
// without growing the pipeline.
func (p *Progress) NextRequest() (req BlockRequest, ok bool) {
	now := time.Now()

	if len(p.pending) > 0 {
		head := p.pending[0]
		if now.Sub(head.requestedAt) >= RequeueTimeout {
			p.pending = append(p.pending[1:], requested{blockID: head.blockID, requestedAt: now})
			return p.blockRequest(head.blockID), true
		}
	}

	if len(p.pending) >= MaxPendingBlocks {
		return BlockRequest{}, false
	}

	blockCount := piecemath.BlockCount(p.pieceLength)
	for id := 0; id < blockCount; id++ {
		if p.received[id] || p.isPending(id) {
			continue
		}
		p.pending = append(p.pending, requested{blockID: id, requestedAt: now})
		return p.blockRequest(id), true
	}

	return BlockRequest{}, false
}

func (p *Progress) isPending(blockID int) bool {
	for _, r := range p.pending {
		if r.blockID == blockID {
			return true
		}
	}
	return false
}

func (p *Progress) blockRequest(blockID int) BlockRequest {
	begin, length, err := piecemath.BlockBounds(p.pieceLength, blockID)
	if err != nil {
		// blockID always comes from BlockCount(p.pieceLength) above, so this
		// can't happen; panic would hide a real bug in piecemath instead.
		return BlockRequest{}
	}
	return BlockRequest{Begin: begin, Length: length}
}

// ErrBlockOutOfOrder is returned by MarkReceived when the offset does not
// correspond to a block that is currently pending.
type ErrBlockOutOfOrder struct {
	Offset int
}

func (e ErrBlockOutOfOrder) Error() string {
	return "progress: received block at unexpected offset"
}

// MarkReceived records that the block at byte offset `offset` (within the
// piece) has arrived. It is an error to mark a block that was never sent as
// pending — a BitTorrent peer must not return data we never requested.
func (p *Progress) MarkReceived(offset int) error {
	blockID := piecemath.BlockIndexForBegin(offset, p.pieceLength)
	if blockID < 0 {
		return ErrBlockOutOfOrder{Offset: offset}
	}

	for i, r := range p.pending {
		if r.blockID == blockID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			p.received[blockID] = true
			return nil
		}
	}

	return ErrBlockOutOfOrder{Offset: offset}
}

// Reset clears all pending (not yet received) requests. Called when the
// peer chokes us; already-received blocks are left intact.
func (p *Progress) Reset() {
	p.pending = p.pending[:0]
}

// IsDone reports whether every block of the piece has been received and no
// request remains outstanding.
func (p *Progress) IsDone() bool {
	return len(p.pending) == 0 && len(p.received) == piecemath.BlockCount(p.pieceLength)
}
