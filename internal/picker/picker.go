// Package picker is the swarm-wide coordinator for piece assignment: it owns
// the set of pieces still to download, hands out exclusive leases to peer
// sessions, and collects verified pieces for persistence.
package picker

import (
	"context"
	"crypto/sha1"
	"sync"
	"time"

	"github.com/arnesson/leech/internal/piecemath"
)

// MaxQueued bounds how many piece records are visible to sessions at once.
// When the visible window drains, it slides forward by MaxQueued pieces.
// This keeps the working set bounded for very large torrents and mildly
// biases assignment toward earlier pieces.
const MaxQueued = 100

// IdleWait is how long a session backs off before retrying Next when no
// piece in the visible window was assignable (every candidate is already
// leased, or the peer has none of them).
const IdleWait = 200 * time.Millisecond

// CompletionBacklog bounds how many verified pieces may be queued for the
// sink before a session's Submit call blocks.
const CompletionBacklog = 10

type status int

const (
	pending status = iota
	inFlight
	done
)

type record struct {
	id     int
	hash   [sha1.Size]byte
	length int
	status status
}

// Picker hands out piece assignments and collects finished pieces. The zero
// value is not usable; construct with New.
type Picker struct {
	mu          sync.Mutex
	records     []record
	windowStart int
	windowEnd   int
	nDone       int

	completions chan *Completion
	allDone     chan struct{}
	closeOnce   sync.Once
}

// New builds a Picker for a torrent with the given per-piece SHA-1 hashes,
// uniform piece length, and total content size (the last piece may be
// shorter than pieceLength).
func New(pieceHashes [][sha1.Size]byte, pieceLength, totalSize int64) *Picker {
	n := len(pieceHashes)
	records := make([]record, n)
	for i, h := range pieceHashes {
		length, err := piecemath.PieceLengthAt(i, totalSize, pieceLength)
		if err != nil {
			length = int(pieceLength)
		}
		records[i] = record{id: i, hash: h, length: length, status: pending}
	}

	p := &Picker{
		records:     records,
		windowEnd:   min(n, MaxQueued),
		completions: make(chan *Completion, CompletionBacklog),
		allDone:     make(chan struct{}),
	}
	if n == 0 {
		close(p.allDone)
	}
	return p
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// PieceCount returns the total number of pieces in the torrent.
func (p *Picker) PieceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// Lease is an exclusive claim on a single piece, returned by Next.
type Lease struct {
	PieceID int
	Hash    [sha1.Size]byte
	Length  int
}

// ErrClosed is returned by Next once every piece has been received and
// acknowledged.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "picker: closed, all pieces received" }

// Next returns the lowest-indexed assignable piece within the visible
// window for which has(id) is true, or blocks (respecting ctx) until one
// becomes available. It returns ErrClosed once the swarm has finished.
func (p *Picker) Next(ctx context.Context, has func(id int) bool) (*Lease, error) {
	for {
		select {
		case <-p.allDone:
			return nil, ErrClosed{}
		default:
		}

		if lease, ok := p.tryAssign(has); ok {
			return lease, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.allDone:
			return nil, ErrClosed{}
		case <-time.After(IdleWait):
		}
	}
}

func (p *Picker) tryAssign(has func(id int) bool) (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.slideWindowLocked()

	for i := p.windowStart; i < p.windowEnd; i++ {
		r := &p.records[i]
		if r.status != pending {
			continue
		}
		if !has(r.id) {
			continue
		}
		r.status = inFlight
		return &Lease{PieceID: r.id, Hash: r.hash, Length: r.length}, true
	}
	return nil, false
}

// slideWindowLocked advances the visible window past any leading run of
// done records and extends it by MaxQueued once it has drained. mu must be
// held.
func (p *Picker) slideWindowLocked() {
	for p.windowStart < len(p.records) && p.records[p.windowStart].status == done {
		p.windowStart++
	}
	if p.windowStart >= p.windowEnd && p.windowEnd < len(p.records) {
		p.windowEnd = min(len(p.records), p.windowEnd+MaxQueued)
	}
}

// Drop returns a leased piece to Pending without submitting data, e.g. after
// a hash mismatch or a peer disconnecting mid-download.
func (p *Picker) Drop(lease *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := &p.records[lease.PieceID]
	if r.status == inFlight {
		r.status = pending
		if lease.PieceID < p.windowStart {
			p.windowStart = lease.PieceID
		}
	}
}

// Completion is a verified piece awaiting persistence. The submitting
// session's Submit call blocks until Ack is called, providing backpressure
// against a slow sink.
type Completion struct {
	PieceID int
	Data    []byte
	ack     chan struct{}
}

// Ack signals that Data has been durably persisted.
func (c *Completion) Ack() {
	select {
	case <-c.ack:
	default:
		close(c.ack)
	}
}

// Completions returns the channel the storage sink should drain.
func (p *Picker) Completions() <-chan *Completion { return p.completions }

// Submit hands a verified piece's bytes to the completion sink and blocks
// until it is acknowledged (or ctx is cancelled). On success the piece's
// lease is released permanently.
func (p *Picker) Submit(ctx context.Context, lease *Lease, data []byte) error {
	c := &Completion{PieceID: lease.PieceID, Data: data, ack: make(chan struct{})}

	select {
	case p.completions <- c:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-c.ack:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.records[lease.PieceID].status = done
	p.nDone++
	allDone := p.nDone == len(p.records)
	p.slideWindowLocked()
	p.mu.Unlock()

	if allDone {
		p.closeOnce.Do(func() { close(p.allDone) })
	}
	return nil
}

// Done returns a channel that is closed once every piece has been received
// and acknowledged by the sink.
func (p *Picker) Done() <-chan struct{} { return p.allDone }
