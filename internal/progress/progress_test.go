package progress

import (
	"testing"
	"time"

	"github.com/arnesson/leech/internal/piecemath"
)

func TestNextRequest_NeverExceedsMaxPending(t *testing.T) {
	p := New(10 * piecemath.BlockLength)

	seen := 0
	for {
		_, ok := p.NextRequest()
		if !ok {
			break
		}
		seen++
		if len(p.pending) > MaxPendingBlocks {
			t.Fatalf("pending pipeline grew past MaxPendingBlocks: %d", len(p.pending))
		}
	}
	if seen != MaxPendingBlocks {
		t.Fatalf("got %d initial requests, want %d", seen, MaxPendingBlocks)
	}
}

func TestMarkReceived_RemovesFromPendingAndSetsBit(t *testing.T) {
	p := New(2 * piecemath.BlockLength)

	req, ok := p.NextRequest()
	if !ok {
		t.Fatalf("expected a request")
	}

	if err := p.MarkReceived(req.Begin); err != nil {
		t.Fatalf("MarkReceived error: %v", err)
	}
	if p.isPending(0) {
		t.Fatalf("block 0 should no longer be pending")
	}
	if !p.received[0] {
		t.Fatalf("block 0 should be marked received")
	}
}

func TestMarkReceived_UnknownOffsetIsError(t *testing.T) {
	p := New(2 * piecemath.BlockLength)
	if err := p.MarkReceived(piecemath.BlockLength); err == nil {
		t.Fatalf("expected error marking a block that was never requested")
	}
}

func TestLastBlockIsShorter(t *testing.T) {
	pieceLen := 2*piecemath.BlockLength + 123
	p := New(pieceLen)

	var lastSeen BlockRequest
	for i := 0; i < 3; i++ {
		req, ok := p.NextRequest()
		if !ok {
			t.Fatalf("expected request %d", i)
		}
		lastSeen = req
	}

	if lastSeen.Length != 123 {
		t.Fatalf("last block length = %d, want 123", lastSeen.Length)
	}
}

func TestReset_ClearsPendingKeepsReceived(t *testing.T) {
	p := New(2 * piecemath.BlockLength)

	req, _ := p.NextRequest()
	p.MarkReceived(req.Begin)
	p.NextRequest() // second block now pending

	p.Reset()

	if len(p.pending) != 0 {
		t.Fatalf("Reset should clear pending requests")
	}
	if !p.received[0] {
		t.Fatalf("Reset should not clear already-received blocks")
	}
}

func TestIsDone(t *testing.T) {
	p := New(piecemath.BlockLength)
	if p.IsDone() {
		t.Fatalf("fresh progress should not be done")
	}

	req, _ := p.NextRequest()
	p.MarkReceived(req.Begin)

	if !p.IsDone() {
		t.Fatalf("progress with every block received should be done")
	}
}

func TestNextRequest_RequeuesStaleHeadAfterTimeout(t *testing.T) {
	p := New(2 * piecemath.BlockLength)

	req0, _ := p.NextRequest()
	p.pending[0].requestedAt = time.Now().Add(-2 * RequeueTimeout)

	// Pipeline has room for the second block too; NextRequest should still
	// prioritize requeuing the stale head over requesting a fresh block.
	req, ok := p.NextRequest()
	if !ok {
		t.Fatalf("expected a requeued request")
	}
	if req.Begin != req0.Begin {
		t.Fatalf("expected the stale block %d to be requeued, got %d", req0.Begin, req.Begin)
	}
	if len(p.pending) != 1 {
		t.Fatalf("requeuing the stale head should not grow the pipeline, got %d pending", len(p.pending))
	}
}
