package session

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/arnesson/leech/internal/bitfield"
	"github.com/arnesson/leech/internal/picker"
	"github.com/arnesson/leech/internal/wire"
)

func listen(t *testing.T) (net.Listener, netip.AddrPort) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr, err := netip.ParseAddrPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("parse listener addr: %v", err)
	}
	return ln, addr
}

// acceptHandshake performs the fake peer's half of the handshake. It
// returns an error rather than calling t.Fatalf itself, since it always
// runs on a goroutine other than the test's own.
func acceptHandshake(conn net.Conn, infoHash [sha1.Size]byte) error {
	if _, err := wire.ReadHandshake(conn); err != nil {
		return fmt.Errorf("fake peer: read handshake: %w", err)
	}
	var peerID [sha1.Size]byte
	copy(peerID[:], []byte("-FAKEPEER-00000000"))
	if _, err := wire.NewHandshake(infoHash, peerID).WriteTo(conn); err != nil {
		return fmt.Errorf("fake peer: write handshake: %w", err)
	}
	return nil
}

func testConfig() Config {
	return Config{
		DialTimeout:       2 * time.Second,
		ReadTimeout:       2 * time.Second,
		WriteTimeout:      2 * time.Second,
		KeepAliveInterval: time.Minute,
		OutboundBacklog:   8,
	}
}

func TestSession_TerminatesWhenFirstMessageIsNotBitfield(t *testing.T) {
	infoHash := sha1.Sum([]byte("info-hash-not-bitfield"))
	clientID := sha1.Sum([]byte("client-id-not-bitfield"))

	ln, addr := listen(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if err := acceptHandshake(conn, infoHash); err != nil {
			return
		}
		// Violates §4.4.2: the first post-handshake message must be BITFIELD.
		_ = wire.Encode(conn, wire.MessageUnchoke())
		time.Sleep(300 * time.Millisecond)
	}()

	p := picker.New([][sha1.Size]byte{sha1.Sum([]byte("piece0"))}, 16384, 16384)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Dial(ctx, addr, infoHash, clientID, 1, p, testConfig(), nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer s.Close()

	err = s.Run(ctx)

	var protoErr ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Run error = %v (%T), want a ProtocolError", err, err)
	}
}

func TestSession_ChokeResetsPendingRequests(t *testing.T) {
	infoHash := sha1.Sum([]byte("info-hash-choke-reset"))
	clientID := sha1.Sum([]byte("client-id-choke-reset"))

	ln, addr := listen(t)
	defer ln.Close()

	result := make(chan error, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()
		if err := acceptHandshake(conn, infoHash); err != nil {
			result <- err
			return
		}

		bf := bitfield.New(1)
		bf.Set(0)
		if err := wire.Encode(conn, wire.MessageBitfield(bf.Bytes())); err != nil {
			result <- err
			return
		}
		if err := wire.Encode(conn, wire.MessageUnchoke()); err != nil {
			result <- err
			return
		}

		// The session sends UNCHOKE and INTERESTED on assignment, then
		// pipelines a request for the piece's one block.
		for {
			msg, err := wire.Decode(conn)
			if err != nil {
				result <- err
				return
			}
			if msg != nil && msg.ID == wire.Request {
				break
			}
		}

		// Choke before answering: the session must drop its pending
		// request instead of waiting out RequeueTimeout for it.
		if err := wire.Encode(conn, wire.MessageChoke()); err != nil {
			result <- err
			return
		}
		time.Sleep(100 * time.Millisecond)
		if err := wire.Encode(conn, wire.MessageUnchoke()); err != nil {
			result <- err
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		msg, err := wire.Decode(conn)
		if err != nil {
			result <- err
			return
		}
		idx, begin, length, ok := msg.ParseRequest()
		if !ok || idx != 0 || begin != 0 || length != 16384 {
			result <- errors.New("fake peer: did not see the block re-requested after reset")
			return
		}
		result <- nil
	}()

	p := picker.New([][sha1.Size]byte{sha1.Sum([]byte("piece-content"))}, 16384, 16384)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s, err := Dial(ctx, addr, infoHash, clientID, 1, p, testConfig(), nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer s.Close()

	go s.Run(ctx)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("fake peer: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the re-request after choke/unchoke")
	}
}

func TestSession_TwoPeersCooperateOnFullDownload(t *testing.T) {
	infoHash := sha1.Sum([]byte("info-hash-full-download"))

	const pieceLength = 16384
	pieces := [][]byte{
		make([]byte, pieceLength),
		make([]byte, pieceLength),
		make([]byte, pieceLength),
	}
	for i := range pieces {
		for j := range pieces[i] {
			pieces[i][j] = byte(i*7 + j)
		}
	}
	hashes := make([][sha1.Size]byte, len(pieces))
	for i, data := range pieces {
		hashes[i] = sha1.Sum(data)
	}

	p := picker.New(hashes, pieceLength, int64(len(pieces)*pieceLength))

	runFakePeer := func(ln net.Listener) {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if err := acceptHandshake(conn, infoHash); err != nil {
			return
		}

		bf := bitfield.New(len(pieces))
		for i := range pieces {
			bf.Set(i)
		}
		if err := wire.Encode(conn, wire.MessageBitfield(bf.Bytes())); err != nil {
			return
		}
		if err := wire.Encode(conn, wire.MessageUnchoke()); err != nil {
			return
		}

		for {
			msg, err := wire.Decode(conn)
			if err != nil {
				return
			}
			if msg == nil || msg.ID != wire.Request {
				continue
			}
			idx, begin, length, ok := msg.ParseRequest()
			if !ok || int(idx) >= len(pieces) {
				continue
			}
			block := pieces[idx][begin : begin+length]
			if err := wire.Encode(conn, wire.MessagePiece(idx, begin, block)); err != nil {
				return
			}
		}
	}

	lnA, addrA := listen(t)
	defer lnA.Close()
	lnB, addrB := listen(t)
	defer lnB.Close()

	go runFakePeer(lnA)
	go runFakePeer(lnB)

	// Stand in for the storage sink: ack every completion so Submit
	// unblocks and the picker can close once every piece is in.
	go func() {
		for {
			select {
			case <-p.Done():
				return
			case c := <-p.Completions():
				c.Ack()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientA := sha1.Sum([]byte("client-a"))
	clientB := sha1.Sum([]byte("client-b"))

	sA, err := Dial(ctx, addrA, infoHash, clientA, len(pieces), p, testConfig(), nil)
	if err != nil {
		t.Fatalf("Dial peer A error: %v", err)
	}
	defer sA.Close()

	sB, err := Dial(ctx, addrB, infoHash, clientB, len(pieces), p, testConfig(), nil)
	if err != nil {
		t.Fatalf("Dial peer B error: %v", err)
	}
	defer sB.Close()

	go sA.Run(ctx)
	go sB.Run(ctx)

	select {
	case <-p.Done():
	case <-ctx.Done():
		t.Fatal("timed out before every piece was downloaded")
	}
}
