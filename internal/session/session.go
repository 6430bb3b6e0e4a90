// Package session drives a single peer connection through its download
// lifecycle: handshake, bitfield exchange, and a request/response loop
// that leases pieces from a picker.Picker and hands finished ones back to
// it for persistence.
package session

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/arnesson/leech/internal/bitfield"
	"github.com/arnesson/leech/internal/picker"
	"github.com/arnesson/leech/internal/progress"
	"github.com/arnesson/leech/internal/wire"
)

// state names the peer session's current phase.
type state int

const (
	stateIdle state = iota
	stateDownloadingPiece
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDownloadingPiece:
		return "downloading_piece"
	default:
		return "terminated"
	}
}

// Config bounds the TCP dialing and I/O timeouts a session applies to its
// connection.
type Config struct {
	DialTimeout       time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	KeepAliveInterval time.Duration
	OutboundBacklog   int
}

// ProtocolError reports a peer violating the session-level wire contract:
// a non-BITFIELD first message, an out-of-range HAVE, a PIECE for the wrong
// piece, or a PIECE block that would overrun the piece buffer. The session
// always terminates on one of these.
type ProtocolError struct {
	Reason string
}

func (e ProtocolError) Error() string { return "session: protocol error: " + e.Reason }

// Session owns one peer's TCP connection and its FSM. Lifetime is:
// Dial (handshake) -> Run (blocks until the peer disconnects, the
// picker closes, or ctx is cancelled) -> Close.
type Session struct {
	cfg  Config
	conn net.Conn
	log  *slog.Logger

	infoHash   [sha1.Size]byte
	peerID     [20]byte
	pieceCount int

	amInterested   bool
	peerChoking    bool
	peerInterested bool
	peerBitfield   bitfield.Bitfield

	outq chan *wire.Message

	picker *picker.Picker
}

// Dial connects to addr, performs the handshake, and returns a Session
// ready for Run. infoHash and clientID identify the torrent and this
// client respectively; pieceCount sizes the peer's bitfield.
func Dial(ctx context.Context, addr netip.AddrPort, infoHash, clientID [20]byte, pieceCount int, p *picker.Picker, cfg Config, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}

	l := log.With("remote", addr.String())

	local := wire.NewHandshake(infoHash, clientID)
	_ = conn.SetDeadline(time.Now().Add(cfg.DialTimeout))
	remote, err := local.Exchange(conn)
	_ = conn.SetDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		l.Warn("handshake failed", "err", err)
		return nil, fmt.Errorf("session: handshake with %s: %w", addr, err)
	}
	if remote.Pstr != local.Pstr {
		l.Warn("peer handshake has unexpected protocol string", "pstr", remote.Pstr)
	}

	l.Info("handshake ok")

	return &Session{
		cfg:          cfg,
		conn:         conn,
		log:          l,
		infoHash:     infoHash,
		peerID:       remote.PeerID,
		pieceCount:   pieceCount,
		peerChoking:  true,
		peerBitfield: bitfield.New(pieceCount),
		outq:         make(chan *wire.Message, cfg.OutboundBacklog),
		picker:       p,
	}, nil
}

// Close closes the underlying connection.
func (s *Session) Close() error { return s.conn.Close() }

// Run drives the session's FSM until the peer disconnects, the context is
// cancelled, or the picker has no more work. A returned error other than
// context.Canceled indicates the peer connection failed; the coordinator
// treats that as non-fatal to the overall download.
func (s *Session) Run(ctx context.Context) error {
	inbound := make(chan *wire.Message, 32)
	readErr := make(chan error, 1)
	go s.readLoop(ctx, inbound, readErr)

	writeErr := make(chan error, 1)
	go s.writeLoop(ctx, writeErr)

	if err := s.awaitFirstMessage(ctx, inbound, readErr, writeErr); err != nil {
		return err
	}

	st := stateIdle
	var cur downloadState

	pollTicker := time.NewTicker(50 * time.Millisecond)
	defer pollTicker.Stop()

	for st != stateTerminated {
		if st == stateDownloadingPiece {
			select {
			case <-ctx.Done():
				return ctx.Err()

			case <-s.picker.Done():
				return nil

			case err := <-readErr:
				return err

			case err := <-writeErr:
				return err

			case msg := <-inbound:
				if err := s.handleMessage(msg, &cur); err != nil {
					return err
				}

			case <-pollTicker.C:
			}
		}

		switch st {
		case stateIdle:
			lease, err := s.picker.Next(ctx, s.peerBitfield.Has)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				var closed picker.ErrClosed
				if errors.As(err, &closed) {
					return nil
				}
				return err
			}
			cur = downloadState{
				lease:    lease,
				progress: progress.New(lease.Length),
				buf:      make([]byte, lease.Length),
			}
			st = stateDownloadingPiece

			if !s.amInterested {
				s.amInterested = true
				s.send(wire.MessageUnchoke())
				s.send(wire.MessageInterested())
			}

		case stateDownloadingPiece:
			if cur.progress.IsDone() {
				sum := sha1.Sum(cur.buf)
				if sum != cur.lease.Hash {
					s.log.Warn("piece hash mismatch, dropping lease", "piece", cur.lease.PieceID)
					s.picker.Drop(cur.lease)
				} else if err := s.picker.Submit(ctx, cur.lease, cur.buf); err != nil {
					return err
				}
				st = stateIdle
				continue
			}

			if !s.peerChoking {
				for {
					req, ok := cur.progress.NextRequest()
					if !ok {
						break
					}
					s.send(wire.MessageRequest(uint32(cur.lease.PieceID), uint32(req.Begin), uint32(req.Length)))
				}
			}
		}
	}

	return nil
}

// awaitFirstMessage blocks for the peer's first post-handshake message and
// validates it is BITFIELD, per §4.4.2: any other first message, or the
// peer closing before sending one, is a fatal protocol error. Keep-alives
// are not forwarded on inbound, so they do not count as "the first message".
func (s *Session) awaitFirstMessage(ctx context.Context, inbound <-chan *wire.Message, readErr, writeErr <-chan error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-readErr:
		return err
	case err := <-writeErr:
		return err
	case msg := <-inbound:
		if msg.ID != wire.Bitfield {
			return ProtocolError{Reason: fmt.Sprintf("first message after handshake was %s, want BITFIELD", msg.ID)}
		}
		bf := bitfield.FromBytes(msg.Payload)
		if bf.OverflowSet(s.pieceCount) {
			return ProtocolError{Reason: "BITFIELD sets a bit beyond the piece count"}
		}
		s.peerBitfield = bf
		return nil
	}
}

// downloadState holds the in-flight piece a session is assembling.
type downloadState struct {
	lease    *picker.Lease
	progress *progress.Progress
	buf      []byte
}

func (s *Session) handleMessage(msg *wire.Message, cur *downloadState) error {
	switch msg.ID {
	case wire.Choke:
		s.peerChoking = true
		if cur.progress != nil {
			cur.progress.Reset()
		}
	case wire.Unchoke:
		s.peerChoking = false
	case wire.Interested:
		s.peerInterested = true
	case wire.NotInterested:
		s.peerInterested = false
	case wire.Bitfield:
		// Allowed only as the very first post-handshake message; Run
		// already consumed that one in awaitFirstMessage, so any BITFIELD
		// reaching here is a later, out-of-contract resend.
		s.log.Warn("ignoring BITFIELD received after the first message")
	case wire.Have:
		idx, ok := msg.ParseHave()
		if !ok {
			return nil
		}
		if int(idx) >= s.pieceCount {
			return ProtocolError{Reason: fmt.Sprintf("HAVE index %d >= piece count %d", idx, s.pieceCount)}
		}
		s.peerBitfield.Set(int(idx))
	case wire.Piece:
		idx, begin, block, ok := msg.ParsePiece()
		if !ok || cur.progress == nil {
			return nil
		}
		if int(idx) != cur.lease.PieceID {
			return ProtocolError{Reason: fmt.Sprintf("PIECE index %d does not match in-flight piece %d", idx, cur.lease.PieceID)}
		}
		if int(begin)+len(block) > len(cur.buf) {
			return ProtocolError{Reason: fmt.Sprintf("PIECE block at offset %d length %d exceeds piece length %d", begin, len(block), len(cur.buf))}
		}
		if err := cur.progress.MarkReceived(int(begin)); err != nil {
			return fmt.Errorf("session: %w", err)
		}
		copy(cur.buf[begin:], block)
	case wire.Request, wire.Cancel:
		// This client never seeds; upload requests are ignored.
	}
	return nil
}

func (s *Session) send(m *wire.Message) {
	select {
	case s.outq <- m:
	default:
		s.log.Warn("outbound queue full, dropping message", "message", m.ID)
	}
}

func (s *Session) readLoop(ctx context.Context, out chan<- *wire.Message, errc chan<- error) {
	for {
		if ctx.Err() != nil {
			errc <- ctx.Err()
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msg, err := wire.Decode(s.conn)
		if err != nil {
			errc <- fmt.Errorf("session: read: %w", err)
			return
		}
		if msg == nil {
			continue // keep-alive
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, errc chan<- error) {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		case msg := <-s.outq:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := wire.Encode(s.conn, msg); err != nil {
				errc <- fmt.Errorf("session: write: %w", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := wire.Encode(s.conn, nil); err != nil {
				errc <- fmt.Errorf("session: keepalive: %w", err)
				return
			}
		}
	}
}
