package wire

import (
	"crypto/sha1"
	"encoding"
	"errors"
	"io"
)

const (
	protocolIdent = "BitTorrent protocol"
	reservedLen   = 8
)

// HandshakeLen is the fixed length of the wire handshake frame.
const HandshakeLen = 1 + len(protocolIdent) + reservedLen + sha1.Size + sha1.Size

// Handshake is the 68-byte prologue exchanged immediately after connecting,
// binding the TCP connection to a specific torrent and peer id.
//
//	<pstrlen=19><"BitTorrent protocol"><reserved:8><info_hash:20><peer_id:20>
type Handshake struct {
	Pstr     string
	Reserved [reservedLen]byte
	InfoHash [sha1.Size]byte
	PeerID   [sha1.Size]byte
}

var (
	ErrBadPstrlen       = errors.New("wire: invalid protocol string length")
	ErrShortHandshake   = errors.New("wire: short handshake")
	ErrInfoHashMismatch = errors.New("wire: info hash mismatch")
)

var (
	_ encoding.BinaryMarshaler   = (*Handshake)(nil)
	_ encoding.BinaryUnmarshaler = (*Handshake)(nil)
	_ io.WriterTo                = (*Handshake)(nil)
)

// NewHandshake returns a canonical handshake for the given torrent and peer.
func NewHandshake(infoHash, peerID [sha1.Size]byte) *Handshake {
	return &Handshake{Pstr: protocolIdent, InfoHash: infoHash, PeerID: peerID}
}

func (h *Handshake) MarshalBinary() ([]byte, error) {
	if len(h.Pstr) == 0 || len(h.Pstr) > 255 {
		return nil, ErrBadPstrlen
	}

	buf := make([]byte, 1+len(h.Pstr)+reservedLen+sha1.Size+sha1.Size)
	buf[0] = byte(len(h.Pstr))
	off := 1
	off += copy(buf[off:], h.Pstr)
	off += copy(buf[off:], h.Reserved[:])
	off += copy(buf[off:], h.InfoHash[:])
	copy(buf[off:], h.PeerID[:])
	return buf, nil
}

func (h *Handshake) UnmarshalBinary(b []byte) error {
	if len(b) < 1 {
		return ErrShortHandshake
	}

	pstrlen := int(b[0])
	if pstrlen == 0 || pstrlen > 255 {
		return ErrBadPstrlen
	}

	tail := reservedLen + sha1.Size + sha1.Size
	if len(b) < 1+pstrlen+tail {
		return ErrShortHandshake
	}

	pstrEnd := 1 + pstrlen
	h.Pstr = string(b[1:pstrEnd])
	copy(h.Reserved[:], b[pstrEnd:pstrEnd+reservedLen])
	copy(h.InfoHash[:], b[pstrEnd+reservedLen:pstrEnd+reservedLen+sha1.Size])
	copy(h.PeerID[:], b[pstrEnd+reservedLen+sha1.Size:])
	return nil
}

func (h *Handshake) WriteTo(w io.Writer) (int64, error) {
	b, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadHandshake reads and decodes a complete handshake from r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Handshake{}, ErrShortHandshake
		}
		return Handshake{}, err
	}

	pstrlen := int(hdr[0])
	if pstrlen == 0 || pstrlen > 255 {
		return Handshake{}, ErrBadPstrlen
	}

	rest := make([]byte, pstrlen+reservedLen+sha1.Size+sha1.Size)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Handshake{}, ErrShortHandshake
		}
		return Handshake{}, err
	}

	var h Handshake
	if err := h.UnmarshalBinary(append(hdr[:], rest...)); err != nil {
		return Handshake{}, err
	}
	return h, nil
}

// Exchange writes h to rw, reads the peer's handshake back, and validates it.
//
// A protocol-string mismatch is lenient: it never fails the exchange, and
// the peer's Pstr is returned as received so callers can compare it
// themselves. An info-hash mismatch is always fatal.
func (h Handshake) Exchange(rw io.ReadWriter) (peer Handshake, err error) {
	if _, err = (&h).WriteTo(rw); err != nil {
		return Handshake{}, err
	}

	peer, err = ReadHandshake(rw)
	if err != nil {
		return Handshake{}, err
	}

	if peer.InfoHash != h.InfoHash {
		return Handshake{}, ErrInfoHashMismatch
	}

	return peer, nil
}
