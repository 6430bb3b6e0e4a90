package tracker

import (
	"strings"
	"testing"
)

func TestDecodePeers_Compact(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		ipv6     bool
		wantAddr string
		wantPort uint16
	}{
		{"v4-string", []byte{127, 0, 0, 1, 0x1A, 0xE1}, false, "127.0.0.1", 6881},
		{
			"v6-string",
			[]byte{
				0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, // 2001:db8::1
				0x1A, 0xE1,
			},
			true,
			"2001:db8::1",
			6881,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			peers, err := decodePeers(string(tc.raw), tc.ipv6)
			if err != nil {
				t.Fatalf("decodePeers error: %v", err)
			}
			if len(peers) != 1 {
				t.Fatalf("len(peers) = %d, want 1", len(peers))
			}
			if got := peers[0].Addr().String(); got != tc.wantAddr {
				t.Fatalf("addr = %s, want %s", got, tc.wantAddr)
			}
			if peers[0].Port() != tc.wantPort {
				t.Fatalf("port = %d, want %d", peers[0].Port(), tc.wantPort)
			}
		})
	}
}

func TestDecodePeers_RejectsMalformedCompactLength(t *testing.T) {
	if _, err := decodePeers(string([]byte{1, 2, 3}), false); err == nil {
		t.Fatalf("expected error for a compact peer string not a multiple of the v4 stride")
	}
}

// A dictionary-style peer list is a tracker response shape this client does
// not implement; it must be rejected outright rather than silently decoded.
func TestDecodePeers_RejectsDictionaryPeerList(t *testing.T) {
	dictPeers := []any{
		map[string]any{"ip": "127.0.0.1", "port": int64(6881), "peer id": "abc"},
	}

	_, err := decodePeers(dictPeers, false)
	if err == nil {
		t.Fatalf("expected an error for a dictionary-style peer list")
	}
	if !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("error = %v, want mention of being unsupported", err)
	}
}
