package metainfo

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/arnesson/leech/internal/bencode"
)

func buildTorrent(t *testing.T, info map[string]any, extra map[string]any) []byte {
	t.Helper()

	root := map[string]any{
		"announce": "http://tracker.example/announce",
		"info":     info,
	}
	for k, v := range extra {
		root[k] = v
	}

	buf, err := bencode.Marshal(root)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	return buf
}

func singleFileInfo() map[string]any {
	pieces := bytes.Repeat([]byte{0xAB}, 20*3)
	return map[string]any{
		"name":         "file.bin",
		"piece length": int64(16384),
		"pieces":       pieces,
		"length":       int64(40000),
	}
}

func TestParse_SingleFile(t *testing.T) {
	data := buildTorrent(t, singleFileInfo(), nil)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if m.Info.Name != "file.bin" {
		t.Fatalf("Name = %q, want file.bin", m.Info.Name)
	}
	if m.Info.Length != 40000 {
		t.Fatalf("Length = %d, want 40000", m.Info.Length)
	}
	if m.Size() != 40000 {
		t.Fatalf("Size() = %d, want 40000", m.Size())
	}
	if len(m.Info.Pieces) != 3 {
		t.Fatalf("len(Pieces) = %d, want 3", len(m.Info.Pieces))
	}
	if m.Announce != "http://tracker.example/announce" {
		t.Fatalf("Announce = %q", m.Announce)
	}
}

func TestParse_MultiFile(t *testing.T) {
	info := map[string]any{
		"name":         "bundle",
		"piece length": int64(16384),
		"pieces":       bytes.Repeat([]byte{0x01}, 20),
		"files": []any{
			map[string]any{"length": int64(100), "path": []any{"a.txt"}},
			map[string]any{"length": int64(200), "path": []any{"sub", "b.txt"}},
		},
	}
	data := buildTorrent(t, info, nil)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if m.Size() != 300 {
		t.Fatalf("Size() = %d, want 300", m.Size())
	}
	if len(m.Info.Files) != 2 {
		t.Fatalf("len(Files) = %d, want 2", len(m.Info.Files))
	}
}

func TestParse_InfoHashIsStableAcrossReencoding(t *testing.T) {
	info := singleFileInfo()
	data := buildTorrent(t, info, nil)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	reencoded, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := sha1.Sum(reencoded)
	if m.Info.Hash != want {
		t.Fatalf("info hash mismatch")
	}
}

func TestParse_RejectsMissingAnnounce(t *testing.T) {
	root := map[string]any{"info": singleFileInfo()}
	data, err := bencode.Marshal(root)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	if _, err := Parse(data); err != ErrAnnounceMissing {
		t.Fatalf("err = %v, want ErrAnnounceMissing", err)
	}
}

func TestParse_RejectsBadPiecesLength(t *testing.T) {
	info := singleFileInfo()
	info["pieces"] = []byte{1, 2, 3}
	data := buildTorrent(t, info, nil)

	if _, err := Parse(data); err != ErrPiecesLenInvalid {
		t.Fatalf("err = %v, want ErrPiecesLenInvalid", err)
	}
}

func TestParse_RejectsBothLengthAndFiles(t *testing.T) {
	info := singleFileInfo()
	info["files"] = []any{map[string]any{"length": int64(1), "path": []any{"x"}}}
	data := buildTorrent(t, info, nil)

	if _, err := Parse(data); err != ErrLayoutInvalid {
		t.Fatalf("err = %v, want ErrLayoutInvalid", err)
	}
}

func TestAnnounceURLs_FlattensPrimaryAndTiers(t *testing.T) {
	extra := map[string]any{
		"announce-list": []any{
			[]any{"http://tier1a.example"},
			[]any{"http://tier2a.example", "http://tier2b.example"},
		},
	}
	data := buildTorrent(t, singleFileInfo(), extra)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	tiers := m.AnnounceURLs()
	if len(tiers) != 3 {
		t.Fatalf("len(tiers) = %d, want 3", len(tiers))
	}
	if tiers[0][0] != m.Announce {
		t.Fatalf("first tier should be the primary announce URL")
	}
}
