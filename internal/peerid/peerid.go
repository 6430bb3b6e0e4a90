// Package peerid generates the 20-byte client identifier sent in every
// handshake and tracker announce.
package peerid

import (
	"crypto/rand"
	"fmt"
)

// Prefix identifies this client in Azureus-style peer IDs: a dash, two
// letters, four-digit version, dash. Kept distinct from the teacher's own
// "-RBBT001-" so the two clients never collide on a swarm.
const Prefix = "-LC0001-"

const alphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// New returns a fresh 20-byte peer ID: the 8-byte Prefix followed by 12
// random alphanumeric bytes, generated once per process.
func New() ([20]byte, error) {
	var id [20]byte
	copy(id[:], Prefix)

	tail := make([]byte, 20-len(Prefix))
	if _, err := rand.Read(tail); err != nil {
		return id, fmt.Errorf("peerid: read random tail: %w", err)
	}
	for i, b := range tail {
		id[len(Prefix)+i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return id, nil
}
