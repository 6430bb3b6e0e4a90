// Package config holds the process-wide, atomically-swapped configuration
// for the download engine: the advertised port, connection timeouts, and
// queue capacities. Protocol invariants (MAX_PENDING_BLOCKS, MAX_QUEUED,
// REQUEUE_TIMEOUT, IDLE_WAIT) are not here — they're named constants next to
// the code that enforces them, not tunables.
package config

import (
	"sync/atomic"
	"time"
)

// Config holds the knobs this engine actually needs; it is a trimmed
// descendant of a fuller engine config that also carried DHT, UI, and
// rate-limiting fields this leech-only client has no use for.
type Config struct {
	// Port is advertised to the tracker in announce requests. This client
	// never listens on it — incoming connections are not accepted.
	Port uint16

	// DialTimeout bounds establishing a new peer TCP connection.
	DialTimeout time.Duration

	// ReadTimeout bounds a single read from a peer connection.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single write to a peer connection.
	WriteTimeout time.Duration

	// KeepAliveInterval is how often a session sends a keep-alive frame
	// when it has nothing else to say.
	KeepAliveInterval time.Duration

	// MaxPeers bounds how many peer sessions the coordinator keeps alive
	// at once.
	MaxPeers int

	// OutboundQueueBacklog bounds the per-session outbound message
	// channel before a send blocks.
	OutboundQueueBacklog int
}

func defaultConfig() Config {
	return Config{
		Port:                 8860,
		DialTimeout:          10 * time.Second,
		ReadTimeout:          45 * time.Second,
		WriteTimeout:         45 * time.Second,
		KeepAliveInterval:    2 * time.Minute,
		MaxPeers:             50,
		OutboundQueueBacklog: 25,
	}
}

var current atomic.Value

// Init installs the default configuration. Call once at process startup
// before any component calls Load.
func Init() {
	c := defaultConfig()
	current.Store(&c)
}

// Load returns the current configuration. Treat the result as read-only.
func Load() *Config {
	return current.Load().(*Config)
}

// Update applies mut to a copy of the current config and swaps it in
// atomically, returning the new value.
func Update(mut func(*Config)) *Config {
	next := *Load()
	mut(&next)
	current.Store(&next)
	return &next
}

// Swap replaces the current configuration outright, e.g. to apply flags
// parsed on the command line.
func Swap(next Config) *Config {
	current.Store(&next)
	return &next
}
