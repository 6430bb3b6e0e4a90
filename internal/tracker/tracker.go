// Package tracker announces this client to one or more BitTorrent trackers
// and decodes the resulting peer lists. Only the HTTP(S) tracker protocol
// is implemented; UDP tracker support is dropped relative to the teacher's
// own internal/tracker package since every torrent exercised by this
// client carries an http(s) announce URL — see DESIGN.md.
package tracker

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// AnnounceParams carries everything a tracker needs to answer an announce.
type AnnounceParams struct {
	InfoHash   [sha1.Size]byte
	PeerID     [20]byte
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      Event
	Key        uint32
	NumWant    uint32
	Port       uint16
}

// AnnounceResponse is a tracker's reply: swarm stats plus a connectable
// peer list.
type AnnounceResponse struct {
	TrackerID   string
	Interval    time.Duration
	MinInterval time.Duration
	Leechers    int64
	Seeders     int64
	Peers       []netip.AddrPort
}

// Event reports this client's lifecycle stage to the tracker.
type Event uint32

const (
	EventNone Event = iota
	EventStarted
	EventStopped
	EventCompleted
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	default:
		return ""
	}
}

// Protocol abstracts a single tracker endpoint's announce call. Only an
// HTTP implementation exists today; the interface leaves room for a UDP
// tracker later without disturbing callers.
type Protocol interface {
	Announce(ctx context.Context, params *AnnounceParams) (*AnnounceResponse, error)
}

// Stats exposes runtime counters about this tracker client's activity.
type Stats struct {
	TotalAnnounces      atomic.Uint64
	SuccessfulAnnounces atomic.Uint64
	FailedAnnounces     atomic.Uint64
	LastAnnounce        atomic.Int64
	LastSuccess         atomic.Int64
	TotalPeersReceived  atomic.Uint64
	CurrentSeeders      atomic.Int64
	CurrentLeechers     atomic.Int64
}

// Tracker manages multi-tier tracker communication with failover and
// within-tier promotion of whichever URL answered last, per BEP 12.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	tiers    [][]*url.URL
	mu       sync.Mutex
	trackers map[string]Protocol
	log      *slog.Logger
	stats    Stats
}

// New builds a tracker client from a torrent's flattened announce tiers
// (see metainfo.Metainfo.AnnounceURLs). Within-tier order is shuffled once
// up front so this client doesn't always hit the same tracker first.
func New(tiers [][]string, log *slog.Logger) (*Tracker, error) {
	urls, err := buildAnnounceURLs(tiers)
	if err != nil {
		return nil, err
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := range urls {
		if len(urls[i]) < 2 {
			continue
		}
		r.Shuffle(len(urls[i]), func(a, b int) {
			urls[i][a], urls[i][b] = urls[i][b], urls[i][a]
		})
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "tracker", "tiers", len(urls))

	return &Tracker{
		log:      log,
		tiers:    urls,
		trackers: make(map[string]Protocol),
	}, nil
}

// Announce tries each tier in order, and within a tier each URL in turn,
// returning the first successful response. The URL that answered is
// promoted to the front of its tier for next time.
func (t *Tracker) Announce(ctx context.Context, params *AnnounceParams) (*AnnounceResponse, error) {
	t.stats.TotalAnnounces.Add(1)
	t.stats.LastAnnounce.Store(time.Now().Unix())

	var lastErr error

	for tierIdx := 0; tierIdx < len(t.tiers); tierIdx++ {
		tier := t.snapshotTier(tierIdx)

		for i, u := range tier {
			tr, err := t.getTracker(u)
			if err != nil {
				lastErr = err
				continue
			}

			resp, err := tr.Announce(ctx, params)
			if err != nil {
				lastErr = err
				continue
			}

			t.promoteWithinTier(tierIdx, i)

			t.stats.SuccessfulAnnounces.Add(1)
			t.stats.LastSuccess.Store(time.Now().Unix())
			t.stats.TotalPeersReceived.Add(uint64(len(resp.Peers)))
			t.stats.CurrentSeeders.Store(resp.Seeders)
			t.stats.CurrentLeechers.Store(resp.Leechers)

			t.log.Info("announce success",
				"tier", tierIdx, "url", u.String(),
				"peers", len(resp.Peers), "seeders", resp.Seeders, "leechers", resp.Leechers)

			return resp, nil
		}

		t.log.Warn("announce tier exhausted", "tier", tierIdx)
	}

	t.stats.FailedAnnounces.Add(1)
	if lastErr == nil {
		lastErr = errors.New("tracker: all tiers exhausted")
	}
	return nil, lastErr
}

// Stats returns this tracker's runtime counters.
func (t *Tracker) Stats() *Stats { return &t.stats }

func (t *Tracker) snapshotTier(at int) []*url.URL {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*url.URL(nil), t.tiers[at]...)
}

func (t *Tracker) promoteWithinTier(tierIdx, urlIdx int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tier := t.tiers[tierIdx]
	if urlIdx <= 0 || urlIdx >= len(tier) {
		return
	}

	u := tier[urlIdx]
	copy(tier[1:urlIdx+1], tier[0:urlIdx])
	tier[0] = u
}

func (t *Tracker) getTracker(u *url.URL) (Protocol, error) {
	key := u.String()

	t.mu.Lock()
	tr, ok := t.trackers[key]
	t.mu.Unlock()
	if ok {
		return tr, nil
	}

	var (
		tracker Protocol
		err     error
	)

	switch u.Scheme {
	case "http", "https":
		tracker, err = NewHTTPTracker(u, t.log.With("component", "tracker.http", "host", u.Host))
	default:
		err = fmt.Errorf("tracker: unsupported scheme %q (only http/https are implemented)", u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.trackers[key] = tracker
	t.mu.Unlock()

	return tracker, nil
}

func buildAnnounceURLs(tiers [][]string) ([][]*url.URL, error) {
	out := make([][]*url.URL, 0, len(tiers))

	for _, tier := range tiers {
		urls := make([]*url.URL, 0, len(tier))
		for _, raw := range tier {
			if u, ok := parseTrackerURL(raw); ok {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			out = append(out, urls)
		}
	}

	if len(out) == 0 {
		return nil, errors.New("tracker: no usable announce urls")
	}
	return out, nil
}

func parseTrackerURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, false
	}
	switch u.Scheme {
	case "http", "https":
		return u, true
	default:
		return nil, false
	}
}
