// Package coordinator drives a single torrent's download end to end: it
// announces to the tracker, admits candidate peer addresses, and spawns one
// session per peer up to a concurrency limit. A single peer session failing
// is not fatal; only the picker finishing, a user interrupt, or exhausting
// every tracker tier ends the run.
package coordinator

import (
	"context"
	"crypto/sha1"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/arnesson/leech/internal/picker"
	"github.com/arnesson/leech/internal/session"
	"github.com/arnesson/leech/internal/tracker"
	"golang.org/x/sync/errgroup"
)

// Config bounds the coordinator's peer concurrency and per-session dial
// behavior.
type Config struct {
	MaxPeers      int
	Session       session.Config
	Port          uint16
	AnnounceEvery time.Duration
}

// Coordinator owns the lifecycle of one torrent download: tracker
// announces, peer admission, and session fan-out.
type Coordinator struct {
	cfg        Config
	log        *slog.Logger
	tr         *tracker.Tracker
	picker     *picker.Picker
	infoHash   [sha1.Size]byte
	clientID   [20]byte
	pieceCount int

	peerMu sync.Mutex
	peers  map[netip.AddrPort]struct{}

	peerCh  chan netip.AddrPort
	dialSem chan struct{}
}

// New builds a Coordinator for one torrent. tr must already be constructed
// from the torrent's announce tiers; p is the piece picker driving this
// download.
func New(tr *tracker.Tracker, p *picker.Picker, infoHash, clientID [20]byte, pieceCount int, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 50
	}

	return &Coordinator{
		cfg:        cfg,
		log:        log.With("component", "coordinator"),
		tr:         tr,
		picker:     p,
		infoHash:   infoHash,
		clientID:   clientID,
		pieceCount: pieceCount,
		peers:      make(map[netip.AddrPort]struct{}),
		peerCh:     make(chan netip.AddrPort, cfg.MaxPeers),
		dialSem:    make(chan struct{}, cfg.MaxPeers),
	}
}

// Run announces to the tracker and fans peers out into sessions until the
// download completes, ctx is cancelled, or the tracker is exhausted.
func (c *Coordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.announceLoop(gctx) })
	g.Go(func() error { return c.admitLoop(gctx) })

	g.Go(func() error {
		select {
		case <-c.picker.Done():
			c.log.Info("download complete")
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && isDone(c.picker) {
		return nil
	}
	return err
}

func isDone(p *picker.Picker) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

func (c *Coordinator) announceLoop(ctx context.Context) error {
	params := func(event tracker.Event) *tracker.AnnounceParams {
		return &tracker.AnnounceParams{
			InfoHash: c.infoHash,
			PeerID:   c.clientID,
			Port:     c.cfg.Port,
			Event:    event,
			NumWant:  50,
		}
	}

	resp, err := c.tr.Announce(ctx, params(tracker.EventStarted))
	if err != nil {
		return err
	}
	c.admit(resp.Peers)

	interval := resp.Interval
	if interval <= 0 {
		interval = c.cfg.AnnounceEvery
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, _ = c.tr.Announce(sctx, params(tracker.EventStopped))
			cancel()
			return nil

		case <-c.picker.Done():
			return nil

		case <-ticker.C:
			resp, err := c.tr.Announce(ctx, params(tracker.EventNone))
			if err != nil {
				c.log.Warn("announce failed", "err", err)
				continue
			}
			c.admit(resp.Peers)
			if resp.Interval > 0 {
				ticker.Reset(resp.Interval)
			}
		}
	}
}

func (c *Coordinator) admit(addrs []netip.AddrPort) {
	for _, addr := range addrs {
		select {
		case c.peerCh <- addr:
		default:
			c.log.Warn("peer queue full, dropping candidate", "addr", addr)
		}
	}
}

func (c *Coordinator) admitLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.picker.Done():
			return nil

		case addr, ok := <-c.peerCh:
			if !ok {
				return nil
			}
			if c.havePeer(addr) || c.peerCount() >= c.cfg.MaxPeers {
				continue
			}

			select {
			case c.dialSem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}

			c.addPeer(addr)
			go c.runSession(ctx, addr)
		}
	}
}

func (c *Coordinator) runSession(ctx context.Context, addr netip.AddrPort) {
	defer func() {
		<-c.dialSem
		c.removePeer(addr)
	}()

	l := c.log.With("peer", addr.String())

	s, err := session.Dial(ctx, addr, c.infoHash, c.clientID, c.pieceCount, c.picker, c.cfg.Session, l)
	if err != nil {
		l.Debug("dial failed", "err", err)
		return
	}
	defer s.Close()

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		l.Debug("session ended", "err", err)
	}
}

func (c *Coordinator) havePeer(addr netip.AddrPort) bool {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	_, ok := c.peers[addr]
	return ok
}

func (c *Coordinator) peerCount() int {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	return len(c.peers)
}

func (c *Coordinator) addPeer(addr netip.AddrPort) {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	c.peers[addr] = struct{}{}
}

func (c *Coordinator) removePeer(addr netip.AddrPort) {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	delete(c.peers, addr)
}
