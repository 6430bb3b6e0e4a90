// Command leech downloads a single torrent to disk and exits once every
// piece has been written and verified. It never seeds and never accepts
// incoming connections.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/arnesson/leech/internal/config"
	"github.com/arnesson/leech/internal/coordinator"
	"github.com/arnesson/leech/internal/logging"
	"github.com/arnesson/leech/internal/metainfo"
	"github.com/arnesson/leech/internal/peerid"
	"github.com/arnesson/leech/internal/picker"
	"github.com/arnesson/leech/internal/session"
	"github.com/arnesson/leech/internal/storage"
	"github.com/arnesson/leech/internal/tracker"
)

func main() {
	port := flag.Uint("p", 0, "port advertised to the tracker (default 8860)")
	flag.UintVar(port, "port", 0, "port advertised to the tracker (default 8860)")
	out := flag.String("o", "", "output file path (default: torrent name, in the current directory)")
	flag.Parse()

	setupLogger()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-p port] [-o output] <torrent-file>\n", os.Args[0])
		os.Exit(2)
	}

	config.Init()
	if *port != 0 {
		config.Update(func(c *config.Config) { c.Port = uint16(*port) })
	}

	if err := run(flag.Arg(0), *out); err != nil {
		slog.Error("download failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo
	opts.SlogOpts.AddSource = false

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	l := slog.New(h)
	slog.SetDefault(l)
}

func run(torrentPath, out string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	raw, err := os.ReadFile(torrentPath)
	if err != nil {
		return fmt.Errorf("read torrent file: %w", err)
	}

	mi, err := metainfo.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse torrent file: %w", err)
	}

	if out == "" {
		out = mi.Info.Name
	}
	if out == "" {
		out = filepath.Base(torrentPath)
	}

	clientID, err := peerid.New()
	if err != nil {
		return fmt.Errorf("generate peer id: %w", err)
	}

	cfg := config.Load()

	tr, err := tracker.New(mi.AnnounceURLs(), slog.Default())
	if err != nil {
		return fmt.Errorf("build tracker client: %w", err)
	}

	size := mi.Size()
	p := picker.New(mi.Info.Pieces, int64(mi.Info.PieceLength), size)

	sink, err := storage.Open(out, size, int64(mi.Info.PieceLength))
	if err != nil {
		return fmt.Errorf("open output file %s: %w", out, err)
	}
	defer sink.Close()

	slog.Info("starting download",
		"name", mi.Info.Name,
		"size", size,
		"pieces", len(mi.Info.Pieces),
		"info_hash", fmt.Sprintf("%x", mi.Info.Hash),
		"output", out,
	)

	co := coordinator.New(tr, p, mi.Info.Hash, clientID, len(mi.Info.Pieces), coordinator.Config{
		MaxPeers: cfg.MaxPeers,
		Port:     cfg.Port,
		Session: session.Config{
			DialTimeout:       cfg.DialTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			KeepAliveInterval: cfg.KeepAliveInterval,
			OutboundBacklog:   cfg.OutboundQueueBacklog,
		},
		AnnounceEvery: 2 * time.Minute,
	}, slog.Default())

	drainErr := make(chan error, 1)
	go func() { drainErr <- storage.Drain(ctx, p, sink) }()

	runErr := co.Run(ctx)

	select {
	case err := <-drainErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("persist pieces: %w", err)
		}
	case <-time.After(5 * time.Second):
		slog.Warn("storage drain did not finish promptly after coordinator exit")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	select {
	case <-p.Done():
		slog.Info("download complete", "output", out)
	default:
		slog.Warn("exited before every piece was received", "output", out)
	}

	return nil
}
