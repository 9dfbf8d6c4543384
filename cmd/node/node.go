package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"Tally/internal/api"
	"Tally/internal/event"
	"Tally/internal/feed"
	"Tally/internal/ledger"
	"Tally/internal/logger"
	"Tally/internal/metrics"
	"Tally/internal/program"
	"Tally/internal/runtime"
	"Tally/internal/snapshot"
	"Tally/internal/storage"
)

// snapshotFile is the snapshot written to the data directory on shutdown.
const snapshotFile = "snapshot.zst"

// Node represents a running Tally node.
type Node struct {
	cfg       *Config
	storage   *storage.Storage
	ledger    *ledger.Ledger
	journal   *event.Journal
	metrics   *metrics.Metrics
	feed      *feed.Server
	program   *program.Program
	runtime   *runtime.Runtime
	snapshots *snapshot.Manager
	api       *api.Server
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg, metrics: metrics.New()}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initLedger(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initFeed(); err != nil {
		n.Close()
		return nil, err
	}

	n.initProgram()

	return n, nil
}

// initStorage initializes the Pebble storage.
func (n *Node) initStorage() error {
	dbPath := filepath.Join(n.cfg.DataPath, "db")

	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(dbPath)
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initLedger opens the record arena and event journal, restoring a snapshot if configured.
func (n *Node) initLedger() error {
	l, err := ledger.New(n.storage, n.cfg.CacheSize)
	if err != nil {
		return fmt.Errorf("init ledger:\n%w", err)
	}

	n.ledger = l

	journal, err := event.NewJournal(n.storage)
	if err != nil {
		return fmt.Errorf("init journal:\n%w", err)
	}

	n.journal = journal

	if n.cfg.RestorePath != "" {
		if err := n.restore(n.cfg.RestorePath); err != nil {
			return fmt.Errorf("restore %s:\n%w", n.cfg.RestorePath, err)
		}
	}

	polls, votes, err := l.Counts()
	if err != nil {
		return fmt.Errorf("count records:\n%w", err)
	}

	logger.Info("ledger opened", "polls", polls, "votes", votes, "journal", journal.Head())

	return nil
}

// restore loads a compressed snapshot file into the empty ledger.
func (n *Node) restore(path string) error {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot:\n%w", err)
	}

	data, err := snapshot.Decompress(compressed)
	if err != nil {
		return fmt.Errorf("decompress snapshot:\n%w", err)
	}

	snap, err := snapshot.Restore(n.ledger, n.cfg.ProgramID, data)
	if err != nil {
		return err
	}

	logger.Info("snapshot restored",
		"records", len(snap.Records),
		"journalHead", snap.JournalHead,
	)

	return nil
}

// initFeed creates the QUIC event feed when an address is configured.
func (n *Node) initFeed() error {
	if n.cfg.FeedAddress == "" {
		return nil
	}

	server, err := feed.NewServer(feed.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.FeedAddress,
		History:    n.journal,
	})
	if err != nil {
		return fmt.Errorf("init feed:\n%w", err)
	}

	server.OnSubscribersChanged(n.metrics.SetSubscribers)
	n.feed = server

	return nil
}

// initProgram wires the program, runtime, snapshots and HTTP API.
func (n *Node) initProgram() {
	// Journal first: an event pushed live is already replayable.
	sinks := event.Fanout{n.journal, event.LogSink{}, n.metrics}
	if n.feed != nil {
		sinks = append(sinks, n.feed)
	}

	n.program = program.New(program.Config{
		ProgramID: n.cfg.ProgramID,
		Accounts:  n.ledger,
		Sink:      sinks,
	})

	n.runtime = runtime.New(n.program, n.metrics)
	n.snapshots = snapshot.NewManager(n.ledger, n.cfg.ProgramID, n.journal, n.cfg.SnapshotInterval)

	n.api = api.New(api.Config{
		Addr:      n.cfg.HTTPAddress,
		Program:   n.cfg.ProgramID,
		Executor:  n.runtime,
		Reader:    n.program,
		History:   n.journal,
		Status:    n.ledger,
		Snapshots: n.snapshots,
		Metrics:   n.metrics.Handler(),
		Origins:   n.cfg.CORSOrigins,
	})
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return n.run(ctx)
}

// run starts every component and blocks until ctx is done.
func (n *Node) run(ctx context.Context) error {
	if n.feed != nil {
		if err := n.feed.Start(); err != nil {
			n.Close()
			return fmt.Errorf("start feed:\n%w", err)
		}
	}

	n.snapshots.Start()

	if err := n.api.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	return n.Close()
}

// Close shuts down all node components and writes a final snapshot.
func (n *Node) Close() error {
	var g errgroup.Group

	if n.api != nil {
		g.Go(n.api.Stop)
	}

	if n.feed != nil {
		g.Go(n.feed.Close)
	}

	if n.snapshots != nil {
		g.Go(func() error {
			n.snapshots.Stop()
			return nil
		})
	}

	err := g.Wait()

	if n.snapshots != nil {
		path := filepath.Join(n.cfg.DataPath, snapshotFile)
		if serr := n.snapshots.WriteFile(path); serr != nil {
			err = errors.Join(err, fmt.Errorf("write final snapshot:\n%w", serr))
		}
	}

	if n.storage != nil {
		if serr := n.storage.Close(); serr != nil {
			err = errors.Join(err, fmt.Errorf("close storage:\n%w", serr))
		}
	}

	return err
}
