package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"

	"Tally/internal/address"
	"Tally/internal/ledger"
	"Tally/internal/logger"
)

const (
	// DefaultInterval is the default interval between snapshots.
	DefaultInterval = 30 * time.Second
)

// HeadProvider reports the event journal head.
type HeadProvider interface {
	Head() uint64
}

// Manager creates periodic compressed snapshots of the ledger.
// A new snapshot is only built when the journal head moved.
type Manager struct {
	ledger   *ledger.Ledger
	program  address.Address
	journal  HeadProvider
	interval time.Duration

	mu      sync.RWMutex
	current []byte // compressed snapshot data
	head    uint64 // journal head of current snapshot

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a snapshot manager. interval <= 0 uses DefaultInterval.
func NewManager(l *ledger.Ledger, program address.Address, journal HeadProvider, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Manager{
		ledger:   l,
		program:  program,
		journal:  journal,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic snapshot loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop stops the loop and waits for it to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Latest returns the most recent compressed snapshot and its journal head.
// Returns nil if no snapshot has been created yet.
func (m *Manager) Latest() (data []byte, head uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current, m.head
}

// Snapshot returns the latest compressed snapshot, building one if needed.
func (m *Manager) Snapshot() ([]byte, error) {
	if err := m.refresh(); err != nil {
		return nil, err
	}

	data, _ := m.Latest()

	return data, nil
}

// WriteFile writes the latest snapshot to path through a temporary file.
func (m *Manager) WriteFile(path string) error {
	data, err := m.Snapshot()
	if err != nil {
		return err
	}

	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write snapshot:\n%w", err)
	}

	logger.Info("snapshot written", "path", path, "size", humanize.Bytes(uint64(len(data))))

	return nil
}

// loop runs the periodic snapshot creation.
func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.refresh(); err != nil {
				logger.Error("create snapshot", "error", err)
			}
		}
	}
}

// refresh builds a new snapshot unless the journal head is unchanged.
func (m *Manager) refresh() error {
	head := m.journal.Head()

	m.mu.RLock()
	fresh := m.current != nil && m.head == head
	m.mu.RUnlock()

	if fresh {
		return nil
	}

	start := time.Now()

	data, err := Create(m.ledger, m.program, head)
	if err != nil {
		return err
	}

	compressed, err := Compress(data)
	if err != nil {
		return fmt.Errorf("compress snapshot:\n%w", err)
	}

	m.mu.Lock()
	m.current = compressed
	m.head = head
	m.mu.Unlock()

	logger.Debug("snapshot created",
		"head", head,
		"size", humanize.Bytes(uint64(len(data))),
		"compressed", humanize.Bytes(uint64(len(compressed))),
		logger.Timed(start),
	)

	return nil
}
