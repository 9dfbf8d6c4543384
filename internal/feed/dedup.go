package feed

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is how long a delivered event is remembered.
	defaultDedupTTL = 30 * time.Second

	// cleanupInterval is the interval between cleanup runs.
	cleanupInterval = 5 * time.Second
)

// dedup remembers recently delivered events so a subscriber that replays
// history while receiving live events sees each event once.
type dedup struct {
	seen map[[32]byte]int64 // seen maps event hash to delivery time (unix nano)
	mu   sync.Mutex         // mu protects the seen map
	ttl  int64              // ttl in nanoseconds
	stop chan struct{}      // stop signals the cleanup goroutine to stop
	wg   sync.WaitGroup     // wg waits for the cleanup goroutine
}

// newDedup creates a tracker whose entries expire after ttl.
func newDedup(ttl time.Duration) *dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	d := &dedup{
		seen: make(map[[32]byte]int64),
		ttl:  int64(ttl),
		stop: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.cleanupLoop()

	return d
}

// check returns true if data was not seen within the TTL and records it.
func (d *dedup) check(data []byte) bool {
	hash := blake3.Sum256(data)
	now := time.Now().UnixNano()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.seen[hash]; ok && now-ts < d.ttl {
		return false
	}

	d.seen[hash] = now

	return true
}

// close stops the cleanup goroutine.
func (d *dedup) close() {
	close(d.stop)
	d.wg.Wait()
}

func (d *dedup) cleanupLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.cleanup()
		case <-d.stop:
			return
		}
	}
}

// cleanup removes expired entries.
func (d *dedup) cleanup() {
	now := time.Now().UnixNano()

	d.mu.Lock()
	defer d.mu.Unlock()

	for hash, ts := range d.seen {
		if now-ts >= d.ttl {
			delete(d.seen, hash)
		}
	}
}
