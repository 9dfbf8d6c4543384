package runtime

import (
	"sync"

	"Tally/internal/address"
)

// lockEntry is a per-address mutex shared by all waiters on that address.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// addressLocks serializes work per address. Entries are dropped once no
// goroutine holds or waits on them.
type addressLocks struct {
	mu      sync.Mutex
	entries map[address.Address]*lockEntry
}

func newAddressLocks() *addressLocks {
	return &addressLocks{entries: make(map[address.Address]*lockEntry)}
}

// lock blocks until addr is free and returns the matching unlock.
func (l *addressLocks) lock(addr address.Address) func() {
	l.mu.Lock()
	e := l.entries[addr]
	if e == nil {
		e = &lockEntry{}
		l.entries[addr] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, addr)
		}
		l.mu.Unlock()
	}
}

// size returns the number of live entries.
func (l *addressLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}
