package ledger

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"Tally/internal/address"
	"Tally/internal/record"
	"Tally/internal/storage"
)

const (
	// DefaultCacheSize is the number of records kept in the read cache.
	DefaultCacheSize = 4096
)

// accountPrefix is the Pebble key prefix for record slots.
var accountPrefix = []byte("a:")

// ErrAccountExists is returned when a create targets an occupied address.
var ErrAccountExists = errors.New("account already exists")

// Entry holds a record address and its raw bytes.
type Entry struct {
	Address address.Address // Address is the derived record location
	Data    []byte          // Data is the encoded record
}

// Ledger maps derived addresses to record slots backed by persistent storage.
// The address itself is the index: there is no secondary lookup table.
type Ledger struct {
	db    *storage.Storage // db is the underlying Pebble storage
	cache *lru.Cache       // cache holds recently read records by address
	mu    sync.RWMutex     // mu keeps the cache consistent with committed writes
}

// New creates a ledger backed by the given storage.
func New(db *storage.Storage, cacheSize int) (*Ledger, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache:\n%w", err)
	}

	return &Ledger{db: db, cache: cache}, nil
}

// Load returns a copy of the record at addr, or nil if the slot is empty.
func (l *Ledger) Load(addr address.Address) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if cached, ok := l.cache.Get(addr); ok {
		return cloneBytes(cached.([]byte)), nil
	}

	data, err := l.db.Get(makeKey(addr))
	if err != nil {
		return nil, fmt.Errorf("load %s:\n%w", addr.Short(), err)
	}

	if data == nil {
		return nil, nil
	}

	l.cache.Add(addr, cloneBytes(data))

	return data, nil
}

// Exists reports whether a record occupies addr.
func (l *Ledger) Exists(addr address.Address) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.cache.Contains(addr) {
		return true, nil
	}

	return l.db.Has(makeKey(addr))
}

// Commit applies every write of the changeset atomically.
// If any created address is already occupied, nothing is written and
// ErrAccountExists is returned.
func (l *Ledger) Commit(cs *Changeset) error {
	if cs.Len() == 0 {
		return nil
	}

	ops := make([]storage.Op, len(cs.writes))
	for i, w := range cs.writes {
		ops[i] = storage.Op{Key: makeKey(w.addr), Value: w.data, Create: w.create}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.Apply(ops); err != nil {
		if errors.Is(err, storage.ErrKeyExists) {
			return ErrAccountExists
		}
		return fmt.Errorf("apply changeset:\n%w", err)
	}

	for _, w := range cs.writes {
		l.cache.Add(w.addr, cloneBytes(w.data))
	}

	return nil
}

// Counts returns the number of poll and vote records.
func (l *Ledger) Counts() (polls, votes int, err error) {
	err = l.db.IteratePrefix(accountPrefix, func(_, value []byte) error {
		switch record.Kind(value) {
		case "poll":
			polls++
		case "vote":
			votes++
		}
		return nil
	})

	return polls, votes, err
}

// Export returns every record for snapshot serialization, ordered by address.
func (l *Ledger) Export() ([]Entry, error) {
	var entries []Entry

	err := l.db.IteratePrefix(accountPrefix, func(key, value []byte) error {
		addr, err := address.FromBytes(key[len(accountPrefix):])
		if err != nil {
			return nil
		}

		entries = append(entries, Entry{Address: addr, Data: cloneBytes(value)})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate records:\n%w", err)
	}

	return entries, nil
}

// Import loads records from snapshot data, overwriting existing slots.
func (l *Ledger) Import(entries []Entry) error {
	pairs := make([]storage.KeyValue, len(entries))

	for i, entry := range entries {
		pairs[i] = storage.KeyValue{
			Key:   makeKey(entry.Address),
			Value: entry.Data,
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.Purge()

	return l.db.SetBatch(pairs)
}

// Empty reports whether the ledger holds no records.
func (l *Ledger) Empty() (bool, error) {
	last, err := l.db.LastKey(accountPrefix)
	if err != nil {
		return false, err
	}

	return last == nil, nil
}

// makeKey builds the Pebble key for a record: "a:" + address bytes.
func makeKey(addr address.Address) []byte {
	key := make([]byte, len(accountPrefix)+address.Size)
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], addr[:])

	return key
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
