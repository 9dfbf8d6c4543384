package event

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"Tally/internal/logger"
	"Tally/internal/storage"
)

// DefaultPageSize is the number of entries returned by Since when no limit is given.
const DefaultPageSize = 100

// errPageFull stops iteration once a page is filled.
var errPageFull = errors.New("page full")

// journalPrefix is the Pebble key prefix for journal entries: "e:" + seq (u64 BE).
var journalPrefix = []byte("e:")

// Entry is one journaled event with its sequence number.
type Entry struct {
	Seq   uint64 // Seq is the 1-based position in the journal
	Event Event  // Event is the decoded notification
}

// Journal persists events in publication order so observers can catch up.
type Journal struct {
	db   *storage.Storage // db is the underlying Pebble storage
	mu   sync.Mutex       // mu serializes appends
	head uint64           // head is the last assigned sequence number
}

// NewJournal opens the journal and restores its head from storage.
func NewJournal(db *storage.Storage) (*Journal, error) {
	j := &Journal{db: db}

	last, err := db.LastKey(journalPrefix)
	if err != nil {
		return nil, fmt.Errorf("load journal head:\n%w", err)
	}

	if last != nil && len(last) == len(journalPrefix)+8 {
		j.head = binary.BigEndian.Uint64(last[len(journalPrefix):])
	}

	return j, nil
}

// Publish appends ev, logging rather than returning storage failures.
func (j *Journal) Publish(ev Event) {
	if _, err := j.Append(ev); err != nil {
		logger.Error("journal append failed", "event", ev.Name(), "error", err)
	}
}

// Append stores ev and returns its sequence number.
func (j *Journal) Append(ev Event) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.head + 1

	if err := j.db.Set(makeJournalKey(seq), Encode(ev)); err != nil {
		return 0, fmt.Errorf("store event %d:\n%w", seq, err)
	}

	j.head = seq

	return seq, nil
}

// Head returns the sequence number of the latest entry (0 when empty).
func (j *Journal) Head() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.head
}

// Since returns up to limit entries with Seq >= from.
func (j *Journal) Since(from uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	if from == 0 {
		from = 1
	}

	var entries []Entry

	err := j.db.IterateRange(makeJournalKey(from), prefixEnd(), func(key, value []byte) error {
		ev, err := Decode(value)
		if err != nil {
			return fmt.Errorf("decode entry %x:\n%w", key, err)
		}

		seq := binary.BigEndian.Uint64(key[len(journalPrefix):])
		entries = append(entries, Entry{Seq: seq, Event: ev})

		if len(entries) >= limit {
			return errPageFull
		}

		return nil
	})
	if err != nil && !errors.Is(err, errPageFull) {
		return nil, err
	}

	return entries, nil
}

// makeJournalKey builds "e:" + seq as big-endian so keys sort by sequence.
func makeJournalKey(seq uint64) []byte {
	key := make([]byte, len(journalPrefix)+8)
	copy(key, journalPrefix)
	binary.BigEndian.PutUint64(key[len(journalPrefix):], seq)

	return key
}

// prefixEnd is the exclusive upper bound of the journal key range.
func prefixEnd() []byte {
	return []byte("e;")
}
