package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"Tally/internal/address"
	"Tally/internal/ledger"
	"Tally/internal/record"
)

// fakeHead is a settable HeadProvider.
type fakeHead struct {
	head atomic.Uint64
}

func (f *fakeHead) Head() uint64 {
	return f.head.Load()
}

func TestManager_SnapshotOnDemand(t *testing.T) {
	l := createTestLedger(t)
	seedLedger(t, l)

	m := NewManager(l, testProgram, &fakeHead{}, 0)

	if data, _ := m.Latest(); data != nil {
		t.Fatal("expected no snapshot before first request")
	}

	data, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	raw, err := Decompress(data)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	snap, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(snap.Records) != 3 {
		t.Errorf("expected 3 records, got %d", len(snap.Records))
	}
}

// TestManager_ReusesUntilHeadMoves verifies snapshots are rebuilt only after new events.
func TestManager_ReusesUntilHeadMoves(t *testing.T) {
	l := createTestLedger(t)
	seedLedger(t, l)

	head := &fakeHead{}
	head.head.Store(3)
	m := NewManager(l, testProgram, head, 0)

	first, _ := m.Snapshot()

	var cs ledger.Changeset
	cs.Create(address.Address{0x22}, (&record.Vote{Voter: address.Address{4}, Poll: address.Address{0x10}}).Encode())
	if err := l.Commit(&cs); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	second, _ := m.Snapshot()
	if !bytes.Equal(first, second) {
		t.Error("snapshot rebuilt without a head change")
	}

	head.head.Store(4)

	third, _ := m.Snapshot()
	if bytes.Equal(first, third) {
		t.Error("snapshot not rebuilt after head change")
	}

	if _, h := m.Latest(); h != 4 {
		t.Errorf("latest head = %d, want 4", h)
	}
}

func TestManager_PeriodicLoop(t *testing.T) {
	l := createTestLedger(t)
	seedLedger(t, l)

	m := NewManager(l, testProgram, &fakeHead{}, 20*time.Millisecond)
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if data, _ := m.Latest(); data != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("no snapshot created by the loop")
}

func TestManager_WriteFile(t *testing.T) {
	l := createTestLedger(t)
	seedLedger(t, l)

	m := NewManager(l, testProgram, &fakeHead{}, 0)

	path := filepath.Join(t.TempDir(), "snapshot.zst")
	if err := m.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	raw, err := Decompress(data)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	dst := createTestLedger(t)
	if _, err := Restore(dst, testProgram, raw); err != nil {
		t.Fatalf("Restore: %v", err)
	}
}
