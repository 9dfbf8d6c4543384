package event

import (
	"errors"
	"os"
	"testing"

	"Tally/internal/address"
	"Tally/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "event_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.RemoveAll(dir)
	})

	db, err := storage.New(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestEncodeDecode(t *testing.T) {
	events := []Event{
		PollCreated{Poll: address.Address{1}, Creator: address.Address{2}, PollID: 7, OptionCount: 3, Timestamp: 1700000000},
		Voted{Poll: address.Address{1}, Voter: address.Address{3}, OptionIndex: 2, Timestamp: -5},
		PollClosed{Poll: address.Address{1}, Creator: address.Address{2}, Timestamp: 42},
	}

	for _, ev := range events {
		got, err := Decode(Encode(ev))
		if err != nil {
			t.Fatalf("Decode(%s): %v", ev.Name(), err)
		}

		if got != ev {
			t.Errorf("%s: got %+v, want %+v", ev.Name(), got, ev)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte{1, 2}); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("short data: expected ErrUnknownEvent, got %v", err)
	}

	if _, err := Decode(make([]byte, 40)); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("zero tag: expected ErrUnknownEvent, got %v", err)
	}

	data := Encode(Voted{OptionIndex: 1})
	if _, err := Decode(data[:len(data)-1]); err == nil {
		t.Error("expected error for truncated event")
	}

	if _, err := Decode(append(data, 0)); err == nil {
		t.Error("expected error for trailing bytes")
	}
}

func TestFanout(t *testing.T) {
	var a, b Recorder

	sink := Fanout{&a, nil, &b}
	sink.Publish(PollClosed{})
	sink.Publish(Voted{})

	if a.Len() != 2 || b.Len() != 2 {
		t.Errorf("recorders got %d and %d events, want 2 each", a.Len(), b.Len())
	}

	if a.Events()[1].Name() != "Voted" {
		t.Errorf("order not preserved: %v", a.Events())
	}
}

func TestJournalAppendSince(t *testing.T) {
	j, err := NewJournal(newTestStorage(t))
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}

	for i := 0; i < 5; i++ {
		j.Publish(Voted{OptionIndex: uint8(i)})
	}

	if j.Head() != 5 {
		t.Fatalf("Head = %d, want 5", j.Head())
	}

	entries, err := j.Since(2, 2)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}

	if len(entries) != 2 || entries[0].Seq != 2 || entries[1].Seq != 3 {
		t.Fatalf("unexpected page: %+v", entries)
	}

	if v := entries[1].Event.(Voted); v.OptionIndex != 2 {
		t.Errorf("entry 3 option = %d, want 2", v.OptionIndex)
	}

	all, _ := j.Since(0, 0)
	if len(all) != 5 {
		t.Errorf("Since(0, 0) returned %d entries, want 5", len(all))
	}
}

// TestJournalReopen verifies the head is restored from storage.
func TestJournalReopen(t *testing.T) {
	db := newTestStorage(t)

	j, _ := NewJournal(db)
	j.Publish(PollClosed{})
	j.Publish(PollClosed{})

	reopened, err := NewJournal(db)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}

	if reopened.Head() != 2 {
		t.Fatalf("Head = %d, want 2", reopened.Head())
	}

	seq, err := reopened.Append(Voted{})
	if err != nil || seq != 3 {
		t.Errorf("Append = %d, %v; want 3", seq, err)
	}
}
