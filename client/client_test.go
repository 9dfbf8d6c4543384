package client

import (
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"Tally/internal/address"
	"Tally/internal/api"
	"Tally/internal/event"
	"Tally/internal/ledger"
	"Tally/internal/program"
	"Tally/internal/runtime"
	"Tally/internal/snapshot"
	"Tally/internal/storage"
)

var testProgramID = address.Address{0x7a, 0x11}

// ledgerSnapshots serves compressed snapshots of a ledger.
type ledgerSnapshots struct {
	ledger  *ledger.Ledger
	journal *event.Journal
}

func (s ledgerSnapshots) Snapshot() ([]byte, error) {
	data, err := snapshot.Create(s.ledger, testProgramID, s.journal.Head())
	if err != nil {
		return nil, err
	}

	return snapshot.Compress(data)
}

// startTestNode runs the full HTTP stack and returns a connected client.
func startTestNode(t *testing.T) *Client {
	t.Helper()

	dir, err := os.MkdirTemp("", "client_test_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("create storage: %v", err)
	}

	l, err := ledger.New(db, 16)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}

	journal, err := event.NewJournal(db)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}

	prog := program.New(program.Config{ProgramID: testProgramID, Accounts: l, Sink: journal})

	server := api.New(api.Config{
		Program:   testProgramID,
		Executor:  runtime.New(prog, nil),
		Reader:    prog,
		History:   journal,
		Status:    l,
		Snapshots: ledgerSnapshots{ledger: l, journal: journal},
	})

	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		ts.Close()
		db.Close()
		os.RemoveAll(dir)
	})

	c, err := NewClient(ts.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	return c
}

func TestNewClientLearnsProgram(t *testing.T) {
	c := startTestNode(t)

	if c.Program() != testProgramID {
		t.Errorf("program = %s, want %s", c.Program(), testProgramID)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8080":        "http://127.0.0.1:8080",
		"http://localhost:80/":  "http://localhost:80",
		"https://tally.example": "https://tally.example",
	}

	for in, want := range tests {
		if got := normalizeURL(in); got != want {
			t.Errorf("normalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestPollLifecycle runs create, vote and close through the HTTP API.
func TestPollLifecycle(t *testing.T) {
	c := startTestNode(t)
	alice := NewWallet()
	bob := NewWallet()

	poll, err := alice.CreatePoll(c, 1, "Coffee or tea?", []string{"Coffee", "Tea"})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	derived, err := c.DerivePoll(alice.Address(), 1)
	if err != nil {
		t.Fatalf("DerivePoll: %v", err)
	}

	if derived != poll {
		t.Errorf("derived %s, created %s", derived, poll)
	}

	if err := bob.Vote(c, poll, 0); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	ballot, err := c.GetBallot(poll, bob.Address())
	if err != nil {
		t.Fatalf("GetBallot: %v", err)
	}

	if ballot.OptionIndex != 0 || ballot.Voter != bob.Address() {
		t.Errorf("unexpected ballot: %+v", ballot)
	}

	if err := alice.ClosePoll(c, poll); err != nil {
		t.Fatalf("ClosePoll: %v", err)
	}

	view, err := c.GetPoll(poll)
	if err != nil {
		t.Fatalf("GetPoll: %v", err)
	}

	if view.IsActive || view.TotalVotes != 1 || view.Options[0].Votes != 1 {
		t.Errorf("unexpected poll: %+v", view)
	}
}

// TestRemoteErrorsUnwrap verifies node failures match program errors with errors.Is.
func TestRemoteErrorsUnwrap(t *testing.T) {
	c := startTestNode(t)
	alice := NewWallet()
	bob := NewWallet()

	poll, err := alice.CreatePoll(c, 1, "Coffee or tea?", []string{"Coffee", "Tea"})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	if err := bob.Vote(c, poll, 1); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	if err := bob.Vote(c, poll, 0); !errors.Is(err, program.ErrAlreadyVoted) {
		t.Errorf("second vote: expected AlreadyVoted, got %v", err)
	}

	if err := bob.ClosePoll(c, poll); !errors.Is(err, program.ErrUnauthorized) {
		t.Errorf("close by voter: expected Unauthorized, got %v", err)
	}

	if _, err := alice.CreatePoll(c, 1, "again", []string{"a", "b"}); !errors.Is(err, program.ErrPollExists) {
		t.Errorf("duplicate create: expected PollExists, got %v", err)
	}

	if _, err := c.GetPoll(address.Address{1}); !errors.Is(err, program.ErrAccountNotFound) {
		t.Errorf("missing poll: expected AccountNotFound, got %v", err)
	}

	var remote *RemoteError
	if err := bob.Vote(c, poll, 0); !errors.As(err, &remote) || remote.Status != 409 {
		t.Errorf("expected RemoteError with status 409, got %v", err)
	}
}

func TestEvents(t *testing.T) {
	c := startTestNode(t)
	alice := NewWallet()
	bob := NewWallet()

	poll, _ := alice.CreatePoll(c, 7, "Coffee or tea?", []string{"Coffee", "Tea"})
	bob.Vote(c, poll, 1)
	alice.ClosePoll(c, poll)

	entries, head, err := c.Events(1, 10)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	if head != 3 || len(entries) != 3 {
		t.Fatalf("head=%d entries=%d, want 3 and 3", head, len(entries))
	}

	created, ok := entries[0].Event.(event.PollCreated)
	if !ok || created.Poll != poll || created.PollID != 7 || created.OptionCount != 2 {
		t.Errorf("unexpected first event: %+v", entries[0].Event)
	}

	voted, ok := entries[1].Event.(event.Voted)
	if !ok || voted.Voter != bob.Address() || voted.OptionIndex != 1 {
		t.Errorf("unexpected second event: %+v", entries[1].Event)
	}

	if _, ok := entries[2].Event.(event.PollClosed); !ok {
		t.Errorf("unexpected third event: %+v", entries[2].Event)
	}
}

func TestSnapshotDownload(t *testing.T) {
	c := startTestNode(t)
	alice := NewWallet()

	alice.CreatePoll(c, 1, "Coffee or tea?", []string{"Coffee", "Tea"})

	data, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	raw, err := snapshot.Decompress(data)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	snap, err := snapshot.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if snap.Program != testProgramID || len(snap.Records) != 1 {
		t.Errorf("unexpected snapshot: program=%s records=%d", snap.Program, len(snap.Records))
	}
}

func TestDecodeEventUnknown(t *testing.T) {
	if _, err := decodeEvent("Nope", []byte(`{}`)); !errors.Is(err, event.ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
}
