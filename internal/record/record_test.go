package record

import (
	"errors"
	"math"
	"strings"
	"testing"

	"Tally/internal/address"
)

// TestPollSpace verifies the budget matches the byte-exact layout sum.
func TestPollSpace(t *testing.T) {
	// header 8 + creator 32 + id 8 + question 204 + options 544 + votes 84 + flag 1 + nonce 1 + reserved 32
	if got := PollSpace(); got != 914 {
		t.Errorf("PollSpace() = %d, want 914", got)
	}
}

func TestVoteSpace(t *testing.T) {
	if VoteSpace != 74 {
		t.Errorf("VoteSpace = %d, want 74", VoteSpace)
	}

	v := &Vote{Voter: address.Address{1}, Poll: address.Address{2}, OptionIndex: 3, Nonce: 254}
	if got := len(v.Encode()); got != VoteSpace {
		t.Errorf("encoded vote is %d bytes, want %d", got, VoteSpace)
	}
}

// TestPollEncodeFixedSize verifies small and maximal polls both occupy exactly the budget.
func TestPollEncodeFixedSize(t *testing.T) {
	small := NewPoll(address.Address{1}, 1, "Coffee or tea?", []string{"Coffee", "Tea"}, 255)

	options := make([]string, MaxOptions)
	for i := range options {
		options[i] = strings.Repeat("o", MaxOptionLen)
	}
	large := NewPoll(address.Address{2}, math.MaxUint64, strings.Repeat("q", MaxQuestionLen), options, 0)
	for i := range large.Votes {
		large.Votes[i] = math.MaxUint64
	}

	for name, p := range map[string]*Poll{"small": small, "large": large} {
		data, err := p.Encode()
		if err != nil {
			t.Fatalf("%s: Encode: %v", name, err)
		}

		if len(data) != PollSpace() {
			t.Errorf("%s: encoded %d bytes, want %d", name, len(data), PollSpace())
		}
	}
}

// TestPollEncodeBudgetExceeded verifies oversized content cannot be encoded into the allocation.
func TestPollEncodeBudgetExceeded(t *testing.T) {
	options := make([]string, MaxOptions)
	for i := range options {
		options[i] = strings.Repeat("o", MaxOptionLen+10)
	}

	p := NewPoll(address.Address{1}, 1, strings.Repeat("q", MaxQuestionLen), options, 0)

	if _, err := p.Encode(); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestPollRoundTrip(t *testing.T) {
	p := NewPoll(address.Address{0xAA}, 7, "Coffee or tea?", []string{"Coffee", "Tea"}, 253)
	p.Votes[1] = 5
	p.IsActive = false

	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodePoll(data)
	if err != nil {
		t.Fatalf("DecodePoll: %v", err)
	}

	if got.Creator != p.Creator || got.PollID != 7 || got.Question != p.Question {
		t.Errorf("header fields mismatch: %+v", got)
	}

	if len(got.Options) != 2 || got.Options[0] != "Coffee" || got.Options[1] != "Tea" {
		t.Errorf("options = %v", got.Options)
	}

	if len(got.Votes) != 2 || got.Votes[0] != 0 || got.Votes[1] != 5 {
		t.Errorf("votes = %v", got.Votes)
	}

	if got.IsActive || got.Nonce != 253 {
		t.Errorf("isActive=%v nonce=%d", got.IsActive, got.Nonce)
	}
}

// TestNewPollCopiesOptions verifies later caller mutation cannot reach the record.
func TestNewPollCopiesOptions(t *testing.T) {
	opts := []string{"a", "b"}
	p := NewPoll(address.Address{}, 1, "q", opts, 0)
	opts[0] = "changed"

	if p.Options[0] != "a" {
		t.Errorf("options aliased caller slice: %v", p.Options)
	}
}

func TestDecodeDiscriminator(t *testing.T) {
	v := (&Vote{}).Encode()
	if _, err := DecodePoll(v); !errors.Is(err, ErrDiscriminator) {
		t.Errorf("DecodePoll(vote) err = %v, want ErrDiscriminator", err)
	}

	p, _ := NewPoll(address.Address{}, 1, "q", []string{"a", "b"}, 0).Encode()
	if _, err := DecodeVote(p); !errors.Is(err, ErrDiscriminator) {
		t.Errorf("DecodeVote(poll) err = %v, want ErrDiscriminator", err)
	}

	if Kind(p) != "poll" || Kind(v) != "vote" || Kind([]byte("junk")) != "" {
		t.Error("Kind misclassified records")
	}
}

// TestDecodePollCorrupt verifies truncated and inconsistent records are rejected.
func TestDecodePollCorrupt(t *testing.T) {
	data, _ := NewPoll(address.Address{}, 1, "q", []string{"a", "b"}, 0).Encode()

	if _, err := DecodePoll(data[:HeaderSize+10]); !errors.Is(err, ErrCorrupt) {
		t.Errorf("truncated: err = %v, want ErrCorrupt", err)
	}

	bad := &Poll{Options: []string{"a", "b"}, Votes: []uint64{0}}
	if _, err := bad.Encode(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("mismatched counters: err = %v, want ErrCorrupt", err)
	}
}

func TestVoteRoundTrip(t *testing.T) {
	v := &Vote{Voter: address.Address{1}, Poll: address.Address{2}, OptionIndex: 9, Nonce: 200}

	got, err := DecodeVote(v.Encode())
	if err != nil {
		t.Fatalf("DecodeVote: %v", err)
	}

	if *got != *v {
		t.Errorf("got %+v, want %+v", got, v)
	}
}

func TestTotalVotes(t *testing.T) {
	p := &Poll{Votes: []uint64{1, 2, 3}}
	if got := p.TotalVotes(); got != 6 {
		t.Errorf("TotalVotes = %d, want 6", got)
	}

	p.Votes = []uint64{math.MaxUint64, 1}
	if got := p.TotalVotes(); got != math.MaxUint64 {
		t.Errorf("TotalVotes should saturate, got %d", got)
	}
}
