package record

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"Tally/internal/address"
	"Tally/internal/borsh"
)

var (
	// ErrDiscriminator is returned when a record header does not match the expected type.
	ErrDiscriminator = errors.New("record discriminator mismatch")

	// ErrCorrupt is returned when a record violates its own invariants.
	ErrCorrupt = errors.New("corrupt record")

	// ErrBudgetExceeded is returned when an encoded record does not fit its allocation.
	ErrBudgetExceeded = errors.New("record exceeds its storage budget")
)

// Discriminator identifies the record type stored in a slot.
type Discriminator [HeaderSize]byte

var (
	// PollDiscriminator prefixes every poll record.
	PollDiscriminator = discriminator("PollRecord")

	// VoteDiscriminator prefixes every vote record.
	VoteDiscriminator = discriminator("VoteRecord")
)

// discriminator returns the first 8 bytes of blake3("record:" + name).
func discriminator(name string) Discriminator {
	sum := blake3.Sum256([]byte("record:" + name))

	var d Discriminator
	copy(d[:], sum[:HeaderSize])

	return d
}

// Kind reports which record type data holds, or "" if unknown.
func Kind(data []byte) string {
	switch {
	case bytes.HasPrefix(data, PollDiscriminator[:]):
		return "poll"
	case bytes.HasPrefix(data, VoteDiscriminator[:]):
		return "vote"
	default:
		return ""
	}
}

// Poll is the persisted state of one poll.
type Poll struct {
	Creator  address.Address // Creator is the principal who created the poll
	PollID   uint64          // PollID is the caller-chosen id, unique per creator
	Question string          // Question is the poll text
	Options  []string        // Options are the choices, fixed at creation
	Votes    []uint64        // Votes[i] counts ballots for Options[i]
	IsActive bool            // IsActive is true until the creator closes the poll
	Nonce    uint8           // Nonce re-derives the poll address
}

// NewPoll returns an active poll with zeroed counters.
func NewPoll(creator address.Address, pollID uint64, question string, options []string, nonce uint8) *Poll {
	opts := make([]string, len(options))
	copy(opts, options)

	return &Poll{
		Creator:  creator,
		PollID:   pollID,
		Question: question,
		Options:  opts,
		Votes:    make([]uint64, len(options)),
		IsActive: true,
		Nonce:    nonce,
	}
}

// Encode serializes the poll into a zero-filled buffer of exactly PollSpace bytes.
func (p *Poll) Encode() ([]byte, error) {
	if len(p.Options) != len(p.Votes) {
		return nil, fmt.Errorf("%w: %d options, %d counters", ErrCorrupt, len(p.Options), len(p.Votes))
	}

	w := borsh.NewWriter(PollSpace())
	w.Fixed(PollDiscriminator[:])
	w.Fixed(p.Creator[:])
	w.U64(p.PollID)
	w.String(p.Question)
	w.Strings(p.Options)
	w.U64s(p.Votes)
	w.Bool(p.IsActive)
	w.U8(p.Nonce)

	if w.Len()+ReservedSize > PollSpace() {
		return nil, fmt.Errorf("%w: %d bytes", ErrBudgetExceeded, w.Len()+ReservedSize)
	}

	out := make([]byte, PollSpace())
	copy(out, w.Bytes())

	return out, nil
}

// DecodePoll parses a poll record. Trailing allocation bytes are ignored.
func DecodePoll(data []byte) (*Poll, error) {
	if !bytes.HasPrefix(data, PollDiscriminator[:]) {
		return nil, ErrDiscriminator
	}

	r := borsh.NewReader(data[HeaderSize:])

	p := &Poll{}
	r.Fixed(p.Creator[:])
	p.PollID = r.U64()
	p.Question = r.String(MaxQuestionLen)
	p.Options = r.Strings(MaxOptions, MaxOptionLen)
	p.Votes = r.U64s(MaxOptions)
	p.IsActive = r.Bool()
	p.Nonce = r.U8()

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if len(p.Options) != len(p.Votes) {
		return nil, fmt.Errorf("%w: %d options, %d counters", ErrCorrupt, len(p.Options), len(p.Votes))
	}

	return p, nil
}

// TotalVotes returns the sum of all counters, saturating at MaxUint64.
func (p *Poll) TotalVotes() uint64 {
	var total uint64
	for _, v := range p.Votes {
		if total+v < total {
			return ^uint64(0)
		}
		total += v
	}
	return total
}

// Vote is the marker proving a voter cast a ballot on a poll.
type Vote struct {
	Voter       address.Address // Voter is the casting principal
	Poll        address.Address // Poll is the poll record address
	OptionIndex uint8           // OptionIndex is the chosen option
	Nonce       uint8           // Nonce re-derives the marker address
}

// Encode serializes the vote record into exactly VoteSpace bytes.
func (v *Vote) Encode() []byte {
	w := borsh.NewWriter(VoteSpace)
	w.Fixed(VoteDiscriminator[:])
	w.Fixed(v.Voter[:])
	w.Fixed(v.Poll[:])
	w.U8(v.OptionIndex)
	w.U8(v.Nonce)

	return w.Bytes()
}

// DecodeVote parses a vote record.
func DecodeVote(data []byte) (*Vote, error) {
	if !bytes.HasPrefix(data, VoteDiscriminator[:]) {
		return nil, ErrDiscriminator
	}

	if len(data) != VoteSpace {
		return nil, fmt.Errorf("%w: vote record is %d bytes, want %d", ErrCorrupt, len(data), VoteSpace)
	}

	r := borsh.NewReader(data[HeaderSize:])

	v := &Vote{}
	r.Fixed(v.Voter[:])
	r.Fixed(v.Poll[:])
	v.OptionIndex = r.U8()
	v.Nonce = r.U8()

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return v, nil
}
