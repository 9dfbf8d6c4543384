package program

import (
	"errors"
	"fmt"

	"Tally/internal/address"
	"Tally/internal/borsh"
)

// Instruction function names.
const (
	FnCreatePoll = "create_poll"
	FnVote       = "vote_poll"
	FnClosePoll  = "close_poll"
)

// ErrMalformedArgs is returned when instruction arguments cannot be decoded.
var ErrMalformedArgs = errors.New("malformed instruction arguments")

// CreatePollArgs are the arguments of create_poll.
type CreatePollArgs struct {
	PollID   uint64
	Question string
	Options  []string
}

// Encode serializes the arguments: u64 id, string question, vec<string> options.
func (a CreatePollArgs) Encode() []byte {
	w := borsh.NewWriter(64)
	w.U64(a.PollID)
	w.String(a.Question)
	w.Strings(a.Options)

	return w.Bytes()
}

// DecodeCreatePollArgs parses create_poll arguments.
func DecodeCreatePollArgs(data []byte) (CreatePollArgs, error) {
	r := borsh.NewReader(data)

	// Only the buffer bounds decoding. Record limits are enforced by the
	// handler so oversized input fails with a program error.
	a := CreatePollArgs{
		PollID:   r.U64(),
		Question: r.String(len(data)),
		Options:  r.Strings(len(data)/4, len(data)),
	}

	if err := finish(r, FnCreatePoll); err != nil {
		return CreatePollArgs{}, err
	}

	return a, nil
}

// VoteArgs are the arguments of vote_poll.
type VoteArgs struct {
	Poll        address.Address
	OptionIndex uint8
}

// Encode serializes the arguments: [32] poll, u8 option index.
func (a VoteArgs) Encode() []byte {
	w := borsh.NewWriter(address.Size + 1)
	w.Fixed(a.Poll[:])
	w.U8(a.OptionIndex)

	return w.Bytes()
}

// DecodeVoteArgs parses vote_poll arguments.
func DecodeVoteArgs(data []byte) (VoteArgs, error) {
	r := borsh.NewReader(data)

	var a VoteArgs
	r.Fixed(a.Poll[:])
	a.OptionIndex = r.U8()

	if err := finish(r, FnVote); err != nil {
		return VoteArgs{}, err
	}

	return a, nil
}

// ClosePollArgs are the arguments of close_poll.
type ClosePollArgs struct {
	Poll address.Address
}

// Encode serializes the arguments: [32] poll.
func (a ClosePollArgs) Encode() []byte {
	return append([]byte(nil), a.Poll[:]...)
}

// DecodeClosePollArgs parses close_poll arguments.
func DecodeClosePollArgs(data []byte) (ClosePollArgs, error) {
	r := borsh.NewReader(data)

	var a ClosePollArgs
	r.Fixed(a.Poll[:])

	if err := finish(r, FnClosePoll); err != nil {
		return ClosePollArgs{}, err
	}

	return a, nil
}

// finish reports decode errors and trailing bytes.
func finish(r *borsh.Reader, fn string) error {
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedArgs, fn, err)
	}

	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %s: %d trailing bytes", ErrMalformedArgs, fn, r.Remaining())
	}

	return nil
}
