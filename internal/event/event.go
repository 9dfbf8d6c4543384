package event

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"Tally/internal/address"
	"Tally/internal/borsh"
)

// discriminatorSize is the length of the event type tag.
const discriminatorSize = 8

// ErrUnknownEvent is returned when decoding data with an unrecognized tag.
var ErrUnknownEvent = errors.New("unknown event")

// Event is a notification emitted after a committed state transition.
type Event interface {
	// Name returns the event type name.
	Name() string

	encode(w *borsh.Writer)
}

// PollCreated is emitted when a poll record is created.
type PollCreated struct {
	Poll        address.Address `json:"poll"`
	Creator     address.Address `json:"creator"`
	PollID      uint64          `json:"pollId"`
	OptionCount uint8           `json:"optionCount"`
	Timestamp   int64           `json:"timestamp"`
}

// Voted is emitted when a ballot is counted.
type Voted struct {
	Poll        address.Address `json:"poll"`
	Voter       address.Address `json:"voter"`
	OptionIndex uint8           `json:"optionIndex"`
	Timestamp   int64           `json:"timestamp"`
}

// PollClosed is emitted when the creator closes a poll.
type PollClosed struct {
	Poll      address.Address `json:"poll"`
	Creator   address.Address `json:"creator"`
	Timestamp int64           `json:"timestamp"`
}

func (PollCreated) Name() string { return "PollCreated" }
func (Voted) Name() string       { return "Voted" }
func (PollClosed) Name() string  { return "PollClosed" }

func (e PollCreated) encode(w *borsh.Writer) {
	w.Fixed(e.Poll[:])
	w.Fixed(e.Creator[:])
	w.U64(e.PollID)
	w.U8(e.OptionCount)
	w.I64(e.Timestamp)
}

func (e Voted) encode(w *borsh.Writer) {
	w.Fixed(e.Poll[:])
	w.Fixed(e.Voter[:])
	w.U8(e.OptionIndex)
	w.I64(e.Timestamp)
}

func (e PollClosed) encode(w *borsh.Writer) {
	w.Fixed(e.Poll[:])
	w.Fixed(e.Creator[:])
	w.I64(e.Timestamp)
}

var (
	tagPollCreated = tag("PollCreated")
	tagVoted       = tag("Voted")
	tagPollClosed  = tag("PollClosed")
)

// tag returns the first 8 bytes of blake3("event:" + name).
func tag(name string) []byte {
	sum := blake3.Sum256([]byte("event:" + name))
	return sum[:discriminatorSize]
}

// Encode serializes an event as tag || borsh fields.
func Encode(ev Event) []byte {
	w := borsh.NewWriter(96)
	w.Fixed(tag(ev.Name()))
	ev.encode(w)

	return w.Bytes()
}

// Decode parses an event produced by Encode.
func Decode(data []byte) (Event, error) {
	if len(data) < discriminatorSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnknownEvent, len(data))
	}

	r := borsh.NewReader(data[discriminatorSize:])
	head := data[:discriminatorSize]

	var ev Event

	switch {
	case bytes.Equal(head, tagPollCreated):
		var e PollCreated
		r.Fixed(e.Poll[:])
		r.Fixed(e.Creator[:])
		e.PollID = r.U64()
		e.OptionCount = r.U8()
		e.Timestamp = r.I64()
		ev = e
	case bytes.Equal(head, tagVoted):
		var e Voted
		r.Fixed(e.Poll[:])
		r.Fixed(e.Voter[:])
		e.OptionIndex = r.U8()
		e.Timestamp = r.I64()
		ev = e
	case bytes.Equal(head, tagPollClosed):
		var e PollClosed
		r.Fixed(e.Poll[:])
		r.Fixed(e.Creator[:])
		e.Timestamp = r.I64()
		ev = e
	default:
		return nil, fmt.Errorf("%w: tag %x", ErrUnknownEvent, head)
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode %s:\n%w", ev.Name(), err)
	}

	if n := r.Remaining(); n != 0 {
		return nil, fmt.Errorf("decode %s: %d trailing bytes", ev.Name(), n)
	}

	return ev, nil
}
