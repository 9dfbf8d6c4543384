package program

import (
	"errors"
	"testing"

	"Tally/internal/address"
)

func TestCreatePollArgs(t *testing.T) {
	in := CreatePollArgs{PollID: 42, Question: "Coffee or tea?", Options: []string{"Coffee", "Tea"}}
	data := in.Encode()

	// u64 + (4+14) + 4 + (4+6) + (4+3)
	if len(data) != 8+18+4+10+7 {
		t.Fatalf("encoded length = %d", len(data))
	}

	out, err := DecodeCreatePollArgs(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if out.PollID != 42 || out.Question != in.Question || len(out.Options) != 2 || out.Options[1] != "Tea" {
		t.Errorf("got %+v", out)
	}
}

// TestCreatePollArgsOversized verifies oversized text decodes so the handler can reject it.
func TestCreatePollArgsOversized(t *testing.T) {
	in := CreatePollArgs{Question: string(make([]byte, 300)), Options: make([]string, 12)}

	out, err := DecodeCreatePollArgs(in.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(out.Question) != 300 || len(out.Options) != 12 {
		t.Errorf("got question %d bytes, %d options", len(out.Question), len(out.Options))
	}
}

func TestVoteArgs(t *testing.T) {
	in := VoteArgs{Poll: address.Address{1, 2, 3}, OptionIndex: 7}
	data := in.Encode()

	if len(data) != 33 {
		t.Fatalf("encoded length = %d, want 33", len(data))
	}

	out, err := DecodeVoteArgs(data)
	if err != nil || out != in {
		t.Fatalf("got %+v, %v", out, err)
	}
}

func TestClosePollArgs(t *testing.T) {
	in := ClosePollArgs{Poll: address.Address{9}}

	out, err := DecodeClosePollArgs(in.Encode())
	if err != nil || out != in {
		t.Fatalf("got %+v, %v", out, err)
	}
}

func TestMalformedArgs(t *testing.T) {
	vote := VoteArgs{OptionIndex: 1}.Encode()

	cases := map[string]error{}
	_, cases["short vote"] = DecodeVoteArgs(vote[:10])
	_, cases["trailing vote"] = DecodeVoteArgs(append(vote, 0))
	_, cases["short close"] = DecodeClosePollArgs([]byte{1})
	_, cases["empty create"] = DecodeCreatePollArgs(nil)
	_, cases["huge option count"] = DecodeCreatePollArgs([]byte{
		1, 0, 0, 0, 0, 0, 0, 0, // poll id
		0, 0, 0, 0, // empty question
		0xff, 0xff, 0xff, 0xff, // option count beyond the buffer
	})

	for name, err := range cases {
		if !errors.Is(err, ErrMalformedArgs) {
			t.Errorf("%s: expected ErrMalformedArgs, got %v", name, err)
		}
	}
}
