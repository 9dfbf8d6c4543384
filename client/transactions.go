package client

import (
	"fmt"

	"Tally/internal/address"
	"Tally/internal/program"
	"Tally/internal/types"
)

// CreatePoll creates a poll owned by the wallet and returns its address.
func (w *Wallet) CreatePoll(c *Client, pollID uint64, question string, options []string) (address.Address, error) {
	args := program.CreatePollArgs{PollID: pollID, Question: question, Options: options}.Encode()

	res, err := w.send(c, program.FnCreatePoll, args)
	if err != nil {
		return address.Address{}, fmt.Errorf("submit create_poll:\n%w", err)
	}

	return res.Poll, nil
}

// Vote casts the wallet's ballot for option idx on poll.
func (w *Wallet) Vote(c *Client, poll address.Address, idx uint8) error {
	args := program.VoteArgs{Poll: poll, OptionIndex: idx}.Encode()

	if _, err := w.send(c, program.FnVote, args); err != nil {
		return fmt.Errorf("submit vote_poll:\n%w", err)
	}

	return nil
}

// ClosePoll closes a poll the wallet created.
func (w *Wallet) ClosePoll(c *Client, poll address.Address) error {
	args := program.ClosePollArgs{Poll: poll}.Encode()

	if _, err := w.send(c, program.FnClosePoll, args); err != nil {
		return fmt.Errorf("submit close_poll:\n%w", err)
	}

	return nil
}

// send signs fn with args for the client's program and submits it.
func (w *Wallet) send(c *Client, fn string, args []byte) (*txResult, error) {
	txBytes, hash := types.SignInstruction(w.privKey, c.program, fn, args)

	resp, err := c.submitTx(txBytes)
	if err != nil {
		return nil, err
	}

	return &txResult{Hash: hash, Poll: resp.Poll}, nil
}

// txResult is a committed instruction as seen by the client.
type txResult struct {
	Hash [32]byte        // Hash is the instruction hash
	Poll address.Address // Poll is the poll the instruction acted on
}
