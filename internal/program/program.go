package program

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"Tally/internal/address"
	"Tally/internal/event"
	"Tally/internal/ledger"
	"Tally/internal/record"
)

var (
	pollSeed = []byte("poll")
	voteSeed = []byte("vote")
)

// Accounts is the record arena the program reads and writes.
type Accounts interface {
	Load(addr address.Address) ([]byte, error)
	Exists(addr address.Address) (bool, error)
	Commit(cs *ledger.Changeset) error
}

// Config holds the dependencies of a Program.
type Config struct {
	ProgramID address.Address  // ProgramID namespaces every derived address
	Accounts  Accounts         // Accounts stores poll and vote records
	Sink      event.Sink       // Sink receives events after each commit
	Clock     func() time.Time // Clock stamps events; defaults to time.Now
}

// Program implements the poll lifecycle: create, vote and close.
// It holds no locks; callers serialize invocations touching the same poll.
type Program struct {
	id       address.Address
	accounts Accounts
	sink     event.Sink
	clock    func() time.Time
}

// New creates a program from cfg.
func New(cfg Config) *Program {
	sink := cfg.Sink
	if sink == nil {
		sink = event.Discard
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Program{
		id:       cfg.ProgramID,
		accounts: cfg.Accounts,
		sink:     sink,
		clock:    clock,
	}
}

// ID returns the program identity.
func (p *Program) ID() address.Address {
	return p.id
}

// PollSeeds returns the derivation seeds of a poll record.
func PollSeeds(creator address.Address, pollID uint64) [][]byte {
	id := binary.LittleEndian.AppendUint64(nil, pollID)
	return [][]byte{pollSeed, creator[:], id}
}

// VoteSeeds returns the derivation seeds of a vote marker.
func VoteSeeds(poll, voter address.Address) [][]byte {
	return [][]byte{voteSeed, poll[:], voter[:]}
}

// PollAddress derives the address and nonce of creator's poll pollID.
func (p *Program) PollAddress(creator address.Address, pollID uint64) (address.Address, uint8, error) {
	return address.Find(p.id, PollSeeds(creator, pollID)...)
}

// VoteAddress derives the address and nonce of voter's marker on poll.
func (p *Program) VoteAddress(poll, voter address.Address) (address.Address, uint8, error) {
	return address.Find(p.id, VoteSeeds(poll, voter)...)
}

// CreatePoll validates the input and creates an active poll owned by signer.
func (p *Program) CreatePoll(signer address.Address, pollID uint64, question string, options []string) (address.Address, error) {
	err := run(
		optionCount(options),
		questionLength(question),
		optionTexts(options),
	)
	if err != nil {
		return address.Zero, err
	}

	addr, nonce, err := p.PollAddress(signer, pollID)
	if err != nil {
		return address.Zero, fmt.Errorf("derive poll address:\n%w", err)
	}

	poll := record.NewPoll(signer, pollID, question, options, nonce)

	data, err := poll.Encode()
	if err != nil {
		return address.Zero, fmt.Errorf("encode poll:\n%w", err)
	}

	var cs ledger.Changeset
	cs.Create(addr, data)

	if err := p.accounts.Commit(&cs); err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			return address.Zero, ErrPollExists
		}
		return address.Zero, fmt.Errorf("commit poll:\n%w", err)
	}

	p.sink.Publish(event.PollCreated{
		Poll:        addr,
		Creator:     signer,
		PollID:      pollID,
		OptionCount: uint8(len(options)),
		Timestamp:   p.clock().Unix(),
	})

	return addr, nil
}

// Vote counts one ballot from voter for option idx and records the voter's marker.
// The marker and the counter update commit together or not at all.
func (p *Program) Vote(voter, pollAddr address.Address, idx uint8) error {
	poll, err := p.loadPoll(pollAddr)
	if err != nil {
		return err
	}

	if err := run(active(poll), optionIndex(poll, idx)); err != nil {
		return err
	}

	next, carry := bits.Add64(poll.Votes[idx], 1, 0)
	if carry != 0 {
		return ErrVoteOverflow
	}

	marker, nonce, err := p.VoteAddress(pollAddr, voter)
	if err != nil {
		return fmt.Errorf("derive vote address:\n%w", err)
	}

	poll.Votes[idx] = next

	data, err := poll.Encode()
	if err != nil {
		return fmt.Errorf("encode poll:\n%w", err)
	}

	ballot := &record.Vote{Voter: voter, Poll: pollAddr, OptionIndex: idx, Nonce: nonce}

	var cs ledger.Changeset
	cs.Create(marker, ballot.Encode())
	cs.Update(pollAddr, data)

	if err := p.accounts.Commit(&cs); err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("commit vote:\n%w", err)
	}

	p.sink.Publish(event.Voted{
		Poll:        pollAddr,
		Voter:       voter,
		OptionIndex: idx,
		Timestamp:   p.clock().Unix(),
	})

	return nil
}

// ClosePoll stops voting on a poll. Only the creator may close it, and only once.
func (p *Program) ClosePoll(signer, pollAddr address.Address) error {
	poll, err := p.loadPoll(pollAddr)
	if err != nil {
		return err
	}

	if err := run(creator(poll, signer), notClosed(poll)); err != nil {
		return err
	}

	poll.IsActive = false

	data, err := poll.Encode()
	if err != nil {
		return fmt.Errorf("encode poll:\n%w", err)
	}

	var cs ledger.Changeset
	cs.Update(pollAddr, data)

	if err := p.accounts.Commit(&cs); err != nil {
		return fmt.Errorf("commit close:\n%w", err)
	}

	p.sink.Publish(event.PollClosed{
		Poll:      pollAddr,
		Creator:   poll.Creator,
		Timestamp: p.clock().Unix(),
	})

	return nil
}

// Poll returns the verified poll record at addr.
func (p *Program) Poll(addr address.Address) (*record.Poll, error) {
	return p.loadPoll(addr)
}

// Ballot returns voter's marker on poll, or ErrAccountNotFound.
func (p *Program) Ballot(poll, voter address.Address) (*record.Vote, error) {
	marker, _, err := p.VoteAddress(poll, voter)
	if err != nil {
		return nil, fmt.Errorf("derive vote address:\n%w", err)
	}

	data, err := p.accounts.Load(marker)
	if err != nil {
		return nil, fmt.Errorf("load vote:\n%w", err)
	}

	if data == nil {
		return nil, ErrAccountNotFound
	}

	ballot, err := record.DecodeVote(data)
	if err != nil {
		if errors.Is(err, record.ErrDiscriminator) {
			return nil, ErrAccountDiscriminator
		}
		return nil, fmt.Errorf("decode vote %s:\n%w", marker.Short(), err)
	}

	return ballot, nil
}

// HasVoted reports whether voter's marker exists on poll.
func (p *Program) HasVoted(poll, voter address.Address) (bool, error) {
	marker, _, err := p.VoteAddress(poll, voter)
	if err != nil {
		return false, fmt.Errorf("derive vote address:\n%w", err)
	}

	return p.accounts.Exists(marker)
}

// loadPoll reads, decodes and verifies the poll at addr.
func (p *Program) loadPoll(addr address.Address) (*record.Poll, error) {
	data, err := p.accounts.Load(addr)
	if err != nil {
		return nil, fmt.Errorf("load poll:\n%w", err)
	}

	if data == nil {
		return nil, ErrAccountNotFound
	}

	poll, err := record.DecodePoll(data)
	if err != nil {
		if errors.Is(err, record.ErrDiscriminator) {
			return nil, ErrAccountDiscriminator
		}
		return nil, fmt.Errorf("decode poll %s:\n%w", addr.Short(), err)
	}

	if !address.Verify(addr, p.id, poll.Nonce, PollSeeds(poll.Creator, poll.PollID)...) {
		return nil, ErrConstraintSeeds
	}

	return poll, nil
}
