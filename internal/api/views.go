package api

import (
	"Tally/internal/address"
	"Tally/internal/event"
	"Tally/internal/record"
)

// maxEventsPage bounds the limit accepted by GET /events.
const maxEventsPage = 1000

// TxResponse is returned for a committed instruction.
type TxResponse struct {
	Hash     string          `json:"hash"`
	Function string          `json:"function"`
	Poll     address.Address `json:"poll"`
}

// ErrorView is the body of every failed request.
// Code and Name are set for program errors only.
type ErrorView struct {
	Error string `json:"error"`
	Code  uint32 `json:"code,omitempty"`
	Name  string `json:"name,omitempty"`
}

// OptionView is one poll option with its tally.
type OptionView struct {
	Text  string `json:"text"`
	Votes uint64 `json:"votes"`
}

// PollView is the public form of a poll record.
type PollView struct {
	Address    address.Address `json:"address"`
	Creator    address.Address `json:"creator"`
	PollID     uint64          `json:"pollId"`
	Question   string          `json:"question"`
	Options    []OptionView    `json:"options"`
	TotalVotes uint64          `json:"totalVotes"`
	IsActive   bool            `json:"isActive"`
}

func newPollView(addr address.Address, p *record.Poll) PollView {
	v := PollView{
		Address:    addr,
		Creator:    p.Creator,
		PollID:     p.PollID,
		Question:   p.Question,
		Options:    make([]OptionView, len(p.Options)),
		TotalVotes: p.TotalVotes(),
		IsActive:   p.IsActive,
	}

	for i, text := range p.Options {
		v.Options[i] = OptionView{Text: text, Votes: p.Votes[i]}
	}

	return v
}

// BallotView is the public form of a vote marker.
type BallotView struct {
	Poll        address.Address `json:"poll"`
	Voter       address.Address `json:"voter"`
	OptionIndex uint8           `json:"optionIndex"`
}

// DeriveView is a derived address with its nonce.
type DeriveView struct {
	Address address.Address `json:"address"`
	Nonce   uint8           `json:"nonce"`
}

// EventView is one journaled event.
type EventView struct {
	Seq   uint64      `json:"seq"`
	Name  string      `json:"name"`
	Event event.Event `json:"event"`
}

// EventsView is a page of the event journal.
type EventsView struct {
	Head   uint64      `json:"head"`
	Events []EventView `json:"events"`
}

// StatusView reports node state.
type StatusView struct {
	Program     address.Address `json:"programId"`
	Polls       int             `json:"polls"`
	Votes       int             `json:"votes"`
	JournalHead uint64          `json:"journalHead"`
	Uptime      string          `json:"uptime"`
}
