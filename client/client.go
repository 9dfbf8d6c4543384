package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"Tally/internal/address"
	"Tally/internal/api"
	"Tally/internal/event"
)

// Client connects to a Tally node via HTTP.
type Client struct {
	baseURL string          // baseURL is the node's HTTP root (e.g. "http://127.0.0.1:8080")
	program address.Address // program is the program served by the node
	http    *http.Client    // http performs requests
}

// Wallet holds an Ed25519 keypair and signs instructions.
type Wallet struct {
	privKey ed25519.PrivateKey // privKey is the Ed25519 private key
	addr    address.Address    // addr is the public key as an address
}

// EventEntry is one journaled event returned by Events.
type EventEntry struct {
	Seq   uint64      // Seq is the journal sequence number
	Event event.Event // Event is the decoded event
}

// NewClient creates a client connected to a node.
// It learns the program identity from the node's /status endpoint.
func NewClient(nodeAddr string) (*Client, error) {
	c := &Client{
		baseURL: normalizeURL(nodeAddr),
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	var status api.StatusView
	if err := c.get("/status", &status); err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	if status.Program.IsZero() {
		return nil, fmt.Errorf("node reported no program")
	}

	c.program = status.Program

	return c, nil
}

// normalizeURL adds the http scheme to bare host:port addresses.
func normalizeURL(nodeAddr string) string {
	if strings.HasPrefix(nodeAddr, "http://") || strings.HasPrefix(nodeAddr, "https://") {
		return strings.TrimRight(nodeAddr, "/")
	}

	return "http://" + nodeAddr
}

// Program returns the program served by the node.
func (c *Client) Program() address.Address {
	return c.program
}

// NewWallet creates a new wallet with a random Ed25519 keypair.
func NewWallet() *Wallet {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)

	return WalletFromKey(priv)
}

// WalletFromKey wraps an existing private key.
func WalletFromKey(priv ed25519.PrivateKey) *Wallet {
	w := &Wallet{privKey: priv}
	copy(w.addr[:], priv.Public().(ed25519.PublicKey))

	return w
}

// Address returns the wallet's public key as an address.
func (w *Wallet) Address() address.Address {
	return w.addr
}

// GetPoll retrieves a poll by address.
func (c *Client) GetPoll(addr address.Address) (*api.PollView, error) {
	var view api.PollView
	if err := c.get("/polls/"+addr.String(), &view); err != nil {
		return nil, fmt.Errorf("get poll:\n%w", err)
	}

	return &view, nil
}

// GetBallot retrieves voter's ballot on poll.
func (c *Client) GetBallot(poll, voter address.Address) (*api.BallotView, error) {
	var view api.BallotView
	if err := c.get("/polls/"+poll.String()+"/votes/"+voter.String(), &view); err != nil {
		return nil, fmt.Errorf("get ballot:\n%w", err)
	}

	return &view, nil
}

// DerivePoll asks the node for the address of creator's poll pollID.
func (c *Client) DerivePoll(creator address.Address, pollID uint64) (address.Address, error) {
	q := url.Values{}
	q.Set("creator", creator.String())
	q.Set("id", fmt.Sprint(pollID))

	var view api.DeriveView
	if err := c.get("/derive/poll?"+q.Encode(), &view); err != nil {
		return address.Address{}, fmt.Errorf("derive poll:\n%w", err)
	}

	return view.Address, nil
}

// Events returns up to limit journaled events starting at sequence from,
// and the current journal head.
func (c *Client) Events(from uint64, limit int) ([]EventEntry, uint64, error) {
	var resp struct {
		Head   uint64 `json:"head"`
		Events []struct {
			Seq   uint64          `json:"seq"`
			Name  string          `json:"name"`
			Event json.RawMessage `json:"event"`
		} `json:"events"`
	}

	path := fmt.Sprintf("/events?from=%d&limit=%d", from, limit)
	if err := c.get(path, &resp); err != nil {
		return nil, 0, fmt.Errorf("get events:\n%w", err)
	}

	entries := make([]EventEntry, len(resp.Events))
	for i, e := range resp.Events {
		ev, err := decodeEvent(e.Name, e.Event)
		if err != nil {
			return nil, 0, fmt.Errorf("event %d:\n%w", e.Seq, err)
		}

		entries[i] = EventEntry{Seq: e.Seq, Event: ev}
	}

	return entries, resp.Head, nil
}

// decodeEvent unmarshals the JSON form of a named event.
func decodeEvent(name string, raw json.RawMessage) (event.Event, error) {
	switch name {
	case event.PollCreated{}.Name():
		var ev event.PollCreated
		err := json.Unmarshal(raw, &ev)
		return ev, err
	case event.Voted{}.Name():
		var ev event.Voted
		err := json.Unmarshal(raw, &ev)
		return ev, err
	case event.PollClosed{}.Name():
		var ev event.PollClosed
		err := json.Unmarshal(raw, &ev)
		return ev, err
	default:
		return nil, fmt.Errorf("%w: %q", event.ErrUnknownEvent, name)
	}
}

// Snapshot downloads the node's compressed ledger snapshot.
func (c *Client) Snapshot() ([]byte, error) {
	data, err := c.getRaw("/snapshot")
	if err != nil {
		return nil, fmt.Errorf("get snapshot:\n%w", err)
	}

	return data, nil
}
