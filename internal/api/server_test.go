package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"Tally/internal/address"
	"Tally/internal/event"
	"Tally/internal/ledger"
	"Tally/internal/program"
	"Tally/internal/runtime"
	"Tally/internal/snapshot"
	"Tally/internal/storage"
	"Tally/internal/types"
)

var testProgramID = address.Address{0x7a, 0x11}

// testNode is a full in-process stack behind the HTTP handler.
type testNode struct {
	handler http.Handler
	ledger  *ledger.Ledger
	journal *event.Journal
}

// snapshotFunc adapts a function to SnapshotSource.
type snapshotFunc func() ([]byte, error)

func (f snapshotFunc) Snapshot() ([]byte, error) { return f() }

func newTestNode(t *testing.T) *testNode {
	t.Helper()

	dir, err := os.MkdirTemp("", "api_test_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("create storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(dir)
	})

	l, err := ledger.New(db, 16)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}

	journal, err := event.NewJournal(db)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}

	prog := program.New(program.Config{ProgramID: testProgramID, Accounts: l, Sink: journal})

	server := New(Config{
		Program:  testProgramID,
		Executor: runtime.New(prog, nil),
		Reader:   prog,
		History:  journal,
		Status:   l,
		Snapshots: snapshotFunc(func() ([]byte, error) {
			data, err := snapshot.Create(l, testProgramID, journal.Head())
			if err != nil {
				return nil, err
			}
			return snapshot.Compress(data)
		}),
	})

	return &testNode{handler: server.Handler(), ledger: l, journal: journal}
}

// do performs a request against the node and returns the recorder.
func (n *testNode) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()

	n.handler.ServeHTTP(w, req)

	return w
}

// submit signs and posts an instruction.
func (n *testNode) submit(t *testing.T, key ed25519.PrivateKey, fn string, args []byte) *httptest.ResponseRecorder {
	t.Helper()

	tx, _ := types.SignInstruction(key, testProgramID, fn, args)

	return n.do("POST", "/tx", tx)
}

func generateTestKey(t *testing.T) (ed25519.PrivateKey, address.Address) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	addr, _ := address.FromBytes(pub)

	return priv, addr
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}

	return v
}

// createPoll creates a Coffee/Tea poll and returns its address.
func (n *testNode) createPoll(t *testing.T, key ed25519.PrivateKey, id uint64) address.Address {
	t.Helper()

	w := n.submit(t, key, program.FnCreatePoll, program.CreatePollArgs{
		PollID:   id,
		Question: "Coffee or tea?",
		Options:  []string{"Coffee", "Tea"},
	}.Encode())

	if w.Code != http.StatusOK {
		t.Fatalf("create_poll: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	return decodeBody[TxResponse](t, w).Poll
}

func TestHealthEndpoint(t *testing.T) {
	node := newTestNode(t)

	w := node.do("GET", "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	if resp := decodeBody[map[string]string](t, w); resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestSubmitTx_Lifecycle(t *testing.T) {
	node := newTestNode(t)
	creatorKey, creator := generateTestKey(t)
	voterKey, voter := generateTestKey(t)

	poll := node.createPoll(t, creatorKey, 1)

	w := node.submit(t, voterKey, program.FnVote, program.VoteArgs{Poll: poll, OptionIndex: 1}.Encode())
	if w.Code != http.StatusOK {
		t.Fatalf("vote: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = node.do("GET", "/polls/"+poll.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get poll: expected 200, got %d", w.Code)
	}

	view := decodeBody[PollView](t, w)
	if view.Creator != creator || view.Question != "Coffee or tea?" || !view.IsActive {
		t.Errorf("unexpected poll view: %+v", view)
	}

	if view.TotalVotes != 1 || view.Options[1].Votes != 1 || view.Options[1].Text != "Tea" {
		t.Errorf("unexpected tallies: %+v", view.Options)
	}

	w = node.do("GET", fmt.Sprintf("/polls/%s/votes/%s", poll, voter), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get ballot: expected 200, got %d", w.Code)
	}

	if ballot := decodeBody[BallotView](t, w); ballot.OptionIndex != 1 || ballot.Voter != voter {
		t.Errorf("unexpected ballot: %+v", ballot)
	}

	w = node.submit(t, creatorKey, program.FnClosePoll, program.ClosePollArgs{Poll: poll}.Encode())
	if w.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if view := decodeBody[PollView](t, node.do("GET", "/polls/"+poll.String(), nil)); view.IsActive {
		t.Error("poll should be closed")
	}
}

// TestSubmitTx_ProgramErrors verifies program errors carry their code and status.
func TestSubmitTx_ProgramErrors(t *testing.T) {
	node := newTestNode(t)
	creatorKey, _ := generateTestKey(t)
	voterKey, _ := generateTestKey(t)

	poll := node.createPoll(t, creatorKey, 1)
	vote := program.VoteArgs{Poll: poll}.Encode()

	node.submit(t, voterKey, program.FnVote, vote)

	tests := []struct {
		name   string
		key    ed25519.PrivateKey
		fn     string
		args   []byte
		status int
		err    *program.Error
	}{
		{"duplicate vote", voterKey, program.FnVote, vote, http.StatusConflict, program.ErrAlreadyVoted},
		{"duplicate poll", creatorKey, program.FnCreatePoll, program.CreatePollArgs{PollID: 1, Question: "q", Options: []string{"a", "b"}}.Encode(), http.StatusConflict, program.ErrPollExists},
		{"one option", creatorKey, program.FnCreatePoll, program.CreatePollArgs{PollID: 2, Question: "q", Options: []string{"a"}}.Encode(), http.StatusBadRequest, program.ErrNotEnoughOptions},
		{"bad option", creatorKey, program.FnVote, program.VoteArgs{Poll: poll, OptionIndex: 2}.Encode(), http.StatusBadRequest, program.ErrInvalidOption},
		{"not creator", voterKey, program.FnClosePoll, program.ClosePollArgs{Poll: poll}.Encode(), http.StatusForbidden, program.ErrUnauthorized},
		{"unknown poll", voterKey, program.FnVote, program.VoteArgs{Poll: address.Address{9}}.Encode(), http.StatusNotFound, program.ErrAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := node.submit(t, tt.key, tt.fn, tt.args)

			if w.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}

			resp := decodeBody[ErrorView](t, w)
			if resp.Code != tt.err.Code || resp.Name != tt.err.Name {
				t.Errorf("expected %s (%d), got %s (%d)", tt.err.Name, tt.err.Code, resp.Name, resp.Code)
			}
		})
	}
}

func TestSubmitTx_EmptyBody(t *testing.T) {
	node := newTestNode(t)

	if w := node.do("POST", "/tx", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSubmitTx_InvalidData(t *testing.T) {
	node := newTestNode(t)

	w := node.do("POST", "/tx", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	if resp := decodeBody[ErrorView](t, w); resp.Code != 0 {
		t.Errorf("envelope failure should carry no program code, got %d", resp.Code)
	}
}

func TestSubmitTx_TamperedArgs(t *testing.T) {
	node := newTestNode(t)
	key, _ := generateTestKey(t)

	tx, _ := types.SignInstruction(key, testProgramID, program.FnCreatePoll,
		program.CreatePollArgs{PollID: 1, Question: "q", Options: []string{"a", "b"}}.Encode())

	instr := types.GetRootAsInstruction(tx, 0)
	instr.MutateArgs(0, instr.Args(0)^0xff)

	if w := node.do("POST", "/tx", tx); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSubmitTx_BodyTooLarge(t *testing.T) {
	node := newTestNode(t)

	if w := node.do("POST", "/tx", make([]byte, maxTxSize+1)); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}

func TestGetPoll_NotFound(t *testing.T) {
	node := newTestNode(t)

	w := node.do("GET", "/polls/"+address.Address{1}.String(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	if resp := decodeBody[ErrorView](t, w); resp.Name != "AccountNotFound" {
		t.Errorf("expected AccountNotFound, got %q", resp.Name)
	}
}

func TestGetPoll_InvalidAddress(t *testing.T) {
	node := newTestNode(t)

	if w := node.do("GET", "/polls/not-base58!", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetBallot_NotVoted(t *testing.T) {
	node := newTestNode(t)
	key, _ := generateTestKey(t)
	_, voter := generateTestKey(t)

	poll := node.createPoll(t, key, 1)

	if w := node.do("GET", fmt.Sprintf("/polls/%s/votes/%s", poll, voter), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestDerivePoll(t *testing.T) {
	node := newTestNode(t)
	key, creator := generateTestKey(t)

	poll := node.createPoll(t, key, 42)

	w := node.do("GET", fmt.Sprintf("/derive/poll?creator=%s&id=42", creator), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if view := decodeBody[DeriveView](t, w); view.Address != poll {
		t.Errorf("derived %s, created %s", view.Address, poll)
	}

	if w := node.do("GET", "/derive/poll?creator=x&id=1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad creator, got %d", w.Code)
	}

	if w := node.do("GET", fmt.Sprintf("/derive/poll?creator=%s&id=-1", creator), nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestDeriveVote(t *testing.T) {
	node := newTestNode(t)
	_, voter := generateTestKey(t)
	poll := address.Address{3}

	w := node.do("GET", fmt.Sprintf("/derive/vote?poll=%s&voter=%s", poll, voter), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	want, nonce, err := address.Find(testProgramID, program.VoteSeeds(poll, voter)...)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	if view := decodeBody[DeriveView](t, w); view.Address != want || view.Nonce != nonce {
		t.Errorf("derived %+v, want %s/%d", view, want, nonce)
	}
}

func TestEvents(t *testing.T) {
	node := newTestNode(t)
	key, _ := generateTestKey(t)

	node.createPoll(t, key, 1)
	node.createPoll(t, key, 2)
	node.createPoll(t, key, 3)

	w := node.do("GET", "/events?from=2&limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Head   uint64 `json:"head"`
		Events []struct {
			Seq   uint64          `json:"seq"`
			Name  string          `json:"name"`
			Event json.RawMessage `json:"event"`
		} `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Head != 3 || len(resp.Events) != 2 || resp.Events[0].Seq != 2 {
		t.Fatalf("unexpected page: %+v", resp)
	}

	if resp.Events[0].Name != "PollCreated" || !strings.Contains(string(resp.Events[0].Event), `"pollId":2`) {
		t.Errorf("unexpected event: %s %s", resp.Events[0].Name, resp.Events[0].Event)
	}

	if w := node.do("GET", "/events?limit=5000", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized limit, got %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	node := newTestNode(t)
	creatorKey, _ := generateTestKey(t)
	voterKey, _ := generateTestKey(t)

	poll := node.createPoll(t, creatorKey, 1)
	node.submit(t, voterKey, program.FnVote, program.VoteArgs{Poll: poll}.Encode())

	w := node.do("GET", "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	status := decodeBody[StatusView](t, w)
	if status.Polls != 1 || status.Votes != 1 || status.JournalHead != 2 || status.Program != testProgramID {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestStatus_NilProvider(t *testing.T) {
	server := New(Config{})

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()

	server.handleStatus(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	node := newTestNode(t)
	key, _ := generateTestKey(t)

	node.createPoll(t, key, 1)

	w := node.do("GET", "/snapshot", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	raw, err := snapshot.Decompress(w.Body.Bytes())
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	snap, err := snapshot.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(snap.Records) != 1 || snap.JournalHead != 1 {
		t.Errorf("unexpected snapshot: records=%d head=%d", len(snap.Records), snap.JournalHead)
	}
}

func TestCORS(t *testing.T) {
	server := New(Config{Origins: []string{"https://vote.example"}})
	handler := server.Handler()

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://vote.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://vote.example" {
		t.Errorf("allowed origin: got %q", got)
	}

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin: got %q", got)
	}
}

func TestCORS_Disabled(t *testing.T) {
	node := newTestNode(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://vote.example")
	w := httptest.NewRecorder()
	node.handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS header, got %q", got)
	}
}
