package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"Tally/internal/address"
	"Tally/internal/event"
	"Tally/internal/logger"
	"Tally/internal/program"
	"Tally/internal/record"
	"Tally/internal/runtime"
)

const (
	// maxTxSize is the maximum instruction size in bytes.
	maxTxSize = 1 << 20 // 1 MB
)

// Executor runs signed instructions.
type Executor interface {
	Execute(data []byte) (*runtime.Result, error)
}

// Reader resolves poll and ballot records.
type Reader interface {
	Poll(addr address.Address) (*record.Poll, error)
	Ballot(poll, voter address.Address) (*record.Vote, error)
	PollAddress(creator address.Address, pollID uint64) (address.Address, uint8, error)
	VoteAddress(poll, voter address.Address) (address.Address, uint8, error)
}

// History serves the event journal.
type History interface {
	Since(from uint64, limit int) ([]event.Entry, error)
	Head() uint64
}

// StatusProvider exposes ledger state for monitoring.
type StatusProvider interface {
	Counts() (polls, votes int, err error)
}

// SnapshotSource produces a compressed snapshot of the ledger.
type SnapshotSource interface {
	Snapshot() ([]byte, error)
}

// Config holds the dependencies of a Server. Only Executor and Reader are required.
type Config struct {
	Addr      string          // Addr is the HTTP listen address
	Program   address.Address // Program is the served program identity
	Executor  Executor        // Executor runs submitted instructions
	Reader    Reader          // Reader resolves records
	History   History         // History serves GET /events, may be nil
	Status    StatusProvider  // Status serves GET /status, may be nil
	Snapshots SnapshotSource  // Snapshots serves GET /snapshot, may be nil
	Metrics   http.Handler    // Metrics serves GET /metrics, may be nil
	Origins   []string        // Origins are the browser origins allowed by CORS, empty disables it
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config       // cfg holds the server dependencies
	started time.Time    // started is when the server was created
	server  *http.Server // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		started: time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tx", s.handleSubmitTx)
	mux.HandleFunc("GET /polls/{address}", s.handleGetPoll)
	mux.HandleFunc("GET /polls/{address}/votes/{voter}", s.handleGetBallot)
	mux.HandleFunc("GET /derive/poll", s.handleDerivePoll)
	mux.HandleFunc("GET /derive/vote", s.handleDeriveVote)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}

	if len(s.cfg.Origins) == 0 {
		return mux
	}

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.cfg.Addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleSubmitTx handles POST /tx requests.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty instruction")
		return
	}

	if len(body) > maxTxSize {
		writeError(w, http.StatusRequestEntityTooLarge, "instruction too large")
		return
	}

	res, err := s.cfg.Executor.Execute(body)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TxResponse{
		Hash:     hex.EncodeToString(res.Hash[:]),
		Function: res.Function,
		Poll:     res.Poll,
	})
}

// handleGetPoll handles GET /polls/{address} requests.
func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}

	poll, err := s.cfg.Reader.Poll(addr)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newPollView(addr, poll))
}

// handleGetBallot handles GET /polls/{address}/votes/{voter} requests.
func (s *Server) handleGetBallot(w http.ResponseWriter, r *http.Request) {
	poll, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}

	voter, ok := pathAddress(w, r, "voter")
	if !ok {
		return
	}

	ballot, err := s.cfg.Reader.Ballot(poll, voter)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BallotView{
		Poll:        ballot.Poll,
		Voter:       ballot.Voter,
		OptionIndex: ballot.OptionIndex,
	})
}

// handleDerivePoll handles GET /derive/poll?creator=&id= requests.
func (s *Server) handleDerivePoll(w http.ResponseWriter, r *http.Request) {
	creator, err := address.Parse(r.URL.Query().Get("creator"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid creator")
		return
	}

	pollID, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	addr, nonce, err := s.cfg.Reader.PollAddress(creator, pollID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeriveView{Address: addr, Nonce: nonce})
}

// handleDeriveVote handles GET /derive/vote?poll=&voter= requests.
func (s *Server) handleDeriveVote(w http.ResponseWriter, r *http.Request) {
	poll, err := address.Parse(r.URL.Query().Get("poll"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid poll")
		return
	}

	voter, err := address.Parse(r.URL.Query().Get("voter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid voter")
		return
	}

	addr, nonce, err := s.cfg.Reader.VoteAddress(poll, voter)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeriveView{Address: addr, Nonce: nonce})
}

// handleEvents handles GET /events?from=&limit= requests.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, http.StatusServiceUnavailable, "event history not available")
		return
	}

	from, err := queryUint(r, "from", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}

	limit, err := queryUint(r, "limit", event.DefaultPageSize)
	if err != nil || limit > maxEventsPage {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	entries, err := s.cfg.History.Since(from, int(limit))
	if err != nil {
		logger.Error("read event history", "from", from, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	resp := EventsView{
		Head:   s.cfg.History.Head(),
		Events: make([]EventView, len(entries)),
	}

	for i, e := range entries {
		resp.Events[i] = EventView{Seq: e.Seq, Name: e.Event.Name(), Event: e.Event}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSnapshot handles GET /snapshot requests.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots not available")
		return
	}

	data, err := s.cfg.Snapshots.Snapshot()
	if err != nil {
		logger.Error("create snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create snapshot")
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	polls, votes, err := s.cfg.Status.Counts()
	if err != nil {
		logger.Error("count records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count records")
		return
	}

	resp := StatusView{
		Program: s.cfg.Program,
		Polls:   polls,
		Votes:   votes,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}

	if s.cfg.History != nil {
		resp.JournalHead = s.cfg.History.Head()
	}

	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps a failure to its HTTP status code.
func statusFor(err error) int {
	var perr *program.Error

	switch {
	case errors.As(err, &perr):
		switch perr {
		case program.ErrAccountNotFound:
			return http.StatusNotFound
		case program.ErrAlreadyVoted, program.ErrPollExists:
			return http.StatusConflict
		case program.ErrUnauthorized:
			return http.StatusForbidden
		default:
			return http.StatusBadRequest
		}
	case errors.Is(err, runtime.ErrInvalidInstruction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err with its status, exposing program error codes.
func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)

	var perr *program.Error
	if errors.As(err, &perr) {
		writeJSON(w, status, ErrorView{Error: perr.Msg, Code: perr.Code, Name: perr.Name})
		return
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}

	writeError(w, status, err.Error())
}

// pathAddress parses the named path value, writing 400 on failure.
func pathAddress(w http.ResponseWriter, r *http.Request, name string) (address.Address, bool) {
	addr, err := address.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return address.Address{}, false
	}

	return addr, true
}

// queryUint parses an optional unsigned query parameter.
func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	return strconv.ParseUint(raw, 10, 64)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorView{Error: message})
}
