package runtime

import (
	"errors"
	"fmt"
	"time"

	"Tally/internal/address"
	"Tally/internal/logger"
	"Tally/internal/metrics"
	"Tally/internal/program"
)

// Observer receives one observation per executed instruction.
type Observer interface {
	ObserveInstruction(function, outcome string, elapsed time.Duration)
}

// Result describes a committed instruction.
type Result struct {
	Hash     [32]byte        // Hash is the instruction hash
	Function string          // Function is the invoked function name
	Poll     address.Address // Poll is the poll the instruction acted on
}

// Runtime authenticates instructions and dispatches them to the program.
// Invocations touching the same poll run one at a time.
type Runtime struct {
	prog     *program.Program // prog executes the lifecycle handlers
	locks    *addressLocks    // locks serializes invocations per poll address
	observer Observer         // observer records execution metrics, may be nil
}

// New creates a runtime for prog. observer may be nil.
func New(prog *program.Program, observer Observer) *Runtime {
	return &Runtime{
		prog:     prog,
		locks:    newAddressLocks(),
		observer: observer,
	}
}

// Program returns the program served by this runtime.
func (r *Runtime) Program() *program.Program {
	return r.prog
}

// Execute validates raw instruction bytes and runs the named function.
// Envelope failures wrap ErrInvalidInstruction; handler failures are *program.Error.
func (r *Runtime) Execute(data []byte) (*Result, error) {
	start := time.Now()

	c, err := decodeInstruction(data)
	if err != nil {
		r.observe("unknown", metrics.OutcomeInvalid, start)
		return nil, err
	}

	if c.program != r.prog.ID() {
		r.observe(functionLabel(c.function), metrics.OutcomeInvalid, start)
		return nil, fmt.Errorf("%w: program %s is not served here", ErrInvalidInstruction, c.program.Short())
	}

	poll, err := r.dispatch(c)
	r.observe(functionLabel(c.function), outcome(err), start)

	if err != nil {
		logger.Debug("instruction rejected",
			"function", c.function,
			"sender", c.sender.Short(),
			"error", err,
		)
		return nil, err
	}

	logger.Debug("instruction executed",
		"function", c.function,
		"sender", c.sender.Short(),
		"poll", poll.Short(),
		logger.Timed(start),
	)

	return &Result{Hash: c.hash, Function: c.function, Poll: poll}, nil
}

// dispatch decodes the arguments and runs the handler under the poll lock.
func (r *Runtime) dispatch(c *call) (address.Address, error) {
	switch c.function {
	case program.FnCreatePoll:
		args, err := program.DecodeCreatePollArgs(c.args)
		if err != nil {
			return address.Zero, fmt.Errorf("%w: %w", ErrInvalidInstruction, err)
		}

		target, _, err := r.prog.PollAddress(c.sender, args.PollID)
		if err != nil {
			return address.Zero, fmt.Errorf("derive poll address:\n%w", err)
		}

		defer r.locks.lock(target)()

		return r.prog.CreatePoll(c.sender, args.PollID, args.Question, args.Options)

	case program.FnVote:
		args, err := program.DecodeVoteArgs(c.args)
		if err != nil {
			return address.Zero, fmt.Errorf("%w: %w", ErrInvalidInstruction, err)
		}

		defer r.locks.lock(args.Poll)()

		return args.Poll, r.prog.Vote(c.sender, args.Poll, args.OptionIndex)

	case program.FnClosePoll:
		args, err := program.DecodeClosePollArgs(c.args)
		if err != nil {
			return address.Zero, fmt.Errorf("%w: %w", ErrInvalidInstruction, err)
		}

		defer r.locks.lock(args.Poll)()

		return args.Poll, r.prog.ClosePoll(c.sender, args.Poll)

	default:
		return address.Zero, fmt.Errorf("%w: unknown function %q", ErrInvalidInstruction, c.function)
	}
}

func (r *Runtime) observe(function, outcome string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveInstruction(function, outcome, time.Since(start))
	}
}

// functionLabel bounds metric label values to the known function names.
func functionLabel(function string) string {
	switch function {
	case program.FnCreatePoll, program.FnVote, program.FnClosePoll:
		return function
	default:
		return "unknown"
	}
}

// outcome classifies an execution error for metrics.
func outcome(err error) string {
	var perr *program.Error

	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &perr):
		return metrics.OutcomeRejected
	case errors.Is(err, ErrInvalidInstruction):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeFailed
	}
}
