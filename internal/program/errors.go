package program

import "fmt"

// Error is a terminal program failure with a stable numeric code.
// Returning one means the invocation left no state behind.
type Error struct {
	Code uint32 // Code is stable across releases and travels over the wire
	Name string // Name is the symbolic error name
	Msg  string // Msg is a human readable description
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

// registry indexes every sentinel by code.
var registry = map[uint32]*Error{}

func newError(code uint32, name, msg string) *Error {
	e := &Error{Code: code, Name: name, Msg: msg}
	registry[code] = e
	return e
}

// Handler errors.
var (
	ErrNotEnoughOptions  = newError(6000, "NotEnoughOptions", "a poll needs at least 2 options")
	ErrTooManyOptions    = newError(6001, "TooManyOptions", "a poll accepts at most 10 options")
	ErrQuestionTooLong   = newError(6002, "QuestionTooLong", "question exceeds 200 bytes")
	ErrOptionTooLong     = newError(6003, "OptionTooLong", "option exceeds 50 bytes")
	ErrEmptyOption       = newError(6004, "EmptyOption", "option text is empty")
	ErrPollClosed        = newError(6005, "PollClosed", "poll is closed")
	ErrPollAlreadyClosed = newError(6006, "PollAlreadyClosed", "poll is already closed")
	ErrInvalidOption     = newError(6007, "InvalidOption", "option index out of range")
	ErrUnauthorized      = newError(6008, "Unauthorized", "only the creator may close the poll")
	ErrVoteOverflow      = newError(6009, "VoteOverflow", "vote counter overflow")
	ErrAlreadyVoted      = newError(6010, "AlreadyVoted", "voter already voted on this poll")
)

// Account errors.
var (
	ErrConstraintSeeds      = newError(2006, "ConstraintSeeds", "address does not match its derivation seeds")
	ErrAccountDiscriminator = newError(3002, "AccountDiscriminator", "record has the wrong type")
	ErrAccountNotFound      = newError(3012, "AccountNotFound", "no record at address")
	ErrPollExists           = newError(3100, "PollExists", "a poll already exists at the derived address")
)

// ErrorFromCode returns the sentinel for code, or nil if the code is unknown.
func ErrorFromCode(code uint32) *Error {
	return registry[code]
}
