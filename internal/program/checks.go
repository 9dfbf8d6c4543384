package program

import (
	"Tally/internal/address"
	"Tally/internal/record"
)

// check is one step of a handler's validation pipeline.
type check func() error

// run executes checks in order and returns the first failure.
func run(checks ...check) error {
	for _, c := range checks {
		if err := c(); err != nil {
			return err
		}
	}

	return nil
}

// optionCount rejects polls outside [MinOptions, MaxOptions].
func optionCount(options []string) check {
	return func() error {
		if len(options) < record.MinOptions {
			return ErrNotEnoughOptions
		}

		if len(options) > record.MaxOptions {
			return ErrTooManyOptions
		}

		return nil
	}
}

// questionLength rejects questions longer than MaxQuestionLen bytes.
func questionLength(question string) check {
	return func() error {
		if len(question) > record.MaxQuestionLen {
			return ErrQuestionTooLong
		}

		return nil
	}
}

// optionTexts checks each option in order: too long first, then empty.
func optionTexts(options []string) check {
	return func() error {
		for _, opt := range options {
			if len(opt) > record.MaxOptionLen {
				return ErrOptionTooLong
			}

			if len(opt) == 0 {
				return ErrEmptyOption
			}
		}

		return nil
	}
}

// active requires the poll to accept votes.
func active(poll *record.Poll) check {
	return func() error {
		if !poll.IsActive {
			return ErrPollClosed
		}

		return nil
	}
}

// optionIndex requires idx to name an existing option.
func optionIndex(poll *record.Poll, idx uint8) check {
	return func() error {
		if int(idx) >= len(poll.Options) {
			return ErrInvalidOption
		}

		return nil
	}
}

// creator requires the signer to be the poll's creator.
func creator(poll *record.Poll, signer address.Address) check {
	return func() error {
		if poll.Creator != signer {
			return ErrUnauthorized
		}

		return nil
	}
}

// notClosed rejects closing a poll twice.
func notClosed(poll *record.Poll) check {
	return func() error {
		if !poll.IsActive {
			return ErrPollAlreadyClosed
		}

		return nil
	}
}
