package action

import (
	"errors"
	"fmt"
)

// Kind categorizes action failures.
type Kind string

const (
	// KindValidation means local input was missing or invalid. The action
	// never reached the store and nothing is shown to the user.
	KindValidation Kind = "VALIDATION"

	// KindConflict means a conditional update matched zero rows: another
	// valet got there first, or the row moved past the expected state.
	KindConflict Kind = "CONFLICT"

	// KindRemote is a store or network failure.
	KindRemote Kind = "REMOTE"

	// KindPartial means a multi-step action failed after some writes
	// landed. Nothing is compensated; the re-fetch shows the true state.
	KindPartial Kind = "PARTIAL"
)

// Error is a failed action.
type Error struct {
	Kind    Kind
	Action  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Action, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Action, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validation(name, msg string) *Error {
	return &Error{Kind: KindValidation, Action: name, Message: msg}
}

func conflict(name, msg string) *Error {
	return &Error{Kind: KindConflict, Action: name, Message: msg}
}

func remote(name string, err error) *Error {
	return &Error{Kind: KindRemote, Action: name, Message: "remote call failed", Err: err}
}

func partial(name string, err error) *Error {
	return &Error{Kind: KindPartial, Action: name, Message: "completed partially", Err: err}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRemote
}

// IsValidation returns true if err is a validation failure.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool {
	return err != nil && kindOf(err) == KindValidation
}

// IsConflict returns true if err is a lost race.
func IsConflict(err error) bool {
	return err != nil && kindOf(err) == KindConflict
}

// IsPartial returns true if err is a partially applied action.
func IsPartial(err error) bool {
	return err != nil && kindOf(err) == KindPartial
}

// IsRemote returns true if err is a store or network failure.
func IsRemote(err error) bool {
	return err != nil && kindOf(err) == KindRemote
}
