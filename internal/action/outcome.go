package action

import (
	"fmt"
)

// State is the position of one action invocation.
//
//	PENDING -> COMMITTED     remote call succeeded
//	PENDING -> ROLLED_BACK   remote call failed; the re-fetch restores truth
//	PENDING -> REJECTED      input invalid; nothing was attempted
type State string

const (
	StatePending    State = "PENDING"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
	StateRejected   State = "REJECTED"
)

// IsFinal reports whether no further transition is possible.
func (s State) IsFinal() bool {
	return s == StateCommitted || s == StateRolledBack || s == StateRejected
}

// Outcome records what happened to one action invocation.
type Outcome struct {
	Action string
	State  State

	// Optimistic is true when a local overlay was applied before the
	// remote call.
	Optimistic bool

	// Affected counts the rows the remote call changed.
	Affected int

	// Confirmation is what the user was shown. Zero for rejected actions.
	Confirmation Confirmation

	// Refetched is true when the reconciling re-fetch ran.
	Refetched bool

	Err error
}

func newOutcome(name string) *Outcome {
	return &Outcome{Action: name, State: StatePending}
}

// transition moves the outcome out of PENDING. Moving a final outcome is a
// programming error.
func (o *Outcome) transition(to State) {
	if o.State != StatePending {
		panic(fmt.Sprintf("action %s: transition %s -> %s", o.Action, o.State, to))
	}
	o.State = to
}

// OK reports whether the action committed.
func (o Outcome) OK() bool {
	return o.State == StateCommitted
}
