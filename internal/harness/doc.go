// Package harness runs valet scenarios end to end.
//
// A scenario opens one session per listed employee on a fresh in-memory
// store seeded with the demo fixture, executes a flow of actions and
// notification deliveries under a manual clock, and checks the resulting
// trace and store rows.
//
// # Scenario Format
//
//	name: first_valet_wins
//	description: "Two valets race for the same entry"
//	sessions: [valet-x, valet-y]
//	flow:
//	  - as: valet-x
//	    do: accept_entry
//	    args: { stay_id: stay-101 }
//	    expect: { state: COMMITTED, affected: 1 }
//	  - do: advance
//	    args: { by: 50ms }
//	  - as: valet-y
//	    do: accept_entry
//	    args: { stay_id: stay-101 }
//	    expect: { state: ROLLED_BACK, title: Already assigned }
//	assertions:
//	  - type: final_state
//	    table: room_stays
//	    where: { id: stay-101 }
//	    expect: { entry_valet_id: valet-x }
//
// Flow steps with "as" run an action of that employee's session. Steps
// without it drive the environment: advance, notify, push, tap,
// background and foreground.
//
// # Assertion Types
//
//   - trace_contains: a step with the action (and args subset) ran
//   - trace_order: steps ran in the given order
//   - trace_count: a step ran exactly N times
//   - final_state: one store row matches the expected columns
//   - toast_count: a session shows exactly N toasts
//
// # Deterministic Testing
//
// Every run uses the same start instant, sequential ids and a manual
// clock, so traces are stable and can be compared with golden files.
package harness
