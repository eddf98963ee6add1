// Package action implements the user actions of a valet session.
//
// Every action goes through Runner, which enforces one contract: validate
// locally, optionally apply an optimistic overlay to the in-memory view,
// issue the conditional remote mutation, confirm the result to the user,
// and re-fetch to reconcile. Each invocation yields an Outcome whose State
// moves from PENDING to exactly one of COMMITTED, ROLLED_BACK or REJECTED.
//
// Assignment-type mutations are conditioned on "assignee unset or already
// me". A zero-row result is a lost race and surfaces as a KindConflict
// "already assigned" warning, never as a generic error.
package action
