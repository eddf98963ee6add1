// Package payment turns the tender lines a valet typed in into payment
// records.
//
// When the order already carries exactly one PENDING payment for the
// concept (the main charge), the first line fills that record in place and
// every further line becomes a partial payment linked to it. Otherwise
// every line is inserted as a standalone record. Every record is stamped
// with the collector's open shift session, if any, and moves to
// COLLECTED_BY_FIELD_STAFF; confirming it is back-office work.
//
// The sum of the lines is never checked against the amount due. Summarize
// reports the difference as remaining or change due for the valet to judge.
package payment
