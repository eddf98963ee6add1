// Package store provides SQLite-backed storage for the hotel's operational
// rows: rooms, stays, sales orders and their items, payments, shift
// sessions, notifications and push tokens.
//
// # Concurrency Contract
//
// Valet devices race each other for the same work. Every claim-style write
// is a conditional UPDATE whose WHERE clause restates the precondition, and
// the affected-row count is returned to the caller:
//   - 1 row: this caller won
//   - 0 rows: the precondition no longer held (someone else got there first)
//
// Callers must never treat a zero-row result as success.
//
// # Change Feed
//
// After a write commits, the store publishes one realtime.ChangeEvent per
// touched row on its Hub. Notification inserts carry the target user id so
// per-user channels can filter server-side. Zero-row updates publish
// nothing.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Money columns are stored as decimal strings (shopspring/decimal
// implements driver.Valuer and sql.Scanner).
package store
