// Package dedup suppresses redundant alerts for one business event that
// arrives through both the realtime feed and a platform push.
//
// Events are keyed as "{type}:{normalizedId}", where the id is the first
// non-empty of stay id, sales-order id, consumption id and the
// notification's own id. The first event for a key is allowed and its time
// recorded; later events with the same key are suppressed while the record
// is younger than the window (20s by default). Suppressed events do not
// refresh the record.
//
// The Cache is an explicit service with Init, Reset and Dispose. Its state
// lives in a Backend: MemoryBackend for a single device, or a RedisBackend
// scoped to the signed-in employee when several processes of that employee
// must share decisions. Decisions are never shared between employees.
package dedup
