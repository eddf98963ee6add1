// Package realtime implements the change-feed side of the coordination layer.
//
// A store mutation produces a ChangeEvent. Events fan out through a Hub to
// every subscriber whose Filter matches (table set, optionally a target
// user). Screens never react to events directly: a Subscription coalesces a
// burst of events into one debounced re-fetch of the screen's derived view.
//
// Lifecycle rules:
//   - exactly one Subscription per domain per mounted screen; Stop closes the
//     feed subscription and cancels any pending debounce timer
//   - a re-fetch already in flight is never cancelled; a new event just
//     rearms the timer, so every idle window gets at most one fetch and a
//     change is never left without one
//   - a failed re-fetch is logged and the last good view stays in place
//
// Registry keeps process-wide subscriptions (the per-user notifications
// feed) unique per filter key, replacing a stale one when the identity
// changes.
package realtime
