// Package session composes one logged-in valet's device: the view set, the
// screen subscriptions, the action service and the notification router.
//
// Thread-safety model:
//   - Open, Mount, Unmount and Close may be called repeatedly; the
//     subscription bookkeeping never leaves duplicates behind.
//   - Work that must not overlap (taps, screen changes, timers) is posted
//     to the Loop, which runs tasks one at a time in FIFO order.
//   - Every task runs inside Recover, so a panic becomes a CrashError
//     instead of taking the process down.
package session
