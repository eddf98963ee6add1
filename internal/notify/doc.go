// Package notify routes staff notifications to the valet.
//
// The same business event may arrive twice: once as a row on the
// notifications change feed and once as a platform push. The Router runs
// both through one dedup.Cache keyed by business type and id, so the
// second arrival within the window is dropped.
//
// In the foreground an admitted realtime event becomes a toast plus a
// vibration and a silent system notification that only exists to play the
// platform sound. In the background realtime events are ignored and the
// push is the only path to the user; they are not recorded in the cache,
// so the push that follows is not mistaken for a duplicate.
//
// A tapped push resolves to a DeepLink. DeepLinkTracker makes handling a
// link idempotent.
package notify
