// Package state hands runtime results to the terminal UI.
//
// The reactive runtime is confined to its loop goroutine while Bubble Tea
// renders on its own. An effect on the loop converts every watch, call and
// the auth bridge into plain views and calls Store.Update; the UI reads
// copies through Store.Snapshot on each tick.
//
//	runtime loop                     UI
//	effect -> store.Update(views) -> store.Snapshot() -> render
//
// Snapshots never share slices with the store, so the UI may keep or modify
// them freely.
//
// A non-nil error passed to Update counts as a failure. Two or more in a row
// mark the snapshot offline.
package state
