// Package manager is the read/write façade over the contact database.
//
// Writes are serialized through one scheduler worker that owns the write
// connection; reads go straight to the read-only pool and see committed
// state only. Committed change sets are published on a notify.Bus.
//
// A write whose wait times out before the worker reaches it is cancelled
// and never commits. One the worker already started finishes on its own
// and the caller gets scheduler.ErrStillRunning.
//
// Thread-safety model:
//   - every method is safe from any goroutine
//   - Close must be called exactly once
package manager
