// Package engine implements the rolodex aggregation and merge-conflict engine.
//
// The engine owns every write. A write is one store transaction (a Txn) in
// which the engine may:
//   - match a constituent against existing aggregates (matcher.go)
//   - regenerate an aggregate from its constituents (aggregate.go)
//   - route an aggregate edit back to the constituents it came from (route.go)
//   - repair relationships after manual linking or unlinking (relink.go)
//   - apply deactivation, reactivation and removal (save.go)
//
// ARCHITECTURE:
//
// Single writer:
// Callers serialize writes through the scheduler package, so a Txn never
// races another Txn. Reads use the store's read pool and may run
// concurrently with a write; they observe committed state only.
//
// Aggregate state:
// An aggregate's stored details are a pure function of its active
// constituents. Regeneration diffs the composed detail set against what is
// stored, keyed by provenance, and only rewrites what changed. The
// aggregate's Modified timestamp moves only when its visible data changes.
//
// Atomicity:
// A batch is applied inside one transaction. Any error rolls back every
// contact in the batch, and no change set is published.
//
// Change sets:
// Every committed Txn produces one contact.ChangeSet, delivered to the
// configured Notifier after commit.
package engine
