// Package store provides SQLite-backed durable storage for rolodex contacts.
//
// The store holds:
//   - Contacts: constituents and aggregates, with origin and lifecycle flags
//   - Details: typed attributes, JSON payloads, provenance back to constituents
//   - Relationships: Aggregates and IsNot links
//   - Deleted contacts: tombstones consumed by sync fetches
//   - OOB: scoped key/value blobs for sync adapters
//
// # Connections
//
// Writes go through a single connection (MaxOpenConns=1) wrapped in Update.
// Reads go through a separate read-only pool wrapped in View, so queries never
// wait on the writer and only ever observe committed state.
//
// # Invariants enforced in SQL
//
//   - A constituent has at most one Aggregates link (partial unique index)
//   - Detail uris are unique within a contact, and among aggregate details
//   - Relationships and details cascade when their contact is deleted
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as INTEGER unix nanoseconds (UTC).
package store
