// Package syncadapter exposes per-source partial aggregates to sync
// plugins and folds remote changes back into the contact database.
//
// A partial aggregate for source S holds one S constituent's details plus
// whatever the device owner contributed to the same aggregate. The export
// pseudo-source sees whole aggregates instead.
//
// Remote edits are merged with a prefer-local policy: when both sides
// touched the same detail since the last sync, the local value stays.
// TwoWay drives the full sync sequence and keeps its state in the OOB
// store.
package syncadapter
