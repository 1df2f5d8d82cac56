// Package contact defines the data model shared by every rolodex layer.
//
// A Contact is either a constituent (a record owned by one origin: the local
// device, a former local record, or a named sync source) or an aggregate (the
// composite view synthesized over every constituent matched together).
//
// Details are a tagged union: the envelope (Detail) carries the fields common
// to every attribute group - uri, modifiable flag, provenance - while the
// payload (Value) is one concrete struct per DetailType.
//
// This package imports nothing internal. Storage, the engine, the sync
// adapter and the CLI all build on it.
package contact
