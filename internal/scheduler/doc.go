// Package scheduler runs write requests one at a time on a single worker
// goroutine.
//
// Requests execute in submission order. Waiting on a request that has not
// started moves it to the head of the queue, so a caller blocked on its own
// write is not stuck behind unrelated background work. A request can be
// cancelled until the worker picks it up; after that it runs to completion.
//
// The worker owns the only write connection to the store, which makes every
// aggregation sequence serial without further locking.
package scheduler
