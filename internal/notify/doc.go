// Package notify fans committed change sets out to in-process subscribers
// and external sinks.
//
// Delivery is asynchronous: Publish never blocks the writer, and handlers
// run on the bus goroutine in commit order.
package notify
