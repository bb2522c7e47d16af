// Package reactor provides the timer and completion-event multiplexer
// that feeds the task scheduler.
//
// Two kinds of registrations exist: timers (a deadline in a min-heap)
// and async operations (a function run on a helper goroutine). Both
// yield Events through Poll. Operations may complete concurrently, but
// every completion passes through a single channel before a consumer
// sees it, so the scheduler observes one serialization point.
//
// Poll blocks up to a timeout waiting for at least one event or timer
// expiry and returns an empty slice on timeout, never an error. Timer
// expiries are reported no earlier than their deadline and no later than
// the deadline plus the polling granularity. Cancel is idempotent:
// cancelling an unknown or already-fired handle is a no-op, because task
// teardown may race with event delivery.
package reactor
