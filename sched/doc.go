// Package sched implements the cooperative task scheduler at the heart
// of the lantern runtime.
//
// # Model
//
// Concurrency is achieved by suspension and resumption, never by
// parallel execution of program steps: the run loop and the single
// currently running task exchange the logical thread of control through
// a resume/yield handshake, so exactly one task executes program logic
// at any moment. Helper goroutines may complete I/O underneath, but
// their events re-enter through reactor.Poll on the run loop.
//
// Each task moves through an explicit state machine:
//
//	Ready → Running → {Suspended, Completed, Failed, Cancelled}
//	Suspended → Ready on a satisfied WaitReason
//
// Suspension happens only at the well-defined yield points on
// TaskContext: Sleep, AwaitOp, AwaitOpTimeout and Await. Ready tasks run
// in FIFO order of the moment they became ready.
//
// # Cancellation
//
// Cancellation is cooperative. A suspended task is deregistered from the
// reactor before its terminal transition, guaranteeing no late event
// reaches it; its goroutine is then unwound (deferred cleanup runs). A
// running task is only marked and unwinds at its next suspension point.
// Cancelling a task cancels the children it owns; detached children are
// unaffected.
//
// # Failures
//
// A child task's failure is delivered to whichever task awaits it. A
// failure nobody awaits is recorded and surfaced through
// UnobservedFailures rather than silently dropped. The top-level task's
// failure is the run's failure.
package sched
