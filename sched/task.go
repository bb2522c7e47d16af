package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/reactor"
)

// State is a task's position in its lifecycle.
//
//	Ready → Running → {Suspended, Completed, Failed, Cancelled}
//	Suspended → Ready on a satisfied wait reason
//
// Completed, Failed and Cancelled are terminal.
type State int32

const (
	StateReady State = iota
	StateRunning
	StateSuspended
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// TaskID identifies a task within its owning scheduler. IDs are never
// reused within a scheduler's lifetime; 0 is never a valid ID.
type TaskID uint64

// WaitKind tags what a suspended task is blocked on.
type WaitKind int

const (
	WaitNone WaitKind = iota
	WaitTimer
	WaitOp
	WaitChild
)

func (k WaitKind) String() string {
	switch k {
	case WaitNone:
		return "none"
	case WaitTimer:
		return "timer"
	case WaitOp:
		return "op"
	case WaitChild:
		return "child"
	default:
		return fmt.Sprintf("wait(%d)", int(k))
	}
}

// WaitReason describes the condition a suspended task is blocked on,
// used to route reactor events back to the right task.
type WaitReason struct {
	// Deadline is set for WaitTimer.
	Deadline time.Time

	// Handle is the reactor registration for WaitTimer and WaitOp.
	Handle reactor.Handle

	// TimeoutHandle, when non-zero, is a timer racing the main wait. If
	// it fires first the main registration is cancelled and the wait
	// resolves as a timeout.
	TimeoutHandle reactor.Handle

	// Child is set for WaitChild.
	Child TaskID

	Kind WaitKind
}

// TaskFunc is the body of a task. Program values are opaque to the
// scheduler. The TaskContext is valid only while the task is running.
type TaskFunc func(tc *TaskContext) (any, error)

// killed is the panic sentinel used to unwind a task goroutine whose
// task was cancelled at a suspension point. Deferred cleanup in the
// task function still runs.
type killedSentinel struct{}

// resumeMsg is what a suspended task goroutine receives when the
// scheduler hands it the logical thread of control.
type resumeMsg struct {
	err  error
	kill bool
}

type yieldKind int

const (
	yieldSuspend yieldKind = iota
	yieldDone
	yieldKilled
)

// yieldMsg is what a task goroutine sends back to the scheduler when it
// gives up the logical thread of control.
type yieldMsg struct {
	result any
	err    error
	task   *Task
	kind   yieldKind
}

// Task is a suspendable unit of program execution. A task is
// exclusively owned by the scheduler that created it; external callers
// interact through Handle, a weak reference plus lookup.
//
// All fields are guarded by the owning scheduler's mutex unless noted.
type Task struct {
	ctx      context.Context
	cancelFn context.CancelFunc

	fn     TaskFunc
	resume chan resumeMsg

	result any
	err    error

	children map[TaskID]struct{}
	waiters  []TaskID

	name string
	wait WaitReason

	// pendingErr is the error delivered at the next resumption (a failed
	// reactor op, or a timeout).
	pendingErr error

	id     TaskID
	parent TaskID

	state           State
	detached        bool
	observed        bool
	cancelRequested bool
}

// ID returns the task's identity.
func (t *Task) ID() TaskID { return t.id }

// Handle is a weak reference to a task: it never confers ownership,
// because tasks may finish or be cancelled independently of the holder.
type Handle struct {
	s    *Scheduler
	name string
	id   TaskID
}

// ID returns the referenced task's identity.
func (h *Handle) ID() TaskID { return h.id }

// Name returns the referenced task's diagnostic name.
func (h *Handle) Name() string { return h.name }

// State looks up the referenced task's current state.
func (h *Handle) State() State {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	t, ok := h.s.tasks[h.id]
	if !ok {
		return StateCancelled
	}
	return t.state
}

// Result returns the task's outcome. It is only meaningful once the
// task is terminal; calling it earlier returns an invalid-input error.
func (h *Handle) Result() (any, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	t, ok := h.s.tasks[h.id]
	if !ok {
		return nil, errors.NotFound(errors.PhaseSched, "task", h.name)
	}
	if !t.state.Terminal() {
		return nil, errors.InvalidInput(errors.PhaseSched, "task is not terminal")
	}
	if t.err != nil {
		t.observed = true
	}
	return t.result, t.err
}

// Cancel requests cancellation of the referenced task and, transitively,
// of the child tasks it owns. Cancelling a terminal or unknown task is a
// no-op.
func (h *Handle) Cancel() {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.cancelLocked(h.id)
}
