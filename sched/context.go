package sched

import (
	"context"
	"time"

	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/reactor"
)

// TaskContext is a task's interface to its scheduler. It is valid only
// while its task holds the logical thread of control: task functions
// receive one and must not retain it past their return or share it with
// other goroutines.
//
// Every method that suspends is a well-defined yield point; a task that
// performs unbounded synchronous computation between yield points blocks
// the whole scheduler, which is an accepted property of cooperative
// scheduling.
type TaskContext struct {
	s *Scheduler
	t *Task
}

// ID returns the running task's identity.
func (tc *TaskContext) ID() TaskID { return tc.t.id }

// Name returns the running task's diagnostic name.
func (tc *TaskContext) Name() string { return tc.t.name }

// Context returns a context cancelled when the task is cancelled.
// Synchronous code inside the task can watch it to bail out early.
func (tc *TaskContext) Context() context.Context { return tc.t.ctx }

// trySuspend runs arm under the scheduler lock. If arm returns false the
// task does not suspend and trySuspend returns (nil, false). Otherwise
// the task suspends on the returned wait reason until the scheduler
// resumes it, and the error delivered at resumption is returned.
//
// Every suspension point honors a pending cancellation: the task unwinds
// here instead of suspending, running its deferred cleanup on the way
// out.
func (tc *TaskContext) trySuspend(arm func() (WaitReason, bool)) (error, bool) {
	s, t := tc.s, tc.t

	s.mu.Lock()
	if t.state.Terminal() {
		// Already finished; deferred cleanup running during the unwind
		// must not re-arm a wait on a dead task.
		s.mu.Unlock()
		panic(killedSentinel{})
	}
	if t.cancelRequested {
		children := make([]TaskID, 0, len(t.children))
		for cid := range t.children {
			children = append(children, cid)
		}
		s.finishLocked(t, StateCancelled, nil,
			errors.Cancelled(errors.PhaseSched, "task "+t.name+" cancelled"))
		for _, cid := range children {
			s.cancelLocked(cid)
		}
		s.mu.Unlock()
		panic(killedSentinel{})
	}

	reason, ok := arm()
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	t.wait = reason
	t.state = StateSuspended
	s.mu.Unlock()

	s.yields <- yieldMsg{task: t, kind: yieldSuspend}
	msg := <-t.resume
	if msg.kill {
		panic(killedSentinel{})
	}
	return msg.err, true
}

func (tc *TaskContext) suspend(arm func() WaitReason) error {
	err, _ := tc.trySuspend(func() (WaitReason, bool) { return arm(), true })
	return err
}

// Sleep suspends the task until at least d has elapsed. The task is
// resumed within one reactor polling granularity after the deadline.
func (tc *TaskContext) Sleep(d time.Duration) error {
	deadline := time.Now().Add(d)
	return tc.suspend(func() WaitReason {
		h := tc.s.r.RegisterTimer(deadline)
		tc.s.byHandle[h] = tc.t.id
		return WaitReason{Kind: WaitTimer, Deadline: deadline, Handle: h}
	})
}

// AwaitOp suspends the task until op completes. The op runs on a
// reactor helper goroutine; its error, if any, is returned to this task
// alone. Cancelling the task cancels the op's context and guarantees
// its completion is never delivered.
func (tc *TaskContext) AwaitOp(op reactor.Op) error {
	return tc.suspend(func() WaitReason {
		h := tc.s.r.RegisterOp(op)
		tc.s.byHandle[h] = tc.t.id
		return WaitReason{Kind: WaitOp, Handle: h}
	})
}

// AwaitOpTimeout races op against a timer on the same wait. If the
// timer fires first, the op's registration is cancelled and a
// cancellation-kind error with detail "wait timed out" is returned.
func (tc *TaskContext) AwaitOpTimeout(op reactor.Op, d time.Duration) error {
	deadline := time.Now().Add(d)
	return tc.suspend(func() WaitReason {
		h := tc.s.r.RegisterOp(op)
		th := tc.s.r.RegisterTimer(deadline)
		tc.s.byHandle[h] = tc.t.id
		tc.s.byHandle[th] = tc.t.id
		return WaitReason{Kind: WaitOp, Handle: h, TimeoutHandle: th, Deadline: deadline}
	})
}

// Spawn creates a child task owned by the running task: cancelling the
// parent cancels it unless spawned with WithDetached. Spawning never
// blocks and never yields the logical thread.
func (tc *TaskContext) Spawn(name string, fn TaskFunc, opts ...SpawnOption) (*Handle, error) {
	var cfg spawnCfg
	for _, opt := range opts {
		opt(&cfg)
	}

	tc.s.mu.Lock()
	defer tc.s.mu.Unlock()
	t, err := tc.s.spawnLocked(tc.t, name, fn, cfg.detached)
	if err != nil {
		return nil, err
	}
	return &Handle{s: tc.s, id: t.id, name: t.name}, nil
}

// Await suspends the task until the referenced task reaches a terminal
// state, then returns its result or error. Awaiting an already-terminal
// task returns immediately. A failure returned here counts as observed.
func (tc *TaskContext) Await(h *Handle) (any, error) {
	if h == nil {
		return nil, errors.InvalidInput(errors.PhaseSched, "nil task handle")
	}

	for {
		var (
			settled bool
			result  any
			err     error
		)
		_, suspended := tc.trySuspend(func() (WaitReason, bool) {
			child := tc.s.tasks[h.id]
			if child == nil {
				settled = true
				err = errors.NotFound(errors.PhaseSched, "task", h.name)
				return WaitReason{}, false
			}
			if child.state.Terminal() {
				if child.err != nil {
					child.observed = true
				}
				settled, result, err = true, child.result, child.err
				return WaitReason{}, false
			}
			child.waiters = append(child.waiters, tc.t.id)
			return WaitReason{Kind: WaitChild, Child: h.id}, true
		})
		if !suspended && settled {
			return result, err
		}
		// Woken because the child went terminal; re-read its outcome.
	}
}
