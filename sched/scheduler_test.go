package sched

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/reactor"
)

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *reactor.Reactor) {
	t.Helper()
	r := reactor.New()
	t.Cleanup(func() { r.Close() })
	return New(r, opts...), r
}

func TestTaskCompletes(t *testing.T) {
	s, _ := newTestScheduler(t)

	h, err := s.Spawn("answer", func(tc *TaskContext) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st := h.State(); st != StateCompleted {
		t.Errorf("state = %v, want completed", st)
	}
	result, err := h.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
}

func TestTaskFails(t *testing.T) {
	s, _ := newTestScheduler(t)

	wantErr := stderrors.New("program raised")
	h, err := s.Spawn("failing", func(tc *TaskContext) (any, error) {
		return nil, wantErr
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st := h.State(); st != StateFailed {
		t.Errorf("state = %v, want failed", st)
	}
	if _, err := h.Result(); !stderrors.Is(err, wantErr) {
		t.Errorf("Result err = %v, want %v", err, wantErr)
	}
}

func TestTaskPanicBecomesFailure(t *testing.T) {
	s, _ := newTestScheduler(t)

	h, err := s.Spawn("panicky", func(tc *TaskContext) (any, error) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st := h.State(); st != StateFailed {
		t.Errorf("state = %v, want failed", st)
	}
	_, err = h.Result()
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseSched, Kind: errors.KindTaskFailed}) {
		t.Errorf("Result err = %v, want task_failed", err)
	}
}

func TestReadyOrderIsFIFO(t *testing.T) {
	s, _ := newTestScheduler(t)

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		if _, err := s.Spawn(name, func(tc *TaskContext) (any, error) {
			order = append(order, name)
			return nil, nil
		}); err != nil {
			t.Fatalf("Spawn %s: %v", name, err)
		}
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("order = %v, want [a b c]", order)
	}
}

func TestSleepBounds(t *testing.T) {
	s, _ := newTestScheduler(t)

	const d = 40 * time.Millisecond
	var elapsed time.Duration
	start := time.Now()

	if _, err := s.Spawn("sleeper", func(tc *TaskContext) (any, error) {
		if err := tc.Sleep(d); err != nil {
			return nil, err
		}
		elapsed = time.Since(start)
		return nil, nil
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if elapsed < d {
		t.Errorf("resumed early: %v < %v", elapsed, d)
	}
	if elapsed > d+150*time.Millisecond {
		t.Errorf("resumed too late: %v", elapsed)
	}
}

func TestAwaitTwoSleepingChildren(t *testing.T) {
	// Two children sleep for different durations and return values; the
	// parent observes both results and completes regardless of which
	// timer fires first.
	tests := []struct {
		name             string
		firstD, secondD  time.Duration
	}{
		{"first child faster", 10 * time.Millisecond, 30 * time.Millisecond},
		{"second child faster", 30 * time.Millisecond, 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(t)

			top, err := s.Spawn("main", func(tc *TaskContext) (any, error) {
				sleepThenReturn := func(d time.Duration, v any) TaskFunc {
					return func(tc *TaskContext) (any, error) {
						if err := tc.Sleep(d); err != nil {
							return nil, err
						}
						return v, nil
					}
				}

				c1, err := tc.Spawn("one", sleepThenReturn(tt.firstD, "one"))
				if err != nil {
					return nil, err
				}
				c2, err := tc.Spawn("two", sleepThenReturn(tt.secondD, "two"))
				if err != nil {
					return nil, err
				}

				v1, err := tc.Await(c1)
				if err != nil {
					return nil, err
				}
				v2, err := tc.Await(c2)
				if err != nil {
					return nil, err
				}
				return []any{v1, v2}, nil
			})
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}

			if err := s.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}

			if st := top.State(); st != StateCompleted {
				t.Fatalf("state = %v, want completed", st)
			}
			result, err := top.Result()
			if err != nil {
				t.Fatalf("Result: %v", err)
			}
			got := result.([]any)
			if got[0] != "one" || got[1] != "two" {
				t.Errorf("results = %v, want [one two]", got)
			}
		})
	}
}

func TestAwaitAlreadyTerminalChild(t *testing.T) {
	s, _ := newTestScheduler(t)

	if _, err := s.Spawn("main", func(tc *TaskContext) (any, error) {
		child, err := tc.Spawn("quick", func(tc *TaskContext) (any, error) {
			return "done", nil
		})
		if err != nil {
			return nil, err
		}
		// Let the child run to completion before awaiting it.
		if err := tc.Sleep(10 * time.Millisecond); err != nil {
			return nil, err
		}
		if st := child.State(); st != StateCompleted {
			t.Errorf("child state = %v, want completed", st)
		}
		return tc.Await(child)
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestChildFailureDeliveredToAwaiter(t *testing.T) {
	s, _ := newTestScheduler(t)

	wantErr := stderrors.New("child exploded")
	top, err := s.Spawn("main", func(tc *TaskContext) (any, error) {
		child, err := tc.Spawn("bad", func(tc *TaskContext) (any, error) {
			return nil, wantErr
		})
		if err != nil {
			return nil, err
		}
		if _, err := tc.Await(child); err != nil {
			return "observed", nil
		}
		return nil, stderrors.New("child error was lost")
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result, _ := top.Result(); result != "observed" {
		t.Errorf("result = %v, want observed", result)
	}
	// The failure was observed by the awaiter: nothing unobserved left.
	if got := s.UnobservedFailures(); len(got) != 0 {
		t.Errorf("UnobservedFailures = %v, want none", got)
	}
}

func TestUnobservedFailureSurfaced(t *testing.T) {
	s, _ := newTestScheduler(t)

	wantErr := stderrors.New("nobody watched me fail")
	if _, err := s.Spawn("main", func(tc *TaskContext) (any, error) {
		_, err := tc.Spawn("ignored", func(tc *TaskContext) (any, error) {
			return nil, wantErr
		}, WithDetached())
		return nil, err
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	failures := s.UnobservedFailures()
	if len(failures) != 1 {
		t.Fatalf("UnobservedFailures = %v, want exactly one", failures)
	}
	if !stderrors.Is(failures[0], wantErr) {
		t.Errorf("failure = %v, does not wrap %v", failures[0], wantErr)
	}
}

func TestAwaitOpDeliversError(t *testing.T) {
	s, _ := newTestScheduler(t)

	wantErr := stderrors.New("read failed")
	var got error
	if _, err := s.Spawn("io", func(tc *TaskContext) (any, error) {
		got = tc.AwaitOp(func(ctx context.Context) error { return wantErr })
		return nil, nil
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stderrors.Is(got, wantErr) {
		t.Errorf("AwaitOp err = %v, want %v", got, wantErr)
	}
}

func TestAwaitOpTimeout(t *testing.T) {
	s, _ := newTestScheduler(t)

	opCtxDone := make(chan struct{})
	var got error
	if _, err := s.Spawn("slow-io", func(tc *TaskContext) (any, error) {
		got = tc.AwaitOpTimeout(func(ctx context.Context) error {
			<-ctx.Done()
			close(opCtxDone)
			return ctx.Err()
		}, 20*time.Millisecond)
		return nil, nil
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !stderrors.Is(got, &errors.Error{Phase: errors.PhaseSched, Kind: errors.KindCancelled}) {
		t.Errorf("timeout err = %v, want cancelled kind", got)
	}
	select {
	case <-opCtxDone:
	case <-time.After(time.Second):
		t.Error("losing op's context was not cancelled")
	}
}

func TestCancelSuspendedTask(t *testing.T) {
	s, _ := newTestScheduler(t)

	cleanedUp := false
	h, err := s.Spawn("sleeper", func(tc *TaskContext) (any, error) {
		defer func() { cleanedUp = true }()
		if err := tc.Sleep(time.Hour); err != nil {
			return nil, err
		}
		return nil, stderrors.New("should never wake normally")
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		h.Cancel()
	}()

	start := time.Now()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Run did not return promptly after cancellation")
	}

	if st := h.State(); st != StateCancelled {
		t.Errorf("state = %v, want cancelled", st)
	}
	if !cleanedUp {
		t.Error("deferred cleanup did not run on cancellation")
	}
}

func TestDeferredCleanupCannotSuspend(t *testing.T) {
	s, _ := newTestScheduler(t)

	// Once a task is cancelled its goroutine only exists to unwind.
	// Cleanup code that tries to sleep on the way out must unwind again
	// instead of resurrecting the task as a live waiter.
	cleanedUp := false
	sleptInCleanup := false
	h, err := s.Spawn("sleeper", func(tc *TaskContext) (any, error) {
		defer func() {
			cleanedUp = true
			tc.Sleep(10 * time.Millisecond)
			sleptInCleanup = true
		}()
		if err := tc.Sleep(time.Hour); err != nil {
			return nil, err
		}
		return nil, stderrors.New("should never wake normally")
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		h.Cancel()
	}()

	start := time.Now()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Run did not return promptly after cancellation")
	}

	if !cleanedUp {
		t.Error("deferred cleanup did not run on cancellation")
	}
	if sleptInCleanup {
		t.Error("cleanup slept and resumed on a cancelled task")
	}
	if st := h.State(); st != StateCancelled {
		t.Errorf("state = %v, want cancelled", st)
	}
}

func TestCancelCascadesToOwnedChildren(t *testing.T) {
	s, _ := newTestScheduler(t)

	var owned, detached *Handle
	top, err := s.Spawn("parent", func(tc *TaskContext) (any, error) {
		var err error
		owned, err = tc.Spawn("owned", func(tc *TaskContext) (any, error) {
			return nil, tc.Sleep(time.Hour)
		})
		if err != nil {
			return nil, err
		}
		detached, err = tc.Spawn("detached", func(tc *TaskContext) (any, error) {
			return "independent", tc.Sleep(40 * time.Millisecond)
		}, WithDetached())
		if err != nil {
			return nil, err
		}
		return nil, tc.Sleep(time.Hour)
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		top.Cancel()
	}()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st := top.State(); st != StateCancelled {
		t.Errorf("parent state = %v, want cancelled", st)
	}
	if st := owned.State(); st != StateCancelled {
		t.Errorf("owned child state = %v, want cancelled", st)
	}
	if st := detached.State(); st != StateCompleted {
		t.Errorf("detached child state = %v, want completed", st)
	}
}

func TestCancelRunningTaskTakesEffectAtSuspension(t *testing.T) {
	s, _ := newTestScheduler(t)

	sawCtxCancel := false
	h, err := s.Spawn("busy", func(tc *TaskContext) (any, error) {
		// Busy work: cancellation is only marked while the task runs and
		// must take effect at the next suspension point, not before.
		deadline := time.Now().Add(5 * time.Second)
		for tc.Context().Err() == nil && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		sawCtxCancel = tc.Context().Err() != nil
		if err := tc.Sleep(time.Hour); err != nil {
			return nil, err
		}
		return nil, stderrors.New("survived cancellation")
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		h.Cancel()
	}()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sawCtxCancel {
		t.Error("task context was not cancelled while running")
	}
	if st := h.State(); st != StateCancelled {
		t.Errorf("state = %v, want cancelled", st)
	}
}

func TestCancelledIONeverDelivers(t *testing.T) {
	s, _ := newTestScheduler(t)

	release := make(chan struct{})
	resumed := false
	h, err := s.Spawn("io", func(tc *TaskContext) (any, error) {
		err := tc.AwaitOp(func(ctx context.Context) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		})
		resumed = true
		return nil, err
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.Cancel()
		// Let the underlying I/O "complete" after cancellation.
		close(release)
	}()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if resumed {
		t.Error("cancelled task resumed after late I/O completion")
	}
	if st := h.State(); st != StateCancelled {
		t.Errorf("state = %v, want cancelled", st)
	}
}

func TestRunContextCancellationDrainsAll(t *testing.T) {
	s, _ := newTestScheduler(t)

	h, err := s.Spawn("forever", func(tc *TaskContext) (any, error) {
		return nil, tc.Sleep(time.Hour)
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err = s.Run(ctx)
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v, want context.Canceled", err)
	}
	if st := h.State(); st != StateCancelled {
		t.Errorf("state = %v, want cancelled", st)
	}
}

func TestResultBeforeTerminal(t *testing.T) {
	s, _ := newTestScheduler(t)

	h, err := s.Spawn("pending", func(tc *TaskContext) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	// Not yet run: the task is still Ready.
	if _, err := h.Result(); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseSched, Kind: errors.KindInvalidInput}) {
		t.Errorf("Result err = %v, want invalid_input", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestMaxTasksLimit(t *testing.T) {
	s, _ := newTestScheduler(t, WithMaxTasks(1))

	if _, err := s.Spawn("one", func(tc *TaskContext) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	_, err := s.Spawn("two", func(tc *TaskContext) (any, error) { return nil, nil })
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseSched, Kind: errors.KindInvalidInput}) {
		t.Fatalf("second Spawn err = %v, want invalid_input", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSpawnNilFunc(t *testing.T) {
	s, _ := newTestScheduler(t)
	if _, err := s.Spawn("nil", nil); err == nil {
		t.Fatal("expected error for nil task function")
	}
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestScheduler(t)

	if _, err := s.Spawn("a", func(tc *TaskContext) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	st := s.Snapshot()
	if st.Live != 1 || st.Ready != 1 {
		t.Errorf("Snapshot = %+v, want 1 live, 1 ready", st)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st = s.Snapshot()
	if st.Live != 0 {
		t.Errorf("Snapshot after run = %+v, want 0 live", st)
	}
}
