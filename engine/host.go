package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/sched"
)

// HostModule is the import module name guests link against.
const HostModule = "lantern:host"

// taskExport is the guest export driven by task_spawn. Guests that
// never spawn need not export it.
const taskExport = "lantern_task"

// task_await result codes.
const (
	awaitOK      int32 = 0
	awaitFailed  int32 = 1
	awaitUnknown int32 = 2
)

func (e *Engine) instantiateHost(ctx context.Context) error {
	b := e.runtime.NewHostModuleBuilder(HostModule)

	b.NewFunctionBuilder().WithFunc(hostNowMS).Export("now_ms")
	b.NewFunctionBuilder().WithFunc(hostSleepMS).Export("sleep_ms")
	b.NewFunctionBuilder().WithFunc(hostYield).Export("yield")
	b.NewFunctionBuilder().WithFunc(hostPrint).Export("print")
	b.NewFunctionBuilder().WithFunc(hostRandomGet).Export("random_get")
	b.NewFunctionBuilder().WithFunc(hostArgsCount).Export("args_count")
	b.NewFunctionBuilder().WithFunc(hostArgSize).Export("arg_size")
	b.NewFunctionBuilder().WithFunc(hostArgRead).Export("arg_read")
	b.NewFunctionBuilder().WithFunc(hostFileSize).Export("file_size")
	b.NewFunctionBuilder().WithFunc(hostFileRead).Export("file_read")
	b.NewFunctionBuilder().WithFunc(hostTaskSpawn).Export("task_spawn")
	b.NewFunctionBuilder().WithFunc(hostTaskAwait).Export("task_await")
	b.NewFunctionBuilder().WithFunc(hostTaskCancel).Export("task_cancel")

	if _, err := b.Instantiate(ctx); err != nil {
		return errors.Load("instantiate host module", err)
	}
	return nil
}

// mustRead traps the guest on an out-of-bounds memory range.
func mustRead(m api.Module, ptr, n uint32) []byte {
	buf, ok := m.Memory().Read(ptr, n)
	if !ok {
		panic(errors.InvalidInput(errors.PhaseEngine,
			fmt.Sprintf("guest memory range [%d,+%d) out of bounds", ptr, n)))
	}
	return buf
}

func mustWrite(m api.Module, ptr uint32, data []byte) {
	if !m.Memory().Write(ptr, data) {
		panic(errors.InvalidInput(errors.PhaseEngine,
			fmt.Sprintf("guest memory range [%d,+%d) out of bounds", ptr, len(data))))
	}
}

func hostNowMS(context.Context) int64 {
	return time.Now().UnixMilli()
}

// hostSleepMS suspends the calling task. Negative durations sleep zero,
// which still yields the logical thread once.
func hostSleepMS(ctx context.Context, ms int64) {
	tc := taskFrom(ctx)
	if ms < 0 {
		ms = 0
	}
	_ = tc.Sleep(time.Duration(ms) * time.Millisecond)
}

func hostYield(ctx context.Context) {
	_ = taskFrom(ctx).Sleep(0)
}

func hostPrint(ctx context.Context, m api.Module, ptr, n uint32) {
	st := stateFrom(ctx)
	buf := mustRead(m, ptr, n)
	if _, err := st.prog.eng.stdout.Write(buf); err != nil {
		Logger().Warn("guest print dropped", zap.Error(err))
	}
}

func hostRandomGet(ctx context.Context, m api.Module, ptr, n uint32) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(errors.IOFailure(errors.PhaseEngine, "random source", err))
	}
	mustWrite(m, ptr, buf)
}

func hostArgsCount(ctx context.Context) uint32 {
	return uint32(len(stateFrom(ctx).prog.args))
}

func hostArgSize(ctx context.Context, i uint32) int32 {
	args := stateFrom(ctx).prog.args
	if int(i) >= len(args) {
		return -1
	}
	return int32(len(args[i]))
}

func hostArgRead(ctx context.Context, m api.Module, i, dst uint32) int32 {
	args := stateFrom(ctx).prog.args
	if int(i) >= len(args) {
		return -1
	}
	mustWrite(m, dst, []byte(args[i]))
	return int32(len(args[i]))
}

func hostFileSize(ctx context.Context, m api.Module, nptr, nlen uint32) int64 {
	st := stateFrom(ctx)
	name := string(mustRead(m, nptr, nlen))
	data, ok := st.prog.unit.Files[name]
	if !ok {
		return -1
	}
	return int64(len(data))
}

func hostFileRead(ctx context.Context, m api.Module, nptr, nlen, dst uint32) int64 {
	st := stateFrom(ctx)
	name := string(mustRead(m, nptr, nlen))
	data, ok := st.prog.unit.Files[name]
	if !ok {
		return -1
	}
	mustWrite(m, dst, data)
	return int64(len(data))
}

// hostTaskSpawn starts a guest coroutine: a child task that calls the
// instance's lantern_task export with arg. Returns the child's id, or 0
// when the export is missing or the scheduler refuses the spawn.
func hostTaskSpawn(ctx context.Context, arg int64) int64 {
	tc, st := taskFrom(ctx), stateFrom(ctx)

	entry := st.inst.ExportedFunction(taskExport)
	if entry == nil {
		Logger().Debug("task_spawn without guest export",
			zap.String("program", st.prog.name))
		return 0
	}

	name := fmt.Sprintf("%s/task(%d)", st.prog.name, arg)
	h, err := tc.Spawn(name, func(child *sched.TaskContext) (any, error) {
		res, err := entry.Call(hostContext(child, st), api.EncodeI64(arg))
		if err != nil {
			return nil, errors.New(errors.PhaseEngine, errors.KindTaskFailed).
				Detail("guest task(%d) trapped", arg).
				Cause(err).
				Build()
		}
		if len(res) > 0 {
			return res[0], nil
		}
		return uint64(0), nil
	})
	if err != nil {
		Logger().Debug("task_spawn rejected", zap.Error(err))
		return 0
	}

	st.handles[int64(h.ID())] = h
	return int64(h.ID())
}

// hostTaskAwait blocks the calling task until the child settles. On
// success the child's result is written to out as a little-endian u64.
func hostTaskAwait(ctx context.Context, m api.Module, id int64, out uint32) int32 {
	tc, st := taskFrom(ctx), stateFrom(ctx)

	h, ok := st.handles[id]
	if !ok {
		return awaitUnknown
	}
	delete(st.handles, id)

	v, err := tc.Await(h)
	if err != nil {
		return awaitFailed
	}
	u, _ := v.(uint64)
	if !m.Memory().WriteUint64Le(out, u) {
		panic(errors.InvalidInput(errors.PhaseEngine,
			fmt.Sprintf("guest memory range [%d,+8) out of bounds", out)))
	}
	return awaitOK
}

func hostTaskCancel(ctx context.Context, id int64) {
	st := stateFrom(ctx)
	if h, ok := st.handles[id]; ok {
		h.Cancel()
	}
}
