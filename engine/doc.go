// Package engine executes payload units as WebAssembly programs on a
// wazero runtime.
//
// An Engine compiles a unit once into a Program; each Program.Main run
// instantiates a fresh module, so instances never share linear memory.
// Guests link against the lantern:host import module, whose functions
// translate blocking intents (sleeping, awaiting a spawned guest task)
// into cooperative suspensions of the task driving the instance. The
// engine itself holds no scheduling state: the task context carried in
// the call context is the only bridge.
//
// A guest that wants coroutines exports lantern_task(i64) -> i64 and
// uses task_spawn/task_await from the host module. Spawned guest tasks
// run on the same instance; the scheduler's single logical thread keeps
// instance access serialized.
package engine
