package sched

import (
	"sync"
	"sync/atomic"

	"weft/internal/gptr"
	"weft/internal/remote"
)

// State is the lifecycle state of a task. Transitions are monotonic:
// Created -> Running -> Teardown -> Finished -> Destroyed. Root is the
// stable state of the root sentinel.
type State uint32

const (
	Created State = iota
	Running
	Teardown
	Finished
	Destroyed
	Root
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Teardown:
		return "teardown"
	case Finished:
		return "finished"
	case Destroyed:
		return "destroyed"
	case Root:
		return "root"
	default:
		return "unknown"
	}
}

// Action is the function body of a task. The TaskCtx identifies the
// executing worker; nested submissions and waits go through it.
type Action func(tc *TaskCtx, arg any)

// DepKind aliases the wire-level dependency type so declared and
// transmitted dependencies share one vocabulary.
type DepKind = remote.DepKind

// Dependency kinds accepted by CreateTask.
const (
	DepIgnore = remote.KindIgnore
	DepIn     = remote.KindIn
	DepOut    = remote.KindOut
	DepInOut  = remote.KindInOut
	DepDirect = remote.KindDirect
)

// Dep declares one dependency of a task: a typed reference to a global
// memory region, or a direct reference to an earlier task.
type Dep struct {
	Kind DepKind
	Ptr  gptr.Ptr
	Task *Task // target for DepDirect; ignored otherwise
}

// In declares a read dependency on a region.
func In(p gptr.Ptr) Dep { return Dep{Kind: DepIn, Ptr: p} }

// Out declares a write dependency on a region.
func Out(p gptr.Ptr) Dep { return Dep{Kind: DepOut, Ptr: p} }

// InOut declares a read-write dependency on a region.
func InOut(p gptr.Ptr) Dep { return Dep{Kind: DepInOut, Ptr: p} }

// Direct declares an explicit ordering after an earlier task.
func Direct(t *Task) Dep { return Dep{Kind: DepDirect, Ptr: gptr.Null(), Task: t} }

func isOutKind(k DepKind) bool {
	return k == DepOut || k == DepInOut
}

// Task is the unit of work. Queue links and list heads are intrusive;
// a finished task is recycled through the runtime's free lists unless a
// user handle keeps it alive for an explicit wait.
type Task struct {
	next *Task // intrusive link: run queue, recycle and free lists
	prev *Task // intrusive link: run queue only

	fn  Action
	arg any

	parent *Task

	numChildren    atomic.Int32
	unresolvedDeps atomic.Int32

	phase uint64

	state atomic.Uint32 // State; compound transitions happen under mu

	successors       *listNode // local tasks to release on finish
	remoteSuccessors *depElem  // remote releases to send on finish

	hasRef bool

	// mu guards state transitions and successor list mutation.
	mu sync.Mutex
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) setState(s State) {
	t.state.Store(uint32(s))
}

// Phase returns the phase the task was created in.
func (t *Task) Phase() uint64 {
	return t.phase
}

// isActive reports whether the task may still produce data, i.e. it has
// been created or is running but has not reached teardown.
func (t *Task) isActive() bool {
	s := t.State()
	return s == Created || s == Running
}

// Handle is a user reference to a task created with CreateTaskHandle.
// It stays valid until TaskWait destroys the task.
type Handle struct {
	task *Task
}

// Task returns the referenced task, e.g. as the target of a Direct
// dependency. Nil after the handle was consumed by TaskWait.
func (h *Handle) Task() *Task {
	if h == nil {
		return nil
	}
	return h.task
}
