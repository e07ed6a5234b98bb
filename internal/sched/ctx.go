package sched

import "fmt"

// TaskCtx identifies the worker executing a task. It is handed to
// every task function and is the only way nested work learns its
// parent and home queue.
type TaskCtx struct {
	rt *Runtime
	w  *worker
}

// CreateTask submits a child of the current task. Remote dependencies
// are only honored on direct children of the root task.
func (tc *TaskCtx) CreateTask(fn Action, arg any, deps ...Dep) error {
	return tc.rt.createTaskOn(tc.w, fn, arg, deps, nil)
}

// CreateTaskHandle submits a child and returns a handle for an
// explicit wait.
func (tc *TaskCtx) CreateTaskHandle(fn Action, arg any, deps ...Dep) (*Handle, error) {
	h := &Handle{}
	if err := tc.rt.createTaskOn(tc.w, fn, arg, deps, h); err != nil {
		return nil, err
	}
	return h, nil
}

// TaskComplete waits for all children of the current task, executing
// available work in the meantime.
func (tc *TaskCtx) TaskComplete() error {
	return tc.rt.taskCompleteOn(tc.w)
}

// TaskWait drives the scheduler until the referenced task finishes.
func (tc *TaskCtx) TaskWait(h *Handle) error {
	return tc.rt.taskWaitOn(tc.w, h)
}

// Current returns the task executing on this worker.
func (tc *TaskCtx) Current() *Task {
	return tc.w.current
}

// ThreadNum returns the executing worker's slot.
func (tc *TaskCtx) ThreadNum() int {
	return tc.w.id
}

// NumThreads returns the worker count of the runtime.
func (tc *TaskCtx) NumThreads() int {
	return tc.rt.numWorkers
}

// Phase advances the participant phase. Switching phases is only
// valid on the master thread.
func (tc *TaskCtx) Phase() error {
	if tc.w.id != 0 {
		return fmt.Errorf("%w: switching phases outside the master thread", ErrInvalid)
	}
	return tc.rt.Phase()
}

// Runtime returns the owning scheduler instance.
func (tc *TaskCtx) Runtime() *Runtime {
	return tc.rt
}
