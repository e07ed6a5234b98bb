package sched

import (
	"fmt"
	"sync"
)

// The process-wide default instance. Library users that do not manage
// their own Runtime go through Init/Fini and the package-level
// operations, mirroring the one-scheduler-per-process model.

var (
	defaultMu sync.Mutex
	defaultRT *Runtime
)

// Init creates the process-wide scheduler. Initializing twice is an
// error.
func Init(opts Options) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRT != nil {
		return fmt.Errorf("%w: tasking subsystem can only be initialized once", ErrInvalid)
	}
	rt, err := New(opts)
	if err != nil {
		return err
	}
	defaultRT = rt
	return nil
}

// Fini tears down the process-wide scheduler.
func Fini() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRT == nil {
		return ErrNotInitialized
	}
	err := defaultRT.Shutdown()
	defaultRT = nil
	return err
}

// Default returns the process-wide scheduler, or nil before Init.
func Default() *Runtime {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRT
}

func defaultRuntime() (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRT == nil {
		return nil, ErrNotInitialized
	}
	return defaultRT, nil
}

// CreateTask submits a task on the process-wide scheduler.
func CreateTask(fn Action, arg any, deps ...Dep) error {
	rt, err := defaultRuntime()
	if err != nil {
		return err
	}
	return rt.CreateTask(fn, arg, deps...)
}

// CreateTaskHandle submits a task with a handle on the process-wide
// scheduler.
func CreateTaskHandle(fn Action, arg any, deps ...Dep) (*Handle, error) {
	rt, err := defaultRuntime()
	if err != nil {
		return nil, err
	}
	return rt.CreateTaskHandle(fn, arg, deps...)
}

// TaskWait waits on a handle on the process-wide scheduler.
func TaskWait(h *Handle) error {
	rt, err := defaultRuntime()
	if err != nil {
		return err
	}
	return rt.TaskWait(h)
}

// TaskComplete completes the root task on the process-wide scheduler.
func TaskComplete() error {
	rt, err := defaultRuntime()
	if err != nil {
		return err
	}
	return rt.TaskComplete()
}

// Phase advances the phase of the process-wide scheduler.
func Phase() error {
	rt, err := defaultRuntime()
	if err != nil {
		return err
	}
	return rt.Phase()
}
