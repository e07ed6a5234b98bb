package sched

import (
	"runtime"
	"sync/atomic"
)

// worker is one execution thread of the pool. Slot 0 belongs to the
// master goroutine; the remaining slots run their own goroutines.
type worker struct {
	id int
	rt *Runtime

	queue    taskQueue
	deferred taskQueue

	// current is the task executing on this worker, or the root
	// sentinel between tasks. Only the worker itself touches it.
	current *Task

	executed atomic.Uint64
	stolen   atomic.Uint64
}

func newWorker(rt *Runtime, id int) *worker {
	w := &worker{id: id, rt: rt}
	w.queue.init()
	w.deferred.init()
	return w
}

func (w *worker) finalize() {
	w.current = nil
	w.queue.finalize()
	w.deferred.finalize()
}

// run is the worker main loop: progress the transport, execute tasks,
// and sleep when no work is in flight. The last worker never sleeps;
// it keeps the message queue moving while everyone else does.
func (w *worker) run() {
	rt := w.rt
	defer rt.wg.Done()

	w.current = &rt.root

	for rt.parallel.Load() {
		rt.progressOn(w)
		task := rt.nextTask(w)
		if task != nil {
			rt.executeOn(w, task)
		} else {
			runtime.Gosched()
		}
		// only go to sleep if no tasks are in flight
		if rt.root.numChildren.Load() == 0 {
			if w.id == rt.numWorkers-1 {
				rt.progressOn(w)
			} else {
				rt.waitForWork()
			}
		}
	}

	rt.log.Debug("worker exiting", "worker", w.id)
}

// waitForWork blocks until the next task-available broadcast. The
// predicates are rechecked under the pool mutex so a broadcast between
// check and wait cannot be lost.
func (rt *Runtime) waitForWork() {
	rt.poolMu.Lock()
	if rt.parallel.Load() && rt.root.numChildren.Load() == 0 {
		rt.taskAvail.Wait()
	}
	rt.poolMu.Unlock()
}

// nextTask pops from the worker's own queue, then round-robins
// stealing from the tail of the other workers' queues.
func (rt *Runtime) nextTask(w *worker) *Task {
	if task := w.queue.popFront(); task != nil {
		return task
	}
	n := rt.numWorkers
	for i := (w.id + 1) % n; i != w.id; i = (i + 1) % n {
		if task := rt.workers[i].queue.popBack(); task != nil {
			w.stolen.Add(1)
			rt.log.Debug("stole task", "worker", w.id, "victim", i, "task", taskAddr(task))
			return task
		}
	}
	return nil
}

// executeOn runs a task on a worker: invoke the function, drain its
// children, then release successors during teardown and recycle the
// record unless a user handle exists.
func (rt *Runtime) executeOn(w *worker, task *Task) {
	if task == nil {
		return
	}
	rt.log.Debug("executing task", "worker", w.id, "task", taskAddr(task))

	// save current task and set to new task
	prev := w.current
	w.current = task

	fn := task.fn
	arg := task.arg

	task.mu.Lock()
	task.setState(Running)
	task.mu.Unlock()

	tc := &TaskCtx{rt: rt, w: w}
	fn(tc, arg)

	// implicit wait for child tasks
	_ = rt.taskCompleteOn(w)

	// the task mutex makes the teardown transition atomic against
	// remote successors being staged concurrently
	task.mu.Lock()
	task.setState(Teardown)
	rt.releaseLocalTask(w, task)
	task.setState(Finished)
	task.mu.Unlock()

	nc := task.parent.numChildren.Add(-1)
	rt.log.Debug("task finished",
		"task", taskAddr(task), "parent", taskAddr(task.parent), "children", nc)

	w.executed.Add(1)

	// referenced tasks are destroyed in TaskWait
	if !task.hasRef {
		rt.destroyTask(task)
	}

	w.current = prev
}
