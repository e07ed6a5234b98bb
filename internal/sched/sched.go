// Package sched implements a per-participant work-stealing task
// scheduler with data-flow dependency tracking across local and remote
// participants. Tasks declare read and write dependencies on globally
// addressable memory regions; the scheduler runs a task once every
// local predecessor has finished and every remote release arrived,
// while keeping all workers busy through work stealing.
package sched

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"fortio.org/safecast"

	"weft/internal/gptr"
	"weft/internal/hwinfo"
	"weft/internal/logging"
	"weft/internal/remote"
)

// Options configures a Runtime.
type Options struct {
	// Workers is the worker count; 0 probes the hardware topology.
	Workers int
	// Self is this participant's id in the cluster job.
	Self gptr.UnitID
	// Transport carries dependency traffic to other participants.
	// Nil selects a single-participant loopback.
	Transport remote.Transport
	// Segments resolves global pointers to absolute offsets.
	// Nil selects an empty segment table.
	Segments gptr.Resolver
	// Logger receives scheduler traces. Nil discards them.
	Logger *slog.Logger
}

// Runtime is one participant's scheduler instance. The goroutine that
// created it is the master: only the master may submit top-level
// tasks, advance phases, and complete the root task.
type Runtime struct {
	self      gptr.UnitID
	segments  gptr.Resolver
	transport remote.Transport
	log       *slog.Logger

	// parallel is cleared to stop the workers cooperatively.
	parallel atomic.Bool

	poolMu    sync.Mutex
	taskAvail *sync.Cond

	workers    []*worker
	numWorkers int

	// root is the sentinel parent of all top-level tasks. Its phase
	// field is the participant's phase counter, touched only by the
	// master.
	root Task

	phaseBound atomic.Uint64

	recycleMu   sync.Mutex
	recycleList *Task
	freeHead    atomic.Pointer[Task]

	deps  depHash
	lists listPool
	refs  refTable

	unhandledMu     sync.Mutex
	unhandledRemote *depElem

	deferredMu       sync.Mutex
	deferredReleases *depElem

	// progressing remembers the worker last driving the transport so
	// inbound releases can enqueue with some locality.
	progressing atomic.Pointer[worker]

	wg sync.WaitGroup
}

// New creates and starts a scheduler instance. Worker goroutines spin
// up immediately; the calling goroutine becomes the master and owns
// worker slot 0.
func New(opts Options) (*Runtime, error) {
	n := opts.Workers
	if n == 0 {
		n = hwinfo.Probe().WorkerCount()
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: worker count %d", ErrInvalid, opts.Workers)
	}
	if _, err := safecast.Conv[int32](n); err != nil {
		return nil, fmt.Errorf("%w: worker count %d", ErrInvalid, n)
	}

	rt := &Runtime{
		self:       opts.Self,
		segments:   opts.Segments,
		transport:  opts.Transport,
		log:        opts.Logger,
		numWorkers: n,
	}
	if rt.log == nil {
		rt.log = logging.Discard()
	}
	if rt.segments == nil {
		rt.segments = &gptr.Segments{}
	}
	if rt.transport == nil {
		bus, err := remote.NewBus(1)
		if err != nil {
			return nil, err
		}
		ep, err := bus.Endpoint(0)
		if err != nil {
			return nil, err
		}
		if opts.Self != 0 {
			return nil, fmt.Errorf("%w: unit %d needs an explicit transport", ErrInvalid, opts.Self)
		}
		rt.transport = ep
	}

	rt.root.setState(Root)
	rt.taskAvail = sync.NewCond(&rt.poolMu)

	if err := rt.transport.Init(rt.self, remoteHandler{rt: rt}); err != nil {
		return nil, fmt.Errorf("failed to initialize transport: %w", err)
	}

	rt.parallel.Store(true)

	rt.workers = make([]*worker, n)
	for i := 0; i < n; i++ {
		rt.workers[i] = newWorker(rt, i)
	}
	rt.workers[0].current = &rt.root

	rt.log.Info("scheduler started", "unit", rt.self, "workers", n)

	for i := 1; i < n; i++ {
		rt.wg.Add(1)
		go rt.workers[i].run()
	}
	return rt, nil
}

// Shutdown stops the workers cooperatively, tears down the transport
// and drops all recycled storage. Outstanding tasks are not awaited;
// call TaskComplete first.
func (rt *Runtime) Shutdown() error {
	if !rt.parallel.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: scheduler is not running", ErrInvalid)
	}
	rt.log.Debug("tearing down scheduler", "unit", rt.self)

	// wake up all workers waiting for work
	rt.poolMu.Lock()
	rt.taskAvail.Broadcast()
	rt.poolMu.Unlock()

	rt.wg.Wait()

	for _, w := range rt.workers {
		w.finalize()
	}
	rt.deps.finalize()
	rt.lists.finalize()
	rt.refs.finalize()

	rt.recycleMu.Lock()
	rt.recycleList = nil
	rt.freeHead.Store(nil)
	rt.recycleMu.Unlock()

	err := rt.transport.Fini()
	rt.log.Debug("scheduler teardown finished", "unit", rt.self)
	return err
}

// Unit returns this participant's id.
func (rt *Runtime) Unit() gptr.UnitID {
	return rt.self
}

// NumThreads returns the worker count.
func (rt *Runtime) NumThreads() int {
	return rt.numWorkers
}

// CurrentTask returns the task running on the master, or the root
// sentinel outside of any task.
func (rt *Runtime) CurrentTask() *Task {
	return rt.workers[0].current
}

// Progress serves inbound dependency traffic without blocking. Worker
// loops call it between tasks; exposing it lets callers drive the
// transport while busy outside the scheduler.
func (rt *Runtime) Progress() error {
	return rt.transport.Progress()
}

// PhaseBound returns the newest phase admitted for execution.
func (rt *Runtime) PhaseBound() uint64 {
	return rt.phaseBound.Load()
}

// CreateTask submits a task with the given dependencies. The task
// becomes runnable once all dependencies are resolved. Master only;
// tasks submit nested children through their TaskCtx.
func (rt *Runtime) CreateTask(fn Action, arg any, deps ...Dep) error {
	return rt.createTaskOn(rt.workers[0], fn, arg, deps, nil)
}

// CreateTaskHandle submits a task like CreateTask and returns a handle
// for an explicit TaskWait. The task is not recycled until then.
func (rt *Runtime) CreateTaskHandle(fn Action, arg any, deps ...Dep) (*Handle, error) {
	h := &Handle{}
	if err := rt.createTaskOn(rt.workers[0], fn, arg, deps, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (rt *Runtime) createTaskOn(w *worker, fn Action, arg any, deps []Dep, h *Handle) error {
	if fn == nil {
		return fmt.Errorf("%w: task function must not be nil", ErrInvalid)
	}
	if !rt.parallel.Load() {
		return fmt.Errorf("%w: scheduler is not running", ErrInvalid)
	}

	task := rt.allocTask()
	task.fn = fn
	task.arg = arg
	task.parent = w.current
	task.setState(Created)
	task.phase = task.parent.phase
	task.hasRef = h != nil
	task.numChildren.Store(0)
	task.unresolvedDeps.Store(0)

	nc := task.parent.numChildren.Add(1)
	rt.log.Debug("task created",
		"task", taskAddr(task), "parent", taskAddr(task.parent), "children", nc)

	if err := rt.handleTaskDeps(task, deps); err != nil {
		task.parent.numChildren.Add(-1)
		rt.destroyTask(task)
		return err
	}
	if h != nil {
		h.task = task
	}
	if task.unresolvedDeps.Load() == 0 {
		rt.enqueueOn(w, task)
	}
	return nil
}

// TaskWait drives the scheduler until the referenced task finishes,
// then destroys the task and invalidates the handle. Master only;
// tasks wait on handles through their TaskCtx.
func (rt *Runtime) TaskWait(h *Handle) error {
	return rt.taskWaitOn(rt.workers[0], h)
}

func (rt *Runtime) taskWaitOn(w *worker, h *Handle) error {
	if h == nil || h.task == nil || h.task.State() == Destroyed {
		return fmt.Errorf("%w: wait on an invalid task handle", ErrInvalid)
	}
	task := h.task
	// contribute to execution until the awaited task finishes
	for task.State() != Finished {
		rt.progressOn(w)
		rt.executeOn(w, rt.nextTask(w))
	}
	rt.destroyTask(task)
	h.task = nil
	return nil
}

// TaskComplete waits for all children of the current task. On the root
// task it is the participant's phase boundary: inbound remote requests
// are resolved, the phase bound advances, deferred tasks are admitted
// and, once the epoch drained, the dependency history is reset. Root
// completion is master only.
func (rt *Runtime) TaskComplete() error {
	return rt.taskCompleteOn(rt.workers[0])
}

func (rt *Runtime) taskCompleteOn(w *worker) error {
	cur := w.current
	if cur == &rt.root && w.id != 0 {
		rt.log.Error("root task completion is only valid on the master thread",
			"worker", w.id)
		return fmt.Errorf("%w: root task completion outside the master thread", ErrInvalid)
	}

	if cur == &rt.root {
		// make sure all incoming requests have been served before
		// resolving them against the local history
		if err := rt.transport.ProgressBlocking(); err != nil {
			rt.log.Error("blocking transport progress failed", "err", err)
		}
		rt.releaseUnhandledRemote()
		// admit every submitted phase and the tasks parked for them
		rt.phaseBound.Store(rt.root.phase)
		for _, ww := range rt.workers {
			ww.queue.moveFrom(&ww.deferred)
		}
	}

	rt.poolMu.Lock()
	rt.taskAvail.Broadcast()
	rt.poolMu.Unlock()

	for cur.numChildren.Load() > 0 {
		rt.progressOn(w)
		rt.executeOn(w, rt.nextTask(w))
	}

	if cur == &rt.root {
		rt.deps.reset()
		rt.promoteRecycled()
	}
	return nil
}

// Phase advances the participant's phase counter. Master only.
func (rt *Runtime) Phase() error {
	rt.progressOn(rt.workers[0])
	rt.endPhase(rt.root.phase)
	rt.root.phase++
	rt.log.Info("starting task phase", "phase", rt.root.phase)
	return nil
}

// endPhase is the resolver's phase-end hook. Nothing to be done for
// now.
func (rt *Runtime) endPhase(uint64) {
}

// EnqueueRunnable queues a task whose dependencies are resolved. Tasks
// from phases beyond the current bound are parked on a deferred queue
// and admitted at the next root completion.
func (rt *Runtime) EnqueueRunnable(task *Task) {
	rt.enqueueOn(nil, task)
}

func (rt *Runtime) enqueueOn(w *worker, task *Task) {
	if w == nil {
		if w = rt.progressing.Load(); w == nil {
			w = rt.workers[0]
		}
	}
	q := &w.queue
	if task.phase > rt.phaseBound.Load() {
		q = &w.deferred
	}
	q.pushFront(task)
}

func (rt *Runtime) progressOn(w *worker) {
	if w != nil {
		rt.progressing.Store(w)
	}
	if err := rt.transport.Progress(); err != nil {
		rt.log.Error("transport progress failed", "err", err)
	}
}

// allocTask reuses a record from the free list or allocates fresh.
func (rt *Runtime) allocTask() *Task {
	var task *Task
	if rt.freeHead.Load() != nil {
		rt.recycleMu.Lock()
		if head := rt.freeHead.Load(); head != nil {
			rt.freeHead.Store(head.next)
			head.next = nil
			task = head
		}
		rt.recycleMu.Unlock()
	}
	if task == nil {
		task = &Task{}
	}
	return task
}

// destroyTask resets a task record and parks it on the recycle list.
// Recycled records become allocatable again only when the epoch
// drained, so no other thread still holds a pointer into them.
func (rt *Runtime) destroyTask(task *Task) {
	task.fn = nil
	task.arg = nil
	task.parent = nil
	task.phase = 0
	task.prev = nil
	task.successors = nil
	task.remoteSuccessors = nil
	task.hasRef = false
	task.setState(Destroyed)

	rt.recycleMu.Lock()
	task.next = rt.recycleList
	rt.recycleList = task
	rt.recycleMu.Unlock()
}

// promoteRecycled makes the records destroyed during the finished
// epoch allocatable again.
func (rt *Runtime) promoteRecycled() {
	rt.recycleMu.Lock()
	rt.freeHead.Store(rt.recycleList)
	rt.recycleList = nil
	rt.recycleMu.Unlock()
}

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	Worker   int    `json:"worker"`
	Executed uint64 `json:"executed"`
	Stolen   uint64 `json:"stolen"`
}

// Stats returns per-worker execution counters.
func (rt *Runtime) Stats() []WorkerStats {
	stats := make([]WorkerStats, len(rt.workers))
	for i, w := range rt.workers {
		stats[i] = WorkerStats{
			Worker:   i,
			Executed: w.executed.Load(),
			Stolen:   w.stolen.Load(),
		}
	}
	return stats
}
