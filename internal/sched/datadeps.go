package sched

import (
	"fmt"

	"weft/internal/gptr"
	"weft/internal/remote"
)

// taskAddr formats a task for log correlation.
func taskAddr(t *Task) string {
	return fmt.Sprintf("%p", t)
}

// handleTaskDeps wires task into the dependency graph: every declared
// dependency either links task behind earlier conflicting tasks, or is
// forwarded to the owning participant.
func (rt *Runtime) handleTaskDeps(task *Task, deps []Dep) error {
	rt.log.Debug("wiring task dependencies",
		"task", taskAddr(task), "ndeps", len(deps), "phase", task.phase)
	for _, dep := range deps {
		switch dep.Kind {
		case DepIgnore:
			continue

		case DepDirect:
			rt.wireDirectDep(task, dep.Task)

		case DepIn, DepOut, DepInOut:
			abs, err := rt.segments.AbsOffset(dep.Ptr)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			if dep.Ptr.Unit != rt.self {
				if task.parent.State() == Root {
					if err := rt.remoteDataDep(task, dep, abs); err != nil {
						return err
					}
				} else {
					rt.log.Warn("ignoring remote dependency in nested task",
						"task", taskAddr(task), "region", dep.Ptr.String())
				}
				continue
			}
			rt.wireLocalDep(task, dep, abs)

		default:
			return fmt.Errorf("%w: %d", ErrUnsupportedDep, dep.Kind)
		}
	}
	return nil
}

// wireDirectDep links task behind an explicitly named earlier task.
func (rt *Runtime) wireDirectDep(task, dep *Task) {
	if dep == nil {
		return
	}
	dep.mu.Lock()
	if s := dep.State(); s != Finished && s != Destroyed {
		rt.lists.prepend(&dep.successors, task)
		n := task.unresolvedDeps.Add(1)
		rt.log.Debug("direct local successor wired",
			"task", taskAddr(task), "pred", taskAddr(dep), "unresolved", n)
	}
	dep.mu.Unlock()
}

// wireLocalDep walks the bucket of the region newest-first, linking
// task behind every conflicting record up to and including the first
// OUT-like one, then records the new dependency in the hash. Stopping
// at the first write realizes last-writer-wins chaining: older records
// are shadowed by that write.
func (rt *Runtime) wireLocalDep(task *Task, dep Dep, abs uint64) {
	elem := rt.deps.allocElem()
	elem.task = task
	elem.kind = dep.Kind
	elem.ptr = dep.Ptr
	elem.addr = abs
	elem.phase = task.phase

	slot := hashOffset(abs)
	h := &rt.deps
	h.bucketMu.Lock()
	for cur := h.buckets[slot]; cur != nil; cur = cur.next {
		if cur.addr == abs && cur.task == task {
			// duplicate (task, region) pairs indicate a caller bug
			h.bucketMu.Unlock()
			rt.log.Error("task already present in dependency hash with same region",
				"task", taskAddr(task), "region", dep.Ptr.String())
			h.recycleElem(elem)
			return
		}
	}
	for cur := h.buckets[slot]; cur != nil; cur = cur.next {
		if cur.addr != abs {
			continue
		}
		pred := cur.task
		pred.mu.Lock()
		if s := pred.State(); s != Finished && s != Destroyed &&
			(isOutKind(dep.Kind) || (dep.Kind == DepIn && isOutKind(cur.kind))) {
			n := task.unresolvedDeps.Add(1)
			rt.lists.prepend(&pred.successors, task)
			rt.log.Debug("local successor wired",
				"task", taskAddr(task), "pred", taskAddr(pred), "unresolved", n)
		}
		pred.mu.Unlock()
		if isOutKind(cur.kind) {
			break
		}
	}
	elem.next = h.buckets[slot]
	h.buckets[slot] = elem
	h.bucketMu.Unlock()
}

// remoteDataDep forwards a dependency on a region owned by another
// participant. The task gains one unresolved dependency that only the
// owner's release message can shed.
func (rt *Runtime) remoteDataDep(task *Task, dep Dep, abs uint64) error {
	ref := rt.refs.register(task)
	task.unresolvedDeps.Add(1)
	req := remote.DepRequest{
		Origin: rt.self,
		Task:   ref,
		Dep: remote.Dep{
			Kind: dep.Kind,
			Ptr:  gptr.Ptr{Unit: dep.Ptr.Unit, Segment: dep.Ptr.Segment, Offset: abs},
		},
		Phase: task.phase,
	}
	if err := rt.transport.DataDep(dep.Ptr.Unit, req); err != nil {
		task.unresolvedDeps.Add(-1)
		rt.refs.take(ref)
		return err
	}
	rt.log.Debug("remote dependency forwarded",
		"task", taskAddr(task), "owner", dep.Ptr.Unit, "region", dep.Ptr.String())
	return nil
}

// releaseLocalTask releases the remote and local successors of a task
// that reached teardown. The caller holds the task's mutex.
func (rt *Runtime) releaseLocalTask(w *worker, task *Task) {
	rt.releaseRemoteSuccessors(task)

	node := task.successors
	for node != nil {
		next := node.next
		succ := node.task
		n := succ.unresolvedDeps.Add(-1)
		rt.log.Debug("local successor released",
			"task", taskAddr(succ), "unresolved", n)
		if n < 0 {
			rt.log.Error("task has negative number of unresolved dependencies",
				"task", taskAddr(succ), "unresolved", n)
		} else if n == 0 {
			rt.enqueueOn(w, succ)
		}
		rt.lists.deallocate(node)
		node = next
	}
	task.successors = nil
}

// releaseRemoteSuccessors transmits a release for every remote task
// waiting on this one and recycles the records.
func (rt *Runtime) releaseRemoteSuccessors(task *Task) {
	rs := task.remoteSuccessors
	for rs != nil {
		next := rs.next
		rel := remote.Release{
			Origin: rt.self,
			Task:   rs.rtask,
			Dep:    remote.Dep{Kind: rs.kind, Ptr: rs.ptr},
		}
		if err := rt.transport.Release(rs.origin, rel); err != nil {
			rt.log.Error("failed to send remote release",
				"origin", rs.origin, "err", err)
		}
		rt.deps.recycleElem(rs)
		rs = next
	}
	task.remoteSuccessors = nil
}

// releaseRemoteDep resolves one remote dependency of a local task. If
// the task belongs to a phase the scheduler has not admitted yet, the
// release is parked until a phase boundary drains it.
func (rt *Runtime) releaseRemoteDep(task *Task) {
	rt.deferredMu.Lock()
	if task.phase > rt.phaseBound.Load() {
		elem := rt.deps.allocElem()
		elem.task = task
		elem.kind = DepDirect
		elem.ptr = gptr.Null()
		elem.next = rt.deferredReleases
		rt.deferredReleases = elem
		rt.log.Debug("deferring remote release",
			"task", taskAddr(task), "phase", task.phase)
	} else {
		rt.shedRemoteDep(task)
	}
	rt.deferredMu.Unlock()
}

func (rt *Runtime) shedRemoteDep(task *Task) {
	n := task.unresolvedDeps.Add(-1)
	rt.log.Debug("remote dependency released",
		"task", taskAddr(task), "unresolved", n)
	if n < 0 {
		rt.log.Error("task with remote dependency has no unresolved dependencies",
			"task", taskAddr(task))
	} else if n == 0 {
		rt.enqueueOn(nil, task)
	}
}

// releaseDeferredRemote drains releases parked by releaseRemoteDep.
// Runs at phase boundaries before the phase bound advances; tasks it
// makes runnable beyond the current bound land on a deferred queue and
// are admitted by the splice that follows.
func (rt *Runtime) releaseDeferredRemote() {
	rt.deferredMu.Lock()
	elem := rt.deferredReleases
	rt.deferredReleases = nil
	for elem != nil {
		next := elem.next
		rt.shedRemoteDep(elem.task)
		rt.deps.recycleElem(elem)
		elem = next
	}
	rt.deferredMu.Unlock()
}

// releaseUnhandledRemote resolves every staged inbound remote request
// against the local dependency history. It runs on the master at root
// task completion, after blocking transport progress, so no local task
// submission races with the bucket scan.
func (rt *Runtime) releaseUnhandledRemote() {
	rt.unhandledMu.Lock()
	rdep := rt.unhandledRemote
	rt.unhandledRemote = nil
	rt.unhandledMu.Unlock()

	for rdep != nil {
		next := rdep.next
		rdep.next = nil
		rt.resolveRemoteRequest(rdep)
		rdep = next
	}

	rt.releaseDeferredRemote()
}

// resolveRemoteRequest classifies the OUT-like active tasks on the
// requested region. A remote IN in phase p reads the output of the
// closest preceding writer (largest phase below p); writers in phase p
// or later would overwrite the reader's input and must themselves wait
// for the remote task.
func (rt *Runtime) resolveRemoteRequest(rdep *depElem) {
	var (
		candidate *Task // fulfillment: largest phase < rdep.phase, kept locked
		directDep *Task // smallest phase >= rdep.phase
	)

	slot := hashOffset(rdep.addr)
	h := &rt.deps
	h.bucketMu.Lock()
	for cur := h.buckets[slot]; cur != nil; cur = cur.next {
		task := cur.task
		task.mu.Lock()
		if cur.addr != rdep.addr || !isOutKind(cur.kind) || !task.isActive() {
			task.mu.Unlock()
			continue
		}
		if task.phase >= rdep.phase {
			task.mu.Unlock()
			if directDep == nil || directDep.phase > task.phase {
				directDep = task
			}
		} else {
			if candidate == nil || task.phase > candidate.phase {
				// hand over: the new candidate stays locked until
				// the request has been attached
				if candidate != nil {
					candidate.mu.Unlock()
				}
				candidate = task
			} else {
				task.mu.Unlock()
			}
		}
	}
	h.bucketMu.Unlock()

	if directDep != nil {
		ref := rt.refs.register(directDep)
		req := remote.DirectRequest{Origin: rt.self, Successor: ref, Target: rdep.rtask}
		if err := rt.transport.DirectTaskDep(rdep.origin, req); err != nil {
			rt.log.Error("failed to send direct task dependency",
				"origin", rdep.origin, "err", err)
			rt.refs.take(ref)
		} else {
			n := directDep.unresolvedDeps.Add(1)
			rt.log.Debug("local task directly depends on remote task",
				"task", taskAddr(directDep), "phase", directDep.phase,
				"remotePhase", rdep.phase, "origin", rdep.origin, "unresolved", n)
		}
	}

	if candidate != nil {
		rt.log.Debug("local task satisfies remote dependency",
			"task", taskAddr(candidate), "origin", rdep.origin)
		rdep.next = candidate.remoteSuccessors
		candidate.remoteSuccessors = rdep
		candidate.mu.Unlock()
		return
	}

	// nobody produces the region locally: release the remote task now
	rt.log.Debug("releasing unsatisfiable remote dependency",
		"origin", rdep.origin, "phase", rdep.phase)
	rel := remote.Release{
		Origin: rt.self,
		Task:   rdep.rtask,
		Dep:    remote.Dep{Kind: rdep.kind, Ptr: rdep.ptr},
	}
	if err := rt.transport.Release(rdep.origin, rel); err != nil {
		rt.log.Error("failed to send remote release", "origin", rdep.origin, "err", err)
	}
	rt.deps.recycleElem(rdep)
}

// remoteHandler adapts the runtime to the transport's inbound surface.
type remoteHandler struct {
	rt *Runtime
}

// HandleDepRequest stages an inbound remote IN dependency; resolution
// is deferred to the next phase boundary so it cannot race with local
// tasks still being submitted.
func (h remoteHandler) HandleDepRequest(req remote.DepRequest) error {
	rt := h.rt
	if req.Dep.Kind != remote.KindIn {
		rt.log.Error("remote dependencies must be IN-typed",
			"kind", req.Dep.Kind.String(), "origin", req.Origin)
		return fmt.Errorf("%w: remote dependency type %s", ErrUnsupportedDep, req.Dep.Kind)
	}
	rt.log.Debug("staging remote dependency request",
		"origin", req.Origin, "phase", req.Phase)
	elem := rt.deps.allocElem()
	elem.rtask = req.Task
	elem.origin = req.Origin
	elem.kind = req.Dep.Kind
	elem.ptr = req.Dep.Ptr
	elem.addr = req.Dep.Ptr.Offset
	elem.phase = req.Phase

	rt.unhandledMu.Lock()
	elem.next = rt.unhandledRemote
	rt.unhandledRemote = elem
	rt.unhandledMu.Unlock()
	return nil
}

// HandleDirectRequest registers a remote successor on a local task, or
// answers with an immediate release when the task already finished.
func (h remoteHandler) HandleDirectRequest(req remote.DirectRequest) error {
	rt := h.rt
	enqueued := false
	if local, ok := rt.refs.peek(req.Target); ok {
		local.mu.Lock()
		if s := local.State(); s != Finished && s != Destroyed {
			elem := rt.deps.allocElem()
			elem.rtask = req.Successor
			elem.origin = req.Origin
			elem.kind = DepDirect
			elem.ptr = gptr.Null()
			elem.next = local.remoteSuccessors
			local.remoteSuccessors = elem
			enqueued = true
		}
		local.mu.Unlock()
	}
	if !enqueued {
		rel := remote.Release{
			Origin: rt.self,
			Task:   req.Successor,
			Dep:    remote.Dep{Kind: remote.KindDirect, Ptr: gptr.Null()},
		}
		return rt.transport.Release(req.Origin, rel)
	}
	return nil
}

// HandleRelease resolves the token carried by an inbound release and
// sheds one remote dependency of the referenced task.
func (h remoteHandler) HandleRelease(rel remote.Release) error {
	rt := h.rt
	task, ok := rt.refs.take(rel.Task)
	if !ok {
		rt.log.Error("release for unknown task reference",
			"ref", rel.Task, "origin", rel.Origin)
		return nil
	}
	rt.releaseRemoteDep(task)
	return nil
}
