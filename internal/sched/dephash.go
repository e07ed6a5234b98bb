package sched

import (
	"sync"
	"sync/atomic"

	"weft/internal/gptr"
	"weft/internal/remote"
)

// depHashSize is the fixed bucket count of the dependency hash.
const depHashSize = 1024

// hashOffset folds an absolute region offset into a bucket index.
// The low three bits carry no information because regions are assumed
// 8-byte aligned; the shift triplet (7, 11, 17) is Marsaglia's.
func hashOffset(off uint64) int {
	off >>= 3
	return int((off ^ (off >> 7) ^ (off >> 11) ^ (off >> 17)) % depHashSize)
}

// depElem is one dependency record. It lives either in a hash bucket,
// in a task's remote successor stack, or on one of the staging lists.
// Exactly one of task and rtask identifies the dependent task: task for
// local tasks, rtask for tasks on other participants.
type depElem struct {
	next   *depElem
	task   *Task
	rtask  remote.TaskRef
	origin gptr.UnitID
	kind   DepKind
	ptr    gptr.Ptr
	addr   uint64 // absolute region offset, the unit of matching
	phase  uint64
}

func (e *depElem) reset() {
	e.next = nil
	e.task = nil
	e.rtask = 0
	e.origin = 0
	e.kind = DepIgnore
	e.ptr = gptr.Ptr{}
	e.addr = 0
	e.phase = 0
}

// depHash maps absolute region offsets to stacks of dependency
// records, newest first, scoped by phase. Buckets and the record pool
// have separate locks so record allocation under a task mutex cannot
// deadlock against a bucket walk locking task mutexes.
type depHash struct {
	bucketMu sync.Mutex
	buckets  [depHashSize]*depElem

	poolMu sync.Mutex
	free   atomic.Pointer[depElem]
}

// allocElem takes a record from the free list or allocates a fresh one.
func (h *depHash) allocElem() *depElem {
	var elem *depElem
	if h.free.Load() != nil {
		h.poolMu.Lock()
		if e := h.free.Load(); e != nil {
			h.free.Store(e.next)
			elem = e
		}
		h.poolMu.Unlock()
	}
	if elem == nil {
		elem = &depElem{}
	}
	elem.next = nil
	return elem
}

// recycleElem returns a record to the free list.
func (h *depHash) recycleElem(elem *depElem) {
	if elem == nil {
		return
	}
	elem.reset()
	h.poolMu.Lock()
	elem.next = h.free.Load()
	h.free.Store(elem)
	h.poolMu.Unlock()
}

// reset recycles every record in every bucket. Called at the end of a
// work epoch when no task submission is in flight.
func (h *depHash) reset() {
	h.bucketMu.Lock()
	for i := range h.buckets {
		elem := h.buckets[i]
		for elem != nil {
			next := elem.next
			h.recycleElem(elem)
			elem = next
		}
		h.buckets[i] = nil
	}
	h.bucketMu.Unlock()
}

// finalize resets the table and frees the record pool.
func (h *depHash) finalize() {
	h.reset()
	h.poolMu.Lock()
	h.free.Store(nil)
	h.poolMu.Unlock()
}
