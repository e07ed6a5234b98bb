package sched

import (
	"sync"

	"weft/internal/remote"
)

// refTable mints opaque tokens for local tasks that travel to other
// participants inside dependency messages. A token stays resolvable
// until the matching release has been received.
type refTable struct {
	mu   sync.Mutex
	next remote.TaskRef
	m    map[remote.TaskRef]*Task
}

// register mints a token for task. Every token receives exactly one
// release from the participant it was sent to.
func (r *refTable) register(task *Task) remote.TaskRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[remote.TaskRef]*Task)
	}
	r.next++
	ref := r.next
	r.m[ref] = task
	return ref
}

// peek resolves a token without consuming it.
func (r *refTable) peek(ref remote.TaskRef) (*Task, bool) {
	r.mu.Lock()
	task, ok := r.m[ref]
	r.mu.Unlock()
	return task, ok
}

// take resolves a token and drops it.
func (r *refTable) take(ref remote.TaskRef) (*Task, bool) {
	r.mu.Lock()
	task, ok := r.m[ref]
	if ok {
		delete(r.m, ref)
	}
	r.mu.Unlock()
	return task, ok
}

// finalize drops every outstanding token.
func (r *refTable) finalize() {
	r.mu.Lock()
	r.m = nil
	r.mu.Unlock()
}
