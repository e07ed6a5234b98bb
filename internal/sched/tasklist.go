package sched

import (
	"sync"
	"sync/atomic"
)

// listNode is one element of a task's local successor list.
type listNode struct {
	next *listNode
	task *Task
}

// listPool recycles successor list nodes across the whole runtime.
// Allocation is double-checked: the head is read without the lock and
// the lock is only taken when a reusable node is likely present.
type listPool struct {
	mu   sync.Mutex
	head atomic.Pointer[listNode]
}

// prepend pushes task onto the list. The caller must hold the mutex of
// the task owning the list.
func (p *listPool) prepend(list **listNode, task *Task) {
	node := p.allocate()
	node.task = task
	node.next = *list
	*list = node
}

func (p *listPool) allocate() *listNode {
	var node *listNode
	if p.head.Load() != nil {
		p.mu.Lock()
		if n := p.head.Load(); n != nil {
			p.head.Store(n.next)
			node = n
		}
		p.mu.Unlock()
	}
	if node == nil {
		node = &listNode{}
	}
	node.next = nil
	return node
}

// deallocate returns a node to the free list.
func (p *listPool) deallocate(node *listNode) {
	node.task = nil
	p.mu.Lock()
	node.next = p.head.Load()
	p.head.Store(node)
	p.mu.Unlock()
}

// finalize drops the free list.
func (p *listPool) finalize() {
	p.mu.Lock()
	p.head.Store(nil)
	p.mu.Unlock()
}
