package sched

import "testing"

func newQueueTasks(n int) []*Task {
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = &Task{}
	}
	return tasks
}

func TestQueuePushPopFront(t *testing.T) {
	var q taskQueue
	q.init()

	tasks := newQueueTasks(3)
	for _, task := range tasks {
		q.pushFront(task)
	}
	// head pops return newest first
	for i := 2; i >= 0; i-- {
		if got := q.popFront(); got != tasks[i] {
			t.Fatalf("popFront: want task %d, got %p", i, got)
		}
	}
	if q.popFront() != nil {
		t.Fatalf("popFront on empty queue must return nil")
	}
	if !q.isEmpty() {
		t.Fatalf("queue must be empty after draining")
	}
}

func TestQueuePopBackStealsOldest(t *testing.T) {
	var q taskQueue
	q.init()

	tasks := newQueueTasks(3)
	for _, task := range tasks {
		q.pushFront(task)
	}
	if got := q.popBack(); got != tasks[0] {
		t.Fatalf("popBack must return the oldest task")
	}
	if got := q.popFront(); got != tasks[2] {
		t.Fatalf("popFront must return the newest task")
	}
	if got := q.popBack(); got != tasks[1] {
		t.Fatalf("popBack must return the remaining task")
	}
	if !q.isEmpty() {
		t.Fatalf("queue must be empty")
	}
}

func TestQueueSingleElement(t *testing.T) {
	var q taskQueue
	q.init()
	task := &Task{}

	q.pushFront(task)
	if got := q.popBack(); got != task {
		t.Fatalf("popBack on single-element queue")
	}
	if !q.isEmpty() {
		t.Fatalf("head and tail must both clear")
	}

	q.pushFront(task)
	if got := q.popFront(); got != task {
		t.Fatalf("popFront on single-element queue")
	}
	if !q.isEmpty() {
		t.Fatalf("head and tail must both clear")
	}
}

func TestQueueMoveFromPrepends(t *testing.T) {
	var dst, src taskQueue
	dst.init()
	src.init()

	tasks := newQueueTasks(4)
	dst.pushFront(tasks[0])
	src.pushFront(tasks[1])
	src.pushFront(tasks[2]) // src head: 2, tail: 1

	dst.moveFrom(&src)

	if !src.isEmpty() {
		t.Fatalf("source queue must be empty after move")
	}
	// spliced tasks run before the tasks already queued
	want := []*Task{tasks[2], tasks[1], tasks[0]}
	for i, w := range want {
		if got := dst.popFront(); got != w {
			t.Fatalf("pop %d after move: wrong task", i)
		}
	}
}

func TestQueueMoveFromEmptySource(t *testing.T) {
	var dst, src taskQueue
	dst.init()
	src.init()
	task := &Task{}
	dst.pushFront(task)

	dst.moveFrom(&src)
	if got := dst.popFront(); got != task {
		t.Fatalf("moving an empty queue must not disturb the destination")
	}

	// moving into an empty destination adopts head and tail
	src.pushFront(task)
	dst.moveFrom(&src)
	if got := dst.popBack(); got != task {
		t.Fatalf("tail must be set after moving into an empty queue")
	}
}
