package sched

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestDefaultInstanceLifecycle(t *testing.T) {
	err := CreateTask(func(tc *TaskCtx, arg any) {}, nil)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("CreateTask before Init must fail with ErrNotInitialized, got %v", err)
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("ErrNotInitialized must match ErrInvalid, got %v", err)
	}

	if err := Init(Options{Workers: 2}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(Options{Workers: 2}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("double Init must fail with ErrInvalid, got %v", err)
	}
	if Default() == nil {
		t.Fatalf("Default must return the initialized runtime")
	}

	var ran atomic.Bool
	if err := CreateTask(func(tc *TaskCtx, arg any) { ran.Store(true) }, nil); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := Phase(); err != nil {
		t.Fatalf("Phase: %v", err)
	}
	if err := TaskComplete(); err != nil {
		t.Fatalf("TaskComplete: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("task did not run")
	}

	h, err := CreateTaskHandle(func(tc *TaskCtx, arg any) {}, nil)
	if err != nil {
		t.Fatalf("CreateTaskHandle: %v", err)
	}
	if err := TaskWait(h); err != nil {
		t.Fatalf("TaskWait: %v", err)
	}

	if err := Fini(); err != nil {
		t.Fatalf("Fini: %v", err)
	}
	if err := Fini(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("double Fini must fail with ErrInvalid, got %v", err)
	}
	if Default() != nil {
		t.Fatalf("Default must be nil after Fini")
	}
}
