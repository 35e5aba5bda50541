package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lborres/templatex/core"
)

func TestLoop_RunsTasksInOrder(t *testing.T) {
	loop := NewLoop(nil)
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}

	loop.RunUntilIdle()

	for i, v := range got {
		if v != i {
			t.Fatalf("task order = %v, want ascending", got)
		}
	}
	if len(got) != 5 {
		t.Errorf("ran %d tasks, want 5", len(got))
	}
}

// Requirement: work runs off the loop and its continuation runs on it
func TestLoop_GoPostsContinuation(t *testing.T) {
	loop := NewLoop(nil)
	result := 0
	release := make(chan struct{})

	loop.Go(func() error { <-release; return nil }, func(error) { result = 42 })
	close(release)
	loop.RunUntilIdle()

	if result != 42 {
		t.Errorf("continuation did not run, result = %d", result)
	}
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	loop := NewLoop(nil)
	ran := false
	loop.Post(func() { panic("boom") })
	loop.Post(func() { ran = true })

	loop.RunUntilIdle()

	if !ran {
		t.Error("task after a panic did not run")
	}
}

// Requirement: a panic in background work reaches the continuation as an
// error and the loop still goes idle
func TestLoop_GoRecoversPanic(t *testing.T) {
	loop := NewLoop(nil)
	var got error
	called := false

	loop.Go(func() error { panic("adapter exploded") }, func(err error) {
		called = true
		got = err
	})
	loop.RunUntilIdle()

	if !called {
		t.Fatal("continuation did not run")
	}
	if got == nil {
		t.Fatal("continuation error = nil, want the recovered panic")
	}
	if !strings.Contains(got.Error(), "adapter exploded") {
		t.Errorf("continuation error = %v", got)
	}
}

func TestLoop_CallWaitsForRun(t *testing.T) {
	loop := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	value := ""
	err := loop.Call(ctx, func() { value = "done" })

	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if value != "done" {
		t.Errorf("value = %q, want done", value)
	}
}

func TestLoop_CloseRejectsWork(t *testing.T) {
	loop := NewLoop(nil)
	loop.Close()
	loop.Close()

	if loop.Post(func() {}) {
		t.Error("Post() after Close should report false")
	}
	err := loop.Call(context.Background(), func() {})
	if !errors.Is(err, core.ErrClosed) {
		t.Errorf("Call() error = %v, want ErrClosed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Errorf("Run() on a closed loop error = %v", err)
	}
}
