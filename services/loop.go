package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lborres/templatex/core"
)

// Loop runs tasks one at a time in FIFO order. View state is only touched
// from loop tasks, so nothing in the view layer takes a lock.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	pending int
	closed  bool

	wake   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post enqueues fn. It reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	l.signal()
	return true
}

// Go runs work on its own goroutine and then posts then back to the loop
// with work's error. A panic in work is recovered and reported to then as
// an error. then may be nil.
func (l *Loop) Go(work func() error, then func(error)) {
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()

	go func() {
		err := l.guard(work)

		l.mu.Lock()
		l.pending--
		if then != nil && !l.closed {
			l.queue = append(l.queue, func() { then(err) })
		}
		l.mu.Unlock()
		l.signal()
	}()
}

func (l *Loop) guard(work func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("background work panicked", slog.Any("panic", r))
			err = fmt.Errorf("background work panicked: %v", r)
		}
	}()
	return work()
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return core.ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return core.ErrClosed
	}
}

// Run processes tasks until ctx is cancelled or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if task, ok := l.next(); ok {
			l.run(task)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// RunUntilIdle processes tasks until the queue is empty and no Go work is
// in flight. It must not be used while Run is active.
func (l *Loop) RunUntilIdle() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			idle := l.pending == 0 || l.closed
			l.mu.Unlock()
			if idle {
				return
			}
			<-l.wake
			continue
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(task)
	}
}

// Close stops Run and drops queued tasks. Safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", slog.Any("panic", r))
		}
	}()
	task()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
