package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrStopped is returned by Do when the engine no longer accepts tasks.
var ErrStopped = errors.New("engine stopped")

// Engine serializes every mutation of the view onto the goroutine that
// calls Run. Enqueue, Do and Sync may be called from anywhere.
type Engine struct {
	clock *Clock
	queue *taskQueue
}

// New returns an engine whose first task gets seq 1.
func New() *Engine {
	return NewWithClock(NewClock())
}

// NewWithClock returns an engine stamping tasks from clock. A warm start
// passes a clock resumed at the journal's last seq.
func NewWithClock(clock *Clock) *Engine {
	return &Engine{
		clock: clock,
		queue: newTaskQueue(),
	}
}

// Enqueue queues fn without waiting for it. It reports false after Stop
// or once Run has returned.
func (e *Engine) Enqueue(name string, fn TaskFunc) bool {
	return e.queue.Enqueue(Task{Name: name, Run: fn})
}

// Do submits a task and waits for its result.
//
// If ctx is cancelled before the loop picks the task up, the task is
// abandoned and never runs. Once it has started, Do waits for it to finish
// regardless of ctx, so a nil error always means the mutation happened.
func (e *Engine) Do(ctx context.Context, name string, fn TaskFunc) error {
	state := &atomic.Int32{}
	done := make(chan error, 1)

	if !e.queue.Enqueue(Task{Name: name, Run: fn, state: state, done: done}) {
		return ErrStopped
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(taskPending, taskAbandoned) {
			return ctx.Err()
		}
		// Already running: its effects are visible, report its outcome.
		return <-done
	}
}

// Sync waits until every task enqueued before the call has been processed.
func (e *Engine) Sync(ctx context.Context) error {
	return e.Do(ctx, "sync", func(context.Context, int64) error { return nil })
}

// Run processes tasks until ctx is done, or until Stop was called and the
// queue is empty. Call it from one goroutine only.
//
// A task that fails or panics is logged and the loop moves on; Do hands
// the error to its caller as well.
func (e *Engine) Run(ctx context.Context) error {
	slog.Debug("engine starting", "seq", e.clock.Current())

	for {
		if ctx.Err() != nil {
			slog.Debug("engine stopping: context cancelled")
			e.queue.Close()
			e.failPending()
			return ctx.Err()
		}

		task, ok := e.queue.TryDequeue()
		if ok {
			e.process(ctx, task)
			continue
		}

		select {
		case <-ctx.Done():
		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Debug("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run processes what is already queued, then returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen reports how many tasks wait to run.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// process claims t, stamps it and runs it. Loop goroutine only.
func (e *Engine) process(ctx context.Context, t Task) {
	if t.state != nil && !t.state.CompareAndSwap(taskPending, taskStarted) {
		slog.Debug("task abandoned before start", "task", t.Name)
		return
	}

	seq := e.clock.Next()
	err := runTask(ctx, t, seq)
	if err != nil {
		slog.Error("task failed", "task", t.Name, "seq", seq, "error", err)
	}
	if t.done != nil {
		t.done <- err
	}
}

func runTask(ctx context.Context, t Task, seq int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.Name, r)
		}
	}()
	if t.Run == nil {
		return fmt.Errorf("task %q has no function", t.Name)
	}
	return t.Run(ctx, seq)
}

// failPending releases Do callers whose tasks will never run.
func (e *Engine) failPending() {
	for _, t := range e.queue.Drop() {
		if t.done != nil && t.state.CompareAndSwap(taskPending, taskAbandoned) {
			t.done <- ErrStopped
		}
	}
}
