package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// TaskFunc mutates the view. seq is the task's logical timestamp.
type TaskFunc func(ctx context.Context, seq int64) error

// Task is one unit of work for the mutation loop.
type Task struct {
	// Name describes the task in logs ("reconcile inventory:updated").
	Name string
	Run  TaskFunc

	// Only tasks submitted through Do carry these.
	state *atomic.Int32
	done  chan error
}

const (
	taskPending int32 = iota
	taskStarted
	taskAbandoned
)

// taskQueue is an unbounded FIFO of tasks. Push channel callbacks enqueue
// from their own goroutines and must never wait on the loop, so there is
// no capacity limit.
//
// ready holds at most one token. Several enqueues between two wakeups
// leave a single token; the loop drains with TryDequeue until empty.
// Close closes ready so a loop parked on it wakes up.
type taskQueue struct {
	mu     sync.Mutex
	items  []Task
	closed bool
	ready  chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ready: make(chan struct{}, 1)}
}

// Enqueue appends t. It reports false once the queue is closed.
func (q *taskQueue) Enqueue(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, t)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the oldest task, if any.
func (q *taskQueue) TryDequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Task{}, false
	}
	head := q.items[0]
	q.items[0] = Task{} // release the closure
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return head, true
}

// Wait yields when tasks may be available or the queue was closed.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.ready
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close refuses further tasks. Calling it twice is harmless.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ready)
	}
}

// Drop discards and returns every pending task.
func (q *taskQueue) Drop() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.items
	q.items = nil
	return pending
}

func (q *taskQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
