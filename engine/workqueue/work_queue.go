// Package workqueue marshals closures onto a single worker goroutine that is locked to one OS thread.
//
// Everything that must only ever run on one thread (a GPU device, a windowing context, a
// single-threaded engine) is submitted here. Items run strictly in submission order.
package workqueue

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/Carmen-Shannon/gltf2image/engine/logging"
)

var (
	// ErrNotStarted is returned when submitting to a queue whose worker was never started.
	ErrNotStarted = errors.New("work queue not started")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("work queue already started")

	// ErrQueueClosed is returned when submitting after Exit has been called.
	ErrQueueClosed = errors.New("work queue closed")

	// ErrReentrantWait is returned when AddWorkItemAndWait is called from the worker itself,
	// which would otherwise wait on an item queued behind the caller forever.
	ErrReentrantWait = errors.New("work queue: blocking submission from the worker thread")

	// ErrWorkItemPanicked wraps a panic recovered from a blocking work item.
	ErrWorkItemPanicked = errors.New("work item panicked")

	// ErrWorkerExited is returned for an item that ended the worker goroutine
	// (runtime.Goexit) instead of returning. The queue is closed afterwards.
	ErrWorkerExited = errors.New("work item exited the worker goroutine")
)

// workItem is one queued closure. done is non-nil only for blocking submissions.
type workItem struct {
	run  func() error
	done chan error
	stop bool
}

// workQueue is the implementation of the WorkQueue interface.
type workQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items   []workItem
	started bool
	closed  bool

	threadID uint64
	finished chan struct{}
	exitOnce sync.Once

	name   string
	logger *slog.Logger
}

// WorkQueue is a FIFO of closures executed by one dedicated worker goroutine locked to its OS thread.
type WorkQueue interface {
	// Start spawns the worker goroutine and blocks until it has locked its OS thread.
	// Must be called exactly once before any submission.
	//
	// Returns:
	//   - error: ErrAlreadyStarted on a second call, ErrQueueClosed after Exit
	Start() error

	// AddWorkItem appends item to the tail of the queue and returns immediately.
	// A panic inside item is recovered and logged; the worker keeps running.
	//
	// Parameters:
	//   - item: the closure to run on the worker
	//
	// Returns:
	//   - error: ErrNotStarted or ErrQueueClosed if the item was not queued
	AddWorkItem(item func()) error

	// AddWorkItemAndWait appends item to the tail of the queue and blocks until it has run.
	// The item does not jump ahead of items already queued.
	//
	// Parameters:
	//   - item: the closure to run on the worker
	//
	// Returns:
	//   - error: the error returned by item, a panic wrapped in ErrWorkItemPanicked,
	//     or a submission error (ErrNotStarted, ErrQueueClosed, ErrReentrantWait)
	AddWorkItemAndWait(item func() error) error

	// Exit enqueues a terminal item and blocks until the worker has finished.
	// Items queued before the call still run. Safe to call more than once.
	//
	// Returns:
	//   - error: ErrNotStarted if the worker was never started, ErrReentrantWait when
	//     called from a work item
	Exit() error

	// ThreadID returns the OS thread ID the worker is locked to, or 0 before Start.
	//
	// Returns:
	//   - uint64: the worker thread ID
	ThreadID() uint64

	// OnWorkerThread reports whether the caller is running on the worker thread.
	//
	// Returns:
	//   - bool: true when called from inside a work item
	OnWorkerThread() bool

	// Len returns the number of items waiting to run.
	//
	// Returns:
	//   - int: the pending item count
	Len() int
}

var _ WorkQueue = &workQueue{}

// NewWorkQueue creates an idle WorkQueue. Call Start before submitting work.
//
// Parameters:
//   - options: functional options for queue configuration
//
// Returns:
//   - WorkQueue: the new, not yet started queue
func NewWorkQueue(options ...WorkQueueBuilderOption) WorkQueue {
	q := &workQueue{
		finished: make(chan struct{}),
		name:     "work-queue",
		logger:   logging.Nop(),
	}
	q.cond = sync.NewCond(&q.mu)

	for _, opt := range options {
		opt(q)
	}
	return q
}

func (q *workQueue) Start() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.started {
		q.mu.Unlock()
		return ErrAlreadyStarted
	}
	q.started = true
	q.mu.Unlock()

	ready := make(chan uint64)
	go q.loop(ready)
	tid := <-ready

	q.logger.Debug("work queue started", "queue", q.name, "thread", tid)
	return nil
}

func (q *workQueue) AddWorkItem(item func()) error {
	return q.push(workItem{run: func() error {
		item()
		return nil
	}})
}

func (q *workQueue) AddWorkItemAndWait(item func() error) error {
	if q.OnWorkerThread() {
		return ErrReentrantWait
	}

	done := make(chan error, 1)
	if err := q.push(workItem{run: item, done: done}); err != nil {
		return err
	}
	return <-done
}

func (q *workQueue) Exit() error {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if q.OnWorkerThread() {
		return ErrReentrantWait
	}

	q.exitOnce.Do(func() {
		q.mu.Lock()
		q.items = append(q.items, workItem{stop: true})
		q.closed = true
		q.cond.Signal()
		q.mu.Unlock()
	})

	<-q.finished
	return nil
}

func (q *workQueue) ThreadID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.threadID
}

func (q *workQueue) OnWorkerThread() bool {
	tid := q.ThreadID()
	return tid != 0 && tid == CurrentThreadID()
}

func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// push appends an item under the queue lock and wakes the worker.
func (q *workQueue) push(item workItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		return ErrNotStarted
	}
	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// pop blocks until an item is available and removes it from the head of the queue.
func (q *workQueue) pop() workItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}

	item := q.items[0]
	q.items[0] = workItem{}
	q.items = q.items[1:]
	return item
}

// loop is the worker body. The goroutine stays locked to its OS thread until it returns,
// at which point the runtime terminates the thread.
func (q *workQueue) loop(ready chan<- uint64) {
	runtime.LockOSThread()
	defer close(q.finished)

	tid := CurrentThreadID()
	q.mu.Lock()
	q.threadID = tid
	q.mu.Unlock()
	ready <- tid

	for {
		item := q.pop()
		if item.stop {
			q.logger.Debug("work queue exited", "queue", q.name)
			return
		}
		q.execute(item)
	}
}

// execute runs one item, converting a panic into an error so the worker survives.
// An item that calls runtime.Goexit still ends the worker; the queue is abandoned then.
func (q *workQueue) execute(item workItem) {
	returned := false
	defer func() {
		if !returned {
			q.abandon(item)
		}
	}()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrWorkItemPanicked, r)
				q.logger.Error("work item panicked",
					"queue", q.name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		return item.run()
	}()
	returned = true

	if item.done != nil {
		item.done <- err
	}
}

// abandon closes the queue after the worker goroutine was ended by current, and fails
// every waiter so nothing blocks on an item that will never run.
func (q *workQueue) abandon(current workItem) {
	q.mu.Lock()
	q.closed = true
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	q.logger.Error("work item ended the worker goroutine", "queue", q.name, "dropped", len(pending))

	if current.done != nil {
		current.done <- ErrWorkerExited
	}
	for _, item := range pending {
		if item.done != nil {
			item.done <- ErrQueueClosed
		}
	}
}
