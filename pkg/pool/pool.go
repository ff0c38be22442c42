// Package pool provides the thread-pool abstraction the scheduler submits
// scheduled work to. A Pool is allowed to refuse work under load; the
// scheduler counts refusals as dropped events rather than blocking.
package pool

import (
	"runtime"

	"github.com/iotech/iotcore/pkg/affinity"
)

// Pool accepts work without blocking. TrySubmit reports whether fn was
// accepted; false means the caller should treat the event as dropped.
type Pool interface {
	TrySubmit(fn func(arg any), arg any, priority int) bool
}

type job struct {
	fn       func(arg any)
	arg      any
	priority int
}

// Worker is a fixed-size goroutine pool with a bounded, non-blocking
// submit queue.
type Worker struct {
	jobs chan job
	done chan struct{}
}

// NewWorker starts a pool of size workers, each pinned to cpu (or
// unpinned if cpu is affinity.NoAffinity), backed by a queue that holds
// up to queueLen pending jobs before TrySubmit starts refusing work.
func NewWorker(size, queueLen, cpu int) *Worker {
	if size < 1 {
		size = 1
	}
	if queueLen < 0 {
		queueLen = 0
	}
	w := &Worker{
		jobs: make(chan job, queueLen),
		done: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go w.run(cpu)
	}
	return w
}

func (w *Worker) run(cpu int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case j, ok := <-w.jobs:
			if !ok {
				return
			}
			_ = affinity.Apply(j.priority, cpu)
			j.fn(j.arg)
		case <-w.done:
			return
		}
	}
}

// TrySubmit enqueues fn for execution on a worker goroutine without
// blocking. It returns false (refusing the work) if the queue is full.
func (w *Worker) TrySubmit(fn func(arg any), arg any, priority int) bool {
	select {
	case w.jobs <- job{fn: fn, arg: arg, priority: priority}:
		return true
	default:
		return false
	}
}

// Stop signals all worker goroutines to exit once idle. It does not wait
// for in-flight jobs to finish.
func (w *Worker) Stop() {
	close(w.done)
}
