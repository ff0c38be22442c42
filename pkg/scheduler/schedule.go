package scheduler

import (
	"sync/atomic"

	"github.com/iotech/iotcore/pkg/pool"
)

var scheduleIDCounter atomic.Uint64

// Fn is the function invoked when a schedule fires.
type Fn func(arg any)

// FreeFn releases a schedule's argument when the schedule is deleted.
type FreeFn func(arg any)

// Schedule is one registered unit of periodic or delayed work. Schedules
// are created idle (in the scheduler's idle map) and must be added to
// become due.
type Schedule struct {
	id       uint64
	fn       Fn
	freeFn   FreeFn
	arg      any
	runCB    Fn
	abortCB  Fn
	period   uint64 // nanoseconds
	start    uint64 // nanoseconds since epoch, next fire time
	repeat   uint64 // 0 = infinite
	pool     pool.Pool
	priority int
	dropped  atomic.Uint64
	scheduled bool

	heapIndex int // managed by scheduleHeap; -1 when not queued
}

// ID returns the schedule's unique, process-wide identifier.
func (s *Schedule) ID() uint64 { return s.id }

// Dropped returns the number of times this schedule fired while its pool
// refused the work. Firings run on a fresh goroutine are never dropped.
func (s *Schedule) Dropped() uint64 { return s.dropped.Load() }
