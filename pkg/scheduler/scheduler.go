// Package scheduler implements a deadline-ordered periodic scheduler: a
// single dispatcher goroutine that fires due schedules into a thread
// pool (or a fresh goroutine) and re-queues or idles them according to
// their repeat count.
package scheduler

import (
	"container/heap"
	"runtime"
	"sync"
	"time"

	"github.com/iotech/iotcore/pkg/affinity"
	"github.com/iotech/iotcore/pkg/clock"
	"github.com/iotech/iotcore/pkg/component"
	"github.com/iotech/iotcore/pkg/metrics"
	"github.com/iotech/iotcore/pkg/pool"
	"github.com/rs/zerolog"
)

// FactoryType is the container factory Type name a Scheduler is declared
// under in a container declaration.
const FactoryType = "IOT::Scheduler"

// defaultWake bounds how long the dispatcher goroutine will sleep with
// nothing queued, so a schedule added concurrently is never delayed more
// than this even if the wakeup signal were somehow missed.
const defaultWake = 24 * time.Hour

// Scheduler is itself a container component: starting it arms the
// dispatcher, stopping it parks the dispatcher, deleting it is
// permanent.
type Scheduler struct {
	*component.Base

	logger   zerolog.Logger
	priority int
	affinity int
	pool     pool.Pool

	mu        sync.Mutex // guards queue/byStart/idle; distinct from Base's lock
	queue     scheduleHeap
	byStart   map[uint64]*Schedule
	idle      map[uint64]*Schedule
	schedTime time.Time

	doneCh chan struct{}
}

// New creates a scheduler and starts its dispatcher goroutine. The
// dispatcher stays parked (the scheduler starts in StateStopped, per
// component.Base) until Start is called.
func New(priority, cpuAffinity int, logger zerolog.Logger, p pool.Pool) *Scheduler {
	s := &Scheduler{
		Base:      component.NewBase(),
		logger:    logger,
		priority:  priority,
		affinity:  cpuAffinity,
		pool:      p,
		byStart:   map[uint64]*Schedule{},
		idle:      map[uint64]*Schedule{},
		schedTime: time.Now(),
		doneCh:    make(chan struct{}),
	}
	logger.Info().Int("priority", priority).Int("affinity", cpuAffinity).Msg("scheduler allocated")
	go s.dispatch()
	return s
}

// Start arms the dispatcher: due schedules will now fire.
func (s *Scheduler) Start() {
	s.logger.Trace().Msg("scheduler start")
	s.SetRunning()
}

// Stop parks the dispatcher without discarding any schedule.
func (s *Scheduler) Stop() {
	s.logger.Trace().Msg("scheduler stop")
	s.SetStopped()
}

// dispatch is the scheduler's single dispatcher goroutine, a
// line-for-line translation of the original's scheduler thread: wait for
// Running-or-Deleted, sleep until the next deadline (or a signal), fire
// whatever is due, recompute the next deadline, repeat.
func (s *Scheduler) dispatch() {
	defer close(s.doneCh)
	for {
		state := s.WaitAndLock(component.StateRunning | component.StateDeleted)
		if state == component.StateDeleted {
			s.Unlock()
			return
		}
		s.mu.Lock()
		if head := s.queuePeek(); head != nil {
			if due := epochToTime(head.start); due.Before(s.schedTime) {
				s.schedTime = due
			}
		}
		s.mu.Unlock()
		s.CondWaitDeadline(s.schedTime)
		state = s.StateLocked()
		if state != component.StateRunning {
			s.Unlock()
			s.logger.Debug().Str("state", state.String()).Msg("scheduler thread stopping")
			if state == component.StateDeleted {
				return
			}
			continue
		}

		s.mu.Lock()
		if current := s.queuePeek(); current != nil && current.start < clock.Now() {
			s.fire(current)
			s.advance(current)
		}
		next := s.nextWake()
		s.mu.Unlock()
		s.schedTime = next
		s.Unlock()
	}
}

// queuePeek returns the schedule at the front of the deadline queue
// without removing it, or nil if the queue is empty. Caller must hold
// s.mu.
func (s *Scheduler) queuePeek() *Schedule {
	if len(s.queue) == 0 {
		return nil
	}
	return s.queue[0]
}

// fire runs current's callbacks and submits (or drops) its work. Caller
// must hold s.mu.
func (s *Scheduler) fire(current *Schedule) {
	jitter := time.Duration(clock.Now()-current.start) * time.Nanosecond
	metrics.ScheduleJitter.Observe(jitter.Seconds())

	if current.runCB != nil {
		current.runCB(current.arg)
	}
	submit := func(arg any) {
		_ = affinity.Apply(current.priority, s.affinity)
		current.fn(arg)
	}
	if current.pool != nil {
		s.logger.Trace().Uint64("schedule", current.id).Msg("running schedule from pool")
		if !current.pool.TrySubmit(submit, current.arg, current.priority) {
			if current.abortCB != nil {
				current.abortCB(current.arg)
			}
			if current.dropped.Add(1) == 1 {
				s.logger.Warn().Uint64("schedule", current.id).Msg("scheduled event dropped")
			}
			metrics.SchedulesDropped.Inc()
		} else {
			metrics.SchedulesFired.Inc()
		}
	} else {
		s.logger.Trace().Uint64("schedule", current.id).Msg("running schedule as goroutine")
		pinned := current.priority != affinity.NoPriority || s.affinity != affinity.NoAffinity
		go func(arg any) {
			if pinned {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}
			submit(arg)
		}(current.arg)
		metrics.SchedulesFired.Inc()
	}
}

// advance recomputes current's next start time and either re-queues it,
// moves it to idle (repeat exhausted), or leaves it queued indefinitely.
// Caller must hold s.mu.
func (s *Scheduler) advance(current *Schedule) {
	next := current.period + clock.Now()
	if current.repeat > 0 {
		current.repeat--
		if current.repeat == 0 {
			s.logger.Trace().Uint64("schedule", current.id).Msg("schedule now idle")
			s.queueRemoveLocked(current)
			s.idleAddLocked(current)
			return
		}
	}
	s.queueUpdateLocked(current, next)
}

// nextWake returns the time the dispatcher should next wake at: the
// front of the queue's start time if non-empty, otherwise a bounded
// default so a concurrently-added schedule is never stuck indefinitely.
// Caller must hold s.mu.
func (s *Scheduler) nextWake() time.Time {
	if current := s.queuePeek(); current != nil {
		return epochToTime(current.start)
	}
	return time.Now().Add(defaultWake)
}

func epochToTime(ns uint64) time.Time {
	return time.Unix(0, int64(ns))
}

// queueAddLocked inserts schedule into the deadline queue, bumping its
// start time by 1ns on collision since the queue's auxiliary index is
// keyed by start time. Returns true if schedule became the new head.
func (s *Scheduler) queueAddLocked(sch *Schedule) bool {
	for {
		if _, exists := s.byStart[sch.start]; !exists {
			break
		}
		sch.start++
	}
	s.byStart[sch.start] = sch
	heap.Push(&s.queue, sch)
	sch.scheduled = true
	metrics.SchedulesActive.WithLabelValues("queued").Set(float64(len(s.queue)))
	return s.queue[0] == sch
}

func (s *Scheduler) queueRemoveLocked(sch *Schedule) {
	delete(s.byStart, sch.start)
	if sch.heapIndex >= 0 && sch.heapIndex < len(s.queue) && s.queue[sch.heapIndex] == sch {
		heap.Remove(&s.queue, sch.heapIndex)
		metrics.SchedulesActive.WithLabelValues("queued").Set(float64(len(s.queue)))
	}
}

func (s *Scheduler) queueUpdateLocked(sch *Schedule, next uint64) bool {
	s.queueRemoveLocked(sch)
	sch.start = next
	return s.queueAddLocked(sch)
}

func (s *Scheduler) idleAddLocked(sch *Schedule) {
	s.idle[sch.id] = sch
	sch.scheduled = false
	metrics.SchedulesActive.WithLabelValues("idle").Set(float64(len(s.idle)))
}

func (s *Scheduler) idleRemoveLocked(sch *Schedule) {
	delete(s.idle, sch.id)
	metrics.SchedulesActive.WithLabelValues("idle").Set(float64(len(s.idle)))
}

// Create registers a new schedule in the idle map. fn is invoked when
// the schedule fires; if p is non-nil the work is submitted to it,
// otherwise each firing spawns a fresh goroutine. start delays the first
// firing by that many nanoseconds from now; period is the interval
// between firings once started; repeat bounds how many times it fires
// (0 = forever). The schedule must be passed to Add before it becomes
// due.
func (s *Scheduler) Create(fn Fn, freeFn FreeFn, arg any, period, start, repeat uint64, p pool.Pool, priority int) *Schedule {
	sch := &Schedule{
		id:        scheduleIDCounter.Add(1) - 1,
		fn:        fn,
		freeFn:    freeFn,
		arg:       arg,
		period:    period,
		start:     clock.Now() + start,
		repeat:    repeat,
		pool:      p,
		priority:  priority,
		heapIndex: -1,
	}
	s.logger.Trace().Uint64("schedule", sch.id).Uint64("period", period).Uint64("repeat", repeat).Msg("schedule created")
	s.mu.Lock()
	s.idleAddLocked(sch)
	s.mu.Unlock()
	return sch
}

// Add moves sch from the idle map into the deadline queue, waking the
// dispatcher if it became the new head and the scheduler is running. It
// returns false if sch was already scheduled.
func (s *Scheduler) Add(sch *Schedule) bool {
	s.Lock()
	s.mu.Lock()
	wasIdle := !sch.scheduled
	var front bool
	if wasIdle {
		s.idleRemoveLocked(sch)
		front = s.queueAddLocked(sch)
	}
	s.mu.Unlock()
	if front && s.StateLocked() == component.StateRunning {
		s.wake()
	}
	s.Unlock()
	return wasIdle
}

// Remove moves sch from the deadline queue back to idle. It returns
// false if sch was already idle.
func (s *Scheduler) Remove(sch *Schedule) bool {
	s.Lock()
	defer s.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	wasScheduled := sch.scheduled
	if wasScheduled {
		s.queueRemoveLocked(sch)
		s.idleAddLocked(sch)
	}
	return wasScheduled
}

// Reset recomputes sch's next firing time to now+period. If sch is
// currently scheduled this re-queues it at the new time and wakes the
// dispatcher if it became the new head.
func (s *Scheduler) Reset(sch *Schedule) {
	s.Lock()
	next := sch.period + clock.Now()
	s.mu.Lock()
	var front bool
	if sch.scheduled {
		front = s.queueUpdateLocked(sch, next)
	} else {
		sch.start = next
	}
	s.mu.Unlock()
	if front && s.StateLocked() == component.StateRunning {
		s.wake()
	}
	s.Unlock()
}

// AddRunCallback installs a function invoked just before sch fires, on
// the dispatcher goroutine.
func (s *Scheduler) AddRunCallback(sch *Schedule, fn Fn) {
	s.Lock()
	sch.runCB = fn
	s.Unlock()
}

// AddAbortCallback installs a function invoked when sch's pool refuses
// its work.
func (s *Scheduler) AddAbortCallback(sch *Schedule, fn Fn) {
	s.Lock()
	sch.abortCB = fn
	s.Unlock()
}

// Delete removes sch from the scheduler (wherever it currently is) and
// releases its argument via the FreeFn passed to Create, if any.
func (s *Scheduler) Delete(sch *Schedule) {
	s.Lock()
	s.mu.Lock()
	if sch.scheduled {
		s.queueRemoveLocked(sch)
	} else {
		s.idleRemoveLocked(sch)
	}
	s.mu.Unlock()
	s.Unlock()
	if sch.freeFn != nil {
		sch.freeFn(sch.arg)
	}
}

// wake nudges the dispatcher to recheck the queue immediately instead of
// waiting out its current deadline. Caller must hold the Base lock. A
// signal sent while the dispatcher is between waits reaches no one, so
// the dispatcher also pulls its deadline forward to the queue head before
// every wait; either way a new head is never missed.
func (s *Scheduler) wake() {
	s.Signal()
}

// Free performs a deterministic, two-step shutdown: stop (to break the
// dispatcher out of its schedule wait), then delete (to break it out of
// its state wait), then block until the dispatcher goroutine has
// actually exited. This replaces the original's fixed "grace wait"
// sleeps, which could race the dispatcher on a slow or loaded system.
func (s *Scheduler) Free() {
	if !s.DecRef() {
		return
	}
	s.logger.Trace().Msg("scheduler free")
	s.SetStopped()
	s.SetDeleted()
	<-s.doneCh
}
