// Package sched implements a cooperative, single-CPU user-space scheduler:
// lightweight processes queued round-robin, switched only at explicit
// suspension points (create, yield, delete). There is no preemption and no
// parallelism; GlobalScheduler and its Process records are never touched
// from more than one goroutine at a time except through the package API.
package sched

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/vnatarajan/toykern/internal/allocator"
	"github.com/vnatarajan/toykern/internal/sched/archswitch"
)

// State is a process's position in its lifecycle. Only Ready, Running and
// Dead (set by Delete) are ever produced by this package; Sleeping and
// Waiting are carried over
// from the reference state machine for API completeness but nothing in
// this scheduler transitions a process into them.
type State int

const (
	StateReady State = iota
	StateRunning
	StateSleeping
	StateWaiting
	StateDead
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateWaiting:
		return "waiting"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidPid is returned when a PID does not name a live process.
	ErrInvalidPid = errors.New("sched: invalid pid")
	// ErrNoReadyProcess names the state of an empty ready queue with
	// nothing running. No function in this package returns it: Run simply
	// returns in that state, and Yield has no return value.
	ErrNoReadyProcess = errors.New("sched: no ready process")
	// ErrStackAlloc wraps a failure to carve a process stack out of the
	// backing region.
	ErrStackAlloc = errors.New("sched: stack allocation failed")
)

// Process is a lightweight process control record. Its stack is carved
// from a Region, but the record itself is an ordinary garbage-collected Go
// value: it is reached only through Scheduler's maps and queue pointers,
// never cast out of the raw region, because it may (transitively, via its
// Context) hold live Go pointers that the region's backing byte slice
// cannot safely contain for the garbage collector to trace.
type Process struct {
	PID   uint64
	State State

	stackMem unsafe.Pointer
	stackLen uintptr

	ctx *archswitch.Context

	// next links this process into the ready queue's singly linked FIFO.
	// It is nil whenever the process is not currently queued.
	next *Process
}

// Scheduler owns the ready queue, the currently running process, and the
// region its process stacks are carved from.
type Scheduler struct {
	mu sync.Mutex

	region    *allocator.Region
	stackSize uintptr

	byPID map[uint64]*Process

	readyHead *Process
	readyTail *Process
	running   *Process

	nextPID uint64
}

// New creates a scheduler whose process stacks are carved from region,
// each stackSize bytes.
func New(region *allocator.Region, stackSize uintptr) *Scheduler {
	return &Scheduler{
		region:    region,
		stackSize: stackSize,
		byPID:     make(map[uint64]*Process),
		nextPID:   1,
	}
}

// enqueueTail appends p to the ready queue. Used by Yield: a process that
// gives up the processor voluntarily goes to the back of the line.
func (s *Scheduler) enqueueTail(p *Process) {
	p.next = nil
	if s.readyTail == nil {
		s.readyHead, s.readyTail = p, p
		return
	}
	s.readyTail.next = p
	s.readyTail = p
}

// enqueueHead inserts p at the front of the ready queue. New processes are
// scheduled before anything already waiting -- a deliberate asymmetry
// carried over from the reference scheduler rather than a bug: procCreate
// pushes onto the front of the ready list while procYield pushes onto the
// back.
func (s *Scheduler) enqueueHead(p *Process) {
	p.next = s.readyHead
	s.readyHead = p
	if s.readyTail == nil {
		s.readyTail = p
	}
}

func (s *Scheduler) dequeue() *Process {
	p := s.readyHead
	if p == nil {
		return nil
	}
	s.readyHead = p.next
	if s.readyHead == nil {
		s.readyTail = nil
	}
	p.next = nil
	return p
}

// Create allocates a stack for entry, synthesizes its initial execution
// context, and places it at the front of the ready queue. entry is run on
// the process's own goroutine the first time the scheduler switches to it,
// receiving its own Process record so it can call Yield on itself at its
// own cooperation points; it exits by simply returning.
func (s *Scheduler) Create(entry func(p *Process)) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ptr, err := s.region.Allocate(s.stackSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStackAlloc, err)
	}

	p := &Process{
		PID:      s.nextPID,
		State:    StateReady,
		stackMem: ptr,
		stackLen: s.stackSize,
	}
	p.ctx = archswitch.New(func() { entry(p) })
	s.nextPID++

	s.byPID[p.PID] = p
	s.enqueueHead(p)

	return p, nil
}

// Delete removes a process from the scheduler, unlinking it from the
// ready queue if present and reclaiming its stack immediately. This is
// safe even when pid names the currently running process -- including a
// process deleting itself, the common case -- because a process's carved
// stackMem is pure accounting disjoint from its actual execution memory:
// the goroutine backing it runs on the Go runtime's own managed stack, not
// on stackMem, so freeing stackMem out from under a still-executing
// goroutine never touches memory that goroutine is reading or writing.
// The reference scheduler cannot make this guarantee -- its processes
// execute directly on their allocated stack, so deleting the running
// process there leaks it until something else reclaims the record -- but
// that constraint does not carry over to this backend.
func (s *Scheduler) Delete(pid uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byPID[pid]
	if !ok {
		return ErrInvalidPid
	}

	if p != s.running {
		s.unlinkReady(p)
	}

	s.region.Free(p.stackMem)
	p.State = StateDead
	delete(s.byPID, pid)

	return nil
}

func (s *Scheduler) unlinkReady(target *Process) {
	var prev *Process
	for cur := s.readyHead; cur != nil; cur = cur.next {
		if cur == target {
			if prev == nil {
				s.readyHead = cur.next
			} else {
				prev.next = cur.next
			}
			if cur == s.readyTail {
				s.readyTail = prev
			}
			cur.next = nil
			return
		}
		prev = cur
	}
}

// Run starts the scheduling loop: repeatedly dequeues the head of the
// ready queue, switches to it, and -- if it yielded rather than exiting --
// re-enqueues it at the tail before picking the next one. Run returns once
// the ready queue is empty and nothing is running.
func (s *Scheduler) Run() {
	for {
		s.mu.Lock()
		next := s.dequeue()
		if next == nil {
			s.mu.Unlock()
			return
		}
		next.State = StateRunning
		s.running = next
		s.mu.Unlock()

		exited := next.ctx.Resume()

		s.mu.Lock()
		s.running = nil
		if exited {
			if next.State != StateDead {
				s.region.Free(next.stackMem)
				delete(s.byPID, next.PID)
			}
		} else {
			next.State = StateReady
			s.enqueueTail(next)
		}
		s.mu.Unlock()
	}
}

// Yield gives up the processor from inside a running process's entry
// function. It must be called from the goroutine Create started; nothing
// checks the caller, so a call from any other goroutine does not panic but
// blocks on the underlying Context's channels.
func Yield(p *Process) {
	p.ctx.Park()
}

// Status reports a point-in-time snapshot for diagnostics, mirroring the
// reference kernel's map-shaped status accessors.
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	readyCount := 0
	for cur := s.readyHead; cur != nil; cur = cur.next {
		readyCount++
	}

	runningPID := uint64(0)
	if s.running != nil {
		runningPID = s.running.PID
	}

	return map[string]interface{}{
		"process_count": len(s.byPID),
		"ready_count":   readyCount,
		"running_pid":   runningPID,
		"next_pid":      s.nextPID,
	}
}
