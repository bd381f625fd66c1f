package sched

import (
	"testing"

	"github.com/vnatarajan/toykern/internal/allocator"
)

func newScheduler(t *testing.T, regionSize int, stackSize uintptr) *Scheduler {
	t.Helper()
	r := allocator.New()
	if err := r.Init(make([]byte, regionSize)); err != nil {
		t.Fatalf("region Init: %v", err)
	}
	return New(r, stackSize)
}

func TestCreateInsertsAtReadyHead(t *testing.T) {
	s := newScheduler(t, 1<<16, 4096)

	var order []uint64
	mk := func() {
		p, err := s.Create(func(p *Process) {
			order = append(order, p.PID)
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		_ = p
	}

	mk() // pid 1
	mk() // pid 2
	mk() // pid 3

	// New processes go to the head of the ready queue, so the run order
	// is the reverse of creation order: 3, 2, 1.
	s.Run()

	want := []uint64{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestYieldRoundRobins(t *testing.T) {
	s := newScheduler(t, 1<<16, 4096)

	var trace []string

	makeWorker := func(name string, rounds int) func(p *Process) {
		return func(p *Process) {
			for i := 0; i < rounds; i++ {
				trace = append(trace, name)
				Yield(p)
			}
		}
	}

	if _, err := s.Create(makeWorker("a", 3)); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, err := s.Create(makeWorker("b", 3)); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	s.Run()

	// b was created after a, so it starts at the ready-queue head and
	// runs first; from then on each yield sends the process to the
	// tail, giving strict round robin.
	want := []string{"b", "a", "b", "a", "b", "a"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestRunExitsWhenQueueDrains(t *testing.T) {
	s := newScheduler(t, 1<<16, 4096)

	ran := false
	if _, err := s.Create(func(p *Process) { ran = true }); err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()
	<-done

	if !ran {
		t.Fatal("process never ran")
	}

	st := s.Status()
	if st["ready_count"].(int) != 0 {
		t.Fatalf("ready_count = %v, want 0 after drain", st["ready_count"])
	}
}

func TestExitedProcessStackIsReclaimed(t *testing.T) {
	s := newScheduler(t, 1<<16, 4096)

	before := s.region.Stats()

	if _, err := s.Create(func(p *Process) {}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Run()

	after := s.region.Stats()
	if after.UsedBytes != before.UsedBytes {
		t.Fatalf("UsedBytes after exit = %d, want %d (stack reclaimed)", after.UsedBytes, before.UsedBytes)
	}
}

func TestDeleteReadyProcess(t *testing.T) {
	s := newScheduler(t, 1<<16, 4096)

	p, err := s.Create(func(p *Process) {})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Delete(p.PID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	st := s.Status()
	if st["ready_count"].(int) != 0 {
		t.Fatalf("ready_count = %v, want 0 after deleting the only ready process", st["ready_count"])
	}

	if err := s.Delete(p.PID); err != ErrInvalidPid {
		t.Fatalf("second Delete = %v, want ErrInvalidPid", err)
	}
}

func TestScenarioTwoProcessRoundRobinSelfDelete(t *testing.T) {
	s := newScheduler(t, 1<<16, 4096)
	before := s.region.Stats()

	var trace []string

	p2Entry := func(p *Process) {
		for i := 0; i < 2; i++ {
			trace = append(trace, "P2")
			Yield(p)
		}
		if err := s.Delete(p.PID); err != nil {
			t.Errorf("P2 self-delete: %v", err)
		}
	}

	p1Entry := func(p *Process) {
		p2, err := s.Create(p2Entry)
		if err != nil {
			t.Fatalf("create P2: %v", err)
		}
		for i := 0; i < 2; i++ {
			trace = append(trace, "P1")
			Yield(p)
		}
		if err := s.Delete(p.PID); err != nil {
			t.Errorf("P1 self-delete: %v", err)
		}
		_ = p2
	}

	if _, err := s.Create(p1Entry); err != nil {
		t.Fatalf("create P1: %v", err)
	}

	s.Run()

	want := []string{"P1", "P2", "P1", "P2"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}

	after := s.region.Stats()
	if after.UsedBytes != before.UsedBytes {
		t.Fatalf("UsedBytes after both processes exit = %d, want %d (no leaked stacks)", after.UsedBytes, before.UsedBytes)
	}
}

func TestScenarioCreateThenImmediateSelfDelete(t *testing.T) {
	s := newScheduler(t, 1<<16, 4096)

	parentYielded := false

	childEntry := func(p *Process) {
		if err := s.Delete(p.PID); err != nil {
			t.Errorf("child self-delete: %v", err)
		}
	}

	var child *Process
	parentEntry := func(p *Process) {
		var err error
		child, err = s.Create(childEntry)
		if err != nil {
			t.Fatalf("create child: %v", err)
		}
		Yield(p)
		parentYielded = true
	}

	if _, err := s.Create(parentEntry); err != nil {
		t.Fatalf("create parent: %v", err)
	}

	s.Run()

	if !parentYielded {
		t.Fatal("parent never resumed after yield")
	}
	if _, stillQueued := s.byPID[child.PID]; stillQueued {
		t.Fatal("deleted child process is still tracked")
	}
}

func TestDeleteUnknownPid(t *testing.T) {
	s := newScheduler(t, 1<<16, 4096)

	if err := s.Delete(999); err != ErrInvalidPid {
		t.Fatalf("Delete(unknown) = %v, want ErrInvalidPid", err)
	}
}
