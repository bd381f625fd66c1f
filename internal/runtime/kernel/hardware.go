package kernel

import (
	"fmt"
	"sync"
	"time"

	"github.com/vnatarajan/toykern/internal/sched"
)

// ============================================================================
// Timer and clock management
// ============================================================================

// TimerManager tracks a simple software tick count since boot, used only
// for uptime reporting -- the scheduler itself is purely cooperative and
// never preempts on a timer tick.
type TimerManager struct {
	mutex       sync.RWMutex
	tickRate    uint64
	tickCount   uint64
	bootTime    time.Time
	initialized bool
}

// GlobalTimerManager provides global timer access.
var GlobalTimerManager *TimerManager

// InitializeTimers starts the uptime clock.
func InitializeTimers() error {
	if GlobalTimerManager != nil && GlobalTimerManager.initialized {
		return fmt.Errorf("timers already initialized")
	}

	GlobalTimerManager = &TimerManager{
		tickRate:    1000,
		bootTime:    time.Now(),
		initialized: true,
	}

	return nil
}

// Tick advances the tick counter by one. Nothing in this module calls it,
// and nothing in the scheduler depends on it.
func (tm *TimerManager) Tick() {
	tm.mutex.Lock()
	tm.tickCount++
	tm.mutex.Unlock()
}

// GetTicks returns the current tick count.
func (tm *TimerManager) GetTicks() uint64 {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()
	return tm.tickCount
}

// GetUptime returns elapsed wall-clock time since boot.
func (tm *TimerManager) GetUptime() time.Duration {
	return time.Since(tm.bootTime)
}

// ============================================================================
// Process management
// ============================================================================

// GlobalScheduler provides global scheduler access, mirroring
// GlobalProcessManager in the reference kernel.
var GlobalScheduler *sched.Scheduler

// InitializeScheduler creates the kernel's scheduler over the memory
// manager's region, with every process stack sized stackSize bytes.
// InitializeMemoryManager must be called first.
func InitializeScheduler(stackSize uintptr) error {
	if GlobalMemory == nil {
		return fmt.Errorf("memory manager not initialized")
	}
	if GlobalScheduler != nil {
		return fmt.Errorf("scheduler already initialized")
	}

	GlobalScheduler = sched.New(GlobalMemory.region, stackSize)
	return nil
}

// KernelCreateProcess registers entry as a new cooperative process and
// returns its PID.
func KernelCreateProcess(entry func(p *sched.Process)) (uint64, error) {
	if GlobalScheduler == nil {
		return 0, fmt.Errorf("scheduler not initialized")
	}

	p, err := GlobalScheduler.Create(entry)
	if err != nil {
		return 0, err
	}

	return p.PID, nil
}

// KernelYield gives up the processor from inside a running process.
func KernelYield(p *sched.Process) {
	sched.Yield(p)
}

// KernelDeleteProcess removes a process by PID.
func KernelDeleteProcess(pid uint64) error {
	if GlobalScheduler == nil {
		return fmt.Errorf("scheduler not initialized")
	}
	return GlobalScheduler.Delete(pid)
}

// KernelRunScheduler drains the ready queue, running every process to
// completion or until it has no more work scheduled. It returns once the
// ready queue is empty.
func KernelRunScheduler() {
	if GlobalScheduler == nil {
		return
	}
	GlobalScheduler.Run()
}

// KernelSchedulerStatus reports scheduler-level status for diagnostics.
func KernelSchedulerStatus() map[string]interface{} {
	if GlobalScheduler == nil {
		return map[string]interface{}{}
	}
	return GlobalScheduler.Status()
}
