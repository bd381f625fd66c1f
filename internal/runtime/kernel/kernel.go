package kernel

import (
	"fmt"
	"time"

	"github.com/vnatarajan/toykern/internal/sched"
)

// ============================================================================
// Toy OS Kernel
// ============================================================================

// InitializeCompleteKernel brings up both kernel subsystems in order: the
// memory manager first, since the scheduler carves process stacks from its
// region, then the scheduler itself.
func InitializeCompleteKernel(config *KernelConfig) error {
	if config == nil {
		config = DefaultKernelConfig()
	}
	if err := validateConfigVersion(config.ConfigVersion); err != nil {
		return fmt.Errorf("reject config: %w", err)
	}

	fmt.Println("Toy Kernel v1.0.0 - Initializing...")
	startTime := time.Now()

	fmt.Println("  [1/3] Initializing Memory Management...")
	if err := InitializeMemoryManager(config.RegionSize, config.UseMmap); err != nil {
		return fmt.Errorf("failed to initialize memory manager: %w", err)
	}
	fmt.Printf("        Region: %d KB, mmap-backed: %v\n", config.RegionSize/1024, config.UseMmap)

	fmt.Println("  [2/3] Initializing Process Scheduler...")
	if err := InitializeScheduler(config.StackSize); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	fmt.Printf("        Scheduler: cooperative round-robin, stack size: %d KB\n", config.StackSize/1024)

	fmt.Println("  [3/3] Initializing Timers...")
	if err := InitializeTimers(); err != nil {
		return fmt.Errorf("failed to initialize timers: %w", err)
	}
	fmt.Println("        Timers: uptime clock started")

	elapsed := time.Since(startTime)
	fmt.Printf("\nToy Kernel initialized successfully in %v\n", elapsed)
	fmt.Println("========================================")
	fmt.Println("Ready for system operations!")
	fmt.Println()

	displaySystemInfo(config)

	return nil
}

// displaySystemInfo prints a short banner of the booted configuration.
func displaySystemInfo(config *KernelConfig) {
	fmt.Println("System Information:")
	fmt.Printf("  Kernel Version: Toy Kernel v1.0.0 (config schema %s)\n", config.ConfigVersion)
	fmt.Printf("  Region Size: %d KB\n", config.RegionSize/1024)
	fmt.Printf("  Stack Size: %d KB\n", config.StackSize/1024)
	fmt.Printf("  Debug Mode: %v\n", config.DebugEnabled)
	fmt.Println()
}

// GetKernelStatus returns a point-in-time status snapshot, in the same
// map-shaped idiom the reference kernel uses for its own status calls.
func GetKernelStatus() map[string]interface{} {
	status := make(map[string]interface{})

	memStats := KernelMemoryStats()
	status["memory_blocks"] = memStats.Blocks
	status["memory_free_blocks"] = memStats.FreeBlocks
	status["memory_free_bytes"] = uint64(memStats.FreeBytes)
	status["memory_used_bytes"] = uint64(memStats.UsedBytes)

	for k, v := range KernelSchedulerStatus() {
		status[k] = v
	}

	if GlobalTimerManager != nil {
		status["uptime_ms"] = GlobalTimerManager.GetUptime().Milliseconds()
	}

	return status
}

// ============================================================================
// Kernel Test and Demo Functions
// ============================================================================

// RunKernelTests exercises both subsystems end to end.
func RunKernelTests() error {
	fmt.Println("Running Kernel Tests...")

	fmt.Println("  Test 1: Memory allocation...")
	addr, err := KernelAllocate(128)
	if err != nil {
		return fmt.Errorf("memory allocation test failed: %w", err)
	}
	if err := KernelValidateMemory(); err != nil {
		return fmt.Errorf("memory validation failed after allocate: %w", err)
	}
	KernelFree(addr)
	if err := KernelValidateMemory(); err != nil {
		return fmt.Errorf("memory validation failed after free: %w", err)
	}
	fmt.Println("    memory allocation test passed")

	fmt.Println("  Test 2: Process creation and scheduling...")
	ran := false
	pid, err := KernelCreateProcess(func(p *sched.Process) {
		ran = true
	})
	if err != nil {
		return fmt.Errorf("process creation test failed: %w", err)
	}
	KernelRunScheduler()
	if !ran {
		return fmt.Errorf("scheduled process never ran (pid %d)", pid)
	}
	fmt.Printf("    process creation test passed (PID: %d)\n", pid)

	fmt.Println("All kernel tests passed successfully!")
	return nil
}

// CreateMinimalOS boots config (or a small built-in demo configuration if
// config is nil), runs a handful of cooperative processes, and prints the
// final kernel status.
func CreateMinimalOS(config *KernelConfig) error {
	fmt.Println("\n========================================")
	fmt.Println("Creating Minimal Toy Kernel Demo")
	fmt.Println("========================================")

	if config == nil {
		config = &KernelConfig{
			ConfigVersion: MinSupportedConfigVersion,
			RegionSize:    1 * 1024 * 1024,
			UseMmap:       true,
			StackSize:     64 * 1024,
			DebugEnabled:  true,
		}
	}

	if err := InitializeCompleteKernel(config); err != nil {
		return err
	}

	fmt.Println("Creating demo processes...")

	var trace []string
	worker := func(name string, rounds int) func(p *sched.Process) {
		return func(p *sched.Process) {
			for i := 0; i < rounds; i++ {
				trace = append(trace, fmt.Sprintf("%s:%d", name, i))
				sched.Yield(p)
			}
		}
	}

	pid1, err := KernelCreateProcess(worker("hello_world", 3))
	if err != nil {
		return fmt.Errorf("failed to create hello_world process: %w", err)
	}
	fmt.Printf("  Created process 'hello_world' (PID: %d)\n", pid1)

	pid2, err := KernelCreateProcess(worker("background_task", 2))
	if err != nil {
		return fmt.Errorf("failed to create background_task process: %w", err)
	}
	fmt.Printf("  Created process 'background_task' (PID: %d)\n", pid2)

	fmt.Println("Running scheduler to completion...")
	KernelRunScheduler()
	for _, step := range trace {
		fmt.Printf("  %s\n", step)
	}

	fmt.Println("\nRunning system tests...")
	if err := RunKernelTests(); err != nil {
		return err
	}

	fmt.Println("\n========================================")
	fmt.Println("Minimal Toy Kernel Demo Complete!")
	fmt.Println("========================================")

	status := GetKernelStatus()
	fmt.Println("System Status:")
	for key, value := range status {
		fmt.Printf("  %s: %v\n", key, value)
	}

	return nil
}

// ============================================================================
// Kernel API Summary
// ============================================================================

// GetKernelAPIList returns the kernel's callable surface, mirroring the
// reference kernel's self-describing API listing.
func GetKernelAPIList() []string {
	return []string{
		"InitializeCompleteKernel(config *KernelConfig) error",
		"KernelAllocate(n uintptr) (uintptr, error)",
		"KernelFree(addr uintptr)",
		"KernelMemoryStats() allocator.Stats",
		"KernelValidateMemory() error",
		"KernelCreateProcess(entry func(p *sched.Process)) (uint64, error)",
		"KernelYield(p *sched.Process)",
		"KernelDeleteProcess(pid uint64) error",
		"KernelRunScheduler()",
		"KernelSchedulerStatus() map[string]interface{}",
		"GetKernelStatus() -> map[string]interface{}",
		"GetKernelAPIList() -> []string",
	}
}
