// Package kernel wires the toy kernel's subsystems -- the region allocator
// and the cooperative scheduler -- into a single bootable, inspectable
// unit, in the same global-singleton, staged-initialization style the rest
// of this codebase uses for hardware and process management.
package kernel

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/vnatarajan/toykern/internal/allocator"
)

func addrToPointer(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr) //nolint:govet
}

// MemoryManager owns the kernel's single managed region and the raw
// mapping it was carved from.
type MemoryManager struct {
	mutex       sync.RWMutex
	region      *allocator.Region
	mapping     []byte // nil if backed by a plain Go slice instead of mmap
	initialized bool
}

// GlobalMemory provides package-wide access to the kernel's memory
// manager, mirroring GlobalProcessManager and GlobalTimerManager.
var GlobalMemory *MemoryManager

// InitializeMemoryManager carves out a region of size bytes and hands it to
// a fresh allocator.Region. When useMmap is true the region is backed by
// an anonymous mmap mapping instead of the Go heap: the allocator treats
// both identically (it only ever sees a []byte), but an mmap-backed region
// is memory the Go garbage collector does not scan, which is the textbook
// case for holding unsafe.Pointer-reinterpreted data.
func InitializeMemoryManager(size uintptr, useMmap bool) error {
	if GlobalMemory != nil && GlobalMemory.initialized {
		return fmt.Errorf("memory manager already initialized")
	}

	var buf []byte
	if useMmap {
		m, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return fmt.Errorf("mmap region: %w", err)
		}
		buf = m
	} else {
		buf = make([]byte, size)
	}

	region := allocator.New()
	if err := region.Init(buf); err != nil {
		if useMmap {
			_ = unix.Munmap(buf)
		}
		return fmt.Errorf("init region: %w", err)
	}

	mm := &MemoryManager{region: region, initialized: true}
	if useMmap {
		mm.mapping = buf
	}
	GlobalMemory = mm

	return nil
}

// Close releases the backing mapping, if any. Safe to call on a
// heap-backed manager; it is then a no-op.
func (mm *MemoryManager) Close() error {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	if mm.mapping == nil {
		return nil
	}
	err := unix.Munmap(mm.mapping)
	mm.mapping = nil
	return err
}

// KernelAllocate requests n bytes from the kernel's memory region.
func KernelAllocate(n uintptr) (uintptr, error) {
	if GlobalMemory == nil {
		return 0, fmt.Errorf("memory manager not initialized")
	}

	GlobalMemory.mutex.Lock()
	defer GlobalMemory.mutex.Unlock()

	ptr, err := GlobalMemory.region.Allocate(n)
	if err != nil {
		return 0, err
	}

	return uintptr(ptr), nil
}

// KernelFree releases a block previously returned by KernelAllocate.
func KernelFree(addr uintptr) {
	if GlobalMemory == nil || addr == 0 {
		return
	}

	GlobalMemory.mutex.Lock()
	defer GlobalMemory.mutex.Unlock()

	GlobalMemory.region.Free(addrToPointer(addr))
}

// KernelMemoryStats reports the region's current block-level statistics.
func KernelMemoryStats() allocator.Stats {
	if GlobalMemory == nil {
		return allocator.Stats{}
	}

	GlobalMemory.mutex.RLock()
	defer GlobalMemory.mutex.RUnlock()

	return GlobalMemory.region.Stats()
}

// KernelValidateMemory runs the region's sanity checks, used by the test
// suite and by the demo driver's self-check step.
func KernelValidateMemory() error {
	if GlobalMemory == nil {
		return fmt.Errorf("memory manager not initialized")
	}

	GlobalMemory.mutex.RLock()
	defer GlobalMemory.mutex.RUnlock()

	return GlobalMemory.region.Validate()
}
