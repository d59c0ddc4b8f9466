package allocator

import (
	"comus/kernel"
	"comus/kernel/hal/multiboot"
	"comus/kernel/kfmt/early"
	"comus/kernel/mem"
	"comus/kernel/mem/pmm"
)

var (
	// earlyAllocator is a static instance of the boot memory allocator which
	// is used to bootstrap the kernel before the bitmap allocator takes over.
	earlyAllocator bootMemAllocator

	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// bootMemAllocator implements a rudimentary physical memory allocator which is used
// to bootstrap the kernel.
//
// The allocator implementation uses the memory region information provided by
// the bootloader to detect free memory blocks and return the next available
// free frame.
//
// Allocations are tracked via an internal counter together with the last
// allocated frame. The system memory regions are mapped into a linear page
// index by aligning the region start address to the system's page size and
// then dividing by the page size.
//
// Due to the way that the allocator works, it is not possible to free
// allocated pages. Once the kernel is properly initialized, the allocated
// blocks will be handed over to the bitmap allocator which does support
// freeing.
type bootMemAllocator struct {
	// kernelStartFrame and kernelEndFrame track the physical frames occupied
	// by the kernel image.
	kernelStartFrame pmm.Frame
	kernelEndFrame   pmm.Frame

	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame. Before the first
	// allocation it is set to pmm.InvalidFrame.
	lastAllocFrame pmm.Frame
}

// init resets the allocator internal state and records the physical frames
// occupied by the kernel image so they can later be reserved by the bitmap
// allocator.
func (alloc *bootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	alloc.kernelStartFrame = pmm.Frame(kernelStart >> mem.PageShift)
	alloc.kernelEndFrame = pmm.Frame(kernelEnd >> mem.PageShift)
	alloc.allocCount = 0
	alloc.lastAllocFrame = pmm.InvalidFrame
}

// printMemoryMap prints out the system memory map together with the amount
// of available memory and the frames occupied by the kernel image.
func (alloc *bootMemAllocator) printMemoryMap() {
	early.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree mem.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		early.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mem.Size(region.Length)
		}
		return true
	})
	early.Printf("[boot_mem_alloc] available memory: %dKb\n", uint64(totalFree/mem.Kb))
	early.Printf("[boot_mem_alloc] kernel loaded at 0x%x - 0x%x\n", alloc.kernelStartFrame.Address(), alloc.kernelEndFrame.Address())
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame.
//
// AllocFrame returns an error if no more memory can be allocated.
func (alloc *bootMemAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	var (
		foundFrame               = pmm.InvalidFrame
		regionStartFrame, regionEndFrame pmm.Frame
	)
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		// Align region start address to a page boundary and find the start
		// and end frame numbers for the region
		regionStartFrame = pmm.Frame(((mem.Size(region.PhysAddress) + (mem.PageSize - 1)) & ^(mem.PageSize - 1)) >> mem.PageShift)
		regionEndFrame = pmm.Frame(((mem.Size(region.PhysAddress+region.Length) - (mem.PageSize - 1)) & ^(mem.PageSize - 1)) >> mem.PageShift)

		// Ignore already allocated regions
		if alloc.lastAllocFrame != pmm.InvalidFrame && alloc.lastAllocFrame >= regionEndFrame {
			return true
		}

		// We found a block that can be allocated. The last allocated frame
		// will either be pointing to a previous region or will point inside
		// this region. In the first case we just need to select
		// regionStartFrame. In the latter case we can simply select the next
		// available frame in the current region.
		if alloc.lastAllocFrame == pmm.InvalidFrame || alloc.lastAllocFrame < regionStartFrame {
			foundFrame = regionStartFrame
		} else {
			foundFrame = alloc.lastAllocFrame + 1
		}
		return false
	})

	if foundFrame == pmm.InvalidFrame {
		return pmm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	alloc.lastAllocFrame = foundFrame

	return foundFrame, nil
}
