// Package ctx implements the memory context (C4): the per-process address
// space binding together the physical frame allocator, a virtual range
// list and a page directory table.
package ctx

import (
	"unsafe"

	"comus/kernel"
	"comus/kernel/errors"
	"comus/kernel/mem"
	"comus/kernel/mem/pmm"
	"comus/kernel/mem/pmm/allocator"
	"comus/kernel/mem/vmm"
	"comus/kernel/mem/vrange"
)

// Canonical user-accessible virtual address range handed to every context's
// vrange.List. Page 0 is deliberately excluded so a null pointer dereference
// always faults instead of landing inside a valid allocation.
const (
	UserRangeStart = uintptr(mem.PageSize)
	UserRangeEnd   = uintptr(0x0000800000000000)
)

// Context is a memory context (C4): a page directory table plus the
// virtual-range list that tracks what of its address space is in use.
type Context struct {
	PDT    vmm.PageDirectoryTable
	Ranges *vrange.List

	// borrowed records regions mapped into this context whose backing
	// frames are owned by another context (popsharedmem). Destroy unmaps
	// them but must not free their frames.
	borrowed []borrowedRegion
}

type borrowedRegion struct {
	start, end uintptr
}

// Borrow records [va, va+nPages*PageSize) as backed by frames another
// context owns.
func (c *Context) Borrow(va uintptr, nPages uint32) {
	c.borrowed = append(c.borrowed, borrowedRegion{
		start: va,
		end:   va + uintptr(nPages)*uintptr(mem.PageSize),
	})
}

func (c *Context) isBorrowed(va uintptr) bool {
	for _, r := range c.borrowed {
		if va >= r.start && va < r.end {
			return true
		}
	}
	return false
}

// Kernel is the single, distinguished kernel context shared (read-only, from
// the user half's perspective) by every process. It is populated once during
// boot by InitKernel.
var Kernel *Context

// InitKernel installs pdtFrame as the kernel context's page directory table
// and records the full kernel-reserved virtual range as already taken.
func InitKernel(pdtFrame pmm.Frame, kernelRangeStart, kernelRangeEnd uintptr) *kernel.Error {
	var pdt vmm.PageDirectoryTable
	if err := pdt.Init(pdtFrame); err != nil {
		return err
	}

	ranges := vrange.New(UserRangeStart, UserRangeEnd)
	if kernelRangeEnd > kernelRangeStart {
		nPages := uint32((kernelRangeEnd - kernelRangeStart) / uintptr(mem.PageSize))
		if err := ranges.Take(kernelRangeStart, nPages); err != nil {
			return err
		}
	}

	Kernel = &Context{PDT: pdt, Ranges: ranges}
	return nil
}

// CloneFromKernel allocates a fresh page directory table sharing the kernel
// context's mappings, so every context keeps observing the one kernel image
// and heap. The higher-half root entries are copied verbatim (interior
// tables shared, which keeps later kernel heap growth visible everywhere);
// the kernel's low reservation (its identity-mapped image) is mirrored leaf
// by leaf, since user mappings share those root entries
// and cannot alias whole interior tables. The new context's virtual-range
// list starts out empty aside from the kernel reservation.
func CloneFromKernel() (*Context, *kernel.Error) {
	frame := allocator.AllocOne()
	if frame == pmm.InvalidFrame {
		return nil, errors.New(errors.OutOfMemory)
	}

	var pdt vmm.PageDirectoryTable
	if err := pdt.Init(frame); err != nil {
		allocator.Free(frame)
		return nil, err
	}

	if err := pdt.InheritKernelMappings(); err != nil {
		allocator.Free(frame)
		return nil, err
	}

	newCtx := &Context{PDT: pdt, Ranges: vrange.New(UserRangeStart, UserRangeEnd)}

	if err := mirrorKernelLow(newCtx); err != nil {
		allocator.Free(frame)
		return nil, err
	}

	return newCtx, nil
}

// mirrorKernelLow installs, in dst, the same leaf mapping (same backing
// frame, same flags) as every low-half page currently allocated in the
// kernel context. These regions are frozen at boot, so the leaf copies can
// never go stale the way a mirrored heap would.
func mirrorKernelLow(dst *Context) *kernel.Error {
	var walkErr *kernel.Error

	Kernel.Ranges.Walk(func(start, end uintptr, free bool) bool {
		if free {
			return true
		}

		nPages := int((end - start) / uintptr(mem.PageSize))
		if err := dst.Ranges.Take(start, uint32(nPages)); err != nil {
			walkErr = err
			return false
		}
		// The kernel owns these frames; Destroy must never release them.
		dst.Borrow(start, uint32(nPages))
		for i := 0; i < nPages; i++ {
			va := start + uintptr(i)*uintptr(mem.PageSize)

			info, ok := Kernel.PDT.GetPTE(va)
			if !ok {
				continue
			}

			flags := vmm.FlagGlobal
			if info.Writable {
				flags |= vmm.FlagRW
			}
			if info.User {
				flags |= vmm.FlagUser
			}

			if !info.Present {
				if err := dst.PDT.MapRange(va, pmm.InvalidFrame, flags, 1); err != nil {
					walkErr = err
					return false
				}
				continue
			}

			if err := dst.PDT.MapRange(va, info.Frame, flags, 1); err != nil {
				walkErr = err
				return false
			}
		}

		return true
	})

	return walkErr
}

// CloneProcess builds a child context the way CloneFromKernel does, and
// additionally duplicates every user-half mapping of parent into the child:
// present pages are copied (a fresh frame is allocated and the contents
// copied byte for byte, no copy-on-write), and lazy pages stay lazy.
func CloneProcess(parent *Context) (*Context, *kernel.Error) {
	child, err := CloneFromKernel()
	if err != nil {
		return nil, err
	}

	var copyErr *kernel.Error
	parent.Ranges.Walk(func(start, end uintptr, free bool) bool {
		if free {
			return true
		}

		// Regions whose frames the parent merely borrows (the kernel image
		// mirror, a popped shared-memory window) are not duplicated: the
		// child received its own kernel mirror above, and shared windows do
		// not survive a fork.
		if parent.isBorrowed(start) {
			return true
		}

		nPages := uint32((end - start) / uintptr(mem.PageSize))
		if err := child.Ranges.Take(start, nPages); err != nil {
			copyErr = err
			return false
		}

		for va := start; va < end; va += uintptr(mem.PageSize) {
			info, ok := parent.PDT.GetPTE(va)
			if !ok {
				continue
			}

			flags := pteFlags(info)

			if !info.Present {
				if err := child.PDT.MapRange(va, pmm.InvalidFrame, flags, 1); err != nil {
					copyErr = err
					return false
				}
				continue
			}

			newFrame := allocator.AllocOne()
			if newFrame == pmm.InvalidFrame {
				copyErr = errors.New(errors.OutOfMemory)
				return false
			}

			if err := copyFrame(newFrame, info.Frame); err != nil {
				copyErr = err
				return false
			}

			if err := child.PDT.MapRange(va, newFrame, flags, 1); err != nil {
				copyErr = err
				return false
			}
		}

		return true
	})

	if copyErr != nil {
		Destroy(child)
		return nil, copyErr
	}

	return child, nil
}

func pteFlags(info vmm.PTEInfo) vmm.PageTableEntryFlag {
	var flags vmm.PageTableEntryFlag
	if info.Writable {
		flags |= vmm.FlagRW
	}
	if info.User {
		flags |= vmm.FlagUser
	}
	return flags
}

// frameCopyBuf stages page contents between two temporary mappings: the
// paging engine exposes a single scratch slot, so the source and destination
// frames are never mapped at the same time.
var frameCopyBuf [mem.PageSize]byte

// copyFrameFn is overridden by tests.
var copyFrameFn = func(dst, src pmm.Frame) *kernel.Error {
	bufAddr := uintptr(unsafe.Pointer(&frameCopyBuf[0]))

	srcPage, err := vmm.MapTemporary(src)
	if err != nil {
		return err
	}
	mem.Memcopy(srcPage.Address(), bufAddr, mem.PageSize)
	if err = vmm.Unmap(srcPage); err != nil {
		return err
	}

	dstPage, err := vmm.MapTemporary(dst)
	if err != nil {
		return err
	}
	mem.Memcopy(bufAddr, dstPage.Address(), mem.PageSize)
	return vmm.Unmap(dstPage)
}

func copyFrame(dst, src pmm.Frame) *kernel.Error {
	return copyFrameFn(dst, src)
}

// zeroFrameFn is overridden by tests.
var zeroFrameFn = func(frame pmm.Frame) *kernel.Error {
	page, err := vmm.MapTemporary(frame)
	if err != nil {
		return err
	}
	mem.Memset(page.Address(), 0, mem.PageSize)
	return vmm.Unmap(page)
}

// Destroy releases every user-half mapping and backing frame owned by c.
// Borrowed regions (the kernel image mirror, shared-memory windows) are
// unmapped but their frames are left to their owners; the shared higher-half
// entries are never followed, since those interior tables belong to the
// kernel context and outlive every process sharing them.
func Destroy(c *Context) {
	c.Ranges.Walk(func(start, end uintptr, free bool) bool {
		if free {
			return true
		}

		if !c.isBorrowed(start) {
			for va := start; va < end; va += uintptr(mem.PageSize) {
				if info, ok := c.PDT.GetPTE(va); ok && info.Present {
					allocator.Free(info.Frame)
				}
			}
		}

		c.PDT.UnmapRange(start, int((end-start)/uintptr(mem.PageSize)))
		return true
	})

	c.PDT.ReleaseUserTables(allocator.Free)
	allocator.Free(c.PDT.Frame())
}

// graveyard holds contexts whose owning PCB has been reaped but whose page
// tables may still be the active ones (a process exiting tears itself down
// from inside its own address space). The dispatcher drains it right after
// switching to the next process' tables, when destroying them is safe.
var graveyard []*Context

// Retire queues c for destruction at the next dispatch.
func Retire(c *Context) {
	graveyard = append(graveyard, c)
}

// ReapGraveyard destroys every retired context. The caller must guarantee
// none of them is active.
func ReapGraveyard() {
	for _, c := range graveyard {
		Destroy(c)
	}
	graveyard = graveyard[:0]
}
