package ctx

import (
	"comus/kernel"
	"comus/kernel/errors"
	"comus/kernel/mem"
	"comus/kernel/mem/pmm"
	"comus/kernel/mem/pmm/allocator"
	"comus/kernel/mem/vmm"
)

// AllocPages reserves n pages of virtual address space within c and maps
// them lazily: the pages fault in on first access via the paging engine's
// LoadPage. It returns the base virtual address.
func (c *Context) AllocPages(n uint32, flags vmm.PageTableEntryFlag) (uintptr, *kernel.Error) {
	if n == 0 {
		return 0, errors.New(errors.BadParameter)
	}

	va, err := c.Ranges.Alloc(n)
	if err != nil {
		return 0, err
	}

	if err := c.PDT.MapRange(va, pmm.InvalidFrame, flags, int(n)); err != nil {
		c.Ranges.Free(va)
		return 0, err
	}

	return va, nil
}

// AllocPagesBacked behaves like AllocPages but installs a zeroed physical
// frame behind every page immediately instead of mapping lazily. Used where
// another process will map the same frames before the owner ever touches
// them (allocshared), so real frames must exist up front.
func (c *Context) AllocPagesBacked(n uint32, flags vmm.PageTableEntryFlag) (uintptr, *kernel.Error) {
	if n == 0 {
		return 0, errors.New(errors.BadParameter)
	}

	va, err := c.Ranges.Alloc(n)
	if err != nil {
		return 0, err
	}

	rollback := func(mapped uint32) {
		for j := uint32(0); j < mapped; j++ {
			pageVA := va + uintptr(j)*uintptr(mem.PageSize)
			if info, ok := c.PDT.GetPTE(pageVA); ok && info.Present {
				allocator.Free(info.Frame)
			}
		}
		c.PDT.UnmapRange(va, int(mapped))
		c.Ranges.Free(va)
	}

	for i := uint32(0); i < n; i++ {
		frame := allocator.AllocOne()
		if frame == pmm.InvalidFrame {
			rollback(i)
			return 0, errors.New(errors.OutOfMemory)
		}

		if err := zeroFrameFn(frame); err != nil {
			allocator.Free(frame)
			rollback(i)
			return 0, err
		}

		pageVA := va + uintptr(i)*uintptr(mem.PageSize)
		if err := c.PDT.MapRange(pageVA, frame, flags, 1); err != nil {
			allocator.Free(frame)
			rollback(i)
			return 0, err
		}
	}

	return va, nil
}

// AllocPagesAt behaves like AllocPages but reserves the range starting
// exactly at va, failing if that range is not entirely free.
func (c *Context) AllocPagesAt(va uintptr, n uint32, flags vmm.PageTableEntryFlag) (uintptr, *kernel.Error) {
	if n == 0 {
		return 0, errors.New(errors.BadParameter)
	}

	if err := c.Ranges.Take(va, n); err != nil {
		return 0, err
	}

	if err := c.PDT.MapRange(va, pmm.InvalidFrame, flags, int(n)); err != nil {
		c.Ranges.Free(va)
		return 0, err
	}

	return va, nil
}

// FreePages releases the range starting at va that was previously returned
// by AllocPages or AllocPagesAt: any frame that was lazily materialized is
// returned to the physical allocator, and the range is marked free again. A
// nil/zero va is a no-op.
func (c *Context) FreePages(va uintptr) *kernel.Error {
	if va == 0 {
		return nil
	}

	nPages, err := c.Ranges.Free(va)
	if err != nil {
		return err
	}

	for i := uint32(0); i < nPages; i++ {
		pageVA := va + uintptr(i)*uintptr(mem.PageSize)
		if info, ok := c.PDT.GetPTE(pageVA); ok && info.Present {
			allocator.Free(info.Frame)
		}
	}

	return c.PDT.UnmapRange(va, int(nPages))
}

// GrowHeap extends the single allocated node starting at va by addPages,
// lazily mapping the newly reserved pages. Used by brk/sbrk to keep a
// process' heap as one contiguous vrange node across repeated growth
// calls, rather than fragmenting it the way independent AllocPages calls
// would.
func (c *Context) GrowHeap(va uintptr, addPages uint32, flags vmm.PageTableEntryFlag) *kernel.Error {
	if addPages == 0 {
		return errors.New(errors.BadParameter)
	}

	if err := c.Ranges.Grow(va, addPages); err != nil {
		return err
	}

	growStart := va + uintptr(c.Ranges.PagesAt(va)-addPages)*uintptr(mem.PageSize)
	if err := c.PDT.MapRange(growStart, pmm.InvalidFrame, flags, int(addPages)); err != nil {
		c.Ranges.ShrinkTail(va, c.Ranges.PagesAt(va)-addPages)
		return err
	}

	return nil
}

// ShrinkHeap reduces the heap node starting at va down to newPages pages,
// releasing any frame that was materialized for the trailing pages back to
// the physical allocator before shrinking the vrange node itself.
func (c *Context) ShrinkHeap(va uintptr, newPages uint32) *kernel.Error {
	curPages := c.Ranges.PagesAt(va)
	if newPages > curPages {
		return errors.New(errors.BadParameter)
	}

	for i := newPages; i < curPages; i++ {
		pageVA := va + uintptr(i)*uintptr(mem.PageSize)
		if info, ok := c.PDT.GetPTE(pageVA); ok && info.Present {
			allocator.Free(info.Frame)
		}
	}

	removed := curPages - newPages
	if removed > 0 {
		if err := c.PDT.UnmapRange(va+uintptr(newPages)*uintptr(mem.PageSize), int(removed)); err != nil {
			return err
		}
	}

	return c.Ranges.ShrinkTail(va, newPages)
}
