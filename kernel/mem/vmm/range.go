package vmm

import (
	"unsafe"

	"comus/kernel"
	"comus/kernel/mem"
	"comus/kernel/mem/pmm"
)

// withInactiveRemap re-points the recursive self-mapping slot of the active
// PDT at pdt's frame for the duration of fn, exactly as PageDirectoryTable.Map
// and .Unmap already do for a single page. It lets a context that is not
// currently loaded still be walked through the ordinary recursive-addressing
// scheme (the "scratch mapping" mechanism from the specification).
func (pdt PageDirectoryTable) withInactiveRemap(fn func() *kernel.Error) *kernel.Error {
	activePdtFrame := pmm.Frame(activePDTFn() >> mem.PageShift)
	if activePdtFrame == pdt.pdtFrame {
		return fn()
	}

	lastPdtEntryAddr := activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
	lastPdtEntry.SetFrame(pdt.pdtFrame)
	flushTLBEntryFn(lastPdtEntryAddr)

	err := fn()

	lastPdtEntry.SetFrame(activePdtFrame)
	flushTLBEntryFn(lastPdtEntryAddr)

	return err
}

// MapRange maps nPages starting at vaStart. If physStart is pmm.InvalidFrame
// the mapping is lazy (see FlagLazy); otherwise physStart, physStart+1, ...
// are installed one-to-one with vaStart, vaStart+PageSize, .... On any
// failure, every page mapped so far by this call is unwound before the error
// is returned, so a partially failed MapRange never leaves stray mappings.
func (pdt PageDirectoryTable) MapRange(vaStart uintptr, physStart pmm.Frame, flags PageTableEntryFlag, nPages int) *kernel.Error {
	return pdt.withInactiveRemap(func() *kernel.Error {
		for i := 0; i < nPages; i++ {
			page := PageFromAddress(vaStart + uintptr(i)*uintptr(mem.PageSize))

			var err *kernel.Error
			if physStart == pmm.InvalidFrame {
				err = mapLazyFn(page, flags)
			} else {
				err = mapFn(page, physStart+pmm.Frame(i), flags)
			}

			if err != nil {
				for j := 0; j < i; j++ {
					mapped := PageFromAddress(vaStart + uintptr(j)*uintptr(mem.PageSize))
					if physStart == pmm.InvalidFrame {
						clearLeafFn(mapped)
					} else {
						unmapFn(mapped)
					}
				}
				return err
			}
		}

		return nil
	})
}

// UnmapRange clears nPages leaf entries starting at vaStart. Pages that were
// never mapped are silently skipped.
func (pdt PageDirectoryTable) UnmapRange(vaStart uintptr, nPages int) *kernel.Error {
	return pdt.withInactiveRemap(func() *kernel.Error {
		for i := 0; i < nPages; i++ {
			page := PageFromAddress(vaStart + uintptr(i)*uintptr(mem.PageSize))
			clearLeafFn(page)
		}
		return nil
	})
}

// GetPTE returns the leaf page table entry for va within this context.
func (pdt PageDirectoryTable) GetPTE(va uintptr) (PTEInfo, bool) {
	var info PTEInfo
	var ok bool
	pdt.withInactiveRemap(func() *kernel.Error {
		info, ok = GetPTE(va)
		return nil
	})
	return info, ok
}

// MapAddr maps a physical region (typically device MMIO) of length len
// starting at phys into this context. If va is 0, a range of the required
// size is reserved via reserveFn. The returned virtual address is adjusted
// for any sub-page offset present in phys, so callers can address the region
// exactly as they would the physical one.
func (pdt PageDirectoryTable) MapAddr(phys uintptr, va uintptr, length mem.Size, flags PageTableEntryFlag, reserveFn func(mem.Size) (uintptr, *kernel.Error)) (uintptr, *kernel.Error) {
	pageOffset := phys & uintptr(mem.PageSize-1)
	alignedPhys := phys &^ uintptr(mem.PageSize-1)
	mappedLen := mem.Size(pageOffset) + length
	nPages := int(mappedLen.Pages())

	if va == 0 {
		reserved, err := reserveFn(mem.Size(nPages) * mem.PageSize)
		if err != nil {
			return 0, err
		}
		va = reserved
	}

	baseFrame := pmm.Frame(alignedPhys >> mem.PageShift)
	if err := pdt.MapRange(va, baseFrame, FlagPresent|flags, nPages); err != nil {
		return 0, err
	}

	return va + pageOffset, nil
}
