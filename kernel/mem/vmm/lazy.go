package vmm

import (
	"unsafe"

	"comus/kernel"
	"comus/kernel/mem"
	"comus/kernel/mem/pmm"
)

// FlagLazy marks a leaf page table entry as reserved for lazy allocation: the
// virtual address is claimed and its interior tables exist, but no physical
// frame has been installed yet. FlagPresent stays clear so that the first
// access traps into the page fault handler, which installs a frame via
// LoadPage and flips FlagLazy off in favour of FlagPresent.
const FlagLazy PageTableEntryFlag = 1 << 10

var (
	mapLazyFn   = mapLazy
	loadPageFn  = LoadPage
	clearLeafFn = clearLeaf
)

// mapLazy behaves like Map except that it never consumes a physical frame:
// the leaf entry is written with FlagLazy set and FlagPresent clear. Interior
// tables are still created as needed, exactly as in Map.
func mapLazy(page Page, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFlags(FlagLazy | flags)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = frameAllocator()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			nextTableAddr := (uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1])
			mem.Memset(nextAddrFn(nextTableAddr), 0, mem.PageSize)
		}

		return true
	})

	return err
}

// clearLeaf zeroes out the leaf entry for page, whether it was present,
// lazy, or already absent, and flushes its TLB entry. Missing interior
// tables make this a silent no-op, matching the "unmap of an unmapped VA is
// silently ignored" edge case from the specification.
func clearLeaf(page Page) *kernel.Error {
	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel < pageLevels-1 {
			return pte.HasFlags(FlagPresent)
		}

		*pte = 0
		flushTLBEntryFn(page.Address())
		return true
	})

	return nil
}

// PTEInfo is a read-only snapshot of a leaf page table entry, exposed to
// callers that cannot reach into the unexported pageTableEntry type.
type PTEInfo struct {
	Present  bool
	Writable bool
	User     bool
	Lazy     bool
	Frame    pmm.Frame
}

// GetPTE returns the leaf page table entry for virtAddr and true, or a zero
// PTEInfo and false if no entry has ever been created for that address (an
// interior table along the way is missing).
func GetPTE(virtAddr uintptr) (PTEInfo, bool) {
	var (
		info  PTEInfo
		found bool
	)

	walk(virtAddr, func(level uint8, pte *pageTableEntry) bool {
		if level < pageLevels-1 {
			return pte.HasFlags(FlagPresent)
		}

		if !pte.HasFlags(FlagPresent) && !pte.HasFlags(FlagLazy) {
			return false
		}

		info = PTEInfo{
			Present:  pte.HasFlags(FlagPresent),
			Writable: pte.HasFlags(FlagRW),
			User:     pte.HasFlags(FlagUser),
			Lazy:     pte.HasFlags(FlagLazy) && !pte.HasFlags(FlagPresent),
			Frame:    pte.Frame(),
		}
		found = true
		return false
	})

	return info, found
}

// LoadPage services a page fault against a lazily-mapped address: if the
// leaf entry exists and is still lazy (not present), it installs a freshly
// allocated frame, marks it present and flushes its TLB entry. Any other
// state (no entry at all, or an entry that is already present) is reported
// as ErrInvalidMapping so the caller can treat it as a genuine fault.
func LoadPage(page Page) *kernel.Error {
	info, ok := GetPTE(page.Address())
	if !ok || !info.Lazy {
		return ErrInvalidMapping
	}

	frame, err := frameAllocator()
	if err != nil {
		return err
	}

	var outerErr *kernel.Error
	walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level < pageLevels-1 {
			return true
		}

		pte.ClearFlags(FlagLazy)
		pte.SetFrame(frame)
		pte.SetFlags(FlagPresent)
		flushTLBEntryFn(page.Address())
		return true
	})

	return outerErr
}
