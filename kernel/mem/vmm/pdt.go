package vmm

import (
	"unsafe"

	"comus/kernel"
	"comus/kernel/mem"
	"comus/kernel/mem/pmm"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = activePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = switchPDT

	// mapFn is used by tests and is automatically inlined by the compiler.
	mapFn = Map

	// mapTemporaryFn is used by tests and is automatically inlined by the compiler.
	mapTemporaryFn = MapTemporary

	// unmapFn is used by tests and is automatically inlined by the compiler.
	unmapFn = Unmap
)

// PageDirectoryTable describes the top-most table in a multi-level paging scheme.
type PageDirectoryTable struct {
	pdtFrame pmm.Frame
}

// Frame returns the physical frame backing this page directory table's root.
func (pdt PageDirectoryTable) Frame() pmm.Frame {
	return pdt.pdtFrame
}

// Init sets up the page table directory starting at the supplied physical
// address. If the supplied frame does not match the currently active PDT, then
// Init assumes that this is a new page table directory that needs
// bootstapping. In such a case, a temporary mapping is established so that
// Init can:
//  - call mem.Memset to clear the frame contents
//  - setup a recursive mapping for the last table entry to the page itself.
func (pdt *PageDirectoryTable) Init(pdtFrame pmm.Frame) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	// Check active PDT physical address. If it matches the input pdt then
	// nothing more needs to be done
	activePdtAddr := activePDTFn()
	if pdtFrame.Address() == activePdtAddr {
		return nil
	}

	// Create a temporary mapping for the pdt frame so we can work on it
	pdtPage, err := mapTemporaryFn(pdtFrame)
	if err != nil {
		return err
	}

	// Clear the page contents and setup recursive mapping for the last PDT entry
	mem.Memset(pdtPage.Address(), 0, mem.PageSize)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(pdtPage.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)))
	*lastPdtEntry = 0
	lastPdtEntry.SetFlags(FlagPresent | FlagRW)
	lastPdtEntry.SetFrame(pdtFrame)

	// Remove temporary mapping
	unmapFn(pdtPage)

	return nil
}

// Map establishes a mapping between a virtual page and a physical memory frame
// using this PDT. This method behaves in a similar fashion to the global Map()
// function with the difference that it also supports inactive page PDTs by
// establishing a temporary mapping so that Map() can access the inactive PDT
// entries.
func (pdt PageDirectoryTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var (
		activePdtFrame   = pmm.Frame(activePDTFn() >> mem.PageShift)
		lastPdtEntryAddr uintptr
		lastPdtEntry     *pageTableEntry
	)
	// If this table is not active we need to temporarily map it to the
	// last entry in the active PDT so we can access it using the recursive
	// virtual address scheme.
	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastPdtEntry = (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
		lastPdtEntry.SetFrame(pdt.pdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	err := mapFn(page, frame, flags)

	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	return err
}

// Unmap removes a mapping previousle installed by a call to Map() on this PDT.
// This method behaves in a similar fashion to the global Unmap() function with
// the difference that it also supports inactive page PDTs by establishing a
// temporary mapping so that Unmap() can access the inactive PDT entries.
func (pdt PageDirectoryTable) Unmap(page Page) *kernel.Error {
	var (
		activePdtFrame   = pmm.Frame(activePDTFn() >> mem.PageShift)
		lastPdtEntryAddr uintptr
		lastPdtEntry     *pageTableEntry
	)
	// If this table is not active we need to temporarily map it to the
	// last entry in the active PDT so we can access it using the recursive
	// virtual address scheme.
	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastPdtEntry = (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
		lastPdtEntry.SetFrame(pdt.pdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	err := unmapFn(page)

	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	return err
}

// Activate enables this page directory table and flushes the TLB
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}

// kernelLowestSharedEntry is the first root-table slot belonging to the
// higher-half kernel address space. Entries at or above it point at interior
// tables every context shares, so kernel mappings established after a
// context was created (heap growth in particular) stay visible to it.
const kernelLowestSharedEntry = 256

// ReleaseUserTables hands every interior table frame reachable from pdt's
// lower-half root entries to freeFn, depth first. Leaf data frames must
// already have been released by the caller; only the paging structures
// themselves are returned. The shared higher-half entries are not followed.
func (pdt PageDirectoryTable) ReleaseUserTables(freeFn func(pmm.Frame)) *kernel.Error {
	return releaseTables(pdt.pdtFrame, 0, freeFn)
}

// releaseTables frees the interior-table descendants of tableFrame (a table
// at the given paging level), but neither tableFrame itself nor any data
// frame a PT points at. Children are collected before recursing because the
// temporary-mapping slot can only hold one table at a time.
func releaseTables(tableFrame pmm.Frame, level int, freeFn func(pmm.Frame)) *kernel.Error {
	if level == pageLevels-1 {
		return nil
	}

	page, err := mapTemporaryFn(tableFrame)
	if err != nil {
		return err
	}

	limit := 512
	if level == 0 {
		limit = kernelLowestSharedEntry
	}

	entries := (*[512]pageTableEntry)(unsafe.Pointer(page.Address()))
	var children [512]pmm.Frame
	n := 0
	for i := 0; i < limit; i++ {
		if entries[i].HasFlags(FlagPresent) && !entries[i].HasFlags(FlagHugePage) {
			children[n] = entries[i].Frame()
			n++
		}
	}

	if err = unmapFn(page); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		if err = releaseTables(children[i], level+1, freeFn); err != nil {
			return err
		}
		freeFn(children[i])
	}

	return nil
}

// InheritKernelMappings copies the higher-half entries of the currently
// active root table into pdt verbatim, sharing the interior tables they
// point at rather than duplicating them. The recursive slot is skipped:
// Init already pointed it at pdt's own frame.
func (pdt PageDirectoryTable) InheritKernelMappings() *kernel.Error {
	dstPage, err := mapTemporaryFn(pdt.pdtFrame)
	if err != nil {
		return err
	}

	src := (*[512]pageTableEntry)(unsafe.Pointer(pdtVirtualAddr))
	dst := (*[512]pageTableEntry)(unsafe.Pointer(dstPage.Address()))
	for i := kernelLowestSharedEntry; i < int(recursiveEntry); i++ {
		dst[i] = src[i]
	}

	return unmapFn(dstPage)
}
