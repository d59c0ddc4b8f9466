package vmm

import (
	"testing"

	"comus/kernel"
	"comus/kernel/mem"
	"comus/kernel/mem/pmm"
)

func withActiveFrame(t *testing.T, frame pmm.Frame) func() {
	t.Helper()
	origActivePDT := activePDTFn
	activePDTFn = func() uintptr { return frame.Address() }
	return func() { activePDTFn = origActivePDT }
}

func TestPageDirectoryTableMapRange(t *testing.T) {
	defer func(origMap func(Page, pmm.Frame, PageTableEntryFlag) *kernel.Error, origUnmap func(Page) *kernel.Error) {
		mapFn = origMap
		unmapFn = origUnmap
	}(mapFn, unmapFn)
	defer withActiveFrame(t, pmm.Frame(42))()

	pdt := PageDirectoryTable{pdtFrame: pmm.Frame(42)}

	var mappedPages []Page
	mapFn = func(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
		mappedPages = append(mappedPages, page)
		return nil
	}

	var unmappedPages []Page
	unmapFn = func(page Page) *kernel.Error {
		unmappedPages = append(unmappedPages, page)
		return nil
	}

	const vaStart = uintptr(0x400000)
	if err := pdt.MapRange(vaStart, pmm.Frame(7), FlagRW|FlagUser, 3); err != nil {
		t.Fatal(err)
	}

	if exp, got := 3, len(mappedPages); exp != got {
		t.Fatalf("expected %d pages mapped; got %d", exp, got)
	}
	for i, page := range mappedPages {
		if exp := PageFromAddress(vaStart + uintptr(i)*uintptr(mem.PageSize)); page != exp {
			t.Errorf("[page %d] expected %v; got %v", i, exp, page)
		}
	}
	if len(unmappedPages) != 0 {
		t.Fatalf("expected no rollback on success; got %d unmapped pages", len(unmappedPages))
	}
}

func TestPageDirectoryTableMapRangeRollsBackOnFailure(t *testing.T) {
	defer func(origMap func(Page, pmm.Frame, PageTableEntryFlag) *kernel.Error, origUnmap func(Page) *kernel.Error) {
		mapFn = origMap
		unmapFn = origUnmap
	}(mapFn, unmapFn)
	defer withActiveFrame(t, pmm.Frame(42))()

	pdt := PageDirectoryTable{pdtFrame: pmm.Frame(42)}

	expErr := &kernel.Error{Module: "test", Message: "out of frames"}
	callCount := 0
	mapFn = func(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
		callCount++
		if callCount == 3 {
			return expErr
		}
		return nil
	}

	var unmappedPages []Page
	unmapFn = func(page Page) *kernel.Error {
		unmappedPages = append(unmappedPages, page)
		return nil
	}

	if err := pdt.MapRange(0x400000, pmm.Frame(7), FlagRW, 5); err != expErr {
		t.Fatalf("expected %v; got %v", expErr, err)
	}

	if exp, got := 2, len(unmappedPages); exp != got {
		t.Fatalf("expected the first %d successfully-mapped pages to be rolled back; got %d", exp, got)
	}
}

func TestPageDirectoryTableUnmapRange(t *testing.T) {
	defer func(origClearLeaf func(Page) *kernel.Error) {
		clearLeafFn = origClearLeaf
	}(clearLeafFn)
	defer withActiveFrame(t, pmm.Frame(42))()

	pdt := PageDirectoryTable{pdtFrame: pmm.Frame(42)}

	var cleared []Page
	clearLeafFn = func(page Page) *kernel.Error {
		cleared = append(cleared, page)
		return nil
	}

	if err := pdt.UnmapRange(0x400000, 4); err != nil {
		t.Fatal(err)
	}

	if exp, got := 4, len(cleared); exp != got {
		t.Fatalf("expected %d pages cleared; got %d", exp, got)
	}
}

func TestPageDirectoryTableMapAddr(t *testing.T) {
	defer func(origMap func(Page, pmm.Frame, PageTableEntryFlag) *kernel.Error) {
		mapFn = origMap
	}(mapFn)
	defer withActiveFrame(t, pmm.Frame(42))()

	pdt := PageDirectoryTable{pdtFrame: pmm.Frame(42)}

	mapFn = func(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
		return nil
	}

	const phys = uintptr(0xb8000 + 100) // unaligned, like a typical MMIO offset
	reserveCalls := 0
	reserveFn := func(size mem.Size) (uintptr, *kernel.Error) {
		reserveCalls++
		return 0x500000, nil
	}

	va, err := pdt.MapAddr(phys, 0, mem.Size(50), FlagRW, reserveFn)
	if err != nil {
		t.Fatal(err)
	}

	if exp := uintptr(0x500000 + 100); va != exp {
		t.Fatalf("expected returned VA to preserve the sub-page offset: exp %x got %x", exp, va)
	}
	if reserveCalls != 1 {
		t.Fatalf("expected reserveFn to be called once; got %d", reserveCalls)
	}
}
