package allocator

import (
	"testing"

	"comus/kernel/mem/pmm"
)

func freshAllocator(pageCount uint32) BitmapAllocator {
	return BitmapAllocator{
		pools: []framePool{
			{
				startFrame: pmm.Frame(0),
				endFrame:   pmm.Frame(pageCount - 1),
				freeCount:  pageCount,
				freeBitmap: make([]uint64, (pageCount+63)/64),
			},
		},
		totalPages: pageCount,
	}
}

func TestBitmapAllocatorAllocOne(t *testing.T) {
	alloc := freshAllocator(4)

	f0 := alloc.AllocOne()
	if f0 != pmm.Frame(0) {
		t.Fatalf("expected first AllocOne to return frame 0; got %d", f0)
	}

	f1 := alloc.AllocOne()
	if f1 != pmm.Frame(1) {
		t.Fatalf("expected second AllocOne to return frame 1; got %d", f1)
	}

	alloc.Free(f0)
	f2 := alloc.AllocOne()
	if f2 != pmm.Frame(0) {
		t.Fatalf("expected AllocOne to reuse freed frame 0; got %d", f2)
	}

	if exp, got := uint32(2), alloc.UsedPages(); got != exp {
		t.Fatalf("expected %d used pages; got %d", exp, got)
	}
}

func TestBitmapAllocatorAllocOneExhausted(t *testing.T) {
	alloc := freshAllocator(2)
	alloc.AllocOne()
	alloc.AllocOne()

	if got := alloc.AllocOne(); got != pmm.InvalidFrame {
		t.Fatalf("expected InvalidFrame once pool is exhausted; got %d", got)
	}
}

func TestBitmapAllocatorAllocExact(t *testing.T) {
	alloc := freshAllocator(8)

	alloc.AllocOne() // reserve frame 0 so the run must start later

	base := alloc.AllocExact(4)
	if base != pmm.Frame(1) {
		t.Fatalf("expected a 4-frame run starting at frame 1; got %d", base)
	}

	for f := base; f < base+4; f++ {
		if alloc.AllocExact(1) == f {
			t.Fatalf("frame %d should already be reserved by AllocExact", f)
		}
	}

	if got := alloc.AllocExact(100); got != pmm.InvalidFrame {
		t.Fatalf("expected InvalidFrame for an unsatisfiable run; got %d", got)
	}

	if got := alloc.AllocExact(0); got != pmm.InvalidFrame {
		t.Fatalf("expected InvalidFrame for a zero-length run; got %d", got)
	}
}

func TestBitmapAllocatorAllocWithExtra(t *testing.T) {
	alloc := freshAllocator(8)

	base, count := alloc.AllocWithExtra(4)
	if base != pmm.Frame(0) {
		t.Fatalf("expected base frame 0; got %d", base)
	}
	if count != 4 {
		t.Fatalf("expected to opportunistically claim 4 frames; got %d", count)
	}

	// Reserve frame 5 so the next AllocWithExtra call is cut short by it.
	alloc.markFrame(0, pmm.Frame(5), markReserved)

	base, count = alloc.AllocWithExtra(4)
	if base != pmm.Frame(4) {
		t.Fatalf("expected base frame 4; got %d", base)
	}
	if count != 1 {
		t.Fatalf("expected run to stop before the already-reserved frame 5; got count %d", count)
	}
}

func TestBitmapAllocatorFreeRange(t *testing.T) {
	alloc := freshAllocator(4)

	base, _ := alloc.AllocWithExtra(4)
	alloc.FreeRange(base, 4)

	if exp, got := uint32(0), alloc.UsedPages(); got != exp {
		t.Fatalf("expected all frames freed; got %d used", got)
	}

	// Freeing a frame outside any managed pool is a no-op, not a panic.
	alloc.Free(pmm.Frame(0xffff))
}

func TestBitmapAllocatorStats(t *testing.T) {
	alloc := freshAllocator(4)
	alloc.AllocOne()

	if exp, got := uint32(4), alloc.TotalPages(); got != exp {
		t.Fatalf("expected total pages %d; got %d", exp, got)
	}
	if exp, got := uint32(1), alloc.UsedPages(); got != exp {
		t.Fatalf("expected used pages %d; got %d", exp, got)
	}
	if exp, got := uint32(3), alloc.FreePages(); got != exp {
		t.Fatalf("expected free pages %d; got %d", exp, got)
	}
}
