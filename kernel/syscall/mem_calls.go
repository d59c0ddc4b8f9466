package syscall

import (
	"comus/kernel"
	"comus/kernel/errors"
	"comus/kernel/mem"
	"comus/kernel/mem/vmm"
	"comus/kernel/proc"
)

func pageRoundUp(n uintptr) uintptr {
	return (n + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
}

// setBreak adjusts p's heap to exactly newLen bytes (already page-rounded),
// choosing the right underlying primitive depending on whether the heap has
// never been materialized (AllocPagesAt), is growing (GrowHeap), is
// shrinking to nothing (FreePages) or shrinking partially (ShrinkHeap).
func setBreak(p *proc.PCB, newLen uintptr) *kernel.Error {
	curPages := uint32(p.HeapLen / uintptr(mem.PageSize))
	newPages := uint32(newLen / uintptr(mem.PageSize))

	switch {
	case newPages == curPages:
		return nil

	case curPages == 0 && newPages > 0:
		if _, err := p.Ctx.AllocPagesAt(p.HeapStart, newPages, vmm.FlagRW|vmm.FlagUser); err != nil {
			return err
		}

	case newPages == 0:
		if err := p.Ctx.FreePages(p.HeapStart); err != nil {
			return err
		}

	case newPages > curPages:
		if err := p.Ctx.GrowHeap(p.HeapStart, newPages-curPages, vmm.FlagRW|vmm.FlagUser); err != nil {
			return err
		}

	default:
		if err := p.Ctx.ShrinkHeap(p.HeapStart, newPages); err != nil {
			return err
		}
	}

	p.HeapLen = uintptr(newPages) * uintptr(mem.PageSize)
	return nil
}

// sysBrk sets the caller's heap break to the given absolute address,
// returning the previous break on success or 0 on failure (addr below
// heap_start, or the underlying page operation failing).
func sysBrk(s *Syscalls, p *proc.PCB) {
	addr := uintptr(arg0(p))
	old := p.HeapStart + p.HeapLen

	if addr < p.HeapStart {
		ret(p, 0)
		return
	}

	newLen := pageRoundUp(addr - p.HeapStart)
	if err := setBreak(p, newLen); err != nil {
		ret(p, 0)
		return
	}

	ret(p, int64(old))
}

// sysSbrk adjusts the caller's heap break by a signed increment, returning
// the previous break on success or 0 on failure.
func sysSbrk(s *Syscalls, p *proc.PCB) {
	incr := int64(arg0(p))
	old := p.HeapStart + p.HeapLen

	newLenSigned := int64(p.HeapLen) + incr
	if newLenSigned < 0 {
		ret(p, 0)
		return
	}

	newLen := pageRoundUp(uintptr(newLenSigned))
	if err := setBreak(p, newLen); err != nil {
		ret(p, 0)
		return
	}

	ret(p, int64(old))
}

// sysDRM maps the boot framebuffer into the caller's context and reports its
// virtual address and dimensions through the caller's output pointers. Only
// one mapping is allowed per process.
func sysDRM(s *Syscalls, p *proc.PCB) {
	if p.FBAddr != 0 {
		ret(p, errors.New(errors.GenericFailure).Errno())
		return
	}
	if s.FB == nil {
		ret(p, errors.New(errors.NotFound).Errno())
		return
	}

	fbPtr := uintptr(arg0(p))
	wPtr := uintptr(arg1(p))
	hPtr := uintptr(arg2(p))
	bppPtr := uintptr(arg3(p))

	length := mem.Size(uint64(s.FB.Pitch) * uint64(s.FB.Height))
	va, err := p.Ctx.PDT.MapAddr(uintptr(s.FB.PhysAddr), 0, length, vmm.FlagRW|vmm.FlagUser,
		func(sz mem.Size) (uintptr, *kernel.Error) {
			return p.Ctx.Ranges.Alloc(sz.Pages())
		})
	if err != nil {
		ret(p, errno(err))
		return
	}

	p.FBAddr = va

	if err := writeU64(p.Ctx, fbPtr, uint64(va)); err != nil {
		ret(p, errno(err))
		return
	}
	if err := writeU32(p.Ctx, wPtr, s.FB.Width); err != nil {
		ret(p, errno(err))
		return
	}
	if err := writeU32(p.Ctx, hPtr, s.FB.Height); err != nil {
		ret(p, errno(err))
		return
	}
	if err := writeU32(p.Ctx, bppPtr, uint32(s.FB.Bpp)); err != nil {
		ret(p, errno(err))
		return
	}

	ret(p, 0)
}

// sysAllocShared allocates nPages in the caller's context and records the
// allocation as otherPid's pending inbox, to be claimed by a subsequent
// popsharedmem from that process.
func sysAllocShared(s *Syscalls, p *proc.PCB) {
	nPages := uint32(arg0(p))
	otherPID := proc.PID(arg1(p))

	if nPages == 0 || otherPID == 0 || otherPID == p.PID {
		ret(p, errors.New(errors.BadParameter).Errno())
		return
	}

	target := s.Table.FindPID(otherPID)
	if target == nil {
		ret(p, errors.New(errors.NotFound).Errno())
		return
	}
	if target.Inbox.Addr != 0 {
		ret(p, errors.New(errors.GenericFailure).Errno())
		return
	}

	// The frames must exist up front: the receiver maps the same physical
	// frames, so the region cannot be left to fault in lazily page by page.
	va, err := p.Ctx.AllocPagesBacked(nPages, vmm.FlagRW|vmm.FlagUser)
	if err != nil {
		ret(p, errno(err))
		return
	}

	target.Inbox = proc.Inbox{Addr: va, Source: p.PID, NumPages: nPages}
	ret(p, int64(va))
}

// sysPopSharedMem maps the physical frames backing the caller's pending
// inbox into the caller's own context at the same virtual address the
// sharer used, then clears the pending marker. Returns 0 if there is no
// pending inbox, or if the sharer has since died or released the pages.
func sysPopSharedMem(s *Syscalls, p *proc.PCB) {
	if p.Inbox.Addr == 0 {
		ret(p, 0)
		return
	}

	sharer := s.Table.FindPID(p.Inbox.Source)
	va, nPages := p.Inbox.Addr, p.Inbox.NumPages
	p.Inbox = proc.Inbox{}

	if sharer == nil {
		ret(p, 0)
		return
	}

	if err := p.Ctx.Ranges.Take(va, nPages); err != nil {
		ret(p, 0)
		return
	}

	for i := uint32(0); i < nPages; i++ {
		pageVA := va + uintptr(i)*uintptr(mem.PageSize)

		info, ok := sharer.Ctx.PDT.GetPTE(pageVA)
		if !ok || !info.Present {
			p.Ctx.PDT.UnmapRange(va, int(i))
			p.Ctx.Ranges.Free(va)
			ret(p, 0)
			return
		}

		if err := p.Ctx.PDT.MapRange(pageVA, info.Frame, vmm.FlagRW|vmm.FlagUser, 1); err != nil {
			p.Ctx.PDT.UnmapRange(va, int(i))
			p.Ctx.Ranges.Free(va)
			ret(p, 0)
			return
		}
	}

	// The sharer owns these frames; this context's teardown must unmap but
	// never free them.
	p.Ctx.Borrow(va, nPages)

	ret(p, int64(va))
}
