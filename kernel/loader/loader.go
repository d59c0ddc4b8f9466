// Package loader implements the program loader (C10): parsing an ELF64
// executable's program headers, eagerly populating a freshly built memory
// context with its loadable segments, and synthesizing the initial user
// stack (argv strings, the argv pointer array, argc, and the register-save
// frame the scheduler's first Dispatch resumes into).
//
// Grounded on the original implementation's read_phdrs/stack_setup/
// user_load sequence, rewritten against comus/kernel/mem/ctx's per-process
// Context instead of a single flat page directory: every frame this package
// installs is populated through the paging engine's scratch-mapping
// primitive (vmm.MapTemporary), the same pattern kernel/mem/ctx.CloneProcess
// uses to duplicate a page's contents.
package loader

import (
	"encoding/binary"
	"unsafe"

	"comus/kernel"
	"comus/kernel/errors"
	"comus/kernel/irq"
	"comus/kernel/mem"
	"comus/kernel/mem/ctx"
	"comus/kernel/mem/pmm"
	"comus/kernel/mem/pmm/allocator"
	"comus/kernel/mem/vmm"
	"comus/kernel/proc"
)

const (
	elfClass64 = 2

	ptLoad = 1

	pfWrite = 2

	ehdrSize = 64
	phdrSize = 56
)

// MaxArgs bounds the number of argv strings stack setup will copy onto a
// new process' stack.
const MaxArgs = 16

// StackPages is the number of pages reserved for a new process' user stack.
const StackPages = 8

// StackTop is the fixed, high virtual address every process' stack sits
// just below. Leaving the page above it unmapped turns a runaway stack
// overflow into a fault instead of silent corruption of the next region.
var StackTop = ctx.UserRangeEnd - uintptr(mem.PageSize)

// StackBase is the lowest address backed by the initial stack allocation.
var StackBase = StackTop - uintptr(StackPages)*uintptr(mem.PageSize)

// Default register-frame values for a freshly loaded process: interrupts
// enabled, IOPL 0, ring-3 code/data selectors. The selector values match
// the descriptor table layout the teacher's GDT setup uses for user mode.
const (
	// DefaultEFlags has only the interrupt-enable bit set.
	DefaultEFlags = uint64(1 << 9)
	userCodeSel   = uint64(0x1b)
	userDataSel   = uint64(0x23)
)

func u16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func u32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func u64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }

// Load parses image as an ELF64 executable and populates c (a freshly built
// context, e.g. from ctx.CloneFromKernel) with its loadable segments and a
// new user stack carrying argv, then writes p's loader metadata and initial
// register bank so the scheduler's next Dispatch of p resumes straight into
// the program's entry point.
func Load(c *ctx.Context, p *proc.PCB, image []byte, argv []string) *kernel.Error {
	entry, phoff, phentsize, phnum, err := parseHeader(image)
	if err != nil {
		return err
	}

	if err := readPhdrs(c, p, image, phoff, phentsize, phnum); err != nil {
		return err
	}

	if _, err := c.AllocPagesAt(StackBase, StackPages, vmm.FlagRW|vmm.FlagUser); err != nil {
		return err
	}

	userSP, err := stackSetup(c, argv)
	if err != nil {
		return err
	}

	p.Regs = proc.RegisterBank{
		Regs: irq.Regs{},
		Frame: irq.Frame{
			RIP:    entry,
			CS:     userCodeSel,
			RFlags: DefaultEFlags,
			RSP:    uint64(userSP),
			SS:     userDataSel,
		},
	}

	return nil
}

// parseHeader validates image's ELF64 file header and returns the entry
// point plus the program header table's offset, entry size and count.
func parseHeader(image []byte) (entry uintptr, phoff uint64, phentsize, phnum uint16, err *kernel.Error) {
	if len(image) < ehdrSize {
		return 0, 0, 0, 0, errors.New(errors.BadParameter)
	}
	if image[0] != 0x7f || image[1] != 'E' || image[2] != 'L' || image[3] != 'F' {
		return 0, 0, 0, 0, errors.New(errors.BadParameter)
	}
	if image[4] != elfClass64 {
		return 0, 0, 0, 0, errors.New(errors.BadParameter)
	}

	entry = uintptr(u64(image, 24))
	phoff = u64(image, 32)
	phentsize = u16(image, 54)
	phnum = u16(image, 56)

	if phentsize < phdrSize {
		return 0, 0, 0, 0, errors.New(errors.BadParameter)
	}

	return entry, phoff, phentsize, phnum, nil
}

// readPhdrs walks phnum program headers starting at phoff, installing every
// PT_LOAD segment into c and recording it in p.Segments. p.HeapStart is set
// to the page-aligned address just past the highest segment.
func readPhdrs(c *ctx.Context, p *proc.PCB, image []byte, phoff uint64, phentsize, phnum uint16) *kernel.Error {
	loaded := 0

	for i := uint16(0); i < phnum; i++ {
		off := int(phoff) + int(i)*int(phentsize)
		if off < 0 || off+phdrSize > len(image) {
			return errors.New(errors.BadParameter)
		}
		ph := image[off:]

		if u32(ph, 0) != ptLoad {
			continue
		}
		if loaded >= proc.MaxSegments {
			return errors.New(errors.LoadLimit)
		}

		segFlags := u32(ph, 4)
		fileOff := u64(ph, 8)
		vaddr := uintptr(u64(ph, 16))
		filesz := u64(ph, 32)
		memsz := u64(ph, 40)

		if fileOff > uint64(len(image)) || filesz > uint64(len(image))-fileOff {
			return errors.New(errors.BadParameter)
		}
		if memsz < filesz {
			return errors.New(errors.BadParameter)
		}

		pageFlags := vmm.FlagUser
		if segFlags&pfWrite != 0 {
			pageFlags |= vmm.FlagRW
		}

		if err := populateSegment(c, image, fileOff, filesz, vaddr, memsz, pageFlags); err != nil {
			return err
		}

		p.Segments[loaded] = proc.Segment{VirtAddr: vaddr, MemSize: memsz, FileSize: filesz, Flags: segFlags}
		loaded++

		segEnd := pageRoundUp(vaddr + uintptr(memsz))
		if segEnd > p.HeapStart {
			p.HeapStart = segEnd
		}
	}

	p.NumSegments = loaded
	p.HeapLen = 0
	return nil
}

func pageRoundUp(addr uintptr) uintptr {
	mask := uintptr(mem.PageSize) - 1
	return (addr + mask) &^ mask
}

func maxUintptr(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

func minUintptr(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}

// populateSegment reserves the page range covering [vaddr, vaddr+memsz) in
// c, then for each page allocates a frame, zero-fills it, copies in
// whichever portion of image[fileOff:fileOff+filesz] overlaps that page
// (the filesz..memsz tail, e.g. .bss, is left zeroed), and installs the
// frame with pageFlags. Every frame is populated through a temporary kernel
// mapping before being installed, mirroring ctx.go's copyFrameFn.
func populateSegment(c *ctx.Context, image []byte, fileOff, filesz uint64, vaddr uintptr, memsz uint64, pageFlags vmm.PageTableEntryFlag) *kernel.Error {
	base := vaddr &^ (uintptr(mem.PageSize) - 1)
	end := pageRoundUp(vaddr + uintptr(memsz))
	nPages := uint32((end - base) / uintptr(mem.PageSize))

	if err := c.Ranges.Take(base, nPages); err != nil {
		return err
	}

	var imgBase uintptr
	if len(image) > 0 {
		imgBase = uintptr(unsafe.Pointer(&image[0]))
	}

	fileStart, fileEnd := vaddr, vaddr+uintptr(filesz)

	for i := uint32(0); i < nPages; i++ {
		pageVA := base + uintptr(i)*uintptr(mem.PageSize)

		frame := allocator.AllocOne()
		if frame == pmm.InvalidFrame {
			return errors.New(errors.OutOfMemory)
		}

		tmp, err := vmm.MapTemporary(frame)
		if err != nil {
			allocator.Free(frame)
			return err
		}

		mem.Memset(tmp.Address(), 0, mem.PageSize)

		pageEnd := pageVA + uintptr(mem.PageSize)
		copyStart, copyEnd := maxUintptr(pageVA, fileStart), minUintptr(pageEnd, fileEnd)
		if copyEnd > copyStart {
			srcVA := imgBase + uintptr(fileOff) + (copyStart - vaddr)
			mem.Memcopy(srcVA, tmp.Address()+(copyStart-pageVA), mem.Size(copyEnd-copyStart))
		}

		vmm.Unmap(tmp)

		if err := c.PDT.MapRange(pageVA, frame, vmm.FlagPresent|pageFlags, 1); err != nil {
			allocator.Free(frame)
			return err
		}
	}

	return nil
}

// stackSetup builds the initial stack page (argv strings, pointer array,
// argc, 16-byte aligned at the argc slot) and installs it as the topmost
// page of the already-reserved stack range, returning the user stack
// pointer (the address of argc) that goes into the new process' RSP.
func stackSetup(c *ctx.Context, argv []string) (uintptr, *kernel.Error) {
	if len(argv) > MaxArgs {
		return 0, errors.New(errors.LoadLimit)
	}

	topPageVA := StackTop - uintptr(mem.PageSize)

	frame := allocator.AllocOne()
	if frame == pmm.InvalidFrame {
		return 0, errors.New(errors.OutOfMemory)
	}

	tmp, err := vmm.MapTemporary(frame)
	if err != nil {
		allocator.Free(frame)
		return 0, err
	}

	mem.Memset(tmp.Address(), 0, mem.PageSize)

	pageSize := uintptr(mem.PageSize)
	cursor := pageSize
	argc := len(argv)
	argVAs := make([]uintptr, argc)

	for i := argc - 1; i >= 0; i-- {
		s := argv[i]
		n := uintptr(len(s)) + 1
		if n > cursor {
			vmm.Unmap(tmp)
			allocator.Free(frame)
			return 0, errors.New(errors.LoadLimit)
		}
		cursor -= n
		for j := 0; j < len(s); j++ {
			*(*byte)(unsafe.Pointer(tmp.Address() + cursor + uintptr(j))) = s[j]
		}
		*(*byte)(unsafe.Pointer(tmp.Address() + cursor + uintptr(len(s)))) = 0
		argVAs[i] = topPageVA + cursor
	}

	cursor &^= 7 // 8-byte align below the string bodies

	// argc sits 8 bytes below the argv pointer array and the ABI requires
	// the argc slot itself to be 16-byte aligned, so pick the argc slot
	// first and lay the array directly above it: argv[0] lands exactly at
	// rsp+8, with any alignment padding absorbed between the strings and
	// the array.
	ptrBytes := uintptr(8 * (argc + 1))
	if ptrBytes+8 > cursor {
		vmm.Unmap(tmp)
		allocator.Free(frame)
		return 0, errors.New(errors.LoadLimit)
	}
	argcSlot := (cursor - ptrBytes - 8) &^ 15
	arrayBase := argcSlot + 8

	for i, va := range argVAs {
		*(*uint64)(unsafe.Pointer(tmp.Address() + arrayBase + uintptr(i)*8)) = uint64(va)
	}
	*(*uint64)(unsafe.Pointer(tmp.Address() + arrayBase + uintptr(argc)*8)) = 0

	*(*uint64)(unsafe.Pointer(tmp.Address() + argcSlot)) = uint64(argc)
	argcVA := topPageVA + argcSlot

	vmm.Unmap(tmp)

	if err := c.PDT.MapRange(topPageVA, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUser, 1); err != nil {
		allocator.Free(frame)
		return 0, err
	}

	return argcVA, nil
}
