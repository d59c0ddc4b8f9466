package syscall

import (
	"comus/kernel/driver/acpi"
	"comus/kernel/errors"
	"comus/kernel/fs"
	"comus/kernel/hal"
	"comus/kernel/input"
	"comus/kernel/proc"
	"comus/kernel/time"
)

// fileSlot resolves fd to a *fs.File slot index in p.Files, or -1 if fd
// names neither a reserved descriptor nor an open handle.
func fileSlot(p *proc.PCB, fd int) int {
	idx := fd - proc.ReservedFDs
	if idx < 0 || idx >= proc.MaxOpenFiles || p.Files[idx] == nil {
		return -1
	}
	return idx
}

// sysOpen resolves a NUL-terminated user path against the mounted
// filesystem and installs the resulting handle in the caller's first free
// fd slot.
func sysOpen(s *Syscalls, p *proc.PCB) {
	pathPtr := uintptr(arg0(p))
	flags := fs.OpenFlag(arg1(p))

	if s.Root == nil {
		ret(p, errors.New(errors.NotFound).Errno())
		return
	}

	path, err := copyStringFromUser(p.Ctx, pathPtr, maxPathLen)
	if err != nil {
		ret(p, errno(err))
		return
	}

	idx := -1
	for i := range p.Files {
		if p.Files[i] == nil {
			idx = i
			break
		}
	}
	if idx == -1 {
		ret(p, errors.New(errors.BadChannel).Errno())
		return
	}

	f, ferr := s.Root.Open(path, flags)
	if ferr != nil {
		ret(p, errno(ferr))
		return
	}

	p.Files[idx] = f
	ret(p, int64(proc.ReservedFDs+idx))
}

func sysClose(s *Syscalls, p *proc.PCB) {
	fd := int(arg0(p))
	idx := fileSlot(p, fd)
	if idx == -1 {
		ret(p, errors.New(errors.BadChannel).Errno())
		return
	}

	err := p.Files[idx].Close()
	p.Files[idx] = nil
	if err != nil {
		ret(p, errno(err))
		return
	}
	ret(p, 0)
}

// sysRead reads from an open file capability into a user buffer. fd 0
// (stdin) always reports 0 bytes available; fd 1/2 (the console) are
// write-only and fail with BadChannel.
func sysRead(s *Syscalls, p *proc.PCB) {
	fd := int(arg0(p))
	bufPtr := uintptr(arg1(p))
	n := int(arg2(p))

	switch fd {
	case 0:
		ret(p, 0)
		return
	case 1, 2:
		ret(p, errors.New(errors.BadChannel).Errno())
		return
	}

	if n < 0 || n > maxIOChunk {
		ret(p, errors.New(errors.BadParameter).Errno())
		return
	}

	idx := fileSlot(p, fd)
	if idx == -1 {
		ret(p, errors.New(errors.BadChannel).Errno())
		return
	}

	buf := make([]byte, n)
	read, ferr := p.Files[idx].Read(buf)
	if ferr != nil {
		ret(p, errno(ferr))
		return
	}

	if err := copyToUser(p.Ctx, bufPtr, buf[:read]); err != nil {
		ret(p, errno(err))
		return
	}

	ret(p, int64(read))
}

// sysWrite writes a user buffer to an open file capability. fd 0 is a no-op
// (stdin is never a write target); fd 1/2 write each byte to the active
// console/serial sink; anything else routes through the file capability.
func sysWrite(s *Syscalls, p *proc.PCB) {
	fd := int(arg0(p))
	bufPtr := uintptr(arg1(p))
	n := int(arg2(p))

	if n < 0 || n > maxIOChunk {
		ret(p, errors.New(errors.BadParameter).Errno())
		return
	}

	if fd == 0 {
		ret(p, 0)
		return
	}

	if fd == 1 || fd == 2 {
		buf, err := copyFromUserBuf(p.Ctx, bufPtr, n)
		if err != nil {
			ret(p, errno(err))
			return
		}
		hal.ActiveTerminal.Write(buf)
		ret(p, int64(n))
		return
	}

	idx := fileSlot(p, fd)
	if idx == -1 {
		ret(p, errors.New(errors.BadChannel).Errno())
		return
	}

	buf, err := copyFromUserBuf(p.Ctx, bufPtr, n)
	if err != nil {
		ret(p, errno(err))
		return
	}

	written, ferr := p.Files[idx].Write(buf)
	if ferr != nil {
		ret(p, errno(ferr))
		return
	}

	ret(p, int64(written))
}

func sysSeek(s *Syscalls, p *proc.PCB) {
	fd := int(arg0(p))
	offset := int64(arg1(p))
	whence := fs.Whence(arg2(p))

	idx := fileSlot(p, fd)
	if idx == -1 {
		ret(p, errors.New(errors.BadChannel).Errno())
		return
	}

	newOff, err := p.Files[idx].Seek(offset, whence)
	if err != nil {
		ret(p, errno(err))
		return
	}
	ret(p, newOff)
}

// sysKeyPoll dequeues one pending (key, flags) event into the caller's
// struct, reporting whether one was actually delivered.
func sysKeyPoll(s *Syscalls, p *proc.PCB) {
	kcPtr := uintptr(arg0(p))

	ev, ok := input.Poll()
	if !ok {
		ret(p, 0)
		return
	}

	if kcPtr != 0 {
		if err := writeU8(p.Ctx, kcPtr, uint8(ev.Key)); err != nil {
			ret(p, errno(err))
			return
		}
		if err := writeU8(p.Ctx, kcPtr+1, uint8(ev.Flags)); err != nil {
			ret(p, errno(err))
			return
		}
	}

	ret(p, 1)
}

func sysTicks(s *Syscalls, p *proc.PCB) { ret(p, int64(time.Ticks())) }

// sysGetTime re-reads the RTC into the wall-clock cache on demand, then
// reports the cached time as a Unix timestamp.
func sysGetTime(s *Syscalls, p *proc.PCB) {
	time.Refresh()
	ret(p, time.Now().Unix())
}

// sysPoweroff delegates to the ACPI S5 transition. On a conformant target
// this never returns; if it does (no ACPI available), the caller observes a
// GenericFailure return instead of the machine powering off.
func sysPoweroff(s *Syscalls, p *proc.PCB) {
	acpi.Shutdown()
	ret(p, errors.New(errors.GenericFailure).Errno())
}
