package syscall

import (
	"comus/kernel/errors"
	"comus/kernel/mem/ctx"
	"comus/kernel/proc"
	"comus/kernel/time"
)

// cloneProcessFn/destroyCtxFn are mocked by tests so fork can be exercised
// without live page tables.
var (
	cloneProcessFn = ctx.CloneProcess
	destroyCtxFn   = ctx.Destroy
)

// closeFiles closes every open file-capability handle p still holds. Table
// reuse only zeroes a freed PCB's fields, so the zombify path must close
// handles explicitly before a slot can be recycled.
func closeFiles(p *proc.PCB) {
	for i := range p.Files {
		if p.Files[i] != nil {
			p.Files[i].Close()
			p.Files[i] = nil
		}
	}
}

// sysExit zombifies the caller with the given exit status and dispatches the
// next runnable process; it never returns to the caller.
func sysExit(s *Syscalls, p *proc.PCB) {
	p.ExitStatus = uint8(arg0(p))
	closeFiles(p)
	s.Table.Zombify(p)
	s.Table.SetCurrent(nil)
	s.Sched.Dispatch()
}

// sysWaitpid reaps a matching ZOMBIE child immediately if one already
// exists; blocks the caller on a matching non-ZOMBIE child; and fails
// synchronously with NoChildren if pid names no child of the caller at all.
// pid == 0 means "any child".
func sysWaitpid(s *Syscalls, p *proc.PCB) {
	targetPID := proc.PID(arg0(p))
	statusPtr := uintptr(arg1(p))

	var zombieChild *proc.PCB
	foundAny := false
	s.Table.Children(p.PID, func(child *proc.PCB) {
		if targetPID != 0 && child.PID != targetPID {
			return
		}
		foundAny = true
		if zombieChild == nil && child.State == proc.StateZombie {
			zombieChild = child
		}
	})

	if !foundAny {
		ret(p, errors.New(errors.NoChildren).Errno())
		return
	}

	if zombieChild != nil {
		reapedPID := zombieChild.PID
		status := s.Table.Reap(zombieChild)
		if statusPtr != 0 {
			if err := writeU8(p.Ctx, statusPtr, status); err != nil {
				ret(p, errno(err))
				return
			}
		}
		ret(p, int64(reapedPID))
		return
	}

	// No matching child is ready to be reaped yet. Block; Zombify wakes us
	// directly (writing rax and, via NotifyReap, the status pointer it finds
	// in our still-untouched register bank) once one exits.
	s.Table.Wait(p, targetPID)
	s.Table.SetCurrent(nil)
	s.Sched.Dispatch()
}

// sysFork clones the caller's memory context and register bank into a fresh
// child PCB, schedules the child, and returns its pid to the parent. The
// child's own return value register is zeroed so it can tell the two sides
// of the fork apart.
func sysFork(s *Syscalls, p *proc.PCB) {
	childCtx, err := cloneProcessFn(p.Ctx)
	if err != nil {
		ret(p, errno(err))
		return
	}

	child, err := s.Table.Alloc(p.PID)
	if err != nil {
		destroyCtxFn(childCtx)
		ret(p, errno(err))
		return
	}

	child.Ctx = childCtx
	child.Regs = p.Regs
	child.Regs.RAX = 0
	child.Priority = p.Priority
	child.HeapStart = p.HeapStart
	child.HeapLen = p.HeapLen
	child.Segments = p.Segments
	child.NumSegments = p.NumSegments

	s.Table.Schedule(child)
	ret(p, int64(child.PID))
}

func sysGetPID(s *Syscalls, p *proc.PCB)  { ret(p, int64(p.PID)) }
func sysGetPPID(s *Syscalls, p *proc.PCB) { ret(p, int64(p.ParentPID)) }

func sysGetPrio(s *Syscalls, p *proc.PCB) { ret(p, int64(p.Priority)) }

func sysSetPrio(s *Syscalls, p *proc.PCB) {
	prio := proc.Priority(arg0(p))
	if prio > proc.PriorityDeferred {
		ret(p, errors.New(errors.BadParameter).Errno())
		return
	}
	p.Priority = prio
	ret(p, 0)
}

// sysKill validates that the caller is targeting itself or one of its
// direct children, then applies the victim-state branching the
// specification's syscall contract spells out: ZOMBIE is a no-op,
// self-RUNNING zombifies and dispatches, READY/BLOCKED is dequeued and
// zombified in place, anything else (SLEEPING, WAITING, NEW) is refused.
func sysKill(s *Syscalls, p *proc.PCB) {
	targetPID := proc.PID(arg0(p))
	victim := s.Table.FindPID(targetPID)
	if victim == nil {
		ret(p, errors.New(errors.BadParameter).Errno())
		return
	}
	if !mayKill(p, victim) {
		ret(p, errors.New(errors.BadParameter).Errno())
		return
	}

	switch {
	case victim.State == proc.StateZombie:
		ret(p, 0)

	case victim.PID == p.PID && victim.State == proc.StateRunning:
		victim.ExitStatus = 1
		closeFiles(victim)
		s.Table.Zombify(victim)
		s.Table.SetCurrent(nil)
		s.Sched.Dispatch()

	case victim.State == proc.StateReady || victim.State == proc.StateBlocked:
		s.Table.Dequeue(victim)
		victim.ExitStatus = 1
		closeFiles(victim)
		s.Table.Zombify(victim)
		ret(p, 0)

	default:
		ret(p, errors.New(errors.BadParameter).Errno())
	}
}

// sysSleep yields voluntarily for ms == 0, else blocks the caller on the
// sleep queue until ticks() reaches the requested wakeup.
func sysSleep(s *Syscalls, p *proc.PCB) {
	ms := arg0(p)
	ret(p, 0)

	if ms == 0 {
		s.Table.SetCurrent(nil)
		s.Sched.Schedule(p)
		s.Sched.Dispatch()
		return
	}

	wakeup := time.Ticks() + ms
	s.Table.Sleep(p, wakeup)
	s.Table.SetCurrent(nil)
	s.Sched.Dispatch()
}
