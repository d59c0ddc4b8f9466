// Package syscall implements the syscall layer (C9): the int 0x80 gate's
// jump table, the argument/return register convention, and the
// kernel-to-user pointer translation every handler that touches a caller's
// buffer goes through.
//
// Every syscall is identified by a small integer carried in rax; the first
// four arguments are read from rdi, rsi, rdx, rcx respectively, and the
// return value is written back into rax. A handler either returns
// (continuing the caller once the gate hands control back) or drives the
// caller through proc.Table's blocking queues and calls Dispatch (handing
// control to whichever process becomes current next).
package syscall

import (
	"comus/kernel"
	"comus/kernel/errors"
	"comus/kernel/fs"
	"comus/kernel/hal/multiboot"
	"comus/kernel/irq"
	"comus/kernel/mem/vmm"
	"comus/kernel/proc"
	"comus/kernel/sched"
)

// Syscall numbers, matching the jump table index a caller loads into rax.
const (
	SysExit = iota
	SysWaitpid
	SysFork
	SysOpen
	SysClose
	SysRead
	SysWrite
	SysSeek
	SysGetPID
	SysGetPPID
	SysGetTime
	SysGetPrio
	SysSetPrio
	SysKill
	SysSleep
	SysPoweroff
	SysBrk
	SysSbrk
	SysDRM
	SysTicks
	SysAllocShared
	SysPopSharedMem
	SysKeyPoll

	NumSyscalls
)

// maxPathLen bounds a user-supplied path string read by sysOpen.
const maxPathLen = 256

// maxIOChunk bounds a single read/write call's transfer size, so a bad
// length argument can't make the kernel allocate an unbounded buffer.
const maxIOChunk = 64 * 1024

// Syscalls holds the shared state every handler needs: the process table and
// scheduler to drive, and the filesystem open() resolves paths against.
type Syscalls struct {
	Table *proc.Table
	Sched *sched.Scheduler
	Root  fs.FileSystem
	FB    *multiboot.FramebufferInfo
}

// New builds a Syscalls and installs it as the owner of the waitpid
// status-write hook, so Zombify can deliver a reaped child's exit status
// through the waiting parent's validated user pointer without kernel/proc
// depending on memory-context translation itself.
func New(table *proc.Table, scheduler *sched.Scheduler, root fs.FileSystem, fb *multiboot.FramebufferInfo) *Syscalls {
	s := &Syscalls{Table: table, Sched: scheduler, Root: root, FB: fb}

	proc.NotifyReap = func(parent *proc.PCB, reapedPID proc.PID, status uint8) {
		statusPtr := uintptr(parent.Regs.RSI)
		if statusPtr == 0 || parent.Ctx == nil {
			return
		}
		writeU8(parent.Ctx, statusPtr, status)
	}

	return s
}

// Init registers the dispatch entry point on the syscall gate vector and
// the ring-3 non-recoverable-fault kill path.
func (s *Syscalls) Init() {
	irq.HandleException(irq.SyscallGate, s.handleGate)
	vmm.SetUserFaultHandler(s.KillCurrent)
}

// KillCurrent terminates the current process in response to a
// non-recoverable page fault or general protection fault that trapped from
// ring 3, then hands the CPU to the next runnable process (or idles).
// Mirrors fault()'s handling of an unrecognized syscall number. The stub's
// frame/regs are never rewritten: the dispatcher irets directly from the
// victim's trap context, which is simply abandoned.
func (s *Syscalls) KillCurrent(frame *irq.Frame, regs *irq.Regs) {
	cur := s.Table.Current()
	if cur == nil {
		return
	}

	cur.ExitStatus = 1
	closeFiles(cur)
	s.Table.Zombify(cur)
	s.Table.SetCurrent(nil)
	s.Sched.Dispatch()

	// Dispatch only comes back when nothing was runnable; the faulting
	// process is gone, so there is nothing to iret into. Idle until an
	// interrupt hands control to a woken process.
	s.Sched.Idle()
}

// handlerTable maps a syscall number to its handler. Declared as a var
// (rather than a map literal referencing methods) so every entry is a plain
// function of (*Syscalls, *proc.PCB), matching the argument/return
// convention the rest of the package's handler files implement.
var handlerTable = [NumSyscalls]func(*Syscalls, *proc.PCB){
	SysExit:         sysExit,
	SysWaitpid:      sysWaitpid,
	SysFork:         sysFork,
	SysOpen:         sysOpen,
	SysClose:        sysClose,
	SysRead:         sysRead,
	SysWrite:        sysWrite,
	SysSeek:         sysSeek,
	SysGetPID:       sysGetPID,
	SysGetPPID:      sysGetPPID,
	SysGetTime:      sysGetTime,
	SysGetPrio:      sysGetPrio,
	SysSetPrio:      sysSetPrio,
	SysKill:         sysKill,
	SysSleep:        sysSleep,
	SysPoweroff:     sysPoweroff,
	SysBrk:          sysBrk,
	SysSbrk:         sysSbrk,
	SysDRM:          sysDRM,
	SysTicks:        sysTicks,
	SysAllocShared:  sysAllocShared,
	SysPopSharedMem: sysPopSharedMem,
	SysKeyPoll:      sysKeyPoll,
}

// handleGate is the trap handler registered on irq.SyscallGate. It mirrors
// the trapping register bank into the current PCB, dispatches the requested
// syscall (which may block and hand off to a different process entirely),
// and restores whichever PCB is current by the time the handler returns
// into the CPU-level frame/regs pointers the trap stub will use for iret.
func (s *Syscalls) handleGate(frame *irq.Frame, regs *irq.Regs) {
	cur := s.Table.Current()
	if cur == nil {
		return
	}

	cur.Regs.Regs = *regs
	cur.Regs.Frame = *frame

	s.dispatch(cur)

	// A handler that blocked its caller and found another runnable process
	// never comes back here (the dispatcher irets straight into it). If it
	// blocked the caller with nothing else runnable, idle until an
	// interrupt dispatches a woken process; otherwise the caller is still
	// current and its saved bank, return value included, flows back out
	// through the trap stub.
	next := s.Table.Current()
	if next == nil {
		s.Sched.Idle()
	}
	*regs = next.Regs.Regs
	*frame = next.Regs.Frame
}

// dispatch routes p's requested syscall (p.Regs.RAX) through handlerTable. A
// null handler or out-of-range number is a fatal fault for the caller.
func (s *Syscalls) dispatch(p *proc.PCB) {
	num := p.Regs.RAX
	if num >= uint64(NumSyscalls) || handlerTable[num] == nil {
		s.fault(p)
		return
	}
	handlerTable[num](s, p)
}

// fault terminates p for requesting a null or out-of-range syscall number.
func (s *Syscalls) fault(p *proc.PCB) {
	p.ExitStatus = 1
	s.Table.Zombify(p)
	s.Table.SetCurrent(nil)
	s.Sched.Dispatch()
}

// arg0-arg3 read a syscall's positional arguments from the calling PCB's
// saved register bank, in the rdi/rsi/rdx/rcx order the calling convention
// fixes.
func arg0(p *proc.PCB) uint64 { return p.Regs.RDI }
func arg1(p *proc.PCB) uint64 { return p.Regs.RSI }
func arg2(p *proc.PCB) uint64 { return p.Regs.RDX }
func arg3(p *proc.PCB) uint64 { return p.Regs.RCX }

// ret writes a syscall's result into the calling PCB's return-value
// register.
func ret(p *proc.PCB, v int64) {
	p.Regs.RAX = uint64(v)
}

// errno maps a *kernel.Error produced by another package back to the value
// its caller should see in rax. Errors that carry no failure-kind code of
// their own (e.g. vmm's internal mapping errors) report as GenericFailure.
func errno(err *kernel.Error) int64 {
	switch {
	case err == nil:
		return 0
	case err.Code != 0:
		return err.Errno()
	default:
		return errors.GenericFailure.Errno()
	}
}

// mayKill reports whether caller is allowed to target victim with kill: a
// process may kill itself or one of its direct children, nothing else. A
// grandchild is out of reach; its own parent must be the one to kill it.
func mayKill(caller, victim *proc.PCB) bool {
	return victim.PID == caller.PID || victim.ParentPID == caller.PID
}
