// Package proc implements the process control block and process table
// (C6): process identity/execution/scheduling state, the fixed-size
// process table with its free list, and the typed intrusive queues PCBs
// travel through between READY and ZOMBIE.
package proc

import (
	"comus/kernel/fs"
	"comus/kernel/irq"
	"comus/kernel/mem/ctx"
)

// PID identifies a process. PIDs are assigned monotonically starting at 2;
// pid 1 is reserved for init and is never reused.
type PID uint16

// InitPID is the pid reserved for the init process.
const InitPID PID = 1

// MaxProcs bounds the process table. Chosen for an educational kernel
// running a handful of cooperating demo programs, not copied from any
// particular configuration.
const MaxProcs = 64

// MaxSegments bounds the number of ELF load segments a PCB's loader
// metadata can describe.
const MaxSegments = 8

// MaxOpenFiles bounds the number of file-capability handles a process may
// hold open concurrently. The syscall layer's open/close/read/write/seek
// index into this table; it has no counterpart in the specification's
// literal PCB field list, which only names the fields needed for process
// lifecycle and scheduling. Fd 0/1/2 are reserved for stdin/stdout/stderr
// (never indices into this table); fd N>=3 maps to Files[N-3].
const MaxOpenFiles = 16

// ReservedFDs is the number of low fd numbers reserved for stdin/stdout/
// stderr before the Files table starts.
const ReservedFDs = 3

// State is a PCB's position in the process lifecycle.
type State uint8

const (
	StateUnused State = iota
	StateNew
	StateReady
	StateRunning
	StateSleeping
	StateBlocked
	StateWaiting
	StateZombie
	StateKilled

	nStates
)

var stateNames = [nStates]string{
	StateUnused:   "UNUSED",
	StateNew:      "NEW",
	StateReady:    "READY",
	StateRunning:  "RUNNING",
	StateSleeping: "SLEEPING",
	StateBlocked:  "BLOCKED",
	StateWaiting:  "WAITING",
	StateZombie:   "ZOMBIE",
	StateKilled:   "KILLED",
}

func (s State) String() string {
	if s >= nStates {
		return "???"
	}
	return stateNames[s]
}

// Priority is an advisory ready-queue ordering key; no aging is performed.
type Priority uint8

const (
	PriorityHigh Priority = iota
	PriorityStandard
	PriorityLow
	PriorityDeferred

	nPriorities
)

// RegisterBank is a process' saved execution context: general-purpose
// registers plus the CPU-pushed trap frame (instruction pointer, segment
// selectors, flags). The loader installs the initial bank for a freshly
// exec'd process; the trap plane saves into it on every entry from
// userspace and restores from it on every return.
type RegisterBank struct {
	irq.Regs
	irq.Frame
}

// Segment is one ELF load segment recorded at exec time, used to answer
// questions about a process' memory layout (e.g. where the heap may grow).
type Segment struct {
	VirtAddr uintptr
	MemSize  uint64
	FileSize uint64
	Flags    uint32
}

// Inbox is the shared-memory mailbox a process may receive from another via
// allocshared/popsharedmem. Addr is zero when empty.
type Inbox struct {
	Addr     uintptr
	Source   PID
	NumPages uint32
}

// noSlot marks the end of a queue chain or an absent parent.
const noSlot = int32(-1)

// PCB is one process control block. Linkage to other PCBs is always by
// table slot index, never by pointer: queue membership via next, parent/
// child via ParentPID, so the table can be walked and reasoned about
// without following raw pointer graphs.
type PCB struct {
	// identity
	PID        PID
	ParentPID  PID
	ExitStatus uint8

	// execution
	Regs RegisterBank
	Ctx  *ctx.Context

	// scheduling
	State          State
	Priority       Priority
	Quantum        int
	Wakeup         uint64
	BlockedSyscall int

	// waitingOnPID is the pid a WAITING process' waitpid is blocked on (0
	// for "any child"). Only meaningful while State == StateWaiting.
	waitingOnPID PID

	// loader metadata
	Segments    [MaxSegments]Segment
	NumSegments int
	HeapStart   uintptr
	HeapLen     uintptr

	// shared-memory inbox
	Inbox Inbox

	// open file-capability handles, indexed by fd-ReservedFDs; a nil entry
	// is a closed slot.
	Files [MaxOpenFiles]fs.File

	// framebuffer mapping installed by drm, or zero if none. Recorded so a
	// second drm call from the same process can be rejected per spec.
	FBAddr uintptr

	// queue linkage: index of the next PCB on whatever queue this one is
	// currently threaded through, or noSlot if this is the tail/unenqueued.
	next int32
}

// SetWaitTarget records which pid (0 meaning "any child") a process blocks
// on when it enters StateWaiting via waitpid.
func (p *PCB) SetWaitTarget(pid PID) {
	p.waitingOnPID = pid
}

// WaitTarget returns the pid recorded by SetWaitTarget.
func (p *PCB) WaitTarget() PID {
	return p.waitingOnPID
}
