// Package sched implements the scheduler/dispatcher (C7): selecting the
// next runnable process, installing its memory context, counting down its
// quantum, and draining the sleep queue on every timer tick.
package sched

import (
	"comus/kernel/cpu"
	"comus/kernel/mem/ctx"
	"comus/kernel/proc"
)

var (
	haltFn             = cpu.Halt
	enableInterruptsFn = cpu.EnableInterrupts
)

// StandardQuantum is the number of timer ticks a process runs before being
// preempted back onto the ready queue.
const StandardQuantum = 10

// Scheduler couples a process table with the hooks the dispatcher needs to
// actually hand control to a process: installing its memory context and
// resuming it via the trap-return path.
type Scheduler struct {
	Table *proc.Table

	// ResumeFn transfers control to p's saved register bank. It never
	// returns in production (the next return to Go code happens on the
	// following trap); overridden by tests.
	ResumeFn func(p *proc.PCB)
}

// New builds a Scheduler over table.
func New(table *proc.Table) *Scheduler {
	return &Scheduler{Table: table, ResumeFn: defaultResume}
}

// defaultResume installs p's page tables, destroys any context retired since
// the last dispatch (safe now that the dying tables are no longer active),
// and drops into user mode through the trap-return stub. It never returns;
// the kernel regains control at p's next trap, on a fresh kernel stack.
func defaultResume(p *proc.PCB) {
	p.Ctx.PDT.Activate()
	ctx.ReapGraveyard()
	resumeContext(&p.Regs)
}

// Schedule moves p to READY and inserts it into the ready queue.
func (s *Scheduler) Schedule(p *proc.PCB) {
	s.Table.Schedule(p)
}

// Dispatch pops the ready queue's head, installs it as RUNNING with a fresh
// quantum and its own memory context, then resumes it. With nothing
// runnable it returns leaving no process current; callers that cannot make
// progress without one (the boot sequence, a trap handler whose process just
// blocked) drop into Idle instead. Callers run with interrupts disabled, so
// the queue manipulation cannot race the timer ISR.
func (s *Scheduler) Dispatch() {
	next := s.Table.DispatchNext()
	if next == nil {
		s.Table.SetCurrent(nil)
		return
	}

	next.State = proc.StateRunning
	next.Quantum = StandardQuantum
	s.Table.SetCurrent(next)
	s.ResumeFn(next)
}

// Idle halts with interrupts enabled until an interrupt hands control to a
// runnable process. It never returns: whichever ISR wakes a process
// dispatches it directly, abandoning the idle frame (the next ring-3 trap
// re-enters the kernel on a fresh stack).
func (s *Scheduler) Idle() {
	for {
		enableInterruptsFn()
		haltFn()
	}
}

// Tick is called from the timer ISR (C8) once per tick. It wakes every
// sleeper whose wakeup has arrived, then decrements the running process'
// quantum; on reaching zero the running process is re-scheduled and a new
// dispatch is triggered. When the tick interrupted the idle loop instead of
// a process, any freshly woken sleeper is dispatched on the spot.
func (s *Scheduler) Tick(now uint64) {
	s.Table.WakeDue(now)

	current := s.Table.Current()
	if current == nil {
		s.Dispatch()
		return
	}

	current.Quantum--
	if current.Quantum <= 0 {
		s.Table.SetCurrent(nil)
		s.Schedule(current)
		s.Dispatch()
	}
}
