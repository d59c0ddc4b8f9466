package proc

import (
	"unsafe"

	"comus/kernel"
	"comus/kernel/errors"
	"comus/kernel/mem/ctx"
)

var pcbStride = unsafe.Sizeof(PCB{})

// Table is the fixed-size process table plus the named queues PCBs travel
// through: a FIFO free list, a by-priority ready queue, a by-pid
// waiting-for-child queue, a by-wakeup sleeping queue, a by-pid zombie
// queue, and one FIFO blocked-queue per syscall number.
type Table struct {
	slots [MaxProcs]PCB

	freelist queue
	ready    queue
	waiting  queue
	sleeping queue
	zombie   queue
	blocked  []queue

	current  int32
	nextPID  PID
	initSlot int32
}

// NewTable builds an empty process table: every slot starts on the free
// list, no process is current, and pids are handed out starting at 2 (pid
// 1 is reserved for init).
func NewTable(numSyscalls int) *Table {
	t := &Table{
		freelist: newQueue(orderFIFO),
		ready:    newQueue(orderPriority),
		waiting:  newQueue(orderPID),
		sleeping: newQueue(orderWakeup),
		zombie:   newQueue(orderPID),
		blocked:  make([]queue, numSyscalls),
		current:  noSlot,
		nextPID:  2,
		initSlot: noSlot,
	}

	for i := range t.blocked {
		t.blocked[i] = newQueue(orderFIFO)
	}

	for i := len(t.slots) - 1; i >= 0; i-- {
		t.slots[i].State = StateUnused
		t.insert(&t.freelist, int32(i))
	}

	return t
}

// Alloc pops a PCB from the free list, assigns it a pid and parent, and
// marks it NEW. Returns an OutOfProcesses error if the table is full.
func (t *Table) Alloc(parent PID) (*PCB, *kernel.Error) {
	slot := t.pop(&t.freelist)
	if slot == noSlot {
		return nil, errors.New(errors.OutOfProcesses)
	}

	p := &t.slots[slot]
	*p = PCB{
		PID:       t.nextPID,
		ParentPID: parent,
		State:     StateNew,
		Priority:  PriorityStandard,
		next:      noSlot,
	}
	t.nextPID++

	return p, nil
}

// MarkInit records slot's PCB as the init process, rewriting its pid to the
// reserved InitPID. Must be called exactly once, immediately after the
// first Alloc of the boot sequence.
func (t *Table) MarkInit(p *PCB) {
	p.PID = InitPID
	t.initSlot = t.slotOf(p)
}

// Init returns the init PCB, or nil if it hasn't been installed yet.
func (t *Table) Init() *PCB {
	if t.initSlot == noSlot {
		return nil
	}
	return &t.slots[t.initSlot]
}

func (t *Table) slotOf(p *PCB) int32 {
	return int32((uintptr(unsafe.Pointer(p)) - uintptr(unsafe.Pointer(&t.slots[0]))) / pcbStride)
}

// Free marks p UNUSED and returns it to the free list. The PCB's memory
// context is retired rather than destroyed on the spot: a process reaped
// from its own exit path still has its page tables active, so the
// dispatcher tears them down after the next context switch.
func (t *Table) Free(p *PCB) {
	slot := t.slotOf(p)
	if p.Ctx != nil {
		ctx.Retire(p.Ctx)
		p.Ctx = nil
	}
	p.State = StateUnused
	t.insert(&t.freelist, slot)
}

// FindPID scans the table for a non-UNUSED PCB with the given pid.
func (t *Table) FindPID(pid PID) *PCB {
	for i := range t.slots {
		if t.slots[i].State != StateUnused && t.slots[i].PID == pid {
			return &t.slots[i]
		}
	}
	return nil
}

// FindParentPID scans the table for a non-UNUSED PCB parented to pid, the
// same way FindPID looks up a process by its own pid. Callers iterate by
// calling it from a loop over candidate slots when they need every child;
// Children provides that iteration directly.
func (t *Table) FindParentPID(pid PID) *PCB {
	for i := range t.slots {
		if t.slots[i].State != StateUnused && t.slots[i].ParentPID == pid {
			return &t.slots[i]
		}
	}
	return nil
}

// Children invokes visit once for every non-UNUSED PCB parented to pid.
func (t *Table) Children(pid PID, visit func(*PCB)) {
	for i := range t.slots {
		if t.slots[i].State != StateUnused && t.slots[i].ParentPID == pid {
			visit(&t.slots[i])
		}
	}
}

// Current returns the currently RUNNING PCB, or nil if none.
func (t *Table) Current() *PCB {
	if t.current == noSlot {
		return nil
	}
	return &t.slots[t.current]
}

// SetCurrent records p (or nil) as the running PCB.
func (t *Table) SetCurrent(p *PCB) {
	if p == nil {
		t.current = noSlot
		return
	}
	t.current = t.slotOf(p)
}
