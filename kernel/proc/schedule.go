package proc

// Schedule moves p to READY and inserts it into the priority-ordered ready
// queue. Popping the ready queue and installing p as RUNNING is the
// scheduler's job (kernel/sched), which treats the process table as the
// shared, non-preemptible state it mutates from the timer tick and from
// syscalls that wake a process.
func (t *Table) Schedule(p *PCB) {
	p.State = StateReady
	t.insert(&t.ready, t.slotOf(p))
}

// DispatchNext pops the ready queue's head, or nil if no process is
// runnable.
func (t *Table) DispatchNext() *PCB {
	slot := t.pop(&t.ready)
	if slot == noSlot {
		return nil
	}
	return &t.slots[slot]
}

// Sleep moves p to SLEEPING and inserts it into the wakeup-ordered sleeping
// queue.
func (t *Table) Sleep(p *PCB, wakeup uint64) {
	p.State = StateSleeping
	p.Wakeup = wakeup
	t.insert(&t.sleeping, t.slotOf(p))
}

// WakeDue pops every sleeping PCB whose wakeup tick is <= now and schedules
// it, returning how many were woken.
func (t *Table) WakeDue(now uint64) int {
	woken := 0
	for {
		slot := t.peek(&t.sleeping)
		if slot == noSlot || t.slots[slot].Wakeup > now {
			break
		}
		t.pop(&t.sleeping)
		t.Schedule(&t.slots[slot])
		woken++
	}
	return woken
}

// Block moves p to BLOCKED and inserts it into the FIFO queue for the given
// syscall number.
func (t *Table) Block(p *PCB, syscallNum int) {
	p.State = StateBlocked
	p.BlockedSyscall = syscallNum
	t.insert(&t.blocked[syscallNum], t.slotOf(p))
}

// Wait moves p to WAITING and inserts it into the pid-ordered waiting queue,
// from which Zombify removes it when it wakes the parent.
func (t *Table) Wait(p *PCB, targetPID PID) {
	p.State = StateWaiting
	p.SetWaitTarget(targetPID)
	t.insert(&t.waiting, t.slotOf(p))
}

// PopBlocked pops the head of the FIFO blocked-queue for the given syscall
// number, or nil if it's empty.
func (t *Table) PopBlocked(syscallNum int) *PCB {
	slot := t.pop(&t.blocked[syscallNum])
	if slot == noSlot {
		return nil
	}
	return &t.slots[slot]
}

// Dequeue removes p from whichever scheduling queue matches its current
// State (READY, SLEEPING, BLOCKED or WAITING), leaving State itself
// unchanged so the caller (kill) can go on to reassign it. A PCB in any other
// state (RUNNING, NEW, ZOMBIE, UNUSED) is left untouched, even on the zombie
// queue or free list, and Dequeue reports false.
func (t *Table) Dequeue(p *PCB) bool {
	slot := t.slotOf(p)
	switch p.State {
	case StateReady:
		return t.removeThis(&t.ready, slot)
	case StateSleeping:
		return t.removeThis(&t.sleeping, slot)
	case StateBlocked:
		return t.removeThis(&t.blocked[p.BlockedSyscall], slot)
	case StateWaiting:
		return t.removeThis(&t.waiting, slot)
	default:
		return false
	}
}
