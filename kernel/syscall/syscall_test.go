package syscall

import (
	"testing"

	"comus/kernel"
	"comus/kernel/errors"
	"comus/kernel/mem/ctx"
	"comus/kernel/proc"
	"comus/kernel/sched"
)

// newTestSyscalls builds a Syscalls backed by a real Table/Scheduler but with
// ResumeFn stubbed so Dispatch never touches hardware; it returns the pids
// the scheduler actually resumed, in order, mirroring sched_test.go's harness
// shape.
func newTestSyscalls(t *testing.T) (*Syscalls, *proc.Table, *sched.Scheduler, *[]proc.PID) {
	t.Helper()

	table := proc.NewTable(4)
	s := sched.New(table)

	var resumed []proc.PID
	s.ResumeFn = func(p *proc.PCB) { resumed = append(resumed, p.PID) }

	origClone, origDestroy := cloneProcessFn, destroyCtxFn
	t.Cleanup(func() { cloneProcessFn, destroyCtxFn = origClone, origDestroy })
	cloneProcessFn = func(*ctx.Context) (*ctx.Context, *kernel.Error) { return &ctx.Context{}, nil }
	destroyCtxFn = func(*ctx.Context) {}

	sc := New(table, s, nil, nil)
	return sc, table, s, &resumed
}

func allocRunning(t *testing.T, table *proc.Table, parent proc.PID) *proc.PCB {
	t.Helper()
	p, err := table.Alloc(parent)
	if err != nil {
		t.Fatal(err)
	}
	table.SetCurrent(p)
	p.State = proc.StateRunning
	return p
}

func TestSysExitZombifiesAndDispatchesNext(t *testing.T) {
	sc, table, s, _ := newTestSyscalls(t)

	child := allocRunning(t, table, proc.InitPID)
	other, _ := table.Alloc(proc.InitPID)
	table.Schedule(other)

	child.Regs.RDI = 7

	sysExit(sc, child)

	if child.State != proc.StateZombie {
		t.Fatalf("expected exited process to become ZOMBIE; got %v", child.State)
	}
	if child.ExitStatus != 7 {
		t.Fatalf("expected exit status 7; got %d", child.ExitStatus)
	}
	if table.Current() == nil || table.Current().PID != other.PID {
		t.Fatalf("expected the other runnable process dispatched after exit")
	}
	_ = s
}

func TestSysWaitpidReapsExistingZombieImmediately(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	parent := allocRunning(t, table, proc.InitPID)
	child, _ := table.Alloc(parent.PID)
	child.ExitStatus = 9
	table.Zombify(child)

	parent.Regs.RDI = uint64(child.PID)
	parent.Regs.RSI = 0 // no status pointer

	sysWaitpid(sc, parent)

	if int64(parent.Regs.RAX) != int64(child.PID) {
		t.Fatalf("expected waitpid to return the reaped pid %d; got %d", child.PID, int64(parent.Regs.RAX))
	}
	if table.FindPID(child.PID) != nil {
		t.Fatalf("expected the reaped child to be freed from the table")
	}
}

func TestSysWaitpidBlocksThenNotifyReapWakesParent(t *testing.T) {
	sc, table, s, resumed := newTestSyscalls(t)

	parent := allocRunning(t, table, proc.InitPID)
	child, _ := table.Alloc(parent.PID)

	parent.Regs.RDI = 0 // wait for any child
	parent.Regs.RSI = 0 // no status pointer

	sysWaitpid(sc, parent)

	if parent.State != proc.StateWaiting {
		t.Fatalf("expected parent to block WAITING; got %v", parent.State)
	}
	if table.Current() != nil {
		t.Fatalf("expected no current process once the caller blocked on an empty ready queue")
	}

	*resumed = nil
	child.ExitStatus = 3
	table.Zombify(child)

	if parent.State != proc.StateReady && parent.State != proc.StateRunning {
		t.Fatalf("expected parent rescheduled once its child zombified; got %v", parent.State)
	}
	_ = s
}

func TestSysWaitpidFailsWithoutMatchingChild(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	parent := allocRunning(t, table, proc.InitPID)
	parent.Regs.RDI = 999

	sysWaitpid(sc, parent)

	if int64(parent.Regs.RAX) != errors.New(errors.NoChildren).Errno() {
		t.Fatalf("expected NoChildren errno; got %d", int64(parent.Regs.RAX))
	}
}

func TestSysForkCopiesRegsAndZeroesChildReturn(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	parent := allocRunning(t, table, proc.InitPID)
	parent.Priority = proc.PriorityHigh
	parent.Regs.RBX = 0xdead

	sysFork(sc, parent)

	childPID := proc.PID(int64(parent.Regs.RAX))
	if childPID == 0 {
		t.Fatalf("expected fork to return a nonzero child pid to the parent")
	}

	child := table.FindPID(childPID)
	if child == nil {
		t.Fatal("expected the forked child to exist in the table")
	}
	if child.Regs.RAX != 0 {
		t.Fatalf("expected the child's rax to be zeroed; got %d", child.Regs.RAX)
	}
	if child.Regs.RBX != 0xdead {
		t.Fatalf("expected the child's register bank to be copied from the parent")
	}
	if child.Priority != proc.PriorityHigh {
		t.Fatalf("expected the child to inherit the parent's priority")
	}
	if child.State != proc.StateReady {
		t.Fatalf("expected the child to be scheduled READY; got %v", child.State)
	}
}

func TestSysGetPIDAndGetPPID(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	parent := allocRunning(t, table, proc.InitPID)
	child, _ := table.Alloc(parent.PID)

	sysGetPID(sc, child)
	if proc.PID(int64(child.Regs.RAX)) != child.PID {
		t.Fatalf("expected getpid to return the caller's own pid")
	}

	sysGetPPID(sc, child)
	if proc.PID(int64(child.Regs.RAX)) != parent.PID {
		t.Fatalf("expected getppid to return the parent's pid")
	}
}

func TestSysSetPrioRejectsOutOfRangeValue(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	p := allocRunning(t, table, proc.InitPID)
	p.Regs.RDI = uint64(proc.PriorityDeferred) + 1

	sysSetPrio(sc, p)

	if int64(p.Regs.RAX) != errors.New(errors.BadParameter).Errno() {
		t.Fatalf("expected BadParameter for an out-of-range priority; got %d", int64(p.Regs.RAX))
	}
}

func TestSysSetPrioAcceptsValidValue(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	p := allocRunning(t, table, proc.InitPID)
	p.Regs.RDI = uint64(proc.PriorityHigh)

	sysSetPrio(sc, p)

	if p.Priority != proc.PriorityHigh {
		t.Fatalf("expected priority to be updated to PriorityHigh; got %v", p.Priority)
	}
	if int64(p.Regs.RAX) != 0 {
		t.Fatalf("expected success return of 0; got %d", int64(p.Regs.RAX))
	}
}

func TestSysKillRejectsNonDescendant(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	caller := allocRunning(t, table, proc.InitPID)
	unrelated, _ := table.Alloc(proc.InitPID)

	caller.Regs.RDI = uint64(unrelated.PID)

	sysKill(sc, caller)

	if int64(caller.Regs.RAX) != errors.New(errors.BadParameter).Errno() {
		t.Fatalf("expected BadParameter killing a non-descendant; got %d", int64(caller.Regs.RAX))
	}
	if unrelated.State == proc.StateZombie {
		t.Fatalf("expected the unrelated process to survive the rejected kill")
	}
}

func TestSysKillTerminatesReadyDescendant(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	caller := allocRunning(t, table, proc.InitPID)
	child, _ := table.Alloc(caller.PID)
	table.Schedule(child)

	caller.Regs.RDI = uint64(child.PID)

	sysKill(sc, caller)

	if child.State != proc.StateZombie {
		t.Fatalf("expected the READY descendant to be zombified; got %v", child.State)
	}
	if int64(caller.Regs.RAX) != 0 {
		t.Fatalf("expected the caller to keep running after killing a non-self descendant")
	}
}

func TestSysKillOnZombieIsNoop(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	caller := allocRunning(t, table, proc.InitPID)
	child, _ := table.Alloc(caller.PID)
	child.ExitStatus = 1
	table.Zombify(child)

	caller.Regs.RDI = uint64(child.PID)
	sysKill(sc, caller)

	if int64(caller.Regs.RAX) != 0 {
		t.Fatalf("expected killing an already-ZOMBIE process to report success; got %d", int64(caller.Regs.RAX))
	}
}

func TestSysSleepZeroYieldsVoluntarily(t *testing.T) {
	sc, table, _, resumed := newTestSyscalls(t)

	caller := allocRunning(t, table, proc.InitPID)
	other, _ := table.Alloc(proc.InitPID)
	table.Schedule(other)

	caller.Regs.RDI = 0
	*resumed = nil

	sysSleep(sc, caller)

	if caller.State != proc.StateReady {
		t.Fatalf("expected a voluntary yield to reschedule the caller READY; got %v", caller.State)
	}
	if table.Current() == nil || table.Current().PID != other.PID {
		t.Fatalf("expected the other runnable process dispatched after a zero-length sleep")
	}
}

func TestSysSleepNonzeroBlocksOnWakeupTick(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	caller := allocRunning(t, table, proc.InitPID)
	caller.Regs.RDI = 50

	sysSleep(sc, caller)

	if caller.State != proc.StateSleeping {
		t.Fatalf("expected the caller to block SLEEPING; got %v", caller.State)
	}
	if table.Current() != nil {
		t.Fatalf("expected no current process once the lone caller slept")
	}

	if table.WakeDue(^uint64(0)) != 1 {
		t.Fatalf("expected the sleeper to wake once its deadline is reached")
	}
}

func TestSysKillAcrossThreeGenerations(t *testing.T) {
	sc, table, _, _ := newTestSyscalls(t)

	// A forks B, B forks C. Only B may kill C; A is too far removed.
	a := allocRunning(t, table, proc.InitPID)
	b, _ := table.Alloc(a.PID)
	c, _ := table.Alloc(b.PID)
	table.Schedule(c)

	a.Regs.RDI = uint64(c.PID)
	sysKill(sc, a)

	if int64(a.Regs.RAX) != errors.New(errors.BadParameter).Errno() {
		t.Fatalf("expected the grandparent's kill of a grandchild to fail; got %d", int64(a.Regs.RAX))
	}
	if c.State == proc.StateZombie {
		t.Fatal("expected the grandchild to survive the grandparent's kill")
	}

	a.State = proc.StateReady
	table.SetCurrent(b)
	b.State = proc.StateRunning
	b.Regs.RDI = uint64(c.PID)
	sysKill(sc, b)

	if int64(b.Regs.RAX) != 0 {
		t.Fatalf("expected the parent's kill of its direct child to succeed; got %d", int64(b.Regs.RAX))
	}
	if c.State != proc.StateZombie {
		t.Fatalf("expected the child to be zombified by its parent; got %v", c.State)
	}
	if c.ExitStatus != 1 {
		t.Fatalf("expected the killed child's exit status to be 1; got %d", c.ExitStatus)
	}
}
