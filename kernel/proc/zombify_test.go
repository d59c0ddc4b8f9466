package proc

import "testing"

func TestZombifyReapsWaitingParentDirectly(t *testing.T) {
	tbl := NewTable(4)

	parent, _ := tbl.Alloc(InitPID)
	child, _ := tbl.Alloc(parent.PID)
	child.ExitStatus = 42

	tbl.Wait(parent, 0)

	var notifiedPID PID
	var notifiedStatus uint8
	origNotify := NotifyReap
	NotifyReap = func(p *PCB, pid PID, status uint8) {
		notifiedPID, notifiedStatus = pid, status
	}
	defer func() { NotifyReap = origNotify }()

	tbl.Zombify(child)

	if notifiedPID != child.PID || notifiedStatus != 42 {
		t.Fatalf("expected parent notified of reaped child %d/42; got %d/%d", child.PID, notifiedPID, notifiedStatus)
	}
	if parent.State != StateReady {
		t.Fatalf("expected parent to be rescheduled; got %v", parent.State)
	}
	if child.State != StateUnused {
		t.Fatalf("expected child reaped directly to UNUSED, not left as ZOMBIE; got %v", child.State)
	}
}

func TestZombifyWithoutWaitingParentBecomesZombie(t *testing.T) {
	tbl := NewTable(4)

	parent, _ := tbl.Alloc(InitPID)
	child, _ := tbl.Alloc(parent.PID)

	tbl.Zombify(child)

	if child.State != StateZombie {
		t.Fatalf("expected child to become ZOMBIE; got %v", child.State)
	}
	if found := tbl.FindPID(child.PID); found == nil {
		t.Fatal("expected a ZOMBIE process to remain visible in the table until reaped")
	}
}

func TestZombifyReparentsChildrenToInit(t *testing.T) {
	tbl := NewTable(4)

	initPCB, _ := tbl.Alloc(0)
	tbl.MarkInit(initPCB)

	parent, _ := tbl.Alloc(InitPID)
	grandchild, _ := tbl.Alloc(parent.PID)

	tbl.Zombify(parent)

	if grandchild.ParentPID != InitPID {
		t.Fatalf("expected orphaned child to be reparented to init; got parent pid %d", grandchild.ParentPID)
	}
}

func TestZombifyWakesInitWaitingOnNonMatchingPid(t *testing.T) {
	tbl := NewTable(4)

	initPCB, _ := tbl.Alloc(0)
	tbl.MarkInit(initPCB)

	parent, _ := tbl.Alloc(InitPID)
	child, _ := tbl.Alloc(parent.PID)
	child.ExitStatus = 5
	tbl.Zombify(child)

	// init's waitpid names a specific pid that is not the orphaned zombie;
	// the wake happens regardless.
	tbl.Wait(initPCB, 999)

	var notifiedPID PID
	origNotify := NotifyReap
	NotifyReap = func(p *PCB, pid PID, status uint8) { notifiedPID = pid }
	defer func() { NotifyReap = origNotify }()

	tbl.Zombify(parent)

	if initPCB.State != StateReady {
		t.Fatalf("expected init woken for the orphaned zombie despite its specific wait target; got %v", initPCB.State)
	}
	if notifiedPID != child.PID {
		t.Fatalf("expected init notified of the orphaned zombie %d; got %d", child.PID, notifiedPID)
	}
	if child.State != StateUnused {
		t.Fatalf("expected the orphaned zombie reaped; got %v", child.State)
	}
}

func TestZombifyWakesInitForAlreadyZombieChild(t *testing.T) {
	tbl := NewTable(4)

	initPCB, _ := tbl.Alloc(0)
	tbl.MarkInit(initPCB)
	tbl.Wait(initPCB, 0)

	parent, _ := tbl.Alloc(InitPID)
	child, _ := tbl.Alloc(parent.PID)
	child.ExitStatus = 7

	// child exits first, with no one waiting for it yet: becomes ZOMBIE.
	tbl.Zombify(child)
	if child.State != StateZombie {
		t.Fatalf("expected child to become ZOMBIE before its parent exits")
	}

	var notifiedPID PID
	origNotify := NotifyReap
	NotifyReap = func(p *PCB, pid PID, status uint8) { notifiedPID = pid }
	defer func() { NotifyReap = origNotify }()

	// now the parent exits too; init should be woken for the orphaned zombie.
	tbl.Zombify(parent)

	if notifiedPID != child.PID {
		t.Fatalf("expected init notified of the already-zombie grandchild %d; got %d", child.PID, notifiedPID)
	}
	if child.State != StateUnused {
		t.Fatalf("expected the zombie child to be reaped once init was woken")
	}
}
