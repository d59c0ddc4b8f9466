package proc

// NotifyReap is invoked by Zombify whenever a waiting parent (or init) is
// woken because a specific child's exit was just reaped. Zombify has
// already written the reaped pid into the parent's RAX (waitpid's intrinsic
// return value); NotifyReap only needs to write the exit status through the
// parent's user-supplied status pointer, which the syscall layer overrides
// this to do via validated user-pointer translation. The default is a no-op
// so the process package has no dependency on memory-context translation.
var NotifyReap = func(parent *PCB, reapedPID PID, exitStatus uint8) {}

// Zombify performs the exit protocol for victim, called from exit()/kill()
// and from the scheduler when a process is killed outright:
//
//  1. Every non-UNUSED child of victim is reparented to init. If one such
//     child is already ZOMBIE and init is WAITING, that child is reaped
//     immediately and init is woken with its pid/status.
//  2. If victim's own parent is WAITING for victim specifically (or for
//     "any child"), the parent is woken with victim's pid/status and victim
//     is reaped in place, skipping the ZOMBIE state entirely.
//  3. Otherwise victim becomes ZOMBIE, to be reaped later by its parent's
//     waitpid.
func (t *Table) Zombify(victim *PCB) {
	vicPID := victim.PID

	var zombieChild *PCB
	t.Children(vicPID, func(child *PCB) {
		child.ParentPID = InitPID
		if child.State == StateZombie {
			zombieChild = child
		}
	})

	// A WAITING init is woken unconditionally for an orphaned zombie, even
	// when its waitpid named some other pid: init loops on waitpid to
	// collect whatever it is handed.
	if initPCB := t.Init(); zombieChild != nil && initPCB != nil && initPCB.State == StateWaiting {
		t.removeThis(&t.zombie, t.slotOf(zombieChild))
		t.removeThis(&t.waiting, t.slotOf(initPCB))

		reapedPID, status := zombieChild.PID, zombieChild.ExitStatus
		t.Free(zombieChild)
		t.Schedule(initPCB)
		initPCB.Regs.RAX = uint64(reapedPID)
		NotifyReap(initPCB, reapedPID, status)
	}

	parent := t.FindPID(victim.ParentPID)
	if parent != nil && parent.State == StateWaiting {
		target := waitTarget(parent)
		if target == 0 || target == vicPID {
			t.removeThis(&t.waiting, t.slotOf(parent))

			status := victim.ExitStatus
			t.Free(victim)
			t.Schedule(parent)
			parent.Regs.RAX = uint64(vicPID)
			NotifyReap(parent, vicPID, status)
			return
		}
	}

	victim.State = StateZombie
	t.insert(&t.zombie, t.slotOf(victim))
}

// waitTarget reports the pid a WAITING PCB's waitpid call is blocked on (0
// meaning "any child"). It is recorded in BlockedSyscall's companion field
// at the time the process entered WAITING.
func waitTarget(p *PCB) PID {
	return p.waitingOnPID
}

// Reap removes a ZOMBIE child from the zombie queue and returns it to the
// free list, reporting its exit status. Callers (waitpid servicing an
// already-zombie child on demand, rather than being woken by Zombify) must
// have already confirmed child.State == StateZombie.
func (t *Table) Reap(child *PCB) uint8 {
	t.removeThis(&t.zombie, t.slotOf(child))
	status := child.ExitStatus
	t.Free(child)
	return status
}
