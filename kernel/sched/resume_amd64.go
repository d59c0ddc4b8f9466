package sched

import "comus/kernel/proc"

// resumeContext restores the general-purpose registers from bank and
// executes an iretq through its embedded trap frame, dropping the CPU into
// the instruction/stack/flags state the bank describes. It never returns:
// the kernel next runs when the resumed process traps, entering the
// interrupt stubs on a fresh kernel stack.
func resumeContext(bank *proc.RegisterBank)
