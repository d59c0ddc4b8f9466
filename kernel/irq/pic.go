package irq

// HandleIRQ registers handler for hardware IRQ line irqLine (0-15), which the
// PIC driver remaps to vector IRQVector(irqLine) during initialization.
func HandleIRQ(irqLine uint8, handler ExceptionHandler) {
	HandleException(IRQVector(irqLine), handler)
}

// HandleSyscall registers the handler invoked whenever user-mode code issues
// `int 0x80`. The handler gets no error code; the syscall number and its
// arguments are read by the syscall layer from the register bank in Regs.
func HandleSyscall(handler ExceptionHandler) {
	HandleException(SyscallGate, handler)
}
