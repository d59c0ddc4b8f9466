package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the contents of the CR2 register, populated by the CPU
// with the faulting address whenever a page fault occurs.
func ReadCR2() uint64

// LoadIDT installs the interrupt descriptor table whose base and limit are
// described by idtPtr (a 10-byte amd64 pseudo-descriptor).
func LoadIDT(idtPtr uintptr)

// InB reads a single byte from the given I/O port.
func InB(port uint16) uint8

// OutB writes a single byte to the given I/O port.
func OutB(port uint16, value uint8)

// InW reads a 16-bit word from the given I/O port.
func InW(port uint16) uint16

// OutW writes a 16-bit word to the given I/O port.
func OutW(port uint16, value uint16)

// InL reads a 32-bit doubleword from the given I/O port.
func InL(port uint16) uint32

// OutL writes a 32-bit doubleword to the given I/O port.
func OutL(port uint16, value uint32)
