// Package pit drives channel 0 of the Intel 8253/8254 Programmable Interval
// Timer, the source of the periodic timer IRQ (line 0, remapped to vector
// 32) that drives kernel/time.Tick and kernel/sched.Tick. No in-pack source
// documents the 8253 directly; the port layout and command byte format are
// the standard PC/AT contract that accompanies the 8259 PIC register set.
package pit

import "comus/kernel/cpu"

const (
	channel0 = 0x40
	command  = 0x43

	// mode 3 (square wave generator), access lo/hi byte, binary counting,
	// channel 0.
	cmdChannel0Mode3 = 0x36

	baseFrequency = 1193182 // Hz, the PIT's fixed input clock
)

// Init programs channel 0 to fire at approximately hz interrupts per
// second.
func Init(hz uint32) {
	divisor := uint16(baseFrequency / hz)

	cpu.OutB(command, cmdChannel0Mode3)
	cpu.OutB(channel0, uint8(divisor))
	cpu.OutB(channel0, uint8(divisor>>8))
}
