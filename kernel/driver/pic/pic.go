// Package pic programs the two cascaded Intel 8259 Programmable Interrupt
// Controllers: remapping their vector bases away from the CPU exception
// range, masking/unmasking individual IRQ lines and acknowledging serviced
// interrupts (EOI). Grounded on the teacher driver pack's pic_remap/pic_mask/
// pic_eoi trio and the ICW1-4 sequence documented in the x86 PIC reference.
package pic

import "comus/kernel/cpu"

const (
	cmd1  = 0x20 // primary command port
	data1 = 0x21 // primary data / interrupt mask register
	cmd2  = 0xa0 // secondary command port
	data2 = 0xa1 // secondary data / interrupt mask register

	icw1Init     = 0x10 // start initialization sequence
	icw1Need4    = 0x01 // ICW4 will also be sent
	icw4Mode8086 = 0x01 // 8086/88 mode

	vecBase1 = 0x20 // IRQ0 vector, after remap
	vecBase2 = 0x28 // IRQ8 vector, after remap

	secondaryOnIRQ2 = 0x04 // ICW3 for primary: secondary attached on pin 2
	secondaryID     = 0x02 // ICW3 for secondary: cascade identity

	eoiNonSpecific = 0x20
)

var mask uint16 = 0xffff

// Init remaps both PICs so hardware IRQs 0-15 land on vectors 0x20-0x2f
// instead of overlapping the CPU's reserved exception vectors, then masks
// every line. Callers unmask individual lines as their drivers register
// handlers for them.
func Init() {
	cpu.OutB(cmd1, icw1Init|icw1Need4)
	ioWait()
	cpu.OutB(cmd2, icw1Init|icw1Need4)
	ioWait()

	cpu.OutB(data1, vecBase1)
	ioWait()
	cpu.OutB(data2, vecBase2)
	ioWait()

	cpu.OutB(data1, secondaryOnIRQ2)
	ioWait()
	cpu.OutB(data2, secondaryID)
	ioWait()

	cpu.OutB(data1, icw4Mode8086)
	ioWait()
	cpu.OutB(data2, icw4Mode8086)
	ioWait()

	mask = 0xffff
	cpu.OutB(data1, uint8(mask))
	cpu.OutB(data2, uint8(mask>>8))
}

// Mask disables delivery of hardware IRQ line n (0-15) until Unmask is
// called.
func Mask(irqLine uint8) {
	mask |= 1 << irqLine
	writeMask()
}

// Unmask allows hardware IRQ line n (0-15) to reach the CPU.
func Unmask(irqLine uint8) {
	mask &^= 1 << irqLine
	writeMask()
}

func writeMask() {
	cpu.OutB(data1, uint8(mask))
	cpu.OutB(data2, uint8(mask>>8))
}

// EOI acknowledges a serviced interrupt on hardware IRQ line n (0-15),
// letting the PIC deliver further interrupts of equal or lower priority.
// IRQ lines 8-15 route through the secondary PIC, which must also be
// acknowledged since it cascades through the primary's IRQ2 pin.
func EOI(irqLine uint8) {
	if irqLine >= 8 {
		cpu.OutB(cmd2, eoiNonSpecific)
	}
	cpu.OutB(cmd1, eoiNonSpecific)
}

// ioWait gives the PIC time to process a command by writing to an unused
// port, the conventional ~1us delay on real hardware.
func ioWait() {
	cpu.OutB(0x80, 0)
}
