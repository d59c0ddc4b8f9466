// Package uart drives a 16450/16550-compatible serial port, used as the
// kernel's secondary output sink: every character the console ring emits is
// duplicated here so a serial log survives even when the video console
// doesn't (or can't) render. Grounded on the teacher driver pack's UART
// register layout.
package uart

import "comus/kernel/cpu"

const (
	com1 = 0x3f8

	regData = com1 + 0 // RXD/TXD, or DLL when DLAB is set
	regIER  = com1 + 1 // interrupt enable, or DLM when DLAB is set
	regFCR  = com1 + 2 // FIFO control (write-only)
	regLCR  = com1 + 3 // line control
	regMCR  = com1 + 4 // modem control
	regLSR  = com1 + 5 // line status

	lcrDLAB    = 0x80
	lcrWord8   = 0x03
	fcrEnable  = 0x01
	fcrClear   = 0x06 // reset both FIFOs
	mcrDTR     = 0x01
	mcrRTS     = 0x02
	mcrOut2    = 0x08 // required for IRQ delivery on most chipsets
	lsrTxReady = 0x20

	divisorBase = 115200
)

// Sink is the operational contract the console ring writes through: accept
// one byte, blocking until the transmitter can take it.
type Sink interface {
	WriteByte(b byte)
}

// Port drives COM1 directly through I/O ports.
type Port struct{}

// Init configures the UART for 8N1 at the given baud rate, no interrupts
// (output is polled), FIFOs enabled.
func Init(baud uint32) {
	divisor := uint16(divisorBase / baud)

	cpu.OutB(regIER, 0x00) // disable UART interrupts; console polls

	cpu.OutB(regLCR, lcrDLAB)
	cpu.OutB(regData, uint8(divisor))
	cpu.OutB(regIER, uint8(divisor>>8))

	cpu.OutB(regLCR, lcrWord8)
	cpu.OutB(regFCR, fcrEnable|fcrClear)
	cpu.OutB(regMCR, mcrDTR|mcrRTS|mcrOut2)
}

// WriteByte blocks until the transmit holding register is empty, then
// writes b. '\n' is not expanded to "\r\n"; callers that want that do it
// themselves (matching the console ring's own newline handling).
func (Port) WriteByte(b byte) {
	for cpu.InB(regLSR)&lsrTxReady == 0 {
	}
	cpu.OutB(regData, b)
}

// Write implements io.Writer, so Default can be passed directly to
// io.MultiWriter alongside the active console terminal.
func (p Port) Write(b []byte) (int, error) {
	for _, c := range b {
		p.WriteByte(c)
	}
	return len(b), nil
}

// Default is the Port installed at boot. Typed concretely (rather than as
// Sink) so it can also be passed anywhere an io.Writer is expected, e.g.
// wrapped in a kfmt.PrefixWriter and handed to kfmt.SetOutputSink.
var Default Port
