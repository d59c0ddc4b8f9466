// Package ps2 drives the 8042 PS/2 controller: the keyboard IRQ1 handler
// reads one scancode byte from the data port and forwards it to
// kernel/input.Receive. Grounded on the teacher driver pack's
// ps2ctrl_in/ps2ctrl_out_cmd/ps2kb_init/ps2kb_recv sequence.
package ps2

import "comus/kernel/cpu"

const (
	portData   = 0x60
	portStatus = 0x64
	portCmd    = 0x64

	statusOutBuf = 0x01 // data byte ready to be read
	statusInBuf  = 0x02 // controller/device not ready for a command byte

	cmdResetSelfTest = 0xff
	cmdEnableScan    = 0xf4

	ackByte  = 0xfa
	testPass = 0xaa
)

func status() uint8 {
	return cpu.InB(portStatus)
}

func waitOutputFull() uint8 {
	for status()&statusOutBuf == 0 {
	}
	return cpu.InB(portData)
}

func waitInputEmpty() {
	for status()&statusInBuf != 0 {
	}
}

func writeData(b uint8) {
	waitInputEmpty()
	cpu.OutB(portData, b)
}

// InitKeyboard resets the keyboard on port 1 and enables scanning,
// reporting whether the device responded correctly.
func InitKeyboard() bool {
	writeData(cmdResetSelfTest)
	if waitOutputFull() != ackByte {
		return false
	}
	if waitOutputFull() != testPass {
		return false
	}

	writeData(cmdEnableScan)
	return waitOutputFull() == ackByte
}

// ReadScancode reads one pending byte from the keyboard's IRQ1 handler.
// Callers are expected to have already confirmed an output byte is
// available (or to call this only from the IRQ handler, where the
// controller guarantees one is).
func ReadScancode() uint8 {
	return cpu.InB(portData)
}
