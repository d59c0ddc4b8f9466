// Package cmos provides the small operational contract the time subsystem
// needs from the real-time clock: read one BCD-encoded register.
package cmos

import "comus/kernel/cpu"

const (
	portIndex = 0x70
	portData  = 0x71
)

// Register names the CMOS RTC registers the clock subsystem reads.
type Register uint8

const (
	RegSecond   Register = 0x00
	RegMinute   Register = 0x02
	RegHour     Register = 0x04
	RegWeekday  Register = 0x06
	RegMonthDay Register = 0x07
	RegMonth    Register = 0x08
	RegYear     Register = 0x09
)

// Reader is the operational contract a real-time clock driver exposes: read
// one register, decoded from BCD to binary.
type Reader interface {
	Read(reg Register) uint8
}

// PortReader reads the CMOS RTC through I/O ports 0x70/0x71, the standard
// PC/AT contract.
type PortReader struct{}

// Read selects reg on the CMOS index port and decodes the BCD byte read
// back from the data port.
func (PortReader) Read(reg Register) uint8 {
	cpu.OutB(portIndex, uint8(reg))
	raw := cpu.InB(portData)
	return (raw & 0x0f) + (raw>>4)*10
}

// Default is the Reader installed at boot.
var Default Reader = PortReader{}
