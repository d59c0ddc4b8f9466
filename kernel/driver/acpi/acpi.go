// Package acpi parses just enough of the ACPI table tree to support power
// management on the S5 (poweroff) transition: the RSDP, RSDT/XSDT, and FADT,
// plus the DSDT scan for the \_S5 package that yields the SLP_TYP values.
// Grounded on the teacher driver pack's acpi_init/acpi_load_table/
// read_s5_addr sequence.
package acpi

import (
	"unsafe"

	"comus/kernel/cpu"
)

type header struct {
	Signature       uint32
	Length          uint32
	Revision        uint8
	Checksum        uint8
	OEMID           [6]byte
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       uint32
	CreatorRevision uint32
}

const (
	sigRSDT = 0x54445352
	sigXSDT = 0x54445358
	sigFACP = 0x50434146
	sigDSDT = 0x54445344
)

type rsdp struct {
	Signature [8]byte
	Checksum  uint8
	OEMID     [6]byte
	Revision  uint8
	RSDTAddr  uint32
	// ACPI 2.0+ fields follow but are only valid when Revision == 2.
	Length      uint32
	XSDTAddr    uint64
	ExtChecksum uint8
	_           [3]byte
}

type fadt struct {
	Header           header
	FirmwareCtrl     uint32
	DSDT             uint32
	_                [4]byte
	SCIInterrupt     uint16
	SMICommandPort   uint32
	ACPIEnable       uint8
	ACPIDisable      uint8
	_                [49]byte
	PM1aControlBlock uint32
	PM1bControlBlock uint32
}

// State holds the decoded fields poweroff needs. Zero value means ACPI was
// never initialized (or initialization failed); Shutdown is then a no-op.
type State struct {
	ready     bool
	fadt      *fadt
	slpTypA   uint16
	slpTypB   uint16
	slpEnable uint16
}

var active State

func readHeader(addr uintptr) *header {
	return (*header)(unsafe.Pointer(addr))
}

func checksum(addr uintptr, length uint32) bool {
	var sum uint8
	for i := uint32(0); i < length; i++ {
		sum += *(*uint8)(unsafe.Pointer(addr + uintptr(i)))
	}
	return sum == 0
}

// Init validates the RSDP found by the boot loader and walks the RSDT/XSDT
// to locate the FADT and DSDT, extracting the S5 sleep values. Callers
// should treat a false return as "no ACPI poweroff available" rather than
// fatal: not every target (notably plain QEMU with -no-acpi) provides one.
func Init(rsdpAddr uintptr) bool {
	r := (*rsdp)(unsafe.Pointer(rsdpAddr))
	if !checksum(rsdpAddr, 20) {
		return false
	}
	if string(r.Signature[:]) != "RSD PTR " {
		return false
	}

	var sdtAddr uintptr
	var entrySize uintptr
	if r.Revision == 0 {
		sdtAddr = uintptr(r.RSDTAddr)
		entrySize = 4
	} else {
		sdtAddr = uintptr(r.XSDTAddr)
		entrySize = 8
	}

	h := readHeader(sdtAddr)
	entries := (uintptr(h.Length) - unsafe.Sizeof(header{})) / entrySize
	base := sdtAddr + unsafe.Sizeof(header{})

	var fadtPtr *fadt
	for i := uintptr(0); i < entries; i++ {
		var tableAddr uintptr
		if entrySize == 4 {
			tableAddr = uintptr(*(*uint32)(unsafe.Pointer(base + i*entrySize)))
		} else {
			tableAddr = uintptr(*(*uint64)(unsafe.Pointer(base + i*entrySize)))
		}

		th := readHeader(tableAddr)
		if th.Signature == sigFACP {
			fadtPtr = (*fadt)(unsafe.Pointer(tableAddr))
		}
	}
	if fadtPtr == nil {
		return false
	}

	slpA, slpB, ok := scanS5(uintptr(fadtPtr.DSDT))
	if !ok {
		return false
	}

	active = State{ready: true, fadt: fadtPtr, slpTypA: slpA, slpTypB: slpB, slpEnable: 1 << 13}
	cpu.OutB(uint16(fadtPtr.SMICommandPort), fadtPtr.ACPIEnable)
	return true
}

// scanS5 walks the DSDT's AML byte stream for the \_S5 package and decodes
// the two SLP_TYP values it encodes. This is a best-effort byte scan, not a
// full AML interpreter, matching the teacher's own shortcut.
func scanS5(dsdtAddr uintptr) (slpA, slpB uint16, ok bool) {
	h := readHeader(dsdtAddr)
	body := dsdtAddr + unsafe.Sizeof(header{})
	length := int(h.Length) - int(unsafe.Sizeof(header{}))

	needle := [4]byte{'_', 'S', '5', '_'}
	for i := 0; i < length-4; i++ {
		match := true
		for j := 0; j < 4; j++ {
			if *(*byte)(unsafe.Pointer(body + uintptr(i+j))) != needle[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		p := body + uintptr(i+4)
		if *(*byte)(unsafe.Pointer(p)) != 0x12 { // PackageOp
			return 0, 0, false
		}
		p++
		p += uintptr((*(*byte)(unsafe.Pointer(p))&0xc0)>>6) + 2 // PkgLength encoding

		if *(*byte)(unsafe.Pointer(p)) == 0x0a { // BytePrefix
			p++
		}
		slpA = uint16(*(*byte)(unsafe.Pointer(p)))
		p++

		if *(*byte)(unsafe.Pointer(p)) == 0x0a {
			p++
		}
		slpB = uint16(*(*byte)(unsafe.Pointer(p)))

		return slpA, slpB, true
	}
	return 0, 0, false
}

// Shutdown issues the S5 sleep-enable write to the PM1 control block(s).
// On real hardware and in any conformant emulator this does not return.
func Shutdown() {
	if !active.ready {
		return
	}
	cpu.OutW(uint16(active.fadt.PM1aControlBlock), active.slpTypA<<10|active.slpEnable)
	if active.fadt.PM1bControlBlock != 0 {
		cpu.OutW(uint16(active.fadt.PM1bControlBlock), active.slpTypB<<10|active.slpEnable)
	}
}
