package input

// Named keys. Not exhaustive: enough of the keyboard to drive the demo
// programs the loader (C10) is expected to run.
const (
	KeyA Key = iota + 1
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
	Key0
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeySpace
	KeyEnter
	KeyBackspace
	KeyTab
	KeyEscape
	KeyLeftArrow
	KeyRightArrow
	KeyUpArrow
	KeyDownArrow
)

// normalTable maps PS/2 scan code set 2 make codes to Key values. Indices
// not listed default to KeyNone.
var normalTable = func() (t [256]Key) {
	entries := map[uint8]Key{
		0x1c: KeyA, 0x32: KeyB, 0x21: KeyC, 0x23: KeyD, 0x24: KeyE,
		0x2b: KeyF, 0x34: KeyG, 0x33: KeyH, 0x43: KeyI, 0x3b: KeyJ,
		0x42: KeyK, 0x4b: KeyL, 0x3a: KeyM, 0x31: KeyN, 0x44: KeyO,
		0x4d: KeyP, 0x15: KeyQ, 0x2d: KeyR, 0x1b: KeyS, 0x2c: KeyT,
		0x3c: KeyU, 0x2a: KeyV, 0x1d: KeyW, 0x22: KeyX, 0x35: KeyY,
		0x1a: KeyZ,
		0x45: Key0, 0x16: Key1, 0x1e: Key2, 0x26: Key3, 0x25: Key4,
		0x2e: Key5, 0x36: Key6, 0x3d: Key7, 0x3e: Key8, 0x46: Key9,
		0x29: KeySpace, 0x5a: KeyEnter, 0x66: KeyBackspace, 0x0d: KeyTab,
		0x76: KeyEscape,
	}
	for code, key := range entries {
		t[code] = key
	}
	return t
}()

// extendedTable maps scan codes preceded by the 0xE0 prefix.
var extendedTable = func() (t [256]Key) {
	entries := map[uint8]Key{
		0x6b: KeyLeftArrow, 0x74: KeyRightArrow, 0x75: KeyUpArrow, 0x72: KeyDownArrow,
	}
	for code, key := range entries {
		t[code] = key
	}
	return t
}()
