// Package input implements the keyboard input glue (C11): scancode
// translation through normal/extended tables into (key, flag) records,
// pushed into a bounded ring that keypoll drains.
package input

// Key is a translated key code. The zero value, KeyNone, means "no
// mapping for this scancode".
type Key uint8

const KeyNone Key = 0

// Flag describes the nature of a delivered key event.
type Flag uint8

const (
	FlagKeyDown Flag = 1 << iota
	FlagKeyUp
	FlagError
)

// Event is one entry in the input ring.
type Event struct {
	Key   Key
	Flags Flag
}

// RingSize bounds the keyboard input ring. Chosen generously for
// interactive typing; overflow drops the newest event rather than
// blocking the ISR that produced it.
const RingSize = 32

// ring is a fixed-capacity FIFO of input events, written only from the
// keyboard ISR and drained only by keypoll; both run with interrupts
// disabled for the duration of the operation that touches it (spec's
// shared-resource policy for ISR-touched structures).
type ring struct {
	buf        [RingSize]Event
	head, tail int
	count      int
}

func (r *ring) push(e Event) bool {
	if r.count == RingSize {
		return false
	}
	r.buf[r.tail] = e
	r.tail = (r.tail + 1) % RingSize
	r.count++
	return true
}

func (r *ring) pop() (Event, bool) {
	if r.count == 0 {
		return Event{}, false
	}
	e := r.buf[r.head]
	r.head = (r.head + 1) % RingSize
	r.count--
	return e, true
}

var buffer ring

// decodeState tracks the scancode set 2 prefix bytes (0xE0 extended, 0xF0
// break) that precede the code byte they modify.
type decodeState struct {
	extended bool
	keyUp    bool
}

var state decodeState

// Receive feeds one raw scancode byte from the keyboard controller through
// the prefix state machine and, once a complete code is decoded, pushes the
// resulting event into the ring. Grounded on the teacher driver pack's PS/2
// receive loop: 0xF0 marks the next code as a key-up, 0xE0 marks it as
// coming from the extended table, and both prefixes are consumed (not
// delivered) without resetting the other's pending flag.
func Receive(code uint8) {
	switch {
	case code == 0x00 || code == 0x0f:
		buffer.push(Event{Key: KeyNone, Flags: FlagError})
		state = decodeState{}
	case code == 0xf0:
		state.keyUp = true
	case code == 0xe0:
		state.extended = true
	default:
		table := &normalTable
		if state.extended {
			table = &extendedTable
		}

		if key := table[code]; key != KeyNone {
			flag := FlagKeyDown
			if state.keyUp {
				flag = FlagKeyUp
			}
			buffer.push(Event{Key: key, Flags: flag})
		}

		state = decodeState{}
	}
}

// Poll dequeues one event from the ring, reporting whether one was
// available.
func Poll() (Event, bool) {
	return buffer.pop()
}
