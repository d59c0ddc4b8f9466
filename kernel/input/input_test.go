package input

import "testing"

func resetInput() {
	buffer = ring{}
	state = decodeState{}
}

func TestReceiveDeliversKeyDown(t *testing.T) {
	resetInput()

	Receive(0x1c) // 'A' make code

	ev, ok := Poll()
	if !ok {
		t.Fatal("expected an event to be available")
	}
	if ev.Key != KeyA || ev.Flags != FlagKeyDown {
		t.Fatalf("expected KeyA down; got %+v", ev)
	}
	if _, ok := Poll(); ok {
		t.Fatal("expected the ring to be empty after one poll")
	}
}

func TestReceiveHandlesBreakPrefix(t *testing.T) {
	resetInput()

	Receive(0xf0) // break prefix
	Receive(0x1c) // 'A'

	ev, ok := Poll()
	if !ok || ev.Key != KeyA || ev.Flags != FlagKeyUp {
		t.Fatalf("expected KeyA up; got %+v, ok=%v", ev, ok)
	}
}

func TestReceiveHandlesExtendedPrefix(t *testing.T) {
	resetInput()

	Receive(0xe0)
	Receive(0x75) // up arrow, extended table

	ev, ok := Poll()
	if !ok || ev.Key != KeyUpArrow {
		t.Fatalf("expected KeyUpArrow; got %+v, ok=%v", ev, ok)
	}
}

func TestReceiveErrorCodeResetsState(t *testing.T) {
	resetInput()

	Receive(0xe0)
	Receive(0x00) // error code

	ev, ok := Poll()
	if !ok || ev.Flags != FlagError {
		t.Fatalf("expected an error event; got %+v, ok=%v", ev, ok)
	}

	// the pending extended-prefix state should not leak into the next code.
	Receive(0x1c)
	ev2, ok := Poll()
	if !ok || ev2.Key != KeyA {
		t.Fatalf("expected a plain KeyA after the error reset state; got %+v", ev2)
	}
}

func TestRingDropsWhenFull(t *testing.T) {
	resetInput()

	for i := 0; i < RingSize; i++ {
		Receive(0x1c)
	}

	// one more push should be dropped, not overwrite the oldest.
	ok := buffer.push(Event{Key: KeyZ})
	if ok {
		t.Fatal("expected the ring to reject a push once full")
	}

	ev, _ := Poll()
	if ev.Key != KeyA {
		t.Fatalf("expected the oldest event (KeyA) to still be first; got %+v", ev)
	}
}
