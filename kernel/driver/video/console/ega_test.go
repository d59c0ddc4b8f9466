package console

import (
	"testing"
	"unsafe"
)

func TestEgaInit(t *testing.T) {
	fb := make([]uint16, 80*25)
	var cons Ega
	cons.Init(80, 25, uintptr(unsafe.Pointer(&fb[0])))

	var expWidth uint16 = 80
	var expHeight uint16 = 25

	if w, h := cons.Dimensions(); w != expWidth || h != expHeight {
		t.Fatalf("expected console dimensions after Init() to be (%d, %d); got (%d, %d)", expWidth, expHeight, w, h)
	}
}

func TestEgaClear(t *testing.T) {
	specs := []struct {
		// Input rect
		x, y, w, h uint16

		// Expected area to be cleared
		expX, expY, expW, expH uint16
	}{
		{
			0, 0, 500, 500,
			0, 0, 80, 25,
		},
		{
			10, 10, 11, 50,
			10, 10, 11, 15,
		},
		{
			90, 25, 20, 20,
			0, 0, 0, 0,
		},
	}

	fb := make([]uint16, 80*25)
	var cons Ega
	cons.Init(80, 25, uintptr(unsafe.Pointer(&fb[0])))

	testPat := uint16(0xDEAD)
	clearPat := (uint16(MakeAttr(Black, Black)) << 8) | uint16(ClearChar)

nextSpec:
	for specIndex, spec := range specs {
		for i := 0; i < len(cons.fb); i++ {
			cons.fb[i] = testPat
		}

		cons.Clear(spec.x, spec.y, spec.w, spec.h)

		var x, y uint16
		for y = 0; y < cons.height; y++ {
			for x = 0; x < cons.width; x++ {
				fbVal := cons.fb[(y*cons.width)+x]

				if x < spec.expX || y < spec.expY || x >= spec.expX+spec.expW || y >= spec.expY+spec.expH {
					if fbVal != testPat {
						t.Errorf("[spec %d] expected char at (%d, %d) not to be cleared", specIndex, x, y)
						continue nextSpec
					}
				} else {
					if fbVal != clearPat {
						t.Errorf("[spec %d] expected char at (%d, %d) to be cleared", specIndex, x, y)
						continue nextSpec
					}
				}
			}
		}
	}
}

func TestEgaSetClearAttrChangesClearColor(t *testing.T) {
	fb := make([]uint16, 80*25)
	var cons Ega
	cons.Init(80, 25, uintptr(unsafe.Pointer(&fb[0])))
	cons.SetClearAttr(Red)

	cons.Clear(0, 0, cons.width, cons.height)

	wantPat := (uint16(MakeAttr(Red, Red)) << 8) | uint16(ClearChar)
	for i := 0; i < len(cons.fb); i++ {
		if cons.fb[i] != wantPat {
			t.Fatalf("expected cell %d cleared with overridden attr %#x; got %#x", i, wantPat, cons.fb[i])
		}
	}
}

func TestEgaWrite(t *testing.T) {
	fb := make([]uint16, 80*25)
	var cons Ega
	cons.Init(80, 25, uintptr(unsafe.Pointer(&fb[0])))

	attr := MakeAttr(Red, Black)
	cons.Write('!', attr, 0, 0)

	expVal := uint16(attr)<<8 | uint16('!')
	if got := cons.fb[0]; got != expVal {
		t.Errorf("expected call to Write() to set fb[0] to %d; got %d", expVal, got)
	}
}
