package allocator

import (
	"testing"
	"unsafe"

	"comus/kernel/hal/multiboot"
	"comus/kernel/mem/pmm"
)

func TestBootMemoryAllocator(t *testing.T) {
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))

	// region 1 extents get rounded to [0, 9f000] and provides 159 frames [0 to 158]
	// region 2 uses the original extents [100000 - 7fe0000] and provides 32480 frames [256-32735]
	var totalFreeFrames uint64 = 159 + 32480

	var (
		alloc           bootMemAllocator
		allocFrameCount uint64
	)
	alloc.init(0, 0)

	for {
		frame, err := alloc.AllocFrame()
		if err != nil {
			if err == errBootAllocOutOfMemory {
				break
			}
			t.Fatalf("[frame %d] unexpected allocator error: %v", allocFrameCount, err)
		}
		allocFrameCount++
		if frame != alloc.lastAllocFrame {
			t.Errorf("[frame %d] expected allocated frame to be %d; got %d", allocFrameCount, alloc.lastAllocFrame, frame)
		}

		if !frame.Valid() {
			t.Errorf("[frame %d] expected Valid() to return true", allocFrameCount)
		}
	}

	if allocFrameCount != totalFreeFrames {
		t.Fatalf("expected allocator to allocate %d frames; allocated %d", totalFreeFrames, allocFrameCount)
	}
}

func TestBootMemAllocatorAllocFrameOutOfMemory(t *testing.T) {
	emptyInfoData := []byte{
		0, 0, 0, 0, // size
		0, 0, 0, 0, // reserved
		0, 0, 0, 0, // tag with type zero and length zero
		0, 0, 0, 0,
	}
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&emptyInfoData[0])))

	var alloc bootMemAllocator
	alloc.init(0, 0)

	if _, err := alloc.AllocFrame(); err != errBootAllocOutOfMemory {
		t.Fatalf("expected errBootAllocOutOfMemory; got %v", err)
	}
}

var _ = pmm.InvalidFrame
