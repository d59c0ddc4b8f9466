// Package kmain implements the boot sequence: it wires every core
// component in the order the specification's data-flow section lays out
// (firmware handoff, then C1-C4, then C5, then C6-C9, then the program
// loader bringing up init) and finally hands control to the scheduler.
package kmain

import (
	"io"
	"reflect"
	"unsafe"

	"comus/kernel"
	"comus/kernel/cpu"
	"comus/kernel/driver/acpi"
	"comus/kernel/driver/pci"
	"comus/kernel/driver/pic"
	"comus/kernel/driver/pit"
	"comus/kernel/driver/ps2"
	"comus/kernel/driver/uart"
	"comus/kernel/fs"
	"comus/kernel/goruntime" // registers the Go allocator's sysAlloc/sysReserve/sysMap redirects
	"comus/kernel/hal"
	"comus/kernel/hal/multiboot"
	"comus/kernel/input"
	"comus/kernel/irq"
	"comus/kernel/kfmt"
	"comus/kernel/kfmt/early"
	"comus/kernel/loader"
	"comus/kernel/mem"
	"comus/kernel/mem/ctx"
	"comus/kernel/mem/pmm"
	"comus/kernel/mem/pmm/allocator"
	"comus/kernel/mem/vmm"
	"comus/kernel/proc"
	"comus/kernel/sched"
	"comus/kernel/syscall"
	"comus/kernel/time"
)

var errNoInitModule = &kernel.Error{Module: "kmain", Message: "boot loader supplied no ramdisk module"}

// timerHz is the PIT's programmed interrupt frequency, matching the
// specification's "target ~1 kHz" tick rate.
const timerHz = 1000

// serialBaud is the baud rate the UART sink is programmed at.
const serialBaud = 115200

// initPath is the path, within the mounted ramdisk, of the first userspace
// program the loader brings up as pid 1.
const initPath = "/init"

var (
	scheduler *sched.Scheduler
	syscalls  *syscall.Syscalls
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT and setting up a minimal g0 struct that allows
// Go code using the 4K stack allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by
// the bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()
	early.Printf("starting kernel\n")

	// C1: physical frame allocator, bootstrapped over the boot memory map.
	var err *kernel.Error
	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	}

	// C3: paging engine (page-fault/GPF handlers, CoW zero page).
	if err = vmm.Init(); err != nil {
		panic(err)
	}

	// C4: the distinguished kernel context, wrapping the PDT the boot
	// loader already left active and reserving the kernel image's own
	// virtual footprint so nothing else is handed out over it.
	activeFrame := pmm.Frame(cpu.ActivePDT() >> mem.PageShift)
	if err = ctx.InitKernel(activeFrame, kernelStart, kernelEnd); err != nil {
		panic(err)
	}

	// C5: kernel heap. goruntime's blank import above has already redirected
	// the Go allocator's sysAlloc/sysReserve/sysMap through vmm/pmm by the
	// time this function runs, so ordinary Go allocations are now safe.
	uart.Init(serialBaud)
	kfmt.SetOutputSink(io.MultiWriter(hal.ActiveTerminal, &kfmt.PrefixWriter{Sink: uart.Default, Prefix: []byte("[kern] ")}))
	if dropped := kfmt.Dropped(); dropped > 0 {
		early.Printf("kfmt: dropped %d bytes logged before the serial sink attached\n", dropped)
	}
	early.Printf("serial console attached\n")

	reserved, mapped, allocated := goruntime.Stats()
	early.Printf("goruntime: reserved=%d mapped=%d allocated=%d bytes\n", reserved, mapped, allocated)

	// C8: trap plane bring-up. The IDT itself is installed by the
	// assembly rt0 trampoline before Kmain runs; here we remap the PIC
	// clear of the exception vector range and register the device/timer
	// ISRs against the vectors it now owns.
	pic.Init()

	irq.HandleIRQ(0, timerISR)
	pic.Unmask(0)
	pit.Init(timerHz)

	irq.HandleIRQ(1, keyboardISR)
	if ps2.InitKeyboard() {
		pic.Unmask(1)
	} else {
		early.Printf("ps2: keyboard self-test failed, input disabled\n")
	}

	time.Refresh()

	for _, dev := range pci.Enumerate() {
		early.Printf("pci: %2x:%2x.%1x vendor=%4x device=%4x class=%2x/%2x\n",
			dev.Device.Bus, dev.Device.Slot, dev.Device.Function,
			dev.VendorID, dev.DeviceID, dev.Class, dev.Subclass)
	}

	if rsdp, ok := multiboot.GetACPIRSDP(); ok {
		if !acpi.Init(rsdp) {
			early.Printf("acpi: initialization failed, poweroff unavailable\n")
		}
	} else {
		early.Printf("acpi: no RSDP tag, poweroff unavailable\n")
	}

	// C6: the fixed process table and its named queues.
	table := proc.NewTable(syscall.NumSyscalls)

	// C7: scheduler/dispatcher over that table.
	scheduler = sched.New(table)

	root, err := mountRamdisk()
	if err != nil {
		panic(err)
	}

	// C9: syscall layer, wired to the table/scheduler/filesystem/
	// framebuffer it dispatches against; installs the int 0x80 gate and the
	// ring-3 non-recoverable-fault kill path.
	syscalls = syscall.New(table, scheduler, root, multiboot.GetFramebufferInfo())
	syscalls.Init()

	// Every CPU exception the paging engine doesn't own gets the shared
	// diagnostic handler: dump state, kill the offending user process, panic
	// on a kernel-mode fault.
	for vec := irq.ExceptionNum(0); vec < irq.IRQBase; vec++ {
		switch vec {
		case irq.GPFException, irq.PageFaultException:
			// registered by vmm.Init
		case irq.DoubleFault, irq.InvalidTSS, irq.SegmentNotPresent, irq.StackSegmentFault, irq.AlignmentCheck:
			irq.HandleExceptionWithCode(vec, exceptionISRWithCode(vec))
		default:
			irq.HandleException(vec, exceptionISR(vec))
		}
	}

	// C10: load init (pid 1) from the mounted filesystem.
	if err = bootInit(table, scheduler, root); err != nil {
		panic(err)
	}

	// The first Dispatch installs init's context and irets into user mode
	// through the trap-return stub; interrupts switch on with it, since the
	// synthesized user frame carries RFlags.IF. Kmain itself only runs
	// again if nothing was runnable, in which case it becomes the idle
	// loop.
	scheduler.Dispatch()
	scheduler.Idle()
}

// timerISR is the vector-32 IRQ handler: it advances the tick counter and
// drives the scheduler's quantum/sleep-queue bookkeeping. The PIC is
// acknowledged up front because a tick that preempts irets straight into
// the next process without returning here; interrupts stay disabled for the
// rest of the handler either way. When the scheduler switches processes,
// the outgoing register bank was mirrored into the interrupted PCB first
// and the incoming one is written back through the stub's frame.
func timerISR(frame *irq.Frame, regs *irq.Regs) {
	pic.EOI(0)

	interrupted := scheduler.Table.Current()
	if interrupted != nil && frame.UserMode() {
		interrupted.Regs.Regs = *regs
		interrupted.Regs.Frame = *frame
	}

	now := time.Tick()
	scheduler.Tick(now)

	if next := scheduler.Table.Current(); next != nil && next != interrupted {
		*regs = next.Regs.Regs
		*frame = next.Regs.Frame
	}
}

// keyboardISR is the vector-33 IRQ handler: it forwards one scancode byte
// from the PS/2 controller into the input ring.
func keyboardISR(_ *irq.Frame, _ *irq.Regs) {
	input.Receive(ps2.ReadScancode())
	pic.EOI(1)
}

// exceptionISR builds the shared handler for a CPU exception vector no
// subsystem claims specifically.
func exceptionISR(vec irq.ExceptionNum) irq.ExceptionHandler {
	return func(frame *irq.Frame, regs *irq.Regs) {
		early.Printf("\nCPU exception %d\nRegisters:\n", uint64(vec))
		regs.Print()
		frame.Print()

		if frame.UserMode() {
			syscalls.KillCurrent(frame, regs)
			return
		}
		kernel.Panic(nil)
	}
}

// exceptionISRWithCode is exceptionISR for the vectors that push an error
// code onto the trap stack.
func exceptionISRWithCode(vec irq.ExceptionNum) irq.ExceptionHandlerWithCode {
	return func(code uint64, frame *irq.Frame, regs *irq.Regs) {
		early.Printf("\nCPU exception %d, error code %x\nRegisters:\n", uint64(vec), code)
		regs.Print()
		frame.Print()

		if frame.UserMode() {
			syscalls.KillCurrent(frame, regs)
			return
		}
		kernel.Panic(nil)
	}
}

// mountRamdisk maps the boot loader's first ramdisk module into the shared
// kernel half of the address space and wraps it in a tar-backed filesystem.
// The region is reserved at the top of the kernel address space rather than
// in the user range, so it never collides with the addresses user programs
// link at and is visible from every context without per-context mirroring.
// The mapping is permanent: the kernel keeps the ramdisk resident for the
// lifetime of the system rather than copying it into the heap.
func mountRamdisk() (fs.FileSystem, *kernel.Error) {
	mods := multiboot.GetModules()
	if len(mods) == 0 {
		return nil, errNoInitModule
	}

	mod := mods[0]
	length := mem.Size(mod.PhysEnd - mod.PhysStart)

	va, err := ctx.Kernel.PDT.MapAddr(uintptr(mod.PhysStart), 0, length, vmm.FlagNoExecute, vmm.EarlyReserveRegion)
	if err != nil {
		return nil, err
	}

	image := unsafeByteSlice(va, int(length))
	return fs.NewTarFS(image), nil
}

// unsafeByteSlice builds a []byte header over length bytes starting at the
// already-mapped kernel-virtual address va, the same reflect.SliceHeader
// construction the bitmap allocator uses to address its own bitmaps.
func unsafeByteSlice(va uintptr, length int) []byte {
	var b []byte
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&b))
	hdr.Data = va
	hdr.Len = length
	hdr.Cap = length
	return b
}

// bootInit allocates the init PCB, clones a fresh memory context for it,
// loads initPath from root, and schedules it as pid 1.
func bootInit(table *proc.Table, scheduler *sched.Scheduler, root fs.FileSystem) *kernel.Error {
	p, err := table.Alloc(0)
	if err != nil {
		return err
	}
	table.MarkInit(p)

	p.Ctx, err = ctx.CloneFromKernel()
	if err != nil {
		return err
	}

	f, err := root.Open(initPath, fs.FlagRead)
	if err != nil {
		return err
	}
	defer f.Close()

	st := f.Stat()
	image := make([]byte, st.Length)
	if _, err := f.Read(image); err != nil {
		return err
	}

	if err := loader.Load(p.Ctx, p, image, []string{"init"}); err != nil {
		return err
	}

	scheduler.Schedule(p)
	return nil
}
