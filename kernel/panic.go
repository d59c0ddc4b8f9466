package kernel

import (
	"comus/kernel/cpu"
	"comus/kernel/driver/uart"
	"comus/kernel/kfmt/early"
)

var (
	// cpuHaltFn and serialByteFn are mocked by tests and are automatically
	// inlined by the compiler.
	cpuHaltFn    = cpu.Halt
	serialByteFn = uart.Default.WriteByte

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// serialString mirrors s to the UART sink, so the panic banner survives even
// when the video console is unusable or invisible.
func serialString(s string) {
	for i := 0; i < len(s); i++ {
		serialByteFn(s[i])
	}
}

// Panic outputs the supplied error (if not nil) to the console and the
// serial sink, then halts the CPU. Calls to Panic never return. Panic also
// works as a redirection target for calls to panic() (resolved via
// runtime.gopanic)
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	early.Printf("\n-----------------------------------\n")
	serialString("\n-----------------------------------\n")
	if err != nil {
		early.Printf("unrecoverable error: %e\n", err)
		serialString("unrecoverable error: [")
		serialString(err.Module)
		serialString("] ")
		serialString(err.Message)
		serialString("\n")
	}
	early.Printf("*** kernel panic: system halted ***")
	serialString("*** kernel panic: system halted ***")
	early.Printf("\n-----------------------------------\n")
	serialString("\n-----------------------------------\n")

	cpuHaltFn()
}
