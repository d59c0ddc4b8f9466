package main

import "comus/kernel/kmain"

// multibootInfoPtr is populated by the rt0 assembly trampoline before main
// is called; it is referenced here (rather than passed as a literal) so the
// compiler cannot inline this call away and drop kmain.Kmain from the final
// object file.
var multibootInfoPtr, kernelStartAddr, kernelEndAddr uintptr

// main is the only Go symbol visible to the rt0 initialization code. It is a
// trampoline: rt0 sets up the GDT and a minimal g0 stack, then jumps here,
// and main immediately hands off to the real kernel entrypoint.
//
// main is not expected to return. If it does, rt0 halts the CPU.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStartAddr, kernelEndAddr)
}
