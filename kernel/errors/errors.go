// Package errors defines the kernel's error taxonomy: the kinds of
// recoverable failure a syscall or kernel-internal operation can report, as
// distinct from the unrecoverable kernel.Panic path.
package errors

import "comus/kernel"

var (
	ErrInvalidParamValue = KernelError("invalid parameter value")
)

// KernelError is a trivial implementation of a kernel error message that doens't
// require a memory allocation. It is used as an alternative to errors.New.
type KernelError string

// Error implements the error interface.
func (err KernelError) Error() string {
	return string(err)
}

// Kind identifies the category of a recoverable kernel failure. Syscall
// handlers translate a Kind into the negative return value written to the
// caller's rax-equivalent register.
type Kind int8

// The recoverable failure kinds named in the specification's error taxonomy.
const (
	Success          Kind = iota
	GenericFailure        // unspecified failure
	BadParameter          // a syscall argument failed validation
	BadChannel            // an fd/channel number does not name a valid resource
	NoChildren            // waitpid found no matching child
	OutOfMemory           // frame, heap, or virtual-range allocation failed
	NotFound              // a named resource (file, path) does not exist
	OutOfProcesses        // the process table has no free PCB slots
	EmptyQueue            // a queue operation expected at least one entry
	NoPageTableEntry      // get_pte found no mapping for the address
	LoadLimit             // the program loader exceeded its segment/stack limits
)

// names holds the human-readable label for each Kind, in declaration order.
var names = [...]string{
	Success:          "success",
	GenericFailure:   "generic failure",
	BadParameter:     "bad parameter",
	BadChannel:       "bad channel",
	NoChildren:       "no children",
	OutOfMemory:      "out of memory",
	NotFound:         "not found",
	OutOfProcesses:   "out of processes",
	EmptyQueue:       "empty queue",
	NoPageTableEntry: "no page table entry",
	LoadLimit:        "load limit",
}

// String returns the human-readable label for k.
func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(names) {
		return "unknown error kind"
	}
	return names[k]
}

// Errno returns the negative integer a syscall handler writes into the
// caller's return-value register to report this Kind. Success always maps
// to zero; every other Kind maps to a distinct negative value so callers can
// distinguish failure kinds by sign and magnitude.
func (k Kind) Errno() int64 {
	return -int64(k)
}

// perKindError pairs each Kind with a *kernel.Error so kernel-internal code
// can hand around a single allocation-free value per kind, in the same style
// as kernel.Error's own package-level error variables.
var perKindError = [...]*kernel.Error{
	Success:          {Module: "errors", Message: "success", Code: int8(Success)},
	GenericFailure:   {Module: "errors", Message: "generic failure", Code: int8(GenericFailure)},
	BadParameter:     {Module: "errors", Message: "bad parameter", Code: int8(BadParameter)},
	BadChannel:       {Module: "errors", Message: "bad channel", Code: int8(BadChannel)},
	NoChildren:       {Module: "errors", Message: "no children", Code: int8(NoChildren)},
	OutOfMemory:      {Module: "errors", Message: "out of memory", Code: int8(OutOfMemory)},
	NotFound:         {Module: "errors", Message: "not found", Code: int8(NotFound)},
	OutOfProcesses:   {Module: "errors", Message: "out of processes", Code: int8(OutOfProcesses)},
	EmptyQueue:       {Module: "errors", Message: "empty queue", Code: int8(EmptyQueue)},
	NoPageTableEntry: {Module: "errors", Message: "no page table entry", Code: int8(NoPageTableEntry)},
	LoadLimit:        {Module: "errors", Message: "load limit", Code: int8(LoadLimit)},
}

// New returns the shared *kernel.Error value for the given Kind.
func New(kind Kind) *kernel.Error {
	return perKindError[kind]
}

// Is reports whether err is the shared *kernel.Error value for kind.
func Is(err *kernel.Error, kind Kind) bool {
	return err == perKindError[kind]
}
