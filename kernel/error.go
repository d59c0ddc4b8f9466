package kernel

// Error describes a kernel kerror. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available to us so we cannot use
// errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// Code optionally carries the failure-kind code the syscall layer
	// reports to userspace (see kernel/errors). Zero means the error has no
	// user-visible code of its own.
	Code int8
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Tag returns the module the error originated in. It lets callers that only
// hold a bare `error` (such as the early, pre-runtime formatter, which
// cannot import this package without creating an import cycle through
// Panic) recover the module tag via a structural interface instead.
func (e *Error) Tag() string {
	return e.Module
}

// Errno returns the negative integer a syscall handler writes into the
// caller's return-value register to report this error.
func (e *Error) Errno() int64 {
	return -int64(e.Code)
}
