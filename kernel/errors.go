package kernel

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind enumerates the distinct kernel error kinds from the
// supervisor-call contract. Values match the negative integer codes a
// bare-metal build exposes to user code, so host tooling can still
// distinguish kinds numerically after they cross the Dispatch boundary.
type ErrorKind int

const (
	// KindSuccess is never returned as an error; it is the zero value
	// of a syscall's error return when nothing went wrong.
	KindSuccess ErrorKind = 0

	KindMultitaskRequestInvalidParams ErrorKind = -9
	KindMultitaskRequestRepeated      ErrorKind = -10
	KindThreadDefineNoTCB             ErrorKind = -11
	KindThreadDefineDuplicate         ErrorKind = -12
	KindThreadDefineInvalidArgs       ErrorKind = -13
	KindThreadDefineUnsafeAdmission   ErrorKind = -14
	KindThreadMemoryOutOfBounds       ErrorKind = -15
	KindMainMemoryOutOfBounds         ErrorKind = -16
	KindLockNonexistentHighestLocker  ErrorKind = -17
	KindMultitaskStartInvalidFreq     ErrorKind = -7
	KindMultitaskStartWithoutThread   ErrorKind = -8
	KindSbrkExhausted                ErrorKind = -1

	// KindLockBelowCeiling and KindLockSelfRelock have no equivalent in
	// the original numbered contract (error.h stops at -18, reserved for
	// the stepper driver): the reference kernel simply ends the
	// offending task without handing back a code for these two misuses.
	// Assigned well clear of that range so a numeric comparison against
	// the documented codes can never collide with one.
	KindLockBelowCeiling ErrorKind = -100
	KindLockSelfRelock   ErrorKind = -101
)

func (k ErrorKind) String() string {
	switch k {
	case KindMultitaskRequestInvalidParams:
		return "multitask_request: invalid params"
	case KindMultitaskRequestRepeated:
		return "multitask_request: repeated"
	case KindThreadDefineNoTCB:
		return "thread_define: no tcb available"
	case KindThreadDefineDuplicate:
		return "thread_define: duplicate id"
	case KindThreadDefineInvalidArgs:
		return "thread_define: invalid args"
	case KindThreadDefineUnsafeAdmission:
		return "thread_define: unsafe admission"
	case KindThreadMemoryOutOfBounds:
		return "thread: memory out of bounds access"
	case KindMainMemoryOutOfBounds:
		return "main: memory out of bounds access"
	case KindLockNonexistentHighestLocker:
		return "lock_init: nonexistent highest locker"
	case KindMultitaskStartInvalidFreq:
		return "multitask_start: invalid frequency"
	case KindMultitaskStartWithoutThread:
		return "multitask_start: without thread"
	case KindSbrkExhausted:
		return "sbrk: exhausted"
	case KindLockBelowCeiling:
		return "lock: task priority below mutex ceiling"
	case KindLockSelfRelock:
		return "lock: task already holds this mutex"
	default:
		return fmt.Sprintf("kernel error kind %d", int(k))
	}
}

// KernelError is the concrete error type every kernel-level failure in
// spec.md section 7 is reported as. Code mirrors the ErrorKind's
// underlying negative integer so it survives a round trip through a
// numeric SVC return register.
type KernelError struct {
	Kind ErrorKind
	msg  string
}

func (e *KernelError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return e.Kind.String()
}

// Code returns the contractual negative integer code for this error.
func (e *KernelError) Code() int32 { return int32(e.Kind) }

func newKernelError(kind ErrorKind) error {
	return &KernelError{Kind: kind}
}

// wrapf attaches additional context to a kernel error kind, the same way
// the teacher's serialize.go attaches context to a plain errors.New.
func wrapf(kind ErrorKind, format string, args ...interface{}) error {
	return errors.Wrap(&KernelError{Kind: kind}, fmt.Sprintf(format, args...))
}

// KindOf unwraps err (which may be wrapped by pkg/errors) to the
// originating ErrorKind, or KindSuccess if err is nil or not a
// KernelError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindSuccess
	}
	var ke *KernelError
	for {
		if x, ok := err.(*KernelError); ok {
			ke = x
			break
		}
		cause := errors.Unwrap(err)
		if cause == nil {
			break
		}
		err = cause
	}
	if ke == nil {
		return KindSuccess
	}
	return ke.Kind
}
