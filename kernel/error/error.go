// Package error defines the kernel-wide error type and the mapping from
// internal error kinds to the userspace error codes returned across the
// syscall boundary.
package error

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the distinct classes of failure the kernel core can
// produce. Kinds are coarse on purpose: callers branch on Kind, humans read
// Message.
type Kind int

// The kinds below mirror original_source/kernel/src/error.rs's KernelError
// variants.
const (
	// NotImplemented marks a code path that is recognized but deliberately
	// unimplemented (e.g. inlined C descriptors).
	NotImplemented Kind = iota
	PhysicalMemoryExhaustion
	VirtualMemoryExhaustion
	InvalidAddress
	InvalidSize
	ProcessKilled
	InvalidState
	InvalidCombination
	ExceedingMaximum
	InvalidKernelCaps
	IPCError
	WrongMappingFramesForType
	InvalidMemState
	ReservedValue
	// InvalidHandle marks a handle-table miss: the id doesn't resolve to
	// any live object.
	InvalidHandle
)

func (k Kind) String() string {
	switch k {
	case NotImplemented:
		return "not implemented"
	case PhysicalMemoryExhaustion:
		return "physical memory exhaustion"
	case VirtualMemoryExhaustion:
		return "virtual memory exhaustion"
	case InvalidAddress:
		return "invalid address"
	case InvalidSize:
		return "invalid size"
	case ProcessKilled:
		return "process killed"
	case InvalidState:
		return "invalid state"
	case InvalidCombination:
		return "invalid combination"
	case ExceedingMaximum:
		return "exceeding maximum"
	case InvalidKernelCaps:
		return "invalid kernel capabilities"
	case IPCError:
		return "ipc error"
	case WrongMappingFramesForType:
		return "wrong mapping frames for type"
	case InvalidMemState:
		return "invalid memory state"
	case ReservedValue:
		return "reserved value used"
	case InvalidHandle:
		return "invalid handle"
	default:
		return "unknown error"
	}
}

// Error is the kernel-internal error type. It always carries a stack trace
// captured at the point of creation, the way original_source's KernelError
// carries a Backtrace on every variant.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New creates an Error of the given Kind, capturing a stack trace.
func New(kind Kind, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind:    kind,
		Message: msg,
		cause:   errors.New(msg),
	}
}

// Wrap creates an Error of the given Kind around an existing error,
// preserving its stack/cause chain.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind:    kind,
		Message: msg,
		cause:   errors.Wrap(err, msg),
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying pkg/errors-wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// StackTrace exposes the captured stack, following the pkg/errors
// convention of a stackTracer interface.
func (e *Error) StackTrace() errors.StackTrace {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	if st, ok := e.cause.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

// UserspaceCode is the numeric error code handed back across the syscall
// boundary.
type UserspaceCode int

// Userspace error codes, mirroring original_source's UserspaceError enum.
const (
	Success UserspaceCode = iota
	UInvalidHandle
	UMemoryFull
	UInvalidAddress
	UInvalidSize
	UPortRemoteDead
	UInvalidState
	UInvalidCombination
	UExceedingMaximum
	UInvalidKernelCaps
	UInvalidMemState
	UReservedValue
	UNotImplemented
)

// ToUserspace maps a kernel Error to the UserspaceCode that crosses the
// syscall ABI, per the table in original_source/kernel/src/error.rs's
// `impl From<KernelError> for UserspaceError`.
func (e *Error) ToUserspace() UserspaceCode {
	switch e.Kind {
	case PhysicalMemoryExhaustion, VirtualMemoryExhaustion:
		return UMemoryFull
	case InvalidAddress:
		return UInvalidAddress
	case InvalidSize:
		return UInvalidSize
	case ProcessKilled:
		// Deliberate: a killed process's handles resolve to InvalidHandle,
		// not InvalidState, matching the original mapping exactly.
		return UInvalidHandle
	case InvalidHandle:
		return UInvalidHandle
	case InvalidState:
		return UInvalidState
	case InvalidCombination:
		return UInvalidCombination
	case ExceedingMaximum:
		return UExceedingMaximum
	case InvalidKernelCaps:
		return UInvalidKernelCaps
	case IPCError:
		return UPortRemoteDead
	case WrongMappingFramesForType:
		return UInvalidCombination
	case InvalidMemState:
		return UInvalidMemState
	case ReservedValue:
		return UReservedValue
	case NotImplemented:
		return UNotImplemented
	default:
		return UInvalidCombination
	}
}
