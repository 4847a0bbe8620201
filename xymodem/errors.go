package xymodem

import (
	"errors"
	"fmt"
)

// Error represents an XMODEM/YMODEM protocol error
type Error struct {
	// Type is the error type
	Type ErrorType

	// Message is a human-readable error message
	Message string

	// Block is the sequence number involved, or -1
	Block int

	// Err is the underlying cause for transport and file errors
	Err error
}

// ErrorType categorizes protocol errors
type ErrorType int

const (
	// ErrStructural indicates a malformed frame (header, length, complement)
	ErrStructural ErrorType = iota

	// ErrIntegrity indicates a checksum or CRC mismatch
	ErrIntegrity

	// ErrSequence indicates an out-of-order block
	ErrSequence

	// ErrTimeout indicates the retry budget was exhausted
	ErrTimeout

	// ErrAborted indicates a local abort request or a peer cancel
	ErrAborted

	// ErrTransport indicates the link itself failed
	ErrTransport

	// ErrIO indicates the file source or sink failed
	ErrIO

	// ErrProtocol indicates a protocol violation by the caller or the peer
	ErrProtocol
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("xymodem %s: %s", e.Type, e.Message)
	if e.Block >= 0 {
		msg += fmt.Sprintf(" (block %d)", e.Block)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same Type, so errors.Is(err, ErrAbortRequested)
// style checks work against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

func (t ErrorType) String() string {
	switch t {
	case ErrStructural:
		return "structural error"
	case ErrIntegrity:
		return "integrity error"
	case ErrSequence:
		return "sequence error"
	case ErrTimeout:
		return "timeout"
	case ErrAborted:
		return "aborted"
	case ErrTransport:
		return "transport error"
	case ErrIO:
		return "I/O error"
	case ErrProtocol:
		return "protocol error"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is. They carry no message and match any Error of the same type.
var (
	ErrTimeoutExceeded = &Error{Type: ErrTimeout, Block: -1}
	ErrAbortRequested  = &Error{Type: ErrAborted, Block: -1}
	ErrLinkFailed      = &Error{Type: ErrTransport, Block: -1}
)

// NewError creates a new protocol error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Block:   -1,
	}
}

// NewBlockError creates a new protocol error tied to a block sequence number
func NewBlockError(errType ErrorType, message string, seq byte) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Block:   int(seq),
	}
}

// wrapError attaches an underlying cause.
func wrapError(errType ErrorType, message string, err error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Block:   -1,
		Err:     err,
	}
}

func errorType(err error) (ErrorType, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Type, true
	}
	return 0, false
}

// IsTimeout checks if an error is a retry exhaustion
func IsTimeout(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTimeout
}

// IsAborted checks if an error is an abort (local request or peer cancel)
func IsAborted(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrAborted
}

// IsTransport checks if an error came from the link
func IsTransport(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTransport
}

// IsRecoverable reports whether the state machine handles the error by NAK and retry.
func IsRecoverable(err error) bool {
	t, ok := errorType(err)
	if !ok {
		return false
	}
	switch t {
	case ErrStructural, ErrIntegrity, ErrSequence:
		return true
	}
	return false
}
