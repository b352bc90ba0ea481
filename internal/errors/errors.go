// Package errors defines the typed errors shared by the mDNS internals.
//
// Callers match kinds with the standard library:
//
//	var netErr *errors.NetworkError
//	if goerrors.As(err, &netErr) { ... }
//	if goerrors.Is(err, errors.ErrBadPointer) { ... }
package errors

import (
	goerrors "errors"
	"fmt"
)

// Wire-format failures (RFC 1035 §4.1).
var (
	// ErrTruncatedMessage reports a message that ends before a field it declares.
	ErrTruncatedMessage = goerrors.New("truncated message")

	// ErrBadPointer reports a compression pointer that loops, points forward or out of range.
	ErrBadPointer = goerrors.New("invalid compression pointer")

	// ErrNameTooLong reports a name over 255 bytes or a label over 63 bytes.
	ErrNameTooLong = goerrors.New("name too long")

	// ErrUnknownType marks rdata of a type the codec does not model; the raw bytes are kept.
	ErrUnknownType = goerrors.New("unknown record type")

	// ErrMessageTooLarge reports that a record did not fit in the size limit of a message.
	ErrMessageTooLarge = goerrors.New("message exceeds size limit")
)

// Transport failures.
var (
	// ErrInterfaceNotFound reports an interface index or name unknown to the OS.
	ErrInterfaceNotFound = goerrors.New("interface not found")

	// ErrBindFailed reports that no mDNS socket could be bound.
	ErrBindFailed = goerrors.New("bind failed")

	// ErrNoMulticastSupport reports that no selected interface can carry multicast.
	ErrNoMulticastSupport = goerrors.New("no multicast support")

	// ErrClosed reports use of a closed transport or engine.
	ErrClosed = goerrors.New("closed")
)

// Operation outcomes reported to listeners.
var (
	// ErrNameConflict reports that another host owns a name we tried to claim (RFC 6762 §9).
	ErrNameConflict = goerrors.New("name conflict")

	// ErrTimeout reports that an operation saw no answer before its deadline.
	ErrTimeout = goerrors.New("timed out")
)

// NetworkError describes a socket-level failure.
type NetworkError struct {
	Operation string // what was attempted, e.g. "send query"
	Err       error  // underlying error
	Details   string // human-readable context
}

func (e *NetworkError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("network error during %s: %v (%s)", e.Operation, e.Err, e.Details)
	}
	return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError describes rejected caller input.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s %q: %s", e.Field, fmt.Sprint(e.Value), e.Message)
}

// WireFormatError describes a malformed DNS message.
type WireFormatError struct {
	Operation string // e.g. "parse name"
	Offset    int    // byte offset where the problem was detected
	Message   string
	Err       error // one of the wire-format sentinels
}

func (e *WireFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire format error during %s at offset %d: %s: %v", e.Operation, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("wire format error during %s at offset %d: %s", e.Operation, e.Offset, e.Message)
}

func (e *WireFormatError) Unwrap() error {
	return e.Err
}
