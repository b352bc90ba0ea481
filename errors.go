package dnssd

import (
	goerrors "errors"
	"fmt"

	"github.com/joshuafuller/dnssd/internal/errors"
)

// ErrorCode is the stable numeric result reported when an operation fails.
// The values are shared with other DNS-SD implementations and never change.
//
// ErrorCode implements error, so a code can be compared with errors.Is:
//
//	if errors.Is(err, dnssd.ErrNameConflict) {
//	    // pick another name
//	}
type ErrorCode int32

const (
	// ErrUnknown covers transport failures and anything not listed below.
	ErrUnknown ErrorCode = -1

	// NoError is reported by CodeOf for a nil error.
	NoError ErrorCode = -65537

	// ErrNameConflict means another host owns the name (RFC 6762 §9).
	ErrNameConflict ErrorCode = -65538

	// ErrInvalid reports an operation used in a state that does not allow it.
	ErrInvalid ErrorCode = -65539

	// ErrTimeout reports an auto-stop query that saw no answer in time.
	ErrTimeout ErrorCode = -65541

	// ErrBadParam reports a malformed argument: a bad service type, an empty
	// name or undecodable record data.
	ErrBadParam ErrorCode = -65543
)

func (c ErrorCode) String() string {
	switch c {
	case ErrUnknown:
		return "unknown error"
	case NoError:
		return "no error"
	case ErrNameConflict:
		return "name conflict"
	case ErrInvalid:
		return "invalid"
	case ErrTimeout:
		return "timeout"
	case ErrBadParam:
		return "bad parameter"
	default:
		return fmt.Sprintf("error %d", int32(c))
	}
}

func (c ErrorCode) Error() string {
	return fmt.Sprintf("dnssd: %s (%d)", c.String(), int32(c))
}

// Error is returned by the API and passed to OperationFailed. It carries the
// operation name, the stable code and the underlying cause.
type Error struct {
	Op   string
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dnssd: %s: %s", e.Op, e.Code.String())
	}
	return fmt.Sprintf("dnssd: %s: %s: %v", e.Op, e.Code.String(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches an ErrorCode target against the code.
func (e *Error) Is(target error) bool {
	c, ok := target.(ErrorCode)
	return ok && c == e.Code
}

// CodeOf returns the code carried by err: NoError for nil, ErrUnknown when
// err carries none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var de *Error
	if goerrors.As(err, &de) {
		return de.Code
	}
	var c ErrorCode
	if goerrors.As(err, &c) {
		return c
	}
	return ErrUnknown
}

// wrap attaches the operation name and code to an engine error.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if goerrors.As(err, &de) {
		return err
	}
	return &Error{Op: op, Code: classify(err), Err: err}
}

func classify(err error) ErrorCode {
	var (
		verr *errors.ValidationError
		werr *errors.WireFormatError
	)
	switch {
	case goerrors.As(err, &verr), goerrors.As(err, &werr):
		return ErrBadParam
	case goerrors.Is(err, errors.ErrNameConflict):
		return ErrNameConflict
	case goerrors.Is(err, errors.ErrTimeout):
		return ErrTimeout
	case goerrors.Is(err, errors.ErrClosed):
		return ErrInvalid
	default:
		return ErrUnknown
	}
}

func badParam(op, field, msg string) error {
	return &Error{Op: op, Code: ErrBadParam, Err: &errors.ValidationError{Field: field, Message: msg}}
}
