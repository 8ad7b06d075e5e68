package canbus

import "fmt"

// Kind discriminates the category of an Error, so callers can branch on
// failure mode without string matching.
type Kind int

const (
	// KindOther is any failure that doesn't fit a more specific kind.
	KindOther Kind = iota
	// KindTimeout is returned when a blocking receive exceeds its deadline.
	KindTimeout
	// KindNotFound is returned when the kernel rejects an operation on a
	// frame ID it has no registration for (EINVAL from the BCM socket).
	KindNotFound
	// KindClosed is returned when an operation is attempted on a bus or
	// interface that has already been closed.
	KindClosed
	// KindInvalid is returned for malformed configuration, out-of-range
	// values, or malformed wire data.
	KindInvalid
	// KindInterfaceDown is returned when the kernel reports the underlying
	// network interface is down (ENETDOWN).
	KindInterfaceDown
	// KindPayloadLengthMismatch is returned when a received frame's data
	// length doesn't match the DLC its frame definition declares.
	KindPayloadLengthMismatch
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindClosed:
		return "closed"
	case KindInvalid:
		return "invalid"
	case KindInterfaceDown:
		return "interface_down"
	case KindPayloadLengthMismatch:
		return "payload_length_mismatch"
	default:
		return "other"
	}
}

// Error is the error type returned throughout this module. Its Kind lets
// callers distinguish, for example, a receive timeout from a malformed
// configuration without parsing message text.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("canbus: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("canbus: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, &canbus.Error{Kind: canbus.KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsTimeout reports whether err is (or wraps) a timeout Error.
func IsTimeout(err error) bool { return isKind(err, KindTimeout) }

// IsNotFound reports whether err is (or wraps) a not-found Error.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsClosed reports whether err is (or wraps) a closed Error.
func IsClosed(err error) bool { return isKind(err, KindClosed) }

// IsInterfaceDown reports whether err is (or wraps) an interface-down Error.
func IsInterfaceDown(err error) bool { return isKind(err, KindInterfaceDown) }

// IsPayloadLengthMismatch reports whether err is (or wraps) a
// payload-length-mismatch Error.
func IsPayloadLengthMismatch(err error) bool { return isKind(err, KindPayloadLengthMismatch) }

func isKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
