// Package status maps the raw signed status codes reported by a storage
// engine onto Go errors.
//
// The engine completion contract is strict: a status of zero means success,
// a negative status carries a negated errno, and a positive status is never
// produced by a well-behaved engine. That last case is treated as a
// programming error (panic), not a runtime failure, so that a misbehaving
// engine integration is caught immediately instead of being silently
// propagated as an ordinary error.
package status

import "fmt"

// Errno is an error code from the shared engine error-code space, stored as
// its positive magnitude.
//
// Errno implements the error interface so engine failures can flow through
// ordinary Go error returns.
type Errno int32

// Error codes used across the control plane. Values follow the conventional
// POSIX numbering the engine reports.
const (
	EPERM       Errno = 1   // operation not permitted
	ENOENT      Errno = 2   // no such resource
	EIO         Errno = 5   // I/O error
	EAGAIN      Errno = 11  // resource temporarily unavailable
	ENOMEM      Errno = 12  // allocation failed
	EBUSY       Errno = 16  // resource busy
	EEXIST      Errno = 17  // resource already exists
	ENODEV      Errno = 19  // no such device
	EINVAL      Errno = 22  // invalid argument
	EINPROGRESS Errno = 115 // operation accepted, completes asynchronously
)

// Error implements the error interface.
func (e Errno) Error() string {
	switch e {
	case EPERM:
		return "operation not permitted"
	case ENOENT:
		return "no such resource"
	case EIO:
		return "input/output error"
	case EAGAIN:
		return "resource temporarily unavailable"
	case ENOMEM:
		return "cannot allocate memory"
	case EBUSY:
		return "resource busy"
	case EEXIST:
		return "resource already exists"
	case ENODEV:
		return "no such device"
	case EINVAL:
		return "invalid argument"
	case EINPROGRESS:
		return "operation in progress"
	default:
		return fmt.Sprintf("errno %d", int32(e))
	}
}

// FromRaw converts a raw engine status return into an error.
//
// A zero status is success and returns nil. A negative status returns the
// corresponding Errno with the sign removed. A positive status violates the
// engine contract and panics.
func FromRaw(code int32) error {
	switch {
	case code == 0:
		return nil
	case code < 0:
		return Errno(-code)
	default:
		panic(fmt.Sprintf("status: positive engine status %d violates completion contract", code))
	}
}

// FromSize converts a raw engine size return into a count.
//
// Some engine primitives report a quantity on success instead of a bare
// status: any non-negative return is the quantity, any negative return is a
// negated errno.
func FromSize(code int64) (int, error) {
	if code < 0 {
		return 0, Errno(-code)
	}
	return int(code), nil
}
