// Package wireerr bridges Go errors and the negative-errno codes carried in
// the wire protocol's header Error field.
package wireerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code turns a syscall.Errno into the signed wire code (-errno).
func Code(errno syscall.Errno) int16 {
	return -int16(errno)
}

var (
	EInval    = Code(syscall.EINVAL)
	ENoEnt    = Code(syscall.ENOENT)
	EExist    = Code(syscall.EEXIST)
	ENotDir   = Code(syscall.ENOTDIR)
	ECanceled = Code(syscall.ECANCELED)
	EBadMsg   = Code(syscall.EBADMSG)
	EMsgSize  = Code(syscall.EMSGSIZE)
	ENoSys    = Code(syscall.ENOSYS)
	EIO       = Code(syscall.EIO)
)

// Error wraps a negative wire error code as a Go error, so registry/dataplane
// code can use ordinary error returns and still recover the exact wire code
// at the transport boundary.
type Error struct {
	code int16
}

// New wraps a wire error code.
func New(code int16) error {
	if code == 0 {
		return nil
	}
	return &Error{code: code}
}

func (e *Error) Error() string {
	return fmt.Sprintf("fcopy: errno %d", e.code)
}

// CodeOf extracts the wire error code carried by err, translating plain
// syscall errors (from open/pwrite/ftruncate, say) along the way. A nil err
// yields 0; any other error not recognised as an *Error or syscall.Errno
// yields EIO.
func CodeOf(err error) int16 {
	if err == nil {
		return 0
	}
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr.code
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return Code(errno)
	}
	return EIO
}
