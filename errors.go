package hellofs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// Common errors returned by the transport.
var (
	// ErrNotMounted is returned when the kernel side of the session is gone.
	ErrNotMounted = errors.New("filesystem not mounted")

	// ErrServerClosed is returned by Serve after Unmount.
	ErrServerClosed = errors.New("server closed")
)

// Error is the closed set of filesystem conditions an operation can
// report to its caller. They are reply payloads, not faults.
type Error uint8

const (
	// ErrNotFound reports an unknown inode or path component.
	ErrNotFound Error = iota + 1

	// ErrAccessDenied reports an open that asked for more than read access.
	ErrAccessDenied

	// ErrIsADirectory reports an open of the directory inode.
	ErrIsADirectory
)

func (e Error) Error() string {
	switch e {
	case ErrNotFound:
		return "not found"
	case ErrAccessDenied:
		return "access denied"
	case ErrIsADirectory:
		return "is a directory"
	}
	return fmt.Sprintf("hellofs error %d", uint8(e))
}

// Errno returns the errno the kernel receives for e.
func (e Error) Errno() syscall.Errno {
	switch e {
	case ErrNotFound:
		return syscall.ENOENT
	case ErrAccessDenied:
		return syscall.EACCES
	case ErrIsADirectory:
		return syscall.EISDIR
	}
	return syscall.EIO
}

// PreconditionError reports a request that violates a contract the
// caller-adaptation layer is responsible for, such as a negative read
// offset. It indicates a bug, not a filesystem condition.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition violated: %s", e.Op, e.Reason)
}

// precondition aborts the current operation. The transport recovers the
// panic, logs it and completes the request with EIO.
func precondition(op, format string, args ...any) {
	panic(&PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...)})
}

// ErrnoOf returns the errno a transport reports for err, or 0 for nil
// and for errors that mean success.
func ErrnoOf(err error) syscall.Errno {
	return syscall.Errno(-toErrno(err))
}

// toErrno converts a Go error to a FUSE errno value.
// Returns 0 for nil errors and negative errno for errors.
func toErrno(err error) int32 {
	if err == nil {
		return 0
	}

	var fsErr Error
	if errors.As(err, &fsErr) {
		return -int32(fsErr.Errno())
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}

	var pre *PreconditionError
	if errors.As(err, &pre) {
		return -int32(syscall.EIO)
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return -int32(syscall.ENOENT)
	case errors.Is(err, os.ErrPermission):
		return -int32(syscall.EACCES)
	case errors.Is(err, os.ErrInvalid):
		return -int32(syscall.EINVAL)
	case errors.Is(err, io.EOF):
		return 0
	case errors.Is(err, context.Canceled):
		return -int32(syscall.EINTR)
	case errors.Is(err, context.DeadlineExceeded):
		return -int32(syscall.ETIMEDOUT)
	default:
		return -int32(syscall.EIO)
	}
}
