package hellofs

import (
	"context"
)

// Caller identifies the process that issued a request.
type Caller struct {
	Uid uint32
	Gid uint32
	Pid uint32
}

// Context is the per-request context handed to Filesystem methods. It
// is cancelled when the kernel interrupts the request.
type Context interface {
	context.Context

	// Caller returns the credentials of the calling process.
	Caller() Caller

	// Unique returns the kernel's request ID.
	Unique() uint64
}

type requestContext struct {
	context.Context
	caller Caller
	unique uint64
}

func (c *requestContext) Caller() Caller { return c.caller }
func (c *requestContext) Unique() uint64 { return c.unique }

// NewContext wraps parent with request identity. Transports other than
// the built-in one use it to call a Filesystem.
func NewContext(parent context.Context, caller Caller, unique uint64) Context {
	return &requestContext{
		Context: parent,
		caller:  caller,
		unique:  unique,
	}
}
