package hellofs

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/KarpelesLab/hellofs/proto"
)

// replyWriter delivers one encoded reply to the kernel.
type replyWriter interface {
	writeResponse(data []byte) error
}

// connection manages one /dev/fuse descriptor. A session has one
// connection per descriptor; replies go back on the descriptor the
// request arrived on.
type connection struct {
	mu      sync.Mutex
	idle    *sync.Cond // signalled when the last read returns
	fd      int
	reading int
	closed  bool

	// Serialized writes
	writeMu sync.Mutex
}

// newConnection wraps a /dev/fuse descriptor.
func newConnection(fd int) *connection {
	c := &connection{fd: fd}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// beginRead registers a reader and returns the descriptor it may use
// until endRead. The descriptor is not closed while a read is running.
func (c *connection) beginRead() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1, false
	}
	c.reading++
	return c.fd, true
}

func (c *connection) endRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading--
	if c.reading == 0 {
		c.idle.Broadcast()
	}
}

// descriptor returns the descriptor, or -1 once closed.
func (c *connection) descriptor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd
}

// readRequest reads the next request from the kernel.
func (c *connection) readRequest(pool *bufferPool) (*request, error) {
	fd, ok := c.beginRead()
	if !ok {
		return nil, ErrServerClosed
	}
	buf := pool.get()

	n, err := unix.Read(fd, *buf)
	c.endRead()
	if err != nil {
		pool.put(buf)
		if err == unix.ENODEV {
			return nil, ErrNotMounted
		}
		return nil, err
	}

	req, err := parseRequest((*buf)[:n], c)
	if err != nil {
		pool.put(buf)
		return nil, err
	}
	req.release = func() { pool.put(buf) }
	return req, nil
}

// writeResponse writes a reply to the kernel.
func (c *connection) writeResponse(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.fd < 0 {
		return ErrServerClosed
	}
	_, err := unix.Write(c.fd, data)
	if err == unix.ENODEV {
		return ErrNotMounted
	}
	return err
}

// close stops new reads, waits for running ones to return and closes
// the descriptor. A read only returns once the kernel answers it, so
// close blocks until the session has ended.
func (c *connection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for c.reading > 0 {
		c.idle.Wait()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.fd >= 0 {
		err := unix.Close(c.fd)
		c.fd = -1
		return err
	}
	return nil
}

// request is one kernel request from the moment it is read until it
// is completed. See reply.go for the completion rules.
type request struct {
	header proto.InHeader
	data   []byte // Full request including header
	out    replyWriter

	// release returns data to its pool; nil for requests built in memory.
	release func()

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Uint32
	abandoned atomic.Bool
}

// parseRequest decodes the header of a raw request.
func parseRequest(data []byte, out replyWriter) (*request, error) {
	req := &request{out: out}
	if err := req.header.Decode(data); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if int(req.header.Len) < proto.InHeaderSize || int(req.header.Len) > len(data) {
		return nil, io.ErrUnexpectedEOF
	}
	req.data = data[:req.header.Len]
	return req, nil
}

// body returns the request body (data after the header).
func (r *request) body() []byte {
	return r.data[proto.InHeaderSize:]
}

// filename extracts a NUL-terminated name from the request body.
func (r *request) filename() string {
	body := r.body()
	if i := bytes.IndexByte(body, 0); i >= 0 {
		return string(body[:i])
	}
	return string(body)
}

// caller returns the credentials carried in the header.
func (r *request) caller() Caller {
	return Caller{Uid: r.header.Uid, Gid: r.header.Gid, Pid: r.header.Pid}
}

// done releases the request's buffer and context.
func (r *request) done() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.release != nil {
		r.release()
		r.release = nil
	}
	r.data = nil
}

// encodeReply builds a complete reply message.
func encodeReply(unique uint64, errno int32, payload []byte) []byte {
	data := make([]byte, proto.OutHeaderSize+len(payload))
	proto.PutOutHeader(data, uint32(len(data)), errno, unique)
	copy(data[proto.OutHeaderSize:], payload)
	return data
}
