package hellofs

import (
	"errors"
	"sync"
	"syscall"
)

// requestState tracks a request through its life:
//
//	received -> validated -> completed
//
// The move to completed is a single atomic swap, so whichever path
// gets there first (the handler, the interrupt path or the dispatcher's
// fallback) owns the reply and every later attempt is a no-op.
type requestState uint32

const (
	stateReceived requestState = iota
	stateValidated
	stateCompleted
)

func (s requestState) String() string {
	switch s {
	case stateReceived:
		return "received"
	case stateValidated:
		return "validated"
	case stateCompleted:
		return "completed"
	}
	return "invalid"
}

func (r *request) currentState() requestState {
	return requestState(r.state.Load())
}

// markValidated records that the request passed decoding and will be
// handed to the filesystem.
func (r *request) markValidated() {
	r.state.CompareAndSwap(uint32(stateReceived), uint32(stateValidated))
}

// claim moves the request to completed and reports whether the caller
// is the one allowed to reply.
func (r *request) claim() bool {
	return requestState(r.state.Swap(uint32(stateCompleted))) != stateCompleted
}

// pendingSet holds requests that have been read but not completed,
// keyed by their unique ID, so FUSE_INTERRUPT can find them.
type pendingSet struct {
	mu sync.Mutex
	m  map[uint64]*request
}

func (p *pendingSet) add(r *request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[uint64]*request)
	}
	p.m[r.header.Unique] = r
}

// remove drops r, leaving any newer request that reused its ID alone.
func (p *pendingSet) remove(r *request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m[r.header.Unique] == r {
		delete(p.m, r.header.Unique)
	}
}

func (p *pendingSet) get(unique uint64) *request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m[unique]
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// reply completes req with a success payload.
func (s *Server) reply(req *request, payload []byte) {
	s.complete(req, 0, payload)
}

// replyError completes req with the errno for err.
func (s *Server) replyError(req *request, err error) {
	errno := toErrno(err)
	if errno == 0 {
		errno = -int32(syscall.EIO)
	}
	s.complete(req, errno, nil)
}

// complete sends the one reply req gets. Requests the kernel expects
// no reply for are completed without writing anything.
func (s *Server) complete(req *request, errno int32, payload []byte) {
	if !req.claim() {
		if !req.abandoned.Load() {
			s.logger.Error("request completed twice",
				"opcode", req.header.Opcode.String(),
				"unique", req.header.Unique,
			)
		}
		return
	}
	s.pending.remove(req)

	if req.header.Opcode.NoReply() {
		return
	}
	if s.opts.Debug {
		s.logger.Debug("reply",
			"opcode", req.header.Opcode.String(),
			"unique", req.header.Unique,
			"errno", -errno,
			"size", len(payload),
		)
	}
	err := req.out.writeResponse(encodeReply(req.header.Unique, errno, payload))
	switch {
	case err == nil:
	case errors.Is(err, syscall.ENOENT):
		// The kernel already gave up on this request.
		s.logger.Debug("reply for unknown request", "unique", req.header.Unique)
	case errors.Is(err, ErrServerClosed):
		s.logger.Debug("reply after shutdown", "unique", req.header.Unique)
	default:
		s.logger.Warn("writing reply failed",
			"opcode", req.header.Opcode.String(),
			"unique", req.header.Unique,
			"error", err,
		)
	}
}

// abandon completes req with EINTR on behalf of a kernel interrupt
// and cancels its context. The handler's own reply, if it comes later,
// is dropped silently. The EINTR reply is still sent: the kernel keeps
// the interrupted caller blocked until the original request is answered.
func (s *Server) abandon(req *request) {
	if req.currentState() == stateCompleted {
		return
	}
	req.abandoned.Store(true)
	if req.cancel != nil {
		req.cancel()
	}
	s.complete(req, -int32(syscall.EINTR), nil)
}
