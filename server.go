package hellofs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/KarpelesLab/hellofs/proto"
)

// Server owns a mounted FUSE session and dispatches its requests to a
// Filesystem.
type Server struct {
	fs         Filesystem
	mountPoint string
	conns      []*connection

	bufPool *bufferPool
	opts    *MountOptions
	logger  *slog.Logger

	// Requests read but not yet completed, for FUSE_INTERRUPT.
	pending pendingSet

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Session state, set by INIT and DESTROY
	initialized bool
	destroyed   bool
	mu          sync.RWMutex
}

// Mount mounts fs at mountPoint and returns a Server ready to Serve.
func Mount(mountPoint string, fs Filesystem, opts *MountOptions) (*Server, error) {
	s := newServer(fs, opts)
	s.mountPoint = mountPoint

	fd, err := mount(mountPoint, s.opts)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.conns = append(s.conns, newConnection(fd))

	if s.opts.Readers > 1 {
		clones, err := cloneSession(fd, s.opts.Readers-1)
		if err != nil {
			s.logger.Warn("cloning FUSE descriptor failed, serving from one reader",
				"readers", s.opts.Readers,
				"error", err,
			)
		}
		for _, cfd := range clones {
			s.conns = append(s.conns, newConnection(cfd))
		}
	}

	s.logger.Info("filesystem mounted",
		"mountpoint", mountPoint,
		"fsname", s.opts.FSName,
		"readers", len(s.conns),
	)
	return s, nil
}

// newServer builds a Server with defaults applied and no descriptors.
func newServer(fs Filesystem, opts *MountOptions) *Server {
	if opts == nil {
		opts = &MountOptions{}
	}
	o := *opts
	o.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		fs:      fs,
		bufPool: newBufferPool(int(o.MaxWrite) + proto.InHeaderSize + 4096),
		opts:    &o,
		logger:  o.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// MountPoint returns the mount point path.
func (s *Server) MountPoint() string {
	return s.mountPoint
}

// Serve runs one read loop per descriptor and blocks until the session
// ends. It returns nil when the filesystem is unmounted.
func (s *Server) Serve() error {
	if len(s.conns) == 0 {
		return ErrNotMounted
	}

	errs := make(chan error, len(s.conns))
	for _, c := range s.conns {
		go func(c *connection) {
			errs <- s.serveConn(c)
		}(c)
	}

	var first error
	for range s.conns {
		err := <-errs
		if err != nil && first == nil {
			first = err
			// One reader failing ends the session for all.
			s.cancel()
		}
	}
	s.wg.Wait()

	if errors.Is(first, context.Canceled) {
		return ErrServerClosed
	}
	return first
}

// serveConn reads requests from one descriptor until it fails.
func (s *Server) serveConn(c *connection) error {
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}

		req, err := c.readRequest(s.bufPool)
		if err != nil {
			if err == syscall.EINTR || err == syscall.EAGAIN {
				continue
			}
			if err == ErrNotMounted {
				return nil
			}
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			if err == ErrServerClosed {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}

		s.accept(req)
		s.wg.Add(1)
		go func(r *request) {
			defer s.wg.Done()
			defer r.done()
			s.handleRequest(r)
		}(req)
	}
}

// accept gives req its context and registers it as pending.
func (s *Server) accept(req *request) {
	req.ctx, req.cancel = context.WithCancel(s.ctx)
	s.pending.add(req)
}

// handleRequest dispatches a request and guarantees it is completed
// exactly once, whatever the handler did.
func (s *Server) handleRequest(req *request) {
	op := req.header.Opcode

	if s.opts.Debug {
		s.logger.Debug("request",
			"opcode", op.String(),
			"unique", req.header.Unique,
			"node", req.header.NodeID,
			"len", req.header.Len,
		)
	}

	defer func() {
		if v := recover(); v != nil {
			pre, ok := v.(*PreconditionError)
			if !ok {
				panic(v)
			}
			s.logger.Error("request aborted",
				"opcode", op.String(),
				"unique", req.header.Unique,
				"node", req.header.NodeID,
				"error", pre,
			)
			s.complete(req, -int32(syscall.EIO), nil)
		}
	}()

	if err := s.checkSession(op); err != nil {
		s.logger.Warn("request outside session",
			"opcode", op.String(),
			"unique", req.header.Unique,
		)
		s.replyError(req, err)
		return
	}

	if op.Mutating() {
		s.replyError(req, syscall.EROFS)
		return
	}

	h, ok := handlers[op]
	if !ok {
		s.logger.Debug("unsupported opcode", "opcode", op.String())
		s.replyError(req, syscall.ENOSYS)
		return
	}
	req.markValidated()

	if err := h(s, req); err != nil {
		s.replyError(req, err)
		return
	}

	if req.currentState() != stateCompleted {
		s.logger.Error("handler returned without replying", "opcode", op.String(), "unique", req.header.Unique)
		s.complete(req, -int32(syscall.EIO), nil)
	}
}

// checkSession rejects everything but INIT until the session is
// initialized, a second INIT, and anything after DESTROY.
func (s *Server) checkSession(op proto.Opcode) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.destroyed:
		return syscall.EIO
	case !s.initialized && op != proto.OpInit:
		return syscall.EIO
	case s.initialized && op == proto.OpInit:
		return syscall.EIO
	}
	return nil
}

// newContext creates a request context for a filesystem call.
func (s *Server) newContext(req *request) Context {
	parent := req.ctx
	if parent == nil {
		parent = s.ctx
	}
	return NewContext(parent, req.caller(), req.header.Unique)
}

// Unmount unmounts the filesystem and shuts down the server. The
// descriptors are closed once every read loop has seen the session end;
// if the unmount itself fails they stay open and serving.
func (s *Server) Unmount() error {
	s.cancel()
	if err := unmount(s.mountPoint); err != nil {
		return err
	}
	for _, c := range s.conns {
		c.close()
	}
	s.logger.Info("filesystem unmounted", "mountpoint", s.mountPoint)
	return nil
}

// Wait waits for all in-flight requests to complete.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Fd returns the session's FUSE file descriptor.
func (s *Server) Fd() int {
	if len(s.conns) == 0 {
		return -1
	}
	return s.conns[0].descriptor()
}

// defaultLogger mirrors an unconfigured mount: errors only, on stderr.
func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
