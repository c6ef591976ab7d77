package hellofs

import (
	"syscall"

	"github.com/KarpelesLab/hellofs/proto"
)

// handler decodes one request, calls the filesystem and completes the
// request. Returning an error completes it with that error instead.
type handler func(s *Server, req *request) error

// handlers maps opcodes to their handlers.
var handlers = map[proto.Opcode]handler{
	proto.OpInit:        handleInit,
	proto.OpDestroy:     handleDestroy,
	proto.OpLookup:      handleLookup,
	proto.OpForget:      handleForget,
	proto.OpBatchForget: handleBatchForget,
	proto.OpGetattr:     handleGetattr,
	proto.OpOpen:        handleOpen,
	proto.OpRead:        handleRead,
	proto.OpRelease:     handleRelease,
	proto.OpOpendir:     handleOpendir,
	proto.OpReaddir:     handleReaddir,
	proto.OpReleasedir:  handleReleasedir,
	proto.OpStatfs:      handleStatfs,
	proto.OpAccess:      handleAccess,
	proto.OpFlush:       handleFlush,
	proto.OpInterrupt:   handleInterrupt,
}

// decoder is implemented by every proto request body.
type decoder interface {
	Decode(b []byte) error
}

func decodeBody(req *request, in decoder) error {
	if err := in.Decode(req.body()); err != nil {
		return syscall.EINVAL
	}
	return nil
}

// readOffset converts the kernel's unsigned offset, rejecting values
// that do not fit an int64.
func readOffset(op string, off uint64) int64 {
	if int64(off) < 0 {
		precondition(op, "offset %d out of range", off)
	}
	return int64(off)
}

// handleInit processes FUSE_INIT.
func handleInit(s *Server, req *request) error {
	var in proto.InitIn
	if err := decodeBody(req, &in); err != nil {
		return err
	}

	if in.Major != proto.KernelVersion {
		// Tell the kernel which major we speak; it retries INIT.
		out := &proto.InitOut{
			Major: proto.KernelVersion,
			Minor: proto.KernelMinorVersion,
		}
		s.reply(req, out.Bytes())
		return nil
	}
	if in.Minor < proto.MinSupportedMinor {
		s.logger.Error("kernel protocol too old", "major", in.Major, "minor", in.Minor)
		return syscall.EPROTO
	}

	minor := min(in.Minor, proto.KernelMinorVersion)
	config := &Config{
		ProtoMajor:   in.Major,
		ProtoMinor:   minor,
		MaxReadahead: min(in.MaxReadahead, s.opts.MaxReadahead),
		MaxWrite:     s.opts.MaxWrite,
	}

	if err := s.fs.Init(s.newContext(req), config); err != nil {
		return err
	}

	// READDIRPLUS is left out: directory reads are served as plain
	// byte windows over the encoded listing.
	flags := proto.CapAsyncRead |
		proto.CapParallelDirops |
		proto.CapAutoInvalData |
		proto.CapExportSupport |
		proto.CapMaxPages
	flags &= in.Flags

	out := &proto.InitOut{
		Major:               proto.KernelVersion,
		Minor:               minor,
		MaxReadahead:        config.MaxReadahead,
		Flags:               flags,
		MaxBackground:       s.opts.MaxBackground,
		CongestionThreshold: s.opts.MaxBackground * 3 / 4,
		MaxWrite:            s.opts.MaxWrite,
		TimeGran:            proto.DefaultTimeGran,
		MaxPages:            proto.DefaultMaxPages,
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.Info("session initialized", "proto_major", in.Major, "proto_minor", minor)
	s.reply(req, out.Bytes())
	return nil
}

// handleDestroy processes FUSE_DESTROY.
func handleDestroy(s *Server, req *request) error {
	s.fs.Destroy(s.newContext(req))

	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()

	s.reply(req, nil)
	return nil
}

// handleLookup processes FUSE_LOOKUP.
func handleLookup(s *Server, req *request) error {
	entry, err := s.fs.Lookup(s.newContext(req), Inode(req.header.NodeID), req.filename())
	if err != nil {
		return err
	}
	s.reply(req, entryToProto(entry).Bytes())
	return nil
}

// handleForget processes FUSE_FORGET (no reply).
func handleForget(s *Server, req *request) error {
	var in proto.ForgetIn
	if err := decodeBody(req, &in); err == nil {
		s.fs.Forget(s.newContext(req), Inode(req.header.NodeID), in.Nlookup)
	}
	s.reply(req, nil)
	return nil
}

// handleBatchForget processes FUSE_BATCH_FORGET (no reply).
func handleBatchForget(s *Server, req *request) error {
	entries, err := proto.DecodeBatchForget(req.body())
	if err == nil {
		ctx := s.newContext(req)
		for _, e := range entries {
			s.fs.Forget(ctx, Inode(e.NodeID), e.Nlookup)
		}
	}
	s.reply(req, nil)
	return nil
}

// handleGetattr processes FUSE_GETATTR.
func handleGetattr(s *Server, req *request) error {
	// The body only carries an optional file handle, which a fixed
	// namespace has no use for.
	attr, err := s.fs.GetAttr(s.newContext(req), Inode(req.header.NodeID))
	if err != nil {
		return err
	}
	s.reply(req, attrOutToProto(attr).Bytes())
	return nil
}

// handleOpen processes FUSE_OPEN.
func handleOpen(s *Server, req *request) error {
	var in proto.OpenIn
	if err := decodeBody(req, &in); err != nil {
		return err
	}

	resp, err := s.fs.Open(s.newContext(req), Inode(req.header.NodeID), in.Flags)
	if err != nil {
		return err
	}

	out := &proto.OpenOut{
		Fh:        uint64(resp.Handle),
		OpenFlags: uint32(resp.Flags),
	}
	s.reply(req, out.Bytes())
	return nil
}

// handleRead processes FUSE_READ.
func handleRead(s *Server, req *request) error {
	var in proto.ReadIn
	if err := decodeBody(req, &in); err != nil {
		return err
	}

	data, err := s.fs.Read(
		s.newContext(req),
		Inode(req.header.NodeID),
		FileHandle(in.Fh),
		readOffset("read", in.Offset),
		in.Size,
	)
	if err != nil {
		return err
	}

	s.reply(req, data)
	return nil
}

// handleRelease processes FUSE_RELEASE.
func handleRelease(s *Server, req *request) error {
	var in proto.ReleaseIn
	if err := decodeBody(req, &in); err != nil {
		return err
	}

	if err := s.fs.Release(s.newContext(req), Inode(req.header.NodeID), FileHandle(in.Fh)); err != nil {
		return err
	}

	s.reply(req, nil)
	return nil
}

// handleOpendir processes FUSE_OPENDIR.
func handleOpendir(s *Server, req *request) error {
	var in proto.OpenIn
	if err := decodeBody(req, &in); err != nil {
		return err
	}

	resp, err := s.fs.OpenDir(s.newContext(req), Inode(req.header.NodeID), in.Flags)
	if err != nil {
		return err
	}

	out := &proto.OpenOut{
		Fh:        uint64(resp.Handle),
		OpenFlags: uint32(resp.Flags),
	}
	s.reply(req, out.Bytes())
	return nil
}

// handleReaddir processes FUSE_READDIR.
func handleReaddir(s *Server, req *request) error {
	var in proto.ReadIn
	if err := decodeBody(req, &in); err != nil {
		return err
	}

	data, err := s.fs.ReadDir(
		s.newContext(req),
		Inode(req.header.NodeID),
		FileHandle(in.Fh),
		readOffset("readdir", in.Offset),
		in.Size,
	)
	if err != nil {
		return err
	}

	s.reply(req, data)
	return nil
}

// handleReleasedir processes FUSE_RELEASEDIR.
func handleReleasedir(s *Server, req *request) error {
	var in proto.ReleaseIn
	if err := decodeBody(req, &in); err != nil {
		return err
	}

	if err := s.fs.ReleaseDir(s.newContext(req), Inode(req.header.NodeID), FileHandle(in.Fh)); err != nil {
		return err
	}

	s.reply(req, nil)
	return nil
}

// handleStatfs processes FUSE_STATFS.
func handleStatfs(s *Server, req *request) error {
	st, err := s.fs.StatFS(s.newContext(req), Inode(req.header.NodeID))
	if err != nil {
		return err
	}

	out := &proto.StatfsOut{
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Bsize:   st.Bsize,
		Namelen: st.Namelen,
		Frsize:  st.Frsize,
	}
	s.reply(req, out.Bytes())
	return nil
}

// handleAccess processes FUSE_ACCESS.
func handleAccess(s *Server, req *request) error {
	var in proto.AccessIn
	if err := decodeBody(req, &in); err != nil {
		return err
	}

	if err := s.fs.Access(s.newContext(req), Inode(req.header.NodeID), in.Mask); err != nil {
		return err
	}

	s.reply(req, nil)
	return nil
}

// handleFlush processes FUSE_FLUSH. Nothing is ever dirty.
func handleFlush(s *Server, req *request) error {
	s.reply(req, nil)
	return nil
}

// handleInterrupt processes FUSE_INTERRUPT (no reply). A target that
// already completed, or was never seen, is ignored.
func handleInterrupt(s *Server, req *request) error {
	var in proto.InterruptIn
	if err := decodeBody(req, &in); err == nil {
		if target := s.pending.get(in.Unique); target != nil && target != req {
			s.logger.Debug("request interrupted", "unique", in.Unique)
			s.abandon(target)
		}
	}
	s.reply(req, nil)
	return nil
}
