// Package gofuse serves a hellofs.Filesystem through
// github.com/hanwen/go-fuse instead of the built-in transport.
//
// Only the request decoding and reply framing move to go-fuse. Every
// operation still lands on the same Filesystem methods, so both
// transports answer identically.
package gofuse

import (
	"context"
	"io"
	"log/slog"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/KarpelesLab/hellofs"
	"github.com/KarpelesLab/hellofs/proto"
)

// rawFileSystem adapts a hellofs.Filesystem to fuse.RawFileSystem.
// Operations it does not override fall through to go-fuse's default,
// which answers ENOSYS.
type rawFileSystem struct {
	fuse.RawFileSystem

	fs     hellofs.Filesystem
	logger *slog.Logger
}

// NewRawFileSystem wraps fs for use with fuse.NewServer. A nil logger
// discards aborted-request reports.
func NewRawFileSystem(fs hellofs.Filesystem, logger *slog.Logger) fuse.RawFileSystem {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &rawFileSystem{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		logger:        logger,
	}
}

// channelBackedContext turns go-fuse's cancellation channel into a
// context.Context. A nil channel is never cancelled.
type channelBackedContext struct {
	cancel <-chan struct{}
}

var _ context.Context = channelBackedContext{}

func (ctx channelBackedContext) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (ctx channelBackedContext) Done() <-chan struct{} {
	return ctx.cancel
}

func (ctx channelBackedContext) Err() error {
	select {
	case <-ctx.cancel:
		return context.Canceled
	default:
		return nil
	}
}

func (ctx channelBackedContext) Value(key any) any {
	return nil
}

func newContext(cancel <-chan struct{}, h *fuse.InHeader) hellofs.Context {
	caller := hellofs.Caller{Uid: h.Uid, Gid: h.Gid, Pid: h.Pid}
	return hellofs.NewContext(channelBackedContext{cancel: cancel}, caller, h.Unique)
}

func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	errno := hellofs.ErrnoOf(err)
	if errno == 0 {
		return fuse.EIO
	}
	return fuse.Status(errno)
}

// recoverPrecondition turns a *hellofs.PreconditionError panic into
// EIO. Any other panic keeps unwinding.
func (r *rawFileSystem) recoverPrecondition(op string, h *fuse.InHeader, status *fuse.Status) {
	v := recover()
	if v == nil {
		return
	}
	pre, ok := v.(*hellofs.PreconditionError)
	if !ok {
		panic(v)
	}
	r.logger.Error("request aborted",
		"op", op,
		"unique", h.Unique,
		"node", h.NodeId,
		"error", pre,
	)
	*status = fuse.EIO
}

func (r *rawFileSystem) String() string {
	return "hellofs"
}

func fillAttr(a *hellofs.Attr, out *fuse.Attr) {
	out.Ino = uint64(a.Ino)
	out.Size = a.Size
	out.Blocks = a.Blocks
	out.Mode = a.UnixMode()
	out.Nlink = a.Nlink
	out.Uid = a.Uid
	out.Gid = a.Gid
	out.Blksize = a.Blksize
	if !a.Atime.IsZero() {
		out.Atime, out.Atimensec = uint64(a.Atime.Unix()), uint32(a.Atime.Nanosecond())
	}
	if !a.Mtime.IsZero() {
		out.Mtime, out.Mtimensec = uint64(a.Mtime.Unix()), uint32(a.Mtime.Nanosecond())
	}
	if !a.Ctime.IsZero() {
		out.Ctime, out.Ctimensec = uint64(a.Ctime.Unix()), uint32(a.Ctime.Nanosecond())
	}
}

// direntMode maps a DT_* value to the S_IF* bits go-fuse expects.
func direntMode(typ uint32) uint32 {
	switch typ {
	case proto.DtDir:
		return syscall.S_IFDIR
	case proto.DtReg:
		return syscall.S_IFREG
	}
	return 0
}

func (r *rawFileSystem) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) (status fuse.Status) {
	defer r.recoverPrecondition("lookup", header, &status)

	entry, err := r.fs.Lookup(newContext(cancel, header), hellofs.Inode(header.NodeId), name)
	if err != nil {
		return toStatus(err)
	}
	out.NodeId = uint64(entry.Ino)
	out.Generation = 0
	out.SetEntryTimeout(entry.EntryTimeout)
	out.SetAttrTimeout(entry.AttrTimeout)
	fillAttr(&entry.Attr, &out.Attr)
	return fuse.OK
}

func (r *rawFileSystem) Forget(nodeID, nlookup uint64) {
	ctx := hellofs.NewContext(context.Background(), hellofs.Caller{}, 0)
	r.fs.Forget(ctx, hellofs.Inode(nodeID), nlookup)
}

func (r *rawFileSystem) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) (status fuse.Status) {
	defer r.recoverPrecondition("getattr", &input.InHeader, &status)

	attr, err := r.fs.GetAttr(newContext(cancel, &input.InHeader), hellofs.Inode(input.NodeId))
	if err != nil {
		return toStatus(err)
	}
	out.SetTimeout(attr.Valid)
	fillAttr(attr, &out.Attr)
	return fuse.OK
}

func (r *rawFileSystem) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) (status fuse.Status) {
	defer r.recoverPrecondition("open", &input.InHeader, &status)

	resp, err := r.fs.Open(newContext(cancel, &input.InHeader), hellofs.Inode(input.NodeId), input.Flags)
	if err != nil {
		return toStatus(err)
	}
	out.Fh = uint64(resp.Handle)
	out.OpenFlags = uint32(resp.Flags)
	return fuse.OK
}

func (r *rawFileSystem) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (res fuse.ReadResult, status fuse.Status) {
	defer r.recoverPrecondition("read", &input.InHeader, &status)

	data, err := r.fs.Read(
		newContext(cancel, &input.InHeader),
		hellofs.Inode(input.NodeId),
		hellofs.FileHandle(input.Fh),
		int64(input.Offset),
		input.Size,
	)
	if err != nil {
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(data), fuse.OK
}

func (r *rawFileSystem) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	err := r.fs.Release(newContext(cancel, &input.InHeader), hellofs.Inode(input.NodeId), hellofs.FileHandle(input.Fh))
	if err != nil {
		r.logger.Debug("release failed", "node", input.NodeId, "error", err)
	}
}

func (r *rawFileSystem) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) (status fuse.Status) {
	defer r.recoverPrecondition("opendir", &input.InHeader, &status)

	resp, err := r.fs.OpenDir(newContext(cancel, &input.InHeader), hellofs.Inode(input.NodeId), input.Flags)
	if err != nil {
		return toStatus(err)
	}
	out.Fh = uint64(resp.Handle)
	out.OpenFlags = uint32(resp.Flags)
	return fuse.OK
}

// ReadDir asks the filesystem for the encoded window at the kernel's
// offset and re-adds each record to out. The record's own resume
// offset is kept as the cookie, so the next call lands on the same
// byte boundary the built-in transport would use.
func (r *rawFileSystem) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) (status fuse.Status) {
	defer r.recoverPrecondition("readdir", &input.InHeader, &status)

	data, err := r.fs.ReadDir(
		newContext(cancel, &input.InHeader),
		hellofs.Inode(input.NodeId),
		hellofs.FileHandle(input.Fh),
		int64(input.Offset),
		input.Size,
	)
	if err != nil {
		return toStatus(err)
	}

	records, _ := hellofs.ParseDirents(data)
	for _, rec := range records {
		ok := out.AddDirEntry(fuse.DirEntry{
			Mode: direntMode(rec.Type),
			Name: rec.Name,
			Ino:  uint64(rec.Ino),
			Off:  rec.Next,
		})
		if !ok {
			break
		}
	}
	return fuse.OK
}

func (r *rawFileSystem) ReleaseDir(input *fuse.ReleaseIn) {
	err := r.fs.ReleaseDir(newContext(nil, &input.InHeader), hellofs.Inode(input.NodeId), hellofs.FileHandle(input.Fh))
	if err != nil {
		r.logger.Debug("releasedir failed", "node", input.NodeId, "error", err)
	}
}

func (r *rawFileSystem) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) (status fuse.Status) {
	defer r.recoverPrecondition("statfs", header, &status)

	st, err := r.fs.StatFS(newContext(cancel, header), hellofs.Inode(header.NodeId))
	if err != nil {
		return toStatus(err)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = st.Bsize
	out.NameLen = st.Namelen
	out.Frsize = st.Frsize
	return fuse.OK
}

func (r *rawFileSystem) Access(cancel <-chan struct{}, input *fuse.AccessIn) (status fuse.Status) {
	defer r.recoverPrecondition("access", &input.InHeader, &status)

	err := r.fs.Access(newContext(cancel, &input.InHeader), hellofs.Inode(input.NodeId), input.Mask)
	return toStatus(err)
}
