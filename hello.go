package hellofs

import (
	"os"
	"syscall"
	"time"

	"github.com/KarpelesLab/hellofs/proto"
)

// Cache durations handed to the kernel with attribute and entry
// replies. They are advisory; nothing here expires on its own.
const (
	AttrTimeout  = 1 * time.Second
	EntryTimeout = 1 * time.Second
)

// HelloFS serves a Namespace: a root directory holding one read-only
// file. It keeps no mutable state, so one value can serve any number of
// concurrent requests.
type HelloFS struct {
	FilesystemBase

	ns  *Namespace
	uid uint32
	gid uint32
}

var _ Filesystem = (*HelloFS)(nil)

// NewHelloFS returns a filesystem serving ns, owned by the calling
// process's user and group.
func NewHelloFS(ns *Namespace) *HelloFS {
	return &HelloFS{
		ns:  ns,
		uid: uint32(os.Getuid()),
		gid: uint32(os.Getgid()),
	}
}

// Namespace returns the served namespace.
func (fs *HelloFS) Namespace() *Namespace {
	return fs.ns
}

func (fs *HelloFS) attr(m Metadata) *Attr {
	return &Attr{
		Ino:     m.Ino,
		Size:    m.Size,
		Blocks:  (m.Size + 511) / 512,
		Mode:    m.Mode(),
		Nlink:   m.Nlink,
		Uid:     fs.uid,
		Gid:     fs.gid,
		Blksize: 4096,
		Valid:   AttrTimeout,
	}
}

// Lookup resolves the file's basename inside the root. Every other
// (parent, name) pair is ErrNotFound.
func (fs *HelloFS) Lookup(ctx Context, parent Inode, name string) (*Entry, error) {
	if !parent.IsRoot() || name != fs.ns.name {
		return nil, ErrNotFound
	}
	m, err := fs.ns.table.Resolve(FileInode)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Ino:          m.Ino,
		Attr:         *fs.attr(m),
		AttrTimeout:  AttrTimeout,
		EntryTimeout: EntryTimeout,
	}, nil
}

// GetAttr returns the attributes of the root or the file.
func (fs *HelloFS) GetAttr(ctx Context, ino Inode) (*Attr, error) {
	m, err := fs.ns.table.Resolve(ino)
	if err != nil {
		return nil, err
	}
	return fs.attr(m), nil
}

// Open admits read-only opens of the file. Any other inode is answered
// with ErrIsADirectory, matching the root being the only other object.
func (fs *HelloFS) Open(ctx Context, ino Inode, flags uint32) (*OpenResponse, error) {
	if ino != FileInode {
		return nil, ErrIsADirectory
	}
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		return nil, ErrAccessDenied
	}
	return &OpenResponse{Flags: OpenKeepCache}, nil
}

// Read returns a window of the file content. Reads at or past the end
// return no data.
func (fs *HelloFS) Read(ctx Context, ino Inode, fh FileHandle, offset int64, size uint32) ([]byte, error) {
	if ino != FileInode {
		precondition("read", "inode %d is not a regular file", ino)
	}
	return boundedSlice(fs.ns.content, offset, size), nil
}

// OpenDir admits the root only. The listing never changes, so the
// kernel may cache it and keep the cache across opens.
func (fs *HelloFS) OpenDir(ctx Context, ino Inode, flags uint32) (*OpenResponse, error) {
	if ino.IsRoot() {
		return &OpenResponse{Flags: OpenCacheDir | OpenKeepCache}, nil
	}
	if _, err := fs.ns.table.Resolve(ino); err != nil {
		return nil, err
	}
	return nil, syscall.ENOTDIR
}

// ReadDir encodes the root listing and returns the window the caller
// asked for. The listing is rebuilt on every call and is identical each
// time, so byte offsets from earlier calls stay valid.
func (fs *HelloFS) ReadDir(ctx Context, ino Inode, fh FileHandle, offset int64, size uint32) ([]byte, error) {
	if !ino.IsRoot() {
		return nil, ErrNotFound
	}
	dir := fs.rootListing()
	return boundedSlice(dir.Bytes(), offset, size), nil
}

// rootListing builds ".", ".." and the file, in that order. The root
// has no parent, so ".." points back at it.
func (fs *HelloFS) rootListing() *DirBuffer {
	var dir DirBuffer
	dir.Append(".", RootInode, KindDirectory.direntType())
	dir.Append("..", RootInode, KindDirectory.direntType())
	dir.Append(fs.ns.name, FileInode, KindRegular.direntType())
	return &dir
}

// StatFS reports two inodes and no free space.
func (fs *HelloFS) StatFS(ctx Context, ino Inode) (*StatFS, error) {
	st, _ := fs.FilesystemBase.StatFS(ctx, ino)
	st.Files = 2
	st.Blocks = (uint64(fs.ns.Size()) + uint64(st.Bsize) - 1) / uint64(st.Bsize)
	return st, nil
}

// Access denies write permission everywhere.
func (fs *HelloFS) Access(ctx Context, ino Inode, mask uint32) error {
	if _, err := fs.ns.table.Resolve(ino); err != nil {
		return err
	}
	if mask&proto.AccessWrite != 0 {
		return ErrAccessDenied
	}
	return nil
}
