package hellofs

import "syscall"

// Filesystem is the operation set a transport drives. All methods
// operate on inode numbers, not paths, and may be called concurrently.
//
// Errors are reported as values: an Error from the closed set, a
// syscall.Errno for transport-level conditions, or a panic carrying a
// *PreconditionError for requests that should never have been issued.
type Filesystem interface {
	// Init is called during FUSE_INIT with the negotiated parameters.
	Init(ctx Context, config *Config) error

	// Destroy is called during FUSE_DESTROY when unmounting.
	Destroy(ctx Context)

	// Lookup resolves name within parent.
	Lookup(ctx Context, parent Inode, name string) (*Entry, error)

	// GetAttr retrieves attributes for an inode.
	GetAttr(ctx Context, ino Inode) (*Attr, error)

	// Open opens a file. flags carries the open(2) access mode.
	Open(ctx Context, ino Inode, flags uint32) (*OpenResponse, error)

	// Read returns at most size bytes of the file starting at offset.
	Read(ctx Context, ino Inode, fh FileHandle, offset int64, size uint32) ([]byte, error)

	// Release closes a file handle opened by Open.
	Release(ctx Context, ino Inode, fh FileHandle) error

	// OpenDir opens a directory for reading.
	OpenDir(ctx Context, ino Inode, flags uint32) (*OpenResponse, error)

	// ReadDir returns at most size bytes of encoded fuse_dirent records
	// starting at byte offset. The off field of every record is the
	// offset to resume at.
	ReadDir(ctx Context, ino Inode, fh FileHandle, offset int64, size uint32) ([]byte, error)

	// ReleaseDir closes a directory handle.
	ReleaseDir(ctx Context, ino Inode, fh FileHandle) error

	// StatFS returns filesystem statistics.
	StatFS(ctx Context, ino Inode) (*StatFS, error)

	// Access checks permissions for mask (R_OK, W_OK, X_OK).
	Access(ctx Context, ino Inode, mask uint32) error

	// Forget drops nlookup references the kernel held on ino.
	Forget(ctx Context, ino Inode, nlookup uint64)
}

// maxNameLen is the longest basename reported through StatFS.
const maxNameLen = 255

// FilesystemBase provides default implementations for optional methods.
type FilesystemBase struct{}

// Init is a no-op by default.
func (FilesystemBase) Init(ctx Context, config *Config) error {
	return nil
}

// Destroy is a no-op by default.
func (FilesystemBase) Destroy(ctx Context) {}

// Release is a no-op by default.
func (FilesystemBase) Release(ctx Context, ino Inode, fh FileHandle) error {
	return nil
}

// ReleaseDir is a no-op by default.
func (FilesystemBase) ReleaseDir(ctx Context, ino Inode, fh FileHandle) error {
	return nil
}

// StatFS reports an empty filesystem.
func (FilesystemBase) StatFS(ctx Context, ino Inode) (*StatFS, error) {
	return &StatFS{
		Bsize:   4096,
		Namelen: maxNameLen,
		Frsize:  4096,
	}, nil
}

// Access allows everything by default.
func (FilesystemBase) Access(ctx Context, ino Inode, mask uint32) error {
	return nil
}

// Forget is a no-op by default.
func (FilesystemBase) Forget(ctx Context, ino Inode, nlookup uint64) {}

// OpenDir returns ENOSYS by default.
func (FilesystemBase) OpenDir(ctx Context, ino Inode, flags uint32) (*OpenResponse, error) {
	return nil, syscall.ENOSYS
}
