package hellofs

import (
	"os"

	"github.com/KarpelesLab/hellofs/proto"
)

// Inode represents a filesystem inode number.
// The root inode is always 1 (FUSE_ROOT_ID).
type Inode uint64

const (
	// RootInode is the inode number of the root directory.
	RootInode Inode = 1

	// FileInode is the inode number of the single regular file.
	FileInode Inode = 2
)

// IsRoot returns true if this is the root inode.
func (i Inode) IsRoot() bool {
	return i == RootInode
}

// Kind is the type of object an inode refers to.
type Kind uint8

const (
	KindDirectory Kind = iota + 1
	KindRegular
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindRegular:
		return "regular"
	}
	return "unknown"
}

// direntType returns the DT_* value used in directory entries.
func (k Kind) direntType() uint32 {
	switch k {
	case KindDirectory:
		return proto.DtDir
	case KindRegular:
		return proto.DtReg
	}
	return proto.DtUnknown
}

// Metadata describes one inode. Size is only meaningful for regular files.
type Metadata struct {
	Ino   Inode
	Kind  Kind
	Perm  os.FileMode
	Nlink uint32
	Size  uint64
}

// Mode returns the full os.FileMode, type bits included.
func (m Metadata) Mode() os.FileMode {
	if m.Kind == KindDirectory {
		return os.ModeDir | m.Perm
	}
	return m.Perm
}

// InodeTable maps the closed set of inode numbers to their metadata.
// It is built once and only ever handed out by value, so no caller can
// change what it resolves to.
type InodeTable struct {
	root Metadata
	file Metadata
}

// NewInodeTable builds the table for a root directory holding one
// regular file of fileSize bytes.
func NewInodeTable(fileSize uint64) *InodeTable {
	return &InodeTable{
		root: Metadata{
			Ino:   RootInode,
			Kind:  KindDirectory,
			Perm:  0o755,
			Nlink: 2,
		},
		file: Metadata{
			Ino:   FileInode,
			Kind:  KindRegular,
			Perm:  0o444,
			Nlink: 1,
			Size:  fileSize,
		},
	}
}

// Resolve returns the metadata for ino, or ErrNotFound for any inode
// outside the table.
func (t *InodeTable) Resolve(ino Inode) (Metadata, error) {
	switch ino {
	case RootInode:
		return t.root, nil
	case FileInode:
		return t.file, nil
	}
	return Metadata{}, ErrNotFound
}
