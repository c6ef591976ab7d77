package hellofs

import (
	"os"
	"time"

	"github.com/KarpelesLab/hellofs/proto"
)

// Attr represents file/directory attributes.
type Attr struct {
	Ino     Inode         // Inode number
	Size    uint64        // File size in bytes
	Blocks  uint64        // Number of 512B blocks allocated
	Atime   time.Time     // Access time
	Mtime   time.Time     // Modification time
	Ctime   time.Time     // Status change time
	Mode    os.FileMode   // File mode and permissions
	Nlink   uint32        // Number of hard links
	Uid     uint32        // Owner user ID
	Gid     uint32        // Owner group ID
	Blksize uint32        // Block size for filesystem I/O
	Valid   time.Duration // How long the kernel may cache these attributes
}

// UnixMode returns Mode as st_mode bits.
func (a *Attr) UnixMode() uint32 {
	return fileModeToUnix(a.Mode)
}

// Entry represents a directory entry lookup result.
type Entry struct {
	Ino          Inode         // Inode number of the entry
	Attr         Attr          // Attributes of the entry
	AttrTimeout  time.Duration // How long to cache attributes
	EntryTimeout time.Duration // How long to cache the entry
}

// FileHandle represents an open file or directory handle.
type FileHandle uint64

// OpenResponse acknowledges an Open or OpenDir.
type OpenResponse struct {
	Handle FileHandle // Handle to use for subsequent operations
	Flags  OpenFlags  // Response flags (FOPEN_*)
}

// OpenFlags are flags returned from Open/OpenDir.
type OpenFlags uint32

const (
	// OpenKeepCache prevents cache invalidation on open.
	OpenKeepCache OpenFlags = OpenFlags(proto.FopenKeepCache)

	// OpenCacheDir allows caching directory contents.
	OpenCacheDir OpenFlags = OpenFlags(proto.FopenCacheDir)
)

// StatFS represents filesystem statistics.
type StatFS struct {
	Blocks  uint64 // Total data blocks in filesystem
	Bfree   uint64 // Free blocks in filesystem
	Bavail  uint64 // Free blocks available to unprivileged users
	Files   uint64 // Total file nodes in filesystem
	Ffree   uint64 // Free file nodes in filesystem
	Bsize   uint32 // Optimal transfer block size
	Namelen uint32 // Maximum length of filenames
	Frsize  uint32 // Fragment size
}

// Config contains the negotiated FUSE configuration.
// It is passed to Filesystem.Init after protocol negotiation.
type Config struct {
	ProtoMajor   uint32 // Negotiated protocol major version
	ProtoMinor   uint32 // Negotiated protocol minor version
	MaxReadahead uint32 // Maximum readahead size
	MaxWrite     uint32 // Maximum write size
}

func attrToProto(a *Attr) proto.Attr {
	return proto.Attr{
		Ino:       uint64(a.Ino),
		Size:      a.Size,
		Blocks:    a.Blocks,
		Atime:     unixSeconds(a.Atime),
		Mtime:     unixSeconds(a.Mtime),
		Ctime:     unixSeconds(a.Ctime),
		AtimeNsec: uint32(a.Atime.Nanosecond()),
		MtimeNsec: uint32(a.Mtime.Nanosecond()),
		CtimeNsec: uint32(a.Ctime.Nanosecond()),
		Mode:      fileModeToUnix(a.Mode),
		Nlink:     a.Nlink,
		Uid:       a.Uid,
		Gid:       a.Gid,
		Blksize:   a.Blksize,
	}
}

// unixSeconds maps the zero time to the epoch rather than year 1.
func unixSeconds(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix())
}

// fileModeToUnix converts the two modes this filesystem serves into
// st_mode bits.
func fileModeToUnix(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	if mode.IsDir() {
		return m | proto.ModeDir
	}
	return m | proto.ModeRegular
}

// durationToTimespec converts a duration to seconds and nanoseconds.
func durationToTimespec(d time.Duration) (sec uint64, nsec uint32) {
	sec = uint64(d / time.Second)
	nsec = uint32((d % time.Second) / time.Nanosecond)
	return
}

func entryToProto(entry *Entry) *proto.EntryOut {
	entrySec, entryNsec := durationToTimespec(entry.EntryTimeout)
	attrSec, attrNsec := durationToTimespec(entry.AttrTimeout)

	return &proto.EntryOut{
		NodeID:         uint64(entry.Ino),
		EntryValid:     entrySec,
		EntryValidNsec: entryNsec,
		AttrValid:      attrSec,
		AttrValidNsec:  attrNsec,
		Attr:           attrToProto(&entry.Attr),
	}
}

func attrOutToProto(attr *Attr) *proto.AttrOut {
	sec, nsec := durationToTimespec(attr.Valid)
	return &proto.AttrOut{
		AttrValid:     sec,
		AttrValidNsec: nsec,
		Attr:          attrToProto(attr),
	}
}
