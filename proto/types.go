// Package proto contains the FUSE wire protocol structures and their
// little-endian codecs. Layouts match the kernel's fuse.h.
package proto

import (
	"encoding/binary"
	"errors"
)

var le = binary.LittleEndian

// ErrShort is returned when a request body is smaller than the
// structure being decoded from it.
var ErrShort = errors.New("proto: short message")

// InHeader is the header for all FUSE requests from the kernel.
// Size: 40 bytes
type InHeader struct {
	Len    uint32 // Total message length including header
	Opcode Opcode // Operation code
	Unique uint64 // Request ID for matching responses
	NodeID uint64 // Inode number (0 for some operations)
	Uid    uint32 // User ID of calling process
	Gid    uint32 // Group ID of calling process
	Pid    uint32 // Process ID of calling process
}

// InHeaderSize is the size of InHeader in bytes.
const InHeaderSize = 40

// Decode fills h from the first InHeaderSize bytes of b.
func (h *InHeader) Decode(b []byte) error {
	if len(b) < InHeaderSize {
		return ErrShort
	}
	h.Len = le.Uint32(b[0:])
	h.Opcode = Opcode(le.Uint32(b[4:]))
	h.Unique = le.Uint64(b[8:])
	h.NodeID = le.Uint64(b[16:])
	h.Uid = le.Uint32(b[24:])
	h.Gid = le.Uint32(b[28:])
	h.Pid = le.Uint32(b[32:])
	return nil
}

// Encode writes h into b, which must hold InHeaderSize bytes.
func (h *InHeader) Encode(b []byte) {
	le.PutUint32(b[0:], h.Len)
	le.PutUint32(b[4:], uint32(h.Opcode))
	le.PutUint64(b[8:], h.Unique)
	le.PutUint64(b[16:], h.NodeID)
	le.PutUint32(b[24:], h.Uid)
	le.PutUint32(b[28:], h.Gid)
	le.PutUint32(b[32:], h.Pid)
	le.PutUint32(b[36:], 0)
}

// OutHeaderSize is the size of the reply header in bytes:
// length, negative errno, unique.
const OutHeaderSize = 16

// PutOutHeader writes a reply header into b.
func PutOutHeader(b []byte, length uint32, errno int32, unique uint64) {
	le.PutUint32(b[0:], length)
	le.PutUint32(b[4:], uint32(errno))
	le.PutUint64(b[8:], unique)
}

// Attr represents file attributes in the FUSE wire format.
// Size: 88 bytes
type Attr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint32
	Blksize   uint32
}

// AttrSize is the size of Attr in bytes.
const AttrSize = 88

func (a *Attr) encode(b []byte) {
	le.PutUint64(b[0:], a.Ino)
	le.PutUint64(b[8:], a.Size)
	le.PutUint64(b[16:], a.Blocks)
	le.PutUint64(b[24:], a.Atime)
	le.PutUint64(b[32:], a.Mtime)
	le.PutUint64(b[40:], a.Ctime)
	le.PutUint32(b[48:], a.AtimeNsec)
	le.PutUint32(b[52:], a.MtimeNsec)
	le.PutUint32(b[56:], a.CtimeNsec)
	le.PutUint32(b[60:], a.Mode)
	le.PutUint32(b[64:], a.Nlink)
	le.PutUint32(b[68:], a.Uid)
	le.PutUint32(b[72:], a.Gid)
	le.PutUint32(b[76:], a.Rdev)
	le.PutUint32(b[80:], a.Blksize)
	le.PutUint32(b[84:], 0)
}

func (a *Attr) decode(b []byte) {
	a.Ino = le.Uint64(b[0:])
	a.Size = le.Uint64(b[8:])
	a.Blocks = le.Uint64(b[16:])
	a.Atime = le.Uint64(b[24:])
	a.Mtime = le.Uint64(b[32:])
	a.Ctime = le.Uint64(b[40:])
	a.AtimeNsec = le.Uint32(b[48:])
	a.MtimeNsec = le.Uint32(b[52:])
	a.CtimeNsec = le.Uint32(b[56:])
	a.Mode = le.Uint32(b[60:])
	a.Nlink = le.Uint32(b[64:])
	a.Uid = le.Uint32(b[68:])
	a.Gid = le.Uint32(b[72:])
	a.Rdev = le.Uint32(b[76:])
	a.Blksize = le.Uint32(b[80:])
}

// EntryOut is the response to FUSE_LOOKUP.
// Size: 128 bytes (40 + 88)
type EntryOut struct {
	NodeID         uint64 // Inode ID
	Generation     uint64 // Inode generation
	EntryValid     uint64 // Entry cache timeout (seconds)
	AttrValid      uint64 // Attribute cache timeout (seconds)
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           Attr
}

// EntryOutSize is the size of EntryOut in bytes.
const EntryOutSize = 128

// Bytes encodes the reply payload.
func (o *EntryOut) Bytes() []byte {
	b := make([]byte, EntryOutSize)
	le.PutUint64(b[0:], o.NodeID)
	le.PutUint64(b[8:], o.Generation)
	le.PutUint64(b[16:], o.EntryValid)
	le.PutUint64(b[24:], o.AttrValid)
	le.PutUint32(b[32:], o.EntryValidNsec)
	le.PutUint32(b[36:], o.AttrValidNsec)
	o.Attr.encode(b[40:])
	return b
}

// Decode fills o from an encoded reply payload.
func (o *EntryOut) Decode(b []byte) error {
	if len(b) < EntryOutSize {
		return ErrShort
	}
	o.NodeID = le.Uint64(b[0:])
	o.Generation = le.Uint64(b[8:])
	o.EntryValid = le.Uint64(b[16:])
	o.AttrValid = le.Uint64(b[24:])
	o.EntryValidNsec = le.Uint32(b[32:])
	o.AttrValidNsec = le.Uint32(b[36:])
	o.Attr.decode(b[40:])
	return nil
}

// AttrOut is the response to FUSE_GETATTR.
// Size: 104 bytes (16 + 88)
type AttrOut struct {
	AttrValid     uint64 // Attribute cache timeout (seconds)
	AttrValidNsec uint32
	Attr          Attr
}

// AttrOutSize is the size of AttrOut in bytes.
const AttrOutSize = 104

// Bytes encodes the reply payload.
func (o *AttrOut) Bytes() []byte {
	b := make([]byte, AttrOutSize)
	le.PutUint64(b[0:], o.AttrValid)
	le.PutUint32(b[8:], o.AttrValidNsec)
	o.Attr.encode(b[16:])
	return b
}

// Decode fills o from an encoded reply payload.
func (o *AttrOut) Decode(b []byte) error {
	if len(b) < AttrOutSize {
		return ErrShort
	}
	o.AttrValid = le.Uint64(b[0:])
	o.AttrValidNsec = le.Uint32(b[8:])
	o.Attr.decode(b[16:])
	return nil
}

// OpenOut is the response for FUSE_OPEN and FUSE_OPENDIR.
// Size: 16 bytes
type OpenOut struct {
	Fh        uint64 // File handle
	OpenFlags uint32 // FOPEN_* flags
}

// OpenOutSize is the size of OpenOut in bytes.
const OpenOutSize = 16

// Bytes encodes the reply payload.
func (o *OpenOut) Bytes() []byte {
	b := make([]byte, OpenOutSize)
	le.PutUint64(b[0:], o.Fh)
	le.PutUint32(b[8:], o.OpenFlags)
	return b
}

// StatfsOut is the response for FUSE_STATFS.
// Size: 80 bytes
type StatfsOut struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
}

// StatfsOutSize is the size of StatfsOut in bytes.
const StatfsOutSize = 80

// Bytes encodes the reply payload; padding and spare words stay zero.
func (o *StatfsOut) Bytes() []byte {
	b := make([]byte, StatfsOutSize)
	le.PutUint64(b[0:], o.Blocks)
	le.PutUint64(b[8:], o.Bfree)
	le.PutUint64(b[16:], o.Bavail)
	le.PutUint64(b[24:], o.Files)
	le.PutUint64(b[32:], o.Ffree)
	le.PutUint32(b[40:], o.Bsize)
	le.PutUint32(b[44:], o.Namelen)
	le.PutUint32(b[48:], o.Frsize)
	return b
}

// OpenIn is the request body for FUSE_OPEN and FUSE_OPENDIR.
type OpenIn struct {
	Flags     uint32 // open(2) flags (O_RDONLY, etc.)
	OpenFlags uint32 // FUSE_OPEN_* flags
}

// OpenInSize is the size of OpenIn in bytes.
const OpenInSize = 8

// Decode fills in from a request body.
func (in *OpenIn) Decode(b []byte) error {
	if len(b) < OpenInSize {
		return ErrShort
	}
	in.Flags = le.Uint32(b[0:])
	in.OpenFlags = le.Uint32(b[4:])
	return nil
}

// ReadIn is the request body for FUSE_READ and FUSE_READDIR.
type ReadIn struct {
	Fh        uint64
	Offset    uint64
	Size      uint32
	ReadFlags uint32
	LockOwner uint64
	Flags     uint32
}

// ReadInSize is the size of ReadIn in bytes.
const ReadInSize = 40

// Decode fills in from a request body.
func (in *ReadIn) Decode(b []byte) error {
	if len(b) < ReadInSize {
		return ErrShort
	}
	in.Fh = le.Uint64(b[0:])
	in.Offset = le.Uint64(b[8:])
	in.Size = le.Uint32(b[16:])
	in.ReadFlags = le.Uint32(b[20:])
	in.LockOwner = le.Uint64(b[24:])
	in.Flags = le.Uint32(b[32:])
	return nil
}

// Encode writes in into b, which must hold ReadInSize bytes.
func (in *ReadIn) Encode(b []byte) {
	le.PutUint64(b[0:], in.Fh)
	le.PutUint64(b[8:], in.Offset)
	le.PutUint32(b[16:], in.Size)
	le.PutUint32(b[20:], in.ReadFlags)
	le.PutUint64(b[24:], in.LockOwner)
	le.PutUint32(b[32:], in.Flags)
	le.PutUint32(b[36:], 0)
}

// ReleaseIn is the request body for FUSE_RELEASE and FUSE_RELEASEDIR.
type ReleaseIn struct {
	Fh           uint64
	Flags        uint32
	ReleaseFlags uint32
}

// ReleaseInSize is the size of ReleaseIn in bytes.
const ReleaseInSize = 24

// Decode fills in from a request body.
func (in *ReleaseIn) Decode(b []byte) error {
	if len(b) < ReleaseInSize {
		return ErrShort
	}
	in.Fh = le.Uint64(b[0:])
	in.Flags = le.Uint32(b[8:])
	in.ReleaseFlags = le.Uint32(b[12:])
	return nil
}

// ForgetIn is the request body for FUSE_FORGET.
type ForgetIn struct {
	Nlookup uint64
}

// ForgetInSize is the size of ForgetIn in bytes.
const ForgetInSize = 8

// Decode fills in from a request body.
func (in *ForgetIn) Decode(b []byte) error {
	if len(b) < ForgetInSize {
		return ErrShort
	}
	in.Nlookup = le.Uint64(b[0:])
	return nil
}

// BatchForgetInSize is the size of the FUSE_BATCH_FORGET body header;
// Count ForgetOne records follow it.
const BatchForgetInSize = 8

// ForgetOne is one entry in FUSE_BATCH_FORGET.
type ForgetOne struct {
	NodeID  uint64
	Nlookup uint64
}

// ForgetOneSize is the size of ForgetOne in bytes.
const ForgetOneSize = 16

// DecodeBatchForget returns the entries of a FUSE_BATCH_FORGET body.
// Entries that would run past the end of b are dropped.
func DecodeBatchForget(b []byte) ([]ForgetOne, error) {
	if len(b) < BatchForgetInSize {
		return nil, ErrShort
	}
	count := int(le.Uint32(b[0:]))
	b = b[BatchForgetInSize:]
	if avail := len(b) / ForgetOneSize; count > avail {
		count = avail
	}
	out := make([]ForgetOne, count)
	for i := range out {
		rec := b[i*ForgetOneSize:]
		out[i] = ForgetOne{NodeID: le.Uint64(rec[0:]), Nlookup: le.Uint64(rec[8:])}
	}
	return out, nil
}

// AccessIn is the request body for FUSE_ACCESS.
type AccessIn struct {
	Mask uint32
}

// AccessInSize is the size of AccessIn in bytes.
const AccessInSize = 8

// Decode fills in from a request body.
func (in *AccessIn) Decode(b []byte) error {
	if len(b) < AccessInSize {
		return ErrShort
	}
	in.Mask = le.Uint32(b[0:])
	return nil
}

// InterruptIn is the request body for FUSE_INTERRUPT.
type InterruptIn struct {
	Unique uint64 // Request being interrupted
}

// InterruptInSize is the size of InterruptIn in bytes.
const InterruptInSize = 8

// Decode fills in from a request body.
func (in *InterruptIn) Decode(b []byte) error {
	if len(b) < InterruptInSize {
		return ErrShort
	}
	in.Unique = le.Uint64(b[0:])
	return nil
}

// InitIn is the request body for FUSE_INIT. Only the fields common to
// every protocol minor version we support are decoded.
type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        uint32
}

// InitInSize is the size of the decoded part of InitIn in bytes.
const InitInSize = 16

// Decode fills in from a request body.
func (in *InitIn) Decode(b []byte) error {
	if len(b) < InitInSize {
		return ErrShort
	}
	in.Major = le.Uint32(b[0:])
	in.Minor = le.Uint32(b[4:])
	in.MaxReadahead = le.Uint32(b[8:])
	in.Flags = le.Uint32(b[12:])
	return nil
}

// InitOut is the response for FUSE_INIT.
type InitOut struct {
	Major               uint32
	Minor               uint32
	MaxReadahead        uint32
	Flags               uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32 // Timestamp granularity (nanoseconds)
	MaxPages            uint16 // v7.28+
}

// InitOutSize is the size of InitOut in bytes.
const InitOutSize = 64

// Bytes encodes the reply payload; fields past MaxPages stay zero.
func (o *InitOut) Bytes() []byte {
	b := make([]byte, InitOutSize)
	le.PutUint32(b[0:], o.Major)
	le.PutUint32(b[4:], o.Minor)
	le.PutUint32(b[8:], o.MaxReadahead)
	le.PutUint32(b[12:], o.Flags)
	le.PutUint16(b[16:], o.MaxBackground)
	le.PutUint16(b[18:], o.CongestionThreshold)
	le.PutUint32(b[20:], o.MaxWrite)
	le.PutUint32(b[24:], o.TimeGran)
	le.PutUint16(b[28:], o.MaxPages)
	return b
}

// DirentSize is the size of the fixed fuse_dirent header, excluding
// the name: ino(8) off(8) namelen(4) type(4).
const DirentSize = 24

// DirentAlign is the alignment every encoded dirent is padded to.
const DirentAlign = 8
