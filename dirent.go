package hellofs

import (
	"encoding/binary"
	"slices"

	"github.com/KarpelesLab/hellofs/proto"
)

// direntSize returns the encoded size of a record for name: the
// fuse_dirent header plus the name, padded to 8 bytes.
func direntSize(name string) int {
	return (proto.DirentSize + len(name) + proto.DirentAlign - 1) &^ (proto.DirentAlign - 1)
}

// DirBuffer is an append-only buffer of encoded directory entries in
// the kernel's fuse_dirent layout.
//
// Each record's off field holds the byte offset at which the record
// ends, which is where the next record starts. A reader resuming at
// that offset lands exactly on a record boundary, and Len always equals
// the sum of direntSize over every appended name.
//
// A DirBuffer belongs to the single read-directory call that built it.
type DirBuffer struct {
	buf []byte
}

// Append encodes one record at the end of the buffer.
func (d *DirBuffer) Append(name string, ino Inode, typ uint32) {
	start := len(d.buf)
	end := start + direntSize(name)

	d.buf = slices.Grow(d.buf, end-start)[:end]
	rec := d.buf[start:end]
	clear(rec)

	binary.LittleEndian.PutUint64(rec[0:], uint64(ino))
	binary.LittleEndian.PutUint64(rec[8:], uint64(end))
	binary.LittleEndian.PutUint32(rec[16:], uint32(len(name)))
	binary.LittleEndian.PutUint32(rec[20:], typ)
	copy(rec[proto.DirentSize:], name)
}

// Len returns the encoded size of all records.
func (d *DirBuffer) Len() int {
	return len(d.buf)
}

// Bytes returns the encoded records. The slice aliases the buffer.
func (d *DirBuffer) Bytes() []byte {
	return d.buf
}

// Records decodes the buffer's own records.
func (d *DirBuffer) Records() []DirRecord {
	records, _ := ParseDirents(d.buf)
	return records
}

// DirRecord is one decoded directory entry.
type DirRecord struct {
	Ino  Inode
	Next uint64 // Offset of the following record
	Type uint32
	Name string
}

// ParseDirents decodes consecutive records from b, which must start on
// a record boundary. It stops at the first record that does not fit
// and returns the records decoded so far with the number of bytes they
// occupy.
func ParseDirents(b []byte) ([]DirRecord, int) {
	var (
		out  []DirRecord
		used int
	)
	for len(b)-used >= proto.DirentSize {
		rec := b[used:]
		nameLen := int(binary.LittleEndian.Uint32(rec[16:]))
		size := (proto.DirentSize + nameLen + proto.DirentAlign - 1) &^ (proto.DirentAlign - 1)
		if nameLen == 0 || size > len(rec) {
			break
		}
		out = append(out, DirRecord{
			Ino:  Inode(binary.LittleEndian.Uint64(rec[0:])),
			Next: binary.LittleEndian.Uint64(rec[8:]),
			Type: binary.LittleEndian.Uint32(rec[20:]),
			Name: string(rec[proto.DirentSize : proto.DirentSize+nameLen]),
		})
		used += size
	}
	return out, used
}
