package hellofs

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDirentSize(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{".", 32},
		{"..", 32},
		{"hello.txt", 40},
		{"12345678", 32},
		{"123456789", 40},
		{"1234567890123456", 40},
	}
	for _, tt := range tests {
		if got := direntSize(tt.name); got != tt.want {
			t.Errorf("direntSize(%q) = %d, want %d", tt.name, got, tt.want)
		}
		if direntSize(tt.name)%8 != 0 {
			t.Errorf("direntSize(%q) not 8-byte aligned", tt.name)
		}
	}
}

func TestDirBufferLayout(t *testing.T) {
	var dir DirBuffer
	dir.Append(".", RootInode, 4)
	dir.Append("hello.txt", FileInode, 8)

	b := dir.Bytes()
	if dir.Len() != 72 || len(b) != 72 {
		t.Fatalf("Len = %d, bytes = %d, want 72", dir.Len(), len(b))
	}

	le := binary.LittleEndian
	if ino := le.Uint64(b[0:]); ino != 1 {
		t.Errorf("first ino = %d", ino)
	}
	if off := le.Uint64(b[8:]); off != 32 {
		t.Errorf("first off = %d, want 32", off)
	}
	if n := le.Uint32(b[16:]); n != 1 {
		t.Errorf("first namelen = %d", n)
	}
	if typ := le.Uint32(b[20:]); typ != 4 {
		t.Errorf("first type = %d", typ)
	}
	if b[24] != '.' {
		t.Errorf("first name byte = %q", b[24])
	}
	if !bytes.Equal(b[25:32], make([]byte, 7)) {
		t.Errorf("padding not zeroed: %v", b[25:32])
	}

	if ino := le.Uint64(b[32:]); ino != 2 {
		t.Errorf("second ino = %d", ino)
	}
	if off := le.Uint64(b[40:]); off != 72 {
		t.Errorf("second off = %d, want 72", off)
	}
	if name := string(b[56:65]); name != "hello.txt" {
		t.Errorf("second name = %q", name)
	}
}

func TestDirBufferLenIsSumOfSizes(t *testing.T) {
	names := []string{".", "..", "a", "longer-name.txt", "x234567"}

	var dir DirBuffer
	want := 0
	for i, name := range names {
		dir.Append(name, Inode(i+1), 8)
		want += direntSize(name)
		if dir.Len() != want {
			t.Fatalf("after %q Len = %d, want %d", name, dir.Len(), want)
		}
	}
}

func TestDirBufferReusesDirtyCapacity(t *testing.T) {
	dir := DirBuffer{buf: bytes.Repeat([]byte{0xff}, 64)[:0]}
	dir.Append("a", 1, 8)

	if !bytes.Equal(dir.Bytes()[25:32], make([]byte, 7)) {
		t.Errorf("stale bytes leaked into padding: %v", dir.Bytes()[25:32])
	}
}

func TestParseDirents(t *testing.T) {
	var dir DirBuffer
	dir.Append(".", 1, 4)
	dir.Append("..", 1, 4)
	dir.Append("hello.txt", 2, 8)

	records, used := ParseDirents(dir.Bytes())
	if used != dir.Len() {
		t.Errorf("used = %d, want %d", used, dir.Len())
	}
	want := []DirRecord{
		{Ino: 1, Next: 32, Type: 4, Name: "."},
		{Ino: 1, Next: 64, Type: 4, Name: ".."},
		{Ino: 2, Next: 104, Type: 8, Name: "hello.txt"},
	}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, records[i], want[i])
		}
	}
}

func TestDirBufferRecords(t *testing.T) {
	var dir DirBuffer
	if len(dir.Records()) != 0 {
		t.Fatal("empty buffer has records")
	}
	dir.Append("hello.txt", 2, 8)
	records := dir.Records()
	if len(records) != 1 || records[0] != (DirRecord{Ino: 2, Next: 40, Type: 8, Name: "hello.txt"}) {
		t.Errorf("records = %+v", records)
	}
}

func TestParseDirentsStopsAtPartialRecord(t *testing.T) {
	var dir DirBuffer
	dir.Append(".", 1, 4)
	dir.Append("hello.txt", 2, 8)

	records, used := ParseDirents(dir.Bytes()[:50])
	if len(records) != 1 || used != 32 {
		t.Errorf("got %d records using %d bytes, want 1 using 32", len(records), used)
	}
}

func TestParseDirentsStopsAtZeroName(t *testing.T) {
	var dir DirBuffer
	dir.Append(".", 1, 4)
	buf := append(dir.Bytes(), make([]byte, 64)...)

	records, used := ParseDirents(buf)
	if len(records) != 1 || used != 32 {
		t.Errorf("got %d records using %d bytes, want 1 using 32", len(records), used)
	}
}
