package hellofs

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/KarpelesLab/hellofs/proto"
)

// kernelPipe stands in for /dev/fuse: a SOCK_SEQPACKET pair keeps
// message boundaries the way the device does.
func kernelPipe(t *testing.T) (server, kernel int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Skipf("socketpair: %v", err)
	}
	return fds[0], fds[1]
}

func kernelSend(t *testing.T, fd int, data []byte) {
	t.Helper()
	if _, err := unix.Write(fd, data); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

func kernelRecv(t *testing.T, fd int) reply {
	t.Helper()
	buf := make([]byte, 64*1024)
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return decodeReply(t, buf[:n])
}

func TestServeOverSocket(t *testing.T) {
	serverFd, kernelFd := kernelPipe(t)

	s := newServer(NewHelloFS(DefaultNamespace()), &MountOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	s.conns = []*connection{newConnection(serverFd)}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve() }()

	kernelSend(t, kernelFd, encodeRequest(proto.OpInit, 1, 0, initBody(7, 31, 128*1024, proto.CapAsyncRead)))
	if r := kernelRecv(t, kernelFd); r.errno != 0 || r.unique != 1 {
		t.Fatalf("INIT reply = %+v", r)
	}

	kernelSend(t, kernelFd, encodeRequest(proto.OpLookup, 2, 1, nameBody("hello.txt")))
	r := kernelRecv(t, kernelFd)
	if r.errno != 0 || r.unique != 2 || len(r.payload) != proto.EntryOutSize {
		t.Fatalf("LOOKUP reply = %+v", r)
	}

	kernelSend(t, kernelFd, encodeRequest(proto.OpRead, 3, 2, readBody(0, 4)))
	r = kernelRecv(t, kernelFd)
	if r.unique != 3 || string(r.payload) != "Hell" {
		t.Fatalf("READ reply = %+v", r)
	}

	kernelSend(t, kernelFd, encodeRequest(proto.OpLookup, 4, 1, nameBody("missing.txt")))
	if r := kernelRecv(t, kernelFd); r.errno != -int32(unix.ENOENT) {
		t.Fatalf("LOOKUP missing reply = %+v", r)
	}

	s.cancel()
	unix.Close(kernelFd)

	select {
	case err := <-serveErr:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve() = %v, want ErrServerClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
	for _, c := range s.conns {
		c.close()
	}
}

func TestServeRepliesOnOriginatingConnection(t *testing.T) {
	serverA, kernelA := kernelPipe(t)
	serverB, kernelB := kernelPipe(t)

	s := newServer(NewHelloFS(DefaultNamespace()), &MountOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	s.conns = []*connection{newConnection(serverA), newConnection(serverB)}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve() }()

	kernelSend(t, kernelA, encodeRequest(proto.OpInit, 6, 0, initBody(7, 31, 128*1024, 0)))
	if r := kernelRecv(t, kernelA); r.unique != 6 || r.errno != 0 {
		t.Fatalf("INIT reply = %+v", r)
	}

	kernelSend(t, kernelB, encodeRequest(proto.OpGetattr, 7, 1, make([]byte, 16)))
	if r := kernelRecv(t, kernelB); r.unique != 7 || r.errno != 0 {
		t.Fatalf("reply on second connection = %+v", r)
	}
	kernelSend(t, kernelA, encodeRequest(proto.OpGetattr, 8, 2, make([]byte, 16)))
	if r := kernelRecv(t, kernelA); r.unique != 8 || r.errno != 0 {
		t.Fatalf("reply on first connection = %+v", r)
	}

	s.cancel()
	unix.Close(kernelA)
	unix.Close(kernelB)

	select {
	case <-serveErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
	for _, c := range s.conns {
		c.close()
	}
}

func TestUnmountWhileServing(t *testing.T) {
	serverFd, kernelFd := kernelPipe(t)

	s := newServer(NewHelloFS(DefaultNamespace()), &MountOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	s.conns = []*connection{newConnection(serverFd)}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve() }()

	kernelSend(t, kernelFd, encodeRequest(proto.OpInit, 1, 0, initBody(7, 31, 128*1024, 0)))
	kernelRecv(t, kernelFd)
	kernelSend(t, kernelFd, encodeRequest(proto.OpGetattr, 2, 1, make([]byte, 16)))
	if r := kernelRecv(t, kernelFd); r.unique != 2 || r.errno != 0 {
		t.Fatalf("GETATTR reply = %+v", r)
	}

	unmounted := make(chan error, 1)
	go func() { unmounted <- s.Unmount() }()

	// Ending the session is what releases a blocked reader.
	<-s.ctx.Done()
	unix.Close(kernelFd)

	select {
	case err := <-unmounted:
		if err != nil {
			t.Errorf("Unmount: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Unmount did not return after the session ended")
	}
	select {
	case err := <-serveErr:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve() = %v, want ErrServerClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after unmount")
	}
	if fd := s.Fd(); fd != -1 {
		t.Errorf("Fd() = %d after unmount, want -1", fd)
	}
}

func TestConnectionClosed(t *testing.T) {
	serverFd, kernelFd := kernelPipe(t)
	defer unix.Close(kernelFd)

	c := newConnection(serverFd)
	if err := c.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := c.readRequest(newBufferPool(proto.MinBufferSize)); !errors.Is(err, ErrServerClosed) {
		t.Errorf("readRequest after close = %v, want ErrServerClosed", err)
	}
	if err := c.writeResponse(encodeReply(1, 0, nil)); !errors.Is(err, ErrServerClosed) {
		t.Errorf("writeResponse after close = %v, want ErrServerClosed", err)
	}
}

func TestServeWithoutConnections(t *testing.T) {
	s := newServer(NewHelloFS(DefaultNamespace()), nil)
	defer s.cancel()
	if err := s.Serve(); !errors.Is(err, ErrNotMounted) {
		t.Errorf("Serve() = %v, want ErrNotMounted", err)
	}
}

func TestConnectionReadRequestReleasesBuffer(t *testing.T) {
	serverFd, kernelFd := kernelPipe(t)
	defer unix.Close(kernelFd)
	c := newConnection(serverFd)
	defer c.close()

	pool := newBufferPool(proto.MinBufferSize)
	kernelSend(t, kernelFd, encodeRequest(proto.OpLookup, 9, 1, nameBody("hello.txt")))

	req, err := c.readRequest(pool)
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	if req.header.Opcode != proto.OpLookup || req.header.Unique != 9 || req.filename() != "hello.txt" {
		t.Errorf("request = %+v name %q", req.header, req.filename())
	}
	if req.release == nil {
		t.Fatal("pooled request has no release func")
	}
	req.done()
	if req.release != nil || req.data != nil {
		t.Error("done did not release the buffer")
	}
}

func TestBufferPool(t *testing.T) {
	pool := newBufferPool(100)
	buf := pool.get()
	if len(*buf) != proto.MinBufferSize {
		t.Errorf("buffer size = %d, want at least %d", len(*buf), proto.MinBufferSize)
	}
	*buf = (*buf)[:10]
	pool.put(buf)

	foreign := make([]byte, 10)
	pool.put(&foreign)
	pool.put(nil)

	again := pool.get()
	if len(*again) != proto.MinBufferSize {
		t.Errorf("recycled buffer size = %d", len(*again))
	}
}

func TestMountOptionString(t *testing.T) {
	o := &MountOptions{AllowOther: true, Subtype: "hellofs"}
	o.setDefaults()

	want := "ro,nosuid,nodev,allow_other,fsname=hello_fs_ll,subtype=hellofs"
	if got := o.mountOptionString(); got != want {
		t.Errorf("mountOptionString() = %q, want %q", got, want)
	}
	if o.Readers != 1 || o.MaxWrite != proto.DefaultMaxWrite || o.Logger == nil {
		t.Errorf("defaults not applied: %+v", o)
	}
}

func TestMountRejectsMissingDirectory(t *testing.T) {
	_, err := Mount(t.TempDir()+"/missing", NewHelloFS(DefaultNamespace()), &MountOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err == nil {
		t.Fatal("Mount succeeded on a missing directory")
	}
}
