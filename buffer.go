package hellofs

import (
	"sync"

	"github.com/KarpelesLab/hellofs/proto"
)

// bufferPool recycles the fixed-size buffers requests are read into.
// A buffer goes back to the pool once its request has been handled,
// never earlier, because filenames and bodies are parsed in place.
type bufferPool struct {
	pool sync.Pool
	size int
}

// newBufferPool creates a pool of buffers of at least the kernel's
// minimum read size.
func newBufferPool(size int) *bufferPool {
	size = max(size, proto.MinBufferSize)
	p := &bufferPool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// get retrieves a full-length buffer from the pool.
func (p *bufferPool) get() *[]byte {
	buf := p.pool.Get().(*[]byte)
	*buf = (*buf)[:p.size]
	return buf
}

// put returns a buffer to the pool. Buffers of a foreign size are dropped.
func (p *bufferPool) put(buf *[]byte) {
	if buf == nil || cap(*buf) != p.size {
		return
	}
	p.pool.Put(buf)
}
