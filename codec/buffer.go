package codec

import (
	"sync"
)

// DefaultBlockDepth is the log2 of the default encode buffer size (1 MiB).
const DefaultBlockDepth = 20

const maxBlockDepth = 30

// BufferPool hands out encode buffers whose initial capacity is 1<<depth
// bytes. Buffers that grew past four blocks are not returned to the pool.
type BufferPool struct {
	blockSize int
	pool      sync.Pool
}

// NewBufferPool creates a pool of 1<<depth byte buffers. Depths outside
// [0, 30] are clamped.
func NewBufferPool(depth int) *BufferPool {
	if depth < 0 {
		depth = 0
	}
	if depth > maxBlockDepth {
		depth = maxBlockDepth
	}
	p := &BufferPool{blockSize: 1 << depth}
	p.pool.New = func() any {
		b := make([]byte, 0, p.blockSize)
		return &b
	}
	return p
}

// BlockSize reports the initial capacity of pooled buffers.
func (p *BufferPool) BlockSize() int {
	return p.blockSize
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *[]byte {
	b := p.pool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

// Put returns b to the pool.
func (p *BufferPool) Put(b *[]byte) {
	if b == nil || cap(*b) > 4*p.blockSize {
		return
	}
	p.pool.Put(b)
}
