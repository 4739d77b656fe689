package stream

import (
	"sync"

	"github.com/slac-rogue/rogue/internal/constants"
)

// HeapPool is the Pool implementation backed by ordinary Go heap
// allocations, used for any stage that does not need zero-copy DMA
// buffers (spec.md §4.A: "a Pool that is not hardware backed must still
// satisfy the same interface"). It recycles released Buffers through a
// sync.Pool keyed to a single fixed bufSize.
type HeapPool struct {
	bufSize uint32
	pool    sync.Pool
}

// NewHeapPool builds a HeapPool whose Buffers each have bufSize bytes of
// raw capacity. A zero bufSize falls back to
// constants.DefaultPoolBufferSize.
func NewHeapPool(bufSize uint32) *HeapPool {
	if bufSize == 0 {
		bufSize = constants.DefaultPoolBufferSize
	}
	p := &HeapPool{bufSize: bufSize}
	p.pool.New = func() any {
		return NewBuffer(p, make([]byte, p.bufSize), 0)
	}
	return p
}

// BufferSize implements Pool.
func (p *HeapPool) BufferSize() uint32 { return p.bufSize }

func (p *HeapPool) take() *Buffer {
	b := p.pool.Get().(*Buffer)
	b.returned = false
	b.meta &^= constants.MetaReturnedBit
	b.headRoom, b.tailRoom, b.payloadEnd = 0, 0, 0
	return b
}

// ReqFrame implements Pool: builds a Frame out of however many bufSize
// Buffers are needed to cover totalBytes. zeroCopyOK is accepted for
// interface parity but has no effect on a heap pool.
func (p *HeapPool) ReqFrame(totalBytes uint32, _ bool) (*Frame, error) {
	f := NewFrame()
	if totalBytes == 0 {
		f.AppendBuffer(p.take())
		return f, nil
	}
	var have uint32
	for have < totalBytes {
		f.AppendBuffer(p.take())
		have += p.bufSize
	}
	return f, nil
}

// Return implements Pool, placing b back in the sync.Pool for reuse by a
// future ReqFrame call.
func (p *HeapPool) Return(b *Buffer) {
	p.pool.Put(b)
}
