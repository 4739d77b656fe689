package dma

import (
	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/constants"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/stream"
)

// Pool is the hardware-backed stream.Pool of spec.md §4.A: it vends Buffers
// that alias a mmap'd DMA buffer region instead of heap memory, with the
// hardware index recorded in each Buffer's meta word (MetaHwOwnedBit set,
// MetaIndexMask holding the index) so Release() can hand the index back to
// the device instead of a free list.
type Pool struct {
	dev     Device
	log     *logging.Logger
	bufSize uint32
}

// NewPool wraps dev as a stream.Pool. bufSize is cached from dev.BuffSize()
// at construction since individual ReqFrame calls must not re-probe the
// device on every request.
func NewPool(dev Device) (*Pool, error) {
	size, err := dev.BuffSize()
	if err != nil {
		return nil, rogue.WrapError("dma.NewPool", rogue.CodeOpen, err)
	}
	return &Pool{
		dev:     dev,
		bufSize: size,
		log:     logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[dma] "}),
	}, nil
}

// BufferSize implements stream.Pool.
func (p *Pool) BufferSize() uint32 { return p.bufSize }

// ReqFrame implements stream.Pool: each Buffer is drawn from the next
// available hardware index (GetIndex blocks until the DMA engine has filled
// one), aliasing that index's mmap'd region directly — no copy. zeroCopyOK
// is accepted for interface parity; this Pool has no non-zero-copy mode of
// its own, matching spec.md §4.A's "Pool::req_frame... if zero_copy_ok and a
// hardware-backed Pool is configured, Buffers reference DMA-mapped memory".
func (p *Pool) ReqFrame(totalBytes uint32, _ bool) (*stream.Frame, error) {
	f := stream.NewFrame()
	nextBuffer := func() error {
		idx, err := p.dev.GetIndex()
		if err != nil {
			return rogue.WrapError("dma.ReqFrame", rogue.CodeAllocation, err)
		}
		meta := constants.MetaHwOwnedBit | (idx & constants.MetaIndexMask)
		f.AppendBuffer(stream.NewBuffer(p, p.dev.Buffer(idx), meta))
		return nil
	}

	if totalBytes == 0 {
		if err := nextBuffer(); err != nil {
			return nil, err
		}
		return f, nil
	}

	var have uint32
	for have < totalBytes {
		if err := nextBuffer(); err != nil {
			return nil, err
		}
		have += p.bufSize
	}
	return f, nil
}

// Return implements stream.Pool. Per spec.md §4.A, a Buffer forwards its
// hardware index back to the DMA shim only if bit 31 (hw-owned) is set and
// bit 30 (already-returned) is clear; Buffer.Release already enforces the
// bit-30 guard before calling here, so Return only needs to check bit 31.
func (p *Pool) Return(b *stream.Buffer) {
	if b.Meta()&constants.MetaHwOwnedBit == 0 {
		return
	}
	idx := b.Meta() & constants.MetaIndexMask
	if err := p.dev.RetIndex([]uint32{idx}); err != nil {
		p.log.Warnf("failed to return buffer index %d: %v", idx, err)
	}
}
