package stream

import (
	"sync"
)

// Frame Flag bits, set by protocol stages to carry out-of-band state
// alongside payload bytes (spec.md §4.B).
const (
	FlagNone = 0
)

// Frame is an ordered list of Buffers presented to consumers as one
// logical, randomly-addressable byte stream (spec.md §4.B).
type Frame struct {
	mu sync.RWMutex

	buffers []*Buffer

	flags   uint32
	err     error
	channel uint8

	readers int
	writer  bool
}

// NewFrame builds an empty Frame.
func NewFrame() *Frame {
	return &Frame{}
}

// AppendBuffer adds a single Buffer to the end of the Frame.
func (f *Frame) AppendBuffer(b *Buffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers = append(f.buffers, b)
}

// AppendFrame moves all Buffers from src onto the end of f, leaving src
// empty. Used by fan-in stages that coalesce segments into one Frame.
func (f *Frame) AppendFrame(src *Frame) {
	src.mu.Lock()
	moved := src.buffers
	src.buffers = nil
	src.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers = append(f.buffers, moved...)
}

// BufferCount returns the number of Buffers currently in the Frame.
func (f *Frame) BufferCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.buffers)
}

// BufferAt returns the Buffer at index i.
func (f *Frame) BufferAt(i int) *Buffer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.buffers[i]
}

// PayloadSize is the sum of every Buffer's Payload() in the Frame.
func (f *Frame) PayloadSize() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var total uint32
	for _, b := range f.buffers {
		total += b.Payload()
	}
	return total
}

// AvailableSize is the sum of every Buffer's Available() in the Frame,
// i.e. how many more bytes can be written before new Buffers are needed.
func (f *Frame) AvailableSize() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var total uint32
	for _, b := range f.buffers {
		total += b.Available()
	}
	return total
}

// SetPayload sets the Frame's total valid byte count by distributing it
// across Buffers in order. If shrink is false, payload on a given Buffer
// is only ever grown (MinPayload semantics), matching Rogue's Frame::
// setPayload(size, false) "no truncate" mode used by header/trailer
// strip-and-restore during packetizer passes.
func (f *Frame) SetPayload(size uint32, shrink bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	remaining := size
	for _, b := range f.buffers {
		cap := b.Size()
		n := remaining
		if n > cap {
			n = cap
		}
		if shrink {
			if err := b.SetPayload(n); err != nil {
				return err
			}
		} else {
			if err := b.MinPayload(n); err != nil {
				return err
			}
		}
		if remaining > n {
			remaining -= n
		} else {
			remaining = 0
		}
	}
	if remaining > 0 {
		return boundaryErr("Frame.SetPayload")
	}
	return nil
}

// Flags returns the Frame's out-of-band flag word.
func (f *Frame) Flags() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags
}

// SetFlags overwrites the Frame's out-of-band flag word.
func (f *Frame) SetFlags(flags uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = flags
}

// Err returns a terminal error attached to the Frame by a protocol stage
// (e.g. CRC mismatch, AXI failure), or nil.
func (f *Frame) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// SetErr attaches a terminal error to the Frame.
func (f *Frame) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Channel returns the Frame's destination/channel tag (packetizer dest,
// SRP lane, etc).
func (f *Frame) Channel() uint8 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.channel
}

// SetChannel sets the Frame's destination/channel tag.
func (f *Frame) SetChannel(ch uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = ch
}

// BeginRead marks the start of a read-only access window. Rogue's C++
// Frame uses a shared_lock here; Go's sync.RWMutex gives the same
// semantics without a distinct type.
func (f *Frame) BeginRead() { f.mu.RLock() }

// EndRead ends a read-only access window started by BeginRead.
func (f *Frame) EndRead() { f.mu.RUnlock() }

// BeginWrite marks the start of an exclusive write window.
func (f *Frame) BeginWrite() { f.mu.Lock() }

// EndWrite ends an exclusive write window started by BeginWrite.
func (f *Frame) EndWrite() { f.mu.Unlock() }

// Release returns every Buffer in the Frame to its source Pool. Called
// once a Frame's consumer is done with it.
func (f *Frame) Release() {
	f.mu.Lock()
	bufs := f.buffers
	f.buffers = nil
	f.mu.Unlock()
	for _, b := range bufs {
		b.Release()
	}
}

// Clear empties the Frame's buffer list without releasing the Buffers to
// their Pool, for stages that hand Buffers off to a different Frame
// (packetizer reassembly moving a segment's Buffer into the destination's
// tranFrame, matching rogue::protocols::packetizer::ControllerV2::
// transportRx's "frame->clear()" after re-parenting a Buffer).
func (f *Frame) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers = nil
}

// Begin returns an iterator positioned at the first payload byte of the
// Frame (spec.md §4.B FrameIterator).
func (f *Frame) Begin() *FrameIterator {
	return &FrameIterator{frame: f, bufIdx: 0, bufOff: 0}
}

// End returns an iterator positioned just past the Frame's last payload
// byte (a sentinel; dereferencing it is invalid, matching C++ end()).
func (f *Frame) End() *FrameIterator {
	f.mu.RLock()
	n := len(f.buffers)
	f.mu.RUnlock()
	return &FrameIterator{frame: f, bufIdx: n, bufOff: 0}
}

// ToFrame copies n bytes from the Frame starting at byte offset off into
// dst, returning the number of bytes copied. Mirrors rogue::interfaces::
// stream::toFrame / fromFrame helpers used throughout the protocol stages.
func ToFrame(f *Frame, off uint32, n int, dst []byte) int {
	it := f.Begin()
	it.Advance(int64(off))
	copied := 0
	for copied < n {
		b, ok := it.currentBuffer()
		if !ok {
			break
		}
		avail := int(b.Payload()) - it.bufOff
		if avail <= 0 {
			it.bufIdx++
			it.bufOff = 0
			continue
		}
		take := n - copied
		if take > avail {
			take = avail
		}
		copy(dst[copied:copied+take], b.Bytes()[it.bufOff:it.bufOff+take])
		copied += take
		it.bufOff += take
	}
	return copied
}

// FromFrame copies n bytes from src into the Frame starting at byte
// offset off, returning the number of bytes copied.
func FromFrame(f *Frame, off uint32, n int, src []byte) int {
	it := f.Begin()
	skip := int64(off)
	for skip > 0 {
		b, ok := it.currentBuffer()
		if !ok {
			break
		}
		if int64(b.Size()) > skip {
			it.bufOff = int(skip)
			break
		}
		skip -= int64(b.Size())
		it.bufIdx++
	}
	copied := 0
	for copied < n {
		b, ok := it.currentBuffer()
		if !ok {
			break
		}
		avail := int(b.Size()) - it.bufOff
		if avail <= 0 {
			it.bufIdx++
			it.bufOff = 0
			continue
		}
		take := n - copied
		if take > avail {
			take = avail
		}
		raw := b.Raw()
		start := int(b.HeadRoom()) + it.bufOff
		copy(raw[start:start+take], src[copied:copied+take])
		if uint32(it.bufOff+take) > b.Payload() {
			_ = b.SetPayload(uint32(it.bufOff + take))
		}
		copied += take
		it.bufOff += take
	}
	return copied
}
