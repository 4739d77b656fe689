// Package stream implements Rogue's frame model: Buffers owned by the
// Frames they are grouped into, the Pools that allocate and reclaim them, and the
// Master/Slave fabric that moves Frames between stages.
package stream

import (
	"github.com/slac-rogue/rogue/internal/constants"
)

// Pool is the producer of Buffers and the sink to which they are returned,
// per spec.md §4.A. Implementations are HeapPool (heap-backed) and a
// DMA-backed pool (internal/dma).
type Pool interface {
	// ReqFrame returns a Frame whose writable payload window sums to at
	// least totalBytes. zeroCopyOK is a hint; implementations that are not
	// hardware-backed ignore it.
	ReqFrame(totalBytes uint32, zeroCopyOK bool) (*Frame, error)

	// Return reclaims a single Buffer, called when its owning Frame drops it.
	Return(b *Buffer)

	// BufferSize is the fixed capacity of Buffers this Pool allocates.
	BufferSize() uint32
}

// Buffer is a contiguous byte region with head/tail reservations and a
// valid-payload window, per spec.md's Data Model §3. Grounded on
// original_source's Buffer.h: the internal valid-byte mark (payloadEnd) is
// an absolute offset from byte 0 that "includes" the header region, while
// the public Payload() subtracts headRoom back out — so AdjustHeader moves
// the header/payload boundary without touching payloadEnd, and the
// visible Payload() shifts automatically to compensate. This is what lets
// a protocol stage reserve or release header room around already-written
// content without an explicit extra payload adjustment.
type Buffer struct {
	source Pool
	data   []byte // len(data) == rawSize; always the full backing region

	meta uint32

	headRoom uint32
	tailRoom uint32

	// payloadEnd is the absolute offset of the first invalid byte,
	// counted from data[0] (i.e. it "includes" the header region).
	// Payload() = payloadEnd - headRoom.
	payloadEnd uint32

	returned bool // local guard; meta's bit 30 is the cross-process guard
}

// NewBuffer constructs a Buffer over data, owned by source, with the given
// meta word (see constants.MetaHwOwnedBit/MetaReturnedBit).
func NewBuffer(source Pool, data []byte, meta uint32) *Buffer {
	return &Buffer{source: source, data: data, meta: meta}
}

// RawSize is the full capacity of the backing region.
func (b *Buffer) RawSize() uint32 { return uint32(len(b.data)) }

// Meta returns the allocator's tracking word.
func (b *Buffer) Meta() uint32 { return b.meta }

// SetMeta overwrites the allocator's tracking word.
func (b *Buffer) SetMeta(meta uint32) { b.meta = meta }

// HeadRoom is the number of bytes reserved at the front of the buffer.
func (b *Buffer) HeadRoom() uint32 { return b.headRoom }

// TailRoom is the number of bytes reserved at the back of the buffer.
func (b *Buffer) TailRoom() uint32 { return b.tailRoom }

// Payload is the current valid byte count in the usable window, i.e. the
// content length excluding the header reservation.
func (b *Buffer) Payload() uint32 { return b.payloadEnd - b.headRoom }

// Size is the capacity available for payload: raw size minus both
// reservations.
func (b *Buffer) Size() uint32 {
	return b.RawSize() - b.headRoom - b.tailRoom
}

// Available is the remaining room for payload growth before hitting the
// tail reservation.
func (b *Buffer) Available() uint32 {
	return b.Size() - b.Payload()
}

// AdjustHeader moves the header/payload boundary by delta bytes (spec.md
// §4.A). Positive delta grows the header reservation; negative delta
// shrinks it. payloadEnd is normally left untouched, so Payload() shifts
// by -delta to compensate — growing the header eats into visible payload,
// and shrinking it hands previously-reserved header bytes back as
// payload, matching original_source's Buffer::adjustHeader. The one
// exception is an empty buffer (headRoom == payloadEnd, Payload() == 0):
// there is no written content to preserve, so payloadEnd slides along
// with headRoom and Payload() stays zero instead of underflowing. This is
// what lets ReqFrame reserve header room on a freshly allocated Buffer
// before anything has been written to it. Fails with CodeBoundary if the
// new reservation would not fit the raw buffer or would eat into already
// written payload.
func (b *Buffer) AdjustHeader(delta int32) error {
	nh := int64(b.headRoom) + int64(delta)
	if nh < 0 || uint64(nh)+uint64(b.tailRoom) > uint64(b.RawSize()) {
		return boundaryErr("Buffer.AdjustHeader")
	}
	if b.headRoom == b.payloadEnd {
		b.payloadEnd = uint32(nh)
	} else if uint64(nh) > uint64(b.payloadEnd) {
		return boundaryErr("Buffer.AdjustHeader")
	}
	b.headRoom = uint32(nh)
	return nil
}

// AdjustTail moves the tail reservation by delta bytes. Unlike
// AdjustHeader, this does not affect payloadEnd/Payload(): the tail
// reservation only bounds Size()/Available(), it does not sit inside the
// addressable payload window.
func (b *Buffer) AdjustTail(delta int32) error {
	nt := int64(b.tailRoom) + int64(delta)
	if nt < 0 || uint64(b.headRoom)+uint64(nt) > uint64(b.RawSize()) {
		return boundaryErr("Buffer.AdjustTail")
	}
	b.tailRoom = uint32(nt)
	return nil
}

// SetPayload sets the valid byte count directly, bounds-checked against
// Size().
func (b *Buffer) SetPayload(n uint32) error {
	if n > b.Size() {
		return boundaryErr("Buffer.SetPayload")
	}
	b.payloadEnd = b.headRoom + n
	return nil
}

// MinPayload grows payload to n if it is currently smaller; never shrinks.
func (b *Buffer) MinPayload(n uint32) error {
	if n <= b.Payload() {
		return nil
	}
	return b.SetPayload(n)
}

// AdjustPayload adds delta to the current payload count, bounds-checked.
func (b *Buffer) AdjustPayload(delta int32) error {
	np := int64(b.Payload()) + int64(delta)
	if np < 0 || uint64(np) > uint64(b.Size()) {
		return boundaryErr("Buffer.AdjustPayload")
	}
	b.payloadEnd = b.headRoom + uint32(np)
	return nil
}

// SetPayloadFull sets payload to the full usable size.
func (b *Buffer) SetPayloadFull() { b.payloadEnd = b.headRoom + b.Size() }

// SetPayloadEmpty sets payload to zero.
func (b *Buffer) SetPayloadEmpty() { b.payloadEnd = b.headRoom }

// Bytes returns the backing slice for the current payload window, i.e.
// data[headRoom : headRoom+Payload()]. The returned slice aliases Buffer
// storage; callers must hold the owning Frame's lock.
func (b *Buffer) Bytes() []byte {
	return b.data[b.headRoom:b.payloadEnd]
}

// Raw returns the full backing region (for header/trailer field access by
// protocol stages that have not yet adjusted reservations).
func (b *Buffer) Raw() []byte { return b.data }

// Release returns the Buffer to its source Pool exactly once. Called when
// the owning Frame drops this Buffer (spec.md §4.A: "On return ... if meta
// has bit 31 set and bit 30 clear, the Pool forwards the index back to the
// DMA shim; otherwise the Buffer is placed on the heap free list").
func (b *Buffer) Release() {
	if b.returned || b.meta&constants.MetaReturnedBit != 0 {
		return
	}
	b.returned = true
	b.meta |= constants.MetaReturnedBit
	if b.source != nil {
		b.source.Return(b)
	}
}

func boundaryErr(op string) error {
	return &boundaryError{op: op}
}

// boundaryError is a minimal local error so internal/stream does not
// import the root package (which would create an import cycle); the root
// rogue.Error wraps these at the API boundary via rogue.WrapError.
type boundaryError struct{ op string }

func (e *boundaryError) Error() string { return e.op + ": out of range" }

// IsBoundary reports whether err was produced by a bounds check in this
// package.
func IsBoundary(err error) bool {
	_, ok := err.(*boundaryError)
	return ok
}
