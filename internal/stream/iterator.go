package stream

// FrameIterator is a random-access iterator over a Frame's payload bytes,
// transparently crossing Buffer boundaries. It mirrors rogue::interfaces::
// stream::FrameIterator's full operator set (spec.md §4.B), which Go
// expresses as methods rather than overloaded operators.
type FrameIterator struct {
	frame  *Frame
	bufIdx int // index into frame.buffers
	bufOff int // byte offset within buffers[bufIdx]'s payload
}

func (it *FrameIterator) currentBuffer() (*Buffer, bool) {
	if it.frame == nil || it.bufIdx >= len(it.frame.buffers) {
		return nil, false
	}
	return it.frame.buffers[it.bufIdx], true
}

// normalize rolls bufOff forward/backward across Buffer boundaries so it
// lands within [0, payload) of buffers[bufIdx]. In the last Buffer it may
// rest at bufOff == payload, the same absolute position as End(); an index
// already past the last Buffer is clamped to the End() sentinel
// (bufIdx == len(buffers), bufOff == 0).
func (it *FrameIterator) normalize() {
	for {
		if it.bufIdx >= len(it.frame.buffers) {
			it.bufIdx = len(it.frame.buffers)
			it.bufOff = 0
			return
		}
		size := int(it.frame.buffers[it.bufIdx].Payload())
		if it.bufOff < 0 {
			it.bufIdx--
			if it.bufIdx < 0 {
				it.bufIdx = 0
				it.bufOff = 0
				return
			}
			it.bufOff += int(it.frame.buffers[it.bufIdx].Payload())
			continue
		}
		if it.bufOff >= size && it.bufIdx < len(it.frame.buffers)-1 {
			it.bufOff -= size
			it.bufIdx++
			continue
		}
		return
	}
}

// Deref reads the byte at the iterator's current position. Panics if the
// iterator is at End(), matching the C++ precondition of dereferencing
// end().
func (it *FrameIterator) Deref() byte {
	b, ok := it.currentBuffer()
	if !ok {
		panic("stream: deref of end iterator")
	}
	return b.Bytes()[it.bufOff]
}

// SetDeref writes the byte at the iterator's current position.
func (it *FrameIterator) SetDeref(v byte) {
	b, ok := it.currentBuffer()
	if !ok {
		panic("stream: deref of end iterator")
	}
	b.Bytes()[it.bufOff] = v
}

// Inc advances the iterator by one byte (prefix ++).
func (it *FrameIterator) Inc() *FrameIterator {
	it.bufOff++
	it.normalize()
	return it
}

// Dec retreats the iterator by one byte (prefix --).
func (it *FrameIterator) Dec() *FrameIterator {
	it.bufOff--
	it.normalize()
	return it
}

// Advance moves the iterator by n bytes, n may be negative (operator+=
// / operator-=).
func (it *FrameIterator) Advance(n int64) *FrameIterator {
	if n == 0 || it.frame == nil {
		return it
	}
	if n > 0 {
		for n > 0 {
			b, ok := it.currentBuffer()
			if !ok {
				break
			}
			remaining := int64(b.Payload()) - int64(it.bufOff)
			if remaining > n {
				it.bufOff += int(n)
				return it
			}
			n -= remaining
			it.bufIdx++
			it.bufOff = 0
		}
		return it
	}
	n = -n
	for n > 0 {
		if int64(it.bufOff) >= n {
			it.bufOff -= int(n)
			return it
		}
		n -= int64(it.bufOff)
		it.bufIdx--
		if it.bufIdx < 0 {
			it.bufIdx = 0
			it.bufOff = 0
			return it
		}
		it.bufOff = int(it.frame.buffers[it.bufIdx].Payload())
	}
	return it
}

// Plus returns a new iterator advanced by n bytes, leaving it unmodified
// (operator+).
func (it *FrameIterator) Plus(n int64) *FrameIterator {
	cp := *it
	return cp.Advance(n)
}

// Minus returns a new iterator retreated by n bytes (operator- with an
// integer offset).
func (it *FrameIterator) Minus(n int64) *FrameIterator {
	return it.Plus(-n)
}

// Diff returns the signed byte distance from other to it (operator- between
// two iterators): it - other.
func (it *FrameIterator) Diff(other *FrameIterator) int64 {
	return it.absPos() - other.absPos()
}

// absPos computes the iterator's absolute byte offset from the Frame's
// start by summing full-buffer payloads before bufIdx.
func (it *FrameIterator) absPos() int64 {
	var pos int64
	for i := 0; i < it.bufIdx && i < len(it.frame.buffers); i++ {
		pos += int64(it.frame.buffers[i].Payload())
	}
	return pos + int64(it.bufOff)
}

// Eq, Lt, Le, Gt, Ge implement the iterator's relational comparisons
// (operator==, <, <=, >, >=), all defined in terms of absolute position
// within the same Frame.
func (it *FrameIterator) Eq(other *FrameIterator) bool { return it.Diff(other) == 0 }
func (it *FrameIterator) Lt(other *FrameIterator) bool { return it.Diff(other) < 0 }
func (it *FrameIterator) Le(other *FrameIterator) bool { return it.Diff(other) <= 0 }
func (it *FrameIterator) Gt(other *FrameIterator) bool { return it.Diff(other) > 0 }
func (it *FrameIterator) Ge(other *FrameIterator) bool { return it.Diff(other) >= 0 }

// RemainingInBuffer returns the contiguous byte slice left in the current
// Buffer from the iterator's position, useful for batched copies that
// want to avoid per-byte Deref/SetDeref.
func (it *FrameIterator) RemainingInBuffer() []byte {
	b, ok := it.currentBuffer()
	if !ok {
		return nil
	}
	return b.Bytes()[it.bufOff:]
}
