package rogue

import (
	"sync"

	"github.com/slac-rogue/rogue/internal/memory"
	"github.com/slac-rogue/rogue/internal/stream"
)

// MockStreamSlave is a stream.Slave that records every Frame it receives
// instead of forwarding it anywhere, for asserting on a Master's output in
// tests without standing up a real downstream engine (matching the
// teacher's MockBackend call-tracking convention).
type MockStreamSlave struct {
	stream.BaseSlave

	mu      sync.Mutex
	frames  []*stream.Frame
	accepts int
}

// NewMockStreamSlave builds an empty MockStreamSlave.
func NewMockStreamSlave() *MockStreamSlave {
	return &MockStreamSlave{}
}

// AcceptFrame implements stream.Slave, recording f.
func (m *MockStreamSlave) AcceptFrame(f *stream.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepts++
	m.frames = append(m.frames, f)
	return nil
}

// Frames returns a snapshot of every Frame accepted so far.
func (m *MockStreamSlave) Frames() []*stream.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*stream.Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

// AcceptCount returns how many times AcceptFrame has been called.
func (m *MockStreamSlave) AcceptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepts
}

// Reset clears every recorded Frame and the call count.
func (m *MockStreamSlave) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
	m.accepts = 0
}

// MockMemorySlave is a memory.Slave backed by a plain address/byte-slice
// map, for exercising a Master's register access in tests without wiring
// a real AXI/SRP bridge.
type MockMemorySlave struct {
	*memory.BaseSlave

	mu          sync.Mutex
	store       map[uint64][]byte
	failAddress map[uint64]uint32
	calls       int
}

// NewMockMemorySlave builds an empty register store accepting sizeMin to
// sizeMax-byte accesses.
func NewMockMemorySlave(sizeMin, sizeMax uint32) *MockMemorySlave {
	return &MockMemorySlave{
		BaseSlave:   memory.NewBaseSlave(sizeMin, sizeMax),
		store:       make(map[uint64][]byte),
		failAddress: make(map[uint64]uint32),
	}
}

// FailAt makes every transaction touching address complete with code
// instead of being serviced, for exercising a Master's error handling.
func (m *MockMemorySlave) FailAt(address uint64, code uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAddress[address] = code
}

// DoTransaction implements memory.Slave: Write/Post store tran.Data at
// tran.Address; Read/Verify copy a previously stored value back, failing
// with ErrAddressError if the address was never written.
func (m *MockMemorySlave) DoTransaction(tran *memory.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if code, ok := m.failAddress[tran.Address]; ok {
		tran.Done(code)
		return
	}

	switch tran.Type {
	case memory.TypeWrite, memory.TypePost:
		buf := make([]byte, len(tran.Data))
		copy(buf, tran.Data)
		m.store[tran.Address] = buf
		tran.Done(0)
	case memory.TypeRead, memory.TypeVerify:
		buf, ok := m.store[tran.Address]
		if !ok || uint32(len(buf)) != tran.Size {
			tran.Done(memory.ErrAddressError)
			return
		}
		copy(tran.Data, buf)
		tran.Done(0)
	default:
		tran.Done(memory.ErrUnsupported)
	}
}

// CallCount returns how many transactions DoTransaction has serviced.
func (m *MockMemorySlave) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Peek returns the raw bytes currently stored at address, if any.
func (m *MockMemorySlave) Peek(address uint64) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.store[address]
	return buf, ok
}
