package stream

import "sync"

// Slave is the sink half of Rogue's stream fabric (spec.md §4.C): it
// accepts Frames pushed by a Master and can hand out Pool requests on the
// Master's behalf so producer and consumer share buffer sizing policy.
type Slave interface {
	// AcceptFrame delivers a completed Frame to the Slave. Implementations
	// must not block indefinitely; a full downstream queue is reported via
	// the returned error rather than blocking the calling Master forever.
	AcceptFrame(f *Frame) error

	// AcceptReq lets a Slave satisfy a buffer request on behalf of its
	// attached Masters, e.g. a packetizer Slave handing its Master
	// appropriately-sized segment buffers.
	AcceptReq(totalBytes uint32, zeroCopyOK bool) (*Frame, error)
}

// Master is the source half of the fabric: something that produces Frames
// and fans them out to every attached Slave.
type Master interface {
	AddSlave(s Slave)
	SendFrame(f *Frame) error
}

// BaseMaster implements the attach-list and fan-out behavior common to
// every Master in the pipeline (packetizer segmenters, RSSI senders, the
// DMA device itself). Concrete stages embed it and call SendFrame.
type BaseMaster struct {
	mu     sync.RWMutex
	slaves []Slave
}

// AddSlave attaches a Slave to receive Frames sent by this Master.
func (m *BaseMaster) AddSlave(s Slave) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slaves = append(m.slaves, s)
}

// ReqFrame asks the first attached Slave for a Frame sized to carry
// totalBytes, falling back to a bare stdlib allocation if no Slave is
// attached (matching Rogue's "no primary, use malloc" fallback).
func (m *BaseMaster) ReqFrame(totalBytes uint32, zeroCopyOK bool) (*Frame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.slaves) > 0 {
		return m.slaves[0].AcceptReq(totalBytes, zeroCopyOK)
	}
	return NewHeapPool(totalBytes).ReqFrame(totalBytes, zeroCopyOK)
}

// SendFrame fans f out to every attached Slave. The first Slave error is
// returned after every Slave has been given the chance to accept; callers
// that need strict backpressure from a single downstream should attach
// exactly one Slave.
func (m *BaseMaster) SendFrame(f *Frame) error {
	m.mu.RLock()
	slaves := append([]Slave(nil), m.slaves...)
	m.mu.RUnlock()

	var first error
	for _, s := range slaves {
		if err := s.AcceptFrame(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BaseSlave implements the primary-pool bookkeeping shared by Slave stages
// that originate Frames on a Master's behalf (spec.md §4.C "primary
// pool"). Embedding stages override AcceptFrame for their own logic and
// delegate AcceptReq to BaseSlave.AcceptReq.
type BaseSlave struct {
	pool Pool
}

// SetPool assigns the Pool this Slave draws Frames from when satisfying
// AcceptReq.
func (s *BaseSlave) SetPool(p Pool) { s.pool = p }

// AcceptReq satisfies a buffer request using the Slave's configured Pool,
// defaulting to a heap pool sized to totalBytes if none was set.
func (s *BaseSlave) AcceptReq(totalBytes uint32, zeroCopyOK bool) (*Frame, error) {
	if s.pool == nil {
		return NewHeapPool(totalBytes).ReqFrame(totalBytes, zeroCopyOK)
	}
	return s.pool.ReqFrame(totalBytes, zeroCopyOK)
}
