package memory

import (
	"sync"
	"time"
)

// Master is the register-access originator (spec.md §4.D): something that
// posts Transactions to an attached Slave and can block for their
// completion. Concrete protocol bridges (SRP v3) embed BaseMaster.
type BaseMaster struct {
	mu      sync.Mutex
	slave   Slave
	timeout time.Duration
	lastErr uint32

	tranMu sync.Mutex
	trans  map[uint32]*Transaction
}

// NewBaseMaster builds a BaseMaster with no attached Slave and Rogue's
// default one-second transaction timeout.
func NewBaseMaster() *BaseMaster {
	return &BaseMaster{
		timeout: time.Second,
		trans:   make(map[uint32]*Transaction),
	}
}

// SetSlave attaches the Slave this Master posts transactions to.
func (m *BaseMaster) SetSlave(s Slave) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slave = s
}

// SetTimeout overrides the default per-transaction timeout.
func (m *BaseMaster) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// LastError returns the most recent terminal error code observed by
// WaitTransaction, matching rim::Master::getError.
func (m *BaseMaster) LastError() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ReqTransaction posts a transaction to the attached Slave and returns
// its id immediately; the caller must eventually call WaitTransaction
// with that id (or 0, to wait for every in-flight transaction).
func (m *BaseMaster) ReqTransaction(address uint64, size uint32, data []byte, typ uint32) uint32 {
	m.mu.Lock()
	slave := m.slave
	timeout := m.timeout
	m.mu.Unlock()

	tran := NewTransaction(address, size, data, typ, timeout)

	m.tranMu.Lock()
	m.trans[tran.ID()] = tran
	m.tranMu.Unlock()

	if slave != nil {
		slave.DoTransaction(tran)
	} else {
		tran.Done(ErrUnsupported)
	}
	return tran.ID()
}

// WaitTransaction blocks until the transaction with the given id
// completes, or until every in-flight transaction has completed if id is
// 0 (rim::Master::waitTransaction's "drain the whole map" mode). Returns
// the transaction's terminal error code (for id 0, the first non-zero
// code seen), 0 on success.
func (m *BaseMaster) WaitTransaction(id uint32) uint32 {
	if id != 0 {
		m.tranMu.Lock()
		tran := m.trans[id]
		delete(m.trans, id)
		m.tranMu.Unlock()

		if tran == nil {
			return 0
		}

		errCode := tran.Wait()
		if errCode != 0 {
			m.mu.Lock()
			m.lastErr = errCode
			m.mu.Unlock()
		}
		return errCode
	}

	// id == 0: drain every in-flight transaction (rim::Master::
	// waitTransaction's "wait for all" mode, a while(1){ begin() } loop
	// over the transaction map), keeping the first non-zero error seen.
	var firstErr uint32
	for {
		m.tranMu.Lock()
		var tran *Transaction
		var key uint32
		for k, v := range m.trans {
			key, tran = k, v
			break
		}
		if tran != nil {
			delete(m.trans, key)
		}
		m.tranMu.Unlock()

		if tran == nil {
			return firstErr
		}

		errCode := tran.Wait()
		if errCode != 0 {
			m.mu.Lock()
			m.lastErr = errCode
			m.mu.Unlock()
			if firstErr == 0 {
				firstErr = errCode
			}
		}
	}
}

// CopyBits copies size bits from src (starting at srcLsb) into dst
// (starting at dstLsb), matching rim::Master::copyBits's bit-level
// register packing used by the SRP/EPICS variable layer.
func CopyBits(dst []byte, dstLsb uint32, src []byte, srcLsb uint32, size uint32) {
	for i := uint32(0); i < size; i++ {
		s := srcLsb + i
		d := dstLsb + i
		bit := (src[s/8] >> (s % 8)) & 0x1
		if bit != 0 {
			dst[d/8] |= 1 << (d % 8)
		} else {
			dst[d/8] &^= 1 << (d % 8)
		}
	}
}

// SetBits sets size bits starting at lsb within dst to 1, matching
// rim::Master::setBits.
func SetBits(dst []byte, lsb uint32, size uint32) {
	for i := uint32(0); i < size; i++ {
		d := lsb + i
		dst[d/8] |= 1 << (d % 8)
	}
}

// AnyBits reports whether any of the size bits starting at lsb within src
// are set, matching rim::Master::anyBits.
func AnyBits(src []byte, lsb uint32, size uint32) bool {
	for i := uint32(0); i < size; i++ {
		s := lsb + i
		if (src[s/8]>>(s%8))&0x1 != 0 {
			return true
		}
	}
	return false
}
