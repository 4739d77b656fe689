// Package memory implements Rogue's register-access fabric: Transactions
// carried from a Master to a Slave across an addressable memory space,
// per spec.md §4.D.
package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/slac-rogue/rogue/internal/constants"
)

// Transaction types, re-exported from internal/constants for callers that
// only need the memory package.
const (
	TypeRead   = constants.TranRead
	TypeWrite  = constants.TranWrite
	TypePost   = constants.TranPost
	TypeVerify = constants.TranVerify
)

var classIdx atomic.Uint32

// Transaction carries one register access: an address, a byte count, a
// transfer type, and the caller's data buffer. It is completed exactly
// once by the Slave that services it, which unblocks any Waiter.
type Transaction struct {
	id      uint32
	Address uint64
	Size    uint32
	Type    uint32
	Data    []byte

	deadline time.Time

	mu    sync.Mutex
	cond  *sync.Cond
	done  bool
	err   uint32
}

// NewTransaction allocates a Transaction with a process-unique id, mirroring
// rim::Transaction's classIdx_ counter (ids start at 1; 0 is reserved to
// mean "any transaction" in Master.WaitTransaction).
func NewTransaction(address uint64, size uint32, data []byte, typ uint32, timeout time.Duration) *Transaction {
	t := &Transaction{
		id:      nextID(),
		Address: address,
		Size:    size,
		Type:    typ,
		Data:    data,
	}
	t.cond = sync.NewCond(&t.mu)
	if timeout > 0 {
		t.deadline = time.Now().Add(timeout)
	}
	return t
}

func nextID() uint32 {
	for {
		id := classIdx.Add(1)
		if id != 0 {
			return id
		}
	}
}

// ID returns the Transaction's process-unique identifier.
func (t *Transaction) ID() uint32 { return t.id }

// Done marks the Transaction complete with the given terminal error code
// (0 means success), and wakes any goroutine blocked in Wait. The caller
// must not hold t's lock.
func (t *Transaction) Done(errCode uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.err = errCode
	t.done = true
	t.cond.Broadcast()
}

// Wait blocks until the Transaction completes or its deadline passes,
// returning the terminal error code (0 on success, memory.ErrTimeout on
// expiry).
func (t *Transaction) Wait() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.done {
		if !t.deadline.IsZero() {
			remaining := time.Until(t.deadline)
			if remaining <= 0 {
				t.done = true
				t.err = ErrTimeout
				break
			}
			timer := time.AfterFunc(remaining, t.cond.Broadcast)
			t.cond.Wait()
			timer.Stop()
			continue
		}
		t.cond.Wait()
	}
	return t.err
}

// ErrTimeout is the terminal error code used when a Transaction's deadline
// elapses before a Slave completes it, matching rim::TimeoutError.
const ErrTimeout = 0xFFFFFFFF
