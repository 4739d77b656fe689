package dma

import (
	"fmt"
	"sync"

	"github.com/slac-rogue/rogue/internal/constants"
)

// fakeDevice is an in-memory stand-in for the DMA character device, used
// to exercise Pool/Engine/RegisterSlave without a real driver attached.
type fakeDevice struct {
	mu sync.Mutex

	buffSize  uint32
	buffers   [][]byte
	ready     []uint32 // indices currently filled and awaiting GetIndex
	returned  []uint32 // indices returned via RetIndex

	regs map[uint32]uint64

	debugLevel uint32
	mask       uint32
	maskBytes  []byte

	getIndexErr error
}

func newFakeDevice(bufSize uint32, count int) *fakeDevice {
	bufs := make([][]byte, count)
	for i := range bufs {
		bufs[i] = make([]byte, bufSize)
	}
	return &fakeDevice{
		buffSize: bufSize,
		buffers:  bufs,
		regs:     make(map[uint32]uint64),
	}
}

// fill marks index as hardware-filled and ready for GetIndex to return.
func (d *fakeDevice) fill(index uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.buffers[index], data)
	d.ready = append(d.ready, index)
}

func (d *fakeDevice) BuffCount() (uint32, error) { return uint32(len(d.buffers)), nil }
func (d *fakeDevice) BuffSize() (uint32, error)  { return d.buffSize, nil }
func (d *fakeDevice) Version() (uint32, error)   { return constants.DmaExpectedVersion, nil }

func (d *fakeDevice) SetDebug(level uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.debugLevel = level
	return nil
}

func (d *fakeDevice) SetMask(mask uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mask = mask
	return nil
}

func (d *fakeDevice) SetMaskBytes(mask []byte) error {
	if len(mask) != constants.DmaMaskBytesLen {
		return fmt.Errorf("bad mask length %d", len(mask))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maskBytes = append([]byte(nil), mask...)
	return nil
}

func (d *fakeDevice) GetIndex() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.getIndexErr != nil {
		return 0, d.getIndexErr
	}
	if len(d.ready) == 0 {
		// Allocate a fresh buffer index for transmit-side requests, which
		// never go through fill(): only receive-side completions need a
		// pre-filled buffer waiting.
		for i := range d.buffers {
			return uint32(i), nil
		}
		return 0, fmt.Errorf("no buffers configured")
	}
	idx := d.ready[0]
	d.ready = d.ready[1:]
	return idx, nil
}

func (d *fakeDevice) RetIndex(indices []uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.returned = append(d.returned, indices...)
	return nil
}

func (d *fakeDevice) ReadReady() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready) > 0, nil
}

func (d *fakeDevice) ReadRegister(addr uint32, is32 bool) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.regs[addr]
	if is32 {
		v &= 0xFFFFFFFF
	}
	return v, nil
}

func (d *fakeDevice) WriteRegister(addr uint32, value uint64, is32 bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if is32 {
		value &= 0xFFFFFFFF
	}
	d.regs[addr] = value
	return nil
}

func (d *fakeDevice) Buffer(index uint32) []byte {
	return d.buffers[index]
}

func (d *fakeDevice) Close() error { return nil }
