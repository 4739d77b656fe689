package dma

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/slac-rogue/rogue/internal/constants"
)

// realDevice is the unix-backed Device: an open character device fd plus
// its mmap'd buffer region and register window, addressed exactly as
// spec.md §6 describes ("mmap offsets [0 .. buffer_size*buffer_count)
// expose DMA buffers; offsets beyond expose a register window").
type realDevice struct {
	fd         int
	buffCount  uint32
	buffSize   uint32
	bufRegion  []byte // mmap'd DMA buffer region
	regRegion  []byte // mmap'd register window, immediately past bufRegion
}

// Open opens path (typically /dev/rogue-dma) and mmaps its buffer and
// register regions, sized from an initial GetBuffCount/GetBuffSize probe.
func Open(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("dma: open %s: %w", path, err)
	}

	d := &realDevice{fd: fd}

	version, err := d.Version()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dma: get version: %w", err)
	}
	if version != constants.DmaExpectedVersion {
		unix.Close(fd)
		return nil, fmt.Errorf("dma: unsupported driver version 0x%x (want 0x%x)", version, constants.DmaExpectedVersion)
	}

	count, err := d.BuffCount()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dma: get buff count: %w", err)
	}
	size, err := d.BuffSize()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dma: get buff size: %w", err)
	}
	d.buffCount, d.buffSize = count, size

	bufLen := int(count) * int(size)
	buf, err := unix.Mmap(fd, 0, bufLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dma: mmap buffer region: %w", err)
	}
	d.bufRegion = buf

	reg, err := unix.Mmap(fd, int64(bufLen), int(unix.Getpagesize()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(buf)
		unix.Close(fd)
		return nil, fmt.Errorf("dma: mmap register window: %w", err)
	}
	d.regRegion = reg

	return d, nil
}

// ioctl issues one of spec.md §6's opcodes against req, following the
// driver's in-place argument convention (ReadWriteReq is filled in and read
// back by the kernel driver across a single call).
func (d *realDevice) ioctl(op uint32, req *ReadWriteReq) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(op), uintptr(unsafe.Pointer(req)))
	if errno != 0 {
		return errno
	}
	if req.Error != 0 {
		fifo, length, max, bus, eofe := DecodeError(req.Error)
		return fmt.Errorf("dma: ioctl 0x%x reported error bits 0x%x (fifo=%v len=%v max=%v bus=%v eofe=%v)",
			op, req.Error, fifo, length, max, bus, eofe)
	}
	return nil
}

func (d *realDevice) BuffCount() (uint32, error) {
	var req ReadWriteReq
	if err := d.ioctl(constants.DmaGetBuffCount, &req); err != nil {
		return 0, err
	}
	return req.Ret, nil
}

func (d *realDevice) BuffSize() (uint32, error) {
	var req ReadWriteReq
	if err := d.ioctl(constants.DmaGetBuffSize, &req); err != nil {
		return 0, err
	}
	return req.Ret, nil
}

func (d *realDevice) Version() (uint32, error) {
	var req ReadWriteReq
	if err := d.ioctl(constants.DmaGetVersion, &req); err != nil {
		return 0, err
	}
	return req.Ret, nil
}

func (d *realDevice) SetDebug(level uint32) error {
	req := ReadWriteReq{Dest: level}
	return d.ioctl(constants.DmaSetDebug, &req)
}

func (d *realDevice) SetMask(mask uint32) error {
	req := ReadWriteReq{Dest: mask}
	return d.ioctl(constants.DmaSetMask, &req)
}

func (d *realDevice) SetMaskBytes(mask []byte) error {
	if len(mask) != constants.DmaMaskBytesLen {
		return fmt.Errorf("dma: mask must be %d bytes, got %d", constants.DmaMaskBytesLen, len(mask))
	}
	req := ReadWriteReq{
		Data: uint64(uintptr(unsafe.Pointer(&mask[0]))),
		Size: uint32(len(mask)),
	}
	return d.ioctl(constants.DmaSetMaskBytes, &req)
}

func (d *realDevice) GetIndex() (uint32, error) {
	var req ReadWriteReq
	if err := d.ioctl(constants.DmaGetIndex, &req); err != nil {
		return 0, err
	}
	return req.Index, nil
}

// RetIndex returns indices to the driver's free list. The opcode's command
// word carries the count in its upper 16 bits per spec.md §6; only one
// index is returned per call here, issued once per element, since the
// in-place ReadWriteReq carries a single Index field.
func (d *realDevice) RetIndex(indices []uint32) error {
	for _, idx := range indices {
		req := ReadWriteReq{Index: idx}
		op := constants.DmaRetIndex | (1 << 16)
		if err := d.ioctl(uint32(op), &req); err != nil {
			return err
		}
	}
	return nil
}

func (d *realDevice) ReadReady() (bool, error) {
	var req ReadWriteReq
	if err := d.ioctl(constants.DmaReadReady, &req); err != nil {
		return false, err
	}
	return req.Ret != 0, nil
}

func (d *realDevice) ReadRegister(addr uint32, is32 bool) (uint64, error) {
	req := ReadWriteReq{Dest: addr}
	if is32 {
		req.Is32 = 1
	}
	if err := d.ioctl(constants.DmaReadRegister, &req); err != nil {
		return 0, err
	}
	return uint64(req.Ret), nil
}

func (d *realDevice) WriteRegister(addr uint32, value uint64, is32 bool) error {
	req := ReadWriteReq{Dest: addr, Data: value}
	if is32 {
		req.Is32 = 1
	}
	return d.ioctl(constants.DmaWriteRegister, &req)
}

func (d *realDevice) Buffer(index uint32) []byte {
	off := int(index) * int(d.buffSize)
	return d.bufRegion[off : off+int(d.buffSize)]
}

func (d *realDevice) Close() error {
	if d.bufRegion != nil {
		unix.Munmap(d.bufRegion)
		d.bufRegion = nil
	}
	if d.regRegion != nil {
		unix.Munmap(d.regRegion)
		d.regRegion = nil
	}
	return unix.Close(d.fd)
}
