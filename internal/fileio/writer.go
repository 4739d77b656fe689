// Package fileio implements Rogue's on-disk Frame recorder/player,
// grounded on original_source's rogue::utilities::fileio::StreamWriter and
// StreamReader: a fixed binary record format of a 4-byte size field, a
// 4-byte meta field, and the payload bytes, with an optional ".N" rollover
// chain once a file grows past a configured size limit.
package fileio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/stream"
)

// sizeFieldSize and metaFieldSize are the two 4-byte fields that precede
// every record's payload, matching StreamWriter::writeFile /
// StreamReader::runThread's "size,meta,payload" framing. The size field's
// value itself is payload+metaFieldSize, matching writeFile's
// "size = frame->getPayload() + 4".
const (
	sizeFieldSize = 4
	metaFieldSize = 4
)

// Writer is a stream.Slave that appends every accepted Frame to a data
// file as one record, grounded on StreamWriter::writeFile/intWrite/
// checkSize/flush.
type Writer struct {
	stream.BaseSlave

	mu sync.Mutex

	baseName  string
	sizeLimit uint64
	fdIdx     int

	f  *os.File
	bw *bufio.Writer

	currSize  uint64
	totSize   uint64
	bankCount uint64
}

// NewWriter builds an unopened Writer with no size limit, matching
// StreamWriter::StreamWriter's zeroed defaults. Writes are always
// buffered through a bufio.Writer once a file is open.
func NewWriter() *Writer {
	return &Writer{}
}

// Open creates (or appends to an existing) data file at path,
// appending ".1" when a size limit is already configured, matching
// StreamWriter::open.
func (w *Writer) Open(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()

	w.baseName = path
	w.fdIdx = 1
	name := path
	if w.sizeLimit > 0 {
		name = rollName(path, w.fdIdx)
	}

	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return rogue.WrapError("fileio.Writer.Open", rogue.CodeOpen, err)
	}
	w.f = f
	w.bw = bufio.NewWriter(f)
	w.totSize = 0
	w.currSize = 0
	w.bankCount = 0
	return nil
}

// SetMaxSize sets the per-file byte limit, 0 disables rollover, matching
// StreamWriter::setMaxSize.
func (w *Writer) SetMaxSize(size uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sizeLimit = size
}

// Size returns the cumulative number of payload+header bytes written
// across every rolled file, matching StreamWriter::getSize.
func (w *Writer) Size() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totSize
}

// BankCount returns the number of records written, matching
// StreamWriter::getBankCount.
func (w *Writer) BankCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bankCount
}

// AcceptFrame appends frame to the open data file as one record, matching
// StreamWriter::writeFile.
func (w *Writer) AcceptFrame(frame *stream.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return rogue.NewError("fileio.Writer.AcceptFrame", rogue.CodeOpen, "writer is not open")
	}

	payload := frame.PayloadSize()
	size := payload + metaFieldSize

	if err := w.checkSizeLocked(uint64(size)); err != nil {
		return err
	}

	header := make([]byte, sizeFieldSize+metaFieldSize)
	binary.LittleEndian.PutUint32(header[0:4], size)
	meta := uint32(frame.Flags()) & 0xFFFF
	meta |= uint32(errByte(frame.Err())) << 16
	meta |= uint32(frame.Channel()) << 24
	binary.LittleEndian.PutUint32(header[4:8], meta)

	if err := w.writeLocked(header); err != nil {
		return err
	}
	data := make([]byte, payload)
	stream.ToFrame(frame, 0, int(payload), data)
	if err := w.writeLocked(data); err != nil {
		return err
	}

	w.bankCount++
	return nil
}

func (w *Writer) writeLocked(b []byte) error {
	n, err := w.bw.Write(b)
	w.currSize += uint64(n)
	w.totSize += uint64(n)
	if err != nil {
		return rogue.WrapError("fileio.Writer.write", rogue.CodeGeneral, err)
	}
	return nil
}

// checkSizeLocked rolls over to the next ".N" file when adding size bytes
// would exceed the configured limit, matching StreamWriter::checkSize.
func (w *Writer) checkSizeLocked(size uint64) error {
	if w.sizeLimit == 0 {
		return nil
	}
	if size > w.sizeLimit {
		return rogue.NewError("fileio.Writer.checkSize", rogue.CodeGeneral, "frame size is larger than file size limit")
	}
	if size+w.currSize <= w.sizeLimit {
		return nil
	}
	if err := w.bw.Flush(); err != nil {
		return rogue.WrapError("fileio.Writer.checkSize", rogue.CodeGeneral, err)
	}
	_ = w.f.Close()

	w.fdIdx++
	name := rollName(w.baseName, w.fdIdx)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return rogue.WrapError("fileio.Writer.checkSize", rogue.CodeOpen, err)
	}
	w.f = f
	w.bw = bufio.NewWriter(f)
	w.currSize = 0
	return nil
}

// Close flushes and closes the currently open file, matching
// StreamWriter::close.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) closeLocked() error {
	if w.f == nil {
		return nil
	}
	var err error
	if w.bw != nil {
		if ferr := w.bw.Flush(); ferr != nil {
			err = rogue.WrapError("fileio.Writer.Close", rogue.CodeGeneral, ferr)
		}
	}
	_ = w.f.Close()
	w.f = nil
	w.bw = nil
	return err
}

func rollName(base string, idx int) string {
	return fmt.Sprintf("%s.%d", base, idx)
}

func errByte(err error) byte {
	if err != nil {
		return 1
	}
	return 0
}
