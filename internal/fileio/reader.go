package fileio

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/stream"
)

// Reader is a stream.Master that plays back a Writer-produced data file
// (or rollover chain), grounded on StreamReader::open/runThread/nextFile.
type Reader struct {
	stream.BaseMaster

	log *logging.Logger

	mu       sync.Mutex
	baseName string
	fdIdx    int
	f        *os.File
	active   bool
	done     chan struct{}
}

// NewReader builds an unopened Reader.
func NewReader() *Reader {
	return &Reader{
		log: logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[fileio.reader] "}),
	}
}

// Open starts playback of path in a background goroutine, resolving a
// rollover chain's starting index from a trailing ".1" the way
// StreamReader::open does.
func (r *Reader) Open(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intCloseLocked()

	if strings.HasSuffix(path, ".1") {
		r.fdIdx = 1
		r.baseName = strings.TrimSuffix(path, ".1")
	} else {
		r.fdIdx = 0
		r.baseName = path
	}

	f, err := os.Open(path)
	if err != nil {
		return rogue.WrapError("fileio.Reader.Open", rogue.CodeOpen, err)
	}
	r.f = f
	r.active = true
	r.done = make(chan struct{})
	go r.runThread(r.done)
	return nil
}

// IsOpen reports whether a file is currently open for reading.
func (r *Reader) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f != nil
}

// IsActive reports whether the playback goroutine is still running,
// matching StreamReader::isActive.
func (r *Reader) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Close stops playback immediately and closes the open file, matching
// StreamReader::close.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intCloseLocked()
	return nil
}

// CloseWait blocks until playback reaches end of the rollover chain (or
// hits an error), then closes, matching StreamReader::closeWait.
func (r *Reader) CloseWait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intCloseLocked()
	return nil
}

func (r *Reader) intCloseLocked() {
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
}

// nextFile advances to the next file in the rollover chain, matching
// StreamReader::nextFile. Returns false once there is no chain (fdIdx==0)
// or the next file cannot be opened.
func (r *Reader) nextFile() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	} else {
		return false
	}
	if r.fdIdx == 0 {
		return false
	}

	r.fdIdx++
	f, err := os.Open(rollName(r.baseName, r.fdIdx))
	if err != nil {
		return false
	}
	r.f = f
	return true
}

// runThread reads size/meta/payload records and sends each as a Frame,
// matching StreamReader::runThread.
func (r *Reader) runThread(done chan struct{}) {
	defer close(done)
	defer func() {
		r.mu.Lock()
		r.intCloseLocked()
		r.active = false
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()
		f := r.f
		r.mu.Unlock()
		if f == nil {
			return
		}

		if !r.readFile(f) {
			return
		}
		if !r.nextFile() {
			return
		}
	}
}

// readFile reads every record from f until EOF or a framing error,
// returning false when playback should stop (a short read, matching
// StreamReader::runThread setting the frame error and aborting).
func (r *Reader) readFile(f *os.File) bool {
	br := bufio.NewReader(f)
	header := make([]byte, sizeFieldSize+metaFieldSize)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			return true // clean EOF: fall through to the next rollover file
		}
		size := binary.LittleEndian.Uint32(header[0:4])
		meta := binary.LittleEndian.Uint32(header[4:8])
		if size == 0 {
			r.log.Warnf("bad size read %d", size)
			return false
		}
		if size <= metaFieldSize {
			continue
		}
		payload := size - metaFieldSize

		flags := meta & 0xFFFF
		errCode := uint8((meta >> 16) & 0xFF)
		chanTag := uint8((meta >> 24) & 0xFF)

		frame, err := r.ReqFrame(payload, true)
		if err != nil {
			r.log.Warnf("failed to allocate frame: %v", err)
			return false
		}
		frame.SetFlags(flags)
		frame.SetChannel(chanTag)
		if errCode != 0 {
			frame.SetErr(rogue.NewError("fileio.Reader.readFile", rogue.CodeProtocolError, "record carried an error flag"))
		}

		data := make([]byte, payload)
		if _, err := io.ReadFull(br, data); err != nil {
			r.log.Warnf("short read after %d bytes", len(data))
			frame.SetErr(rogue.NewError("fileio.Reader.readFile", rogue.CodeGeneral, "short read"))
			_ = r.SendFrame(frame)
			return false
		}
		stream.FromFrame(frame, 0, int(payload), data)
		if err := frame.SetPayload(payload, true); err != nil {
			r.log.Warnf("failed to set payload: %v", err)
			return false
		}

		if err := r.SendFrame(frame); err != nil {
			r.log.Warnf("failed to forward frame: %v", err)
		}
	}
}
