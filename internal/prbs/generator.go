// Package prbs implements Rogue's PRBS test-data generator/checker: a
// stream Master+Slave that produces and verifies self-describing
// pseudo-random frames, grounded on original_source's
// rogue::utilities::Prbs and its PrbsData Fibonacci LFSR helper.
package prbs

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/stream"
)

// Widths Prbs.cpp accepts for setWidth, in bits.
const (
	Width32  = 32
	Width64  = 64
	Width128 = 128
)

// defaultTaps mirrors Prbs::Prbs's 4-tap default LFSR.
var defaultTaps = []uint32{1, 2, 6, 31}

// Generator is both a stream.Master (generated frames go out through
// SendFrame/attached Slaves) and a stream.Slave (frames received on
// AcceptFrame are checked against the same sequence), matching
// rogue::utilities::Prbs's dual role.
type Generator struct {
	stream.BaseMaster
	stream.BaseSlave

	log *logging.Logger

	mu        sync.Mutex
	width     uint32
	byteWidth uint32
	minSize   uint32
	taps      []uint32

	checkPayload bool
	genPayload   bool
	sendCount    bool

	rxSeq      uint32
	rxErrCount atomic.Uint64
	rxCount    atomic.Uint64
	rxBytes    atomic.Uint64

	txSeq      uint32
	txErrCount atomic.Uint64
	txCount    atomic.Uint64
	txBytes    atomic.Uint64

	genMu   sync.Mutex
	genSize uint32
	genStop chan struct{}
	genDone sync.WaitGroup
}

// New builds a Generator with the default 32-bit width and 4-tap LFSR,
// matching Prbs::Prbs's defaults.
func New() *Generator {
	g := &Generator{
		log:          logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[prbs] "}),
		width:        Width32,
		byteWidth:    Width32 / 8,
		minSize:      (Width32 / 8) * 3,
		taps:         append([]uint32(nil), defaultTaps...),
		checkPayload: true,
		genPayload:   true,
	}
	return g
}

// SetWidth sets the LFSR register width in bits (32, 64, or 128), matching
// Prbs::setWidth, and recomputes the minimum valid frame size
// (byteWidth*3: sequence word, size word, at least one payload word).
func (g *Generator) SetWidth(width uint32) error {
	if width != Width32 && width != Width64 && width != Width128 {
		return rogue.NewError("prbs.SetWidth", rogue.CodeGeneral, "invalid width")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.width = width
	g.byteWidth = width / 8
	g.minSize = g.byteWidth * 3
	return nil
}

// SetTaps replaces the LFSR tap positions, matching Prbs::setTaps.
func (g *Generator) SetTaps(taps []uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.taps = append([]uint32(nil), taps...)
}

// CheckPayload toggles payload verification on receive, default true.
func (g *Generator) CheckPayload(state bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkPayload = state
}

// GenPayload toggles payload generation on send, default true.
func (g *Generator) GenPayload(state bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.genPayload = state
}

// SendCount makes generated payload words an incrementing counter instead
// of LFSR output, matching Prbs::sendCount — useful for isolating framing
// bugs from the LFSR itself.
func (g *Generator) SendCount(state bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sendCount = state
}

// ResetCount zeroes every rx/tx counter, matching Prbs::resetCount.
func (g *Generator) ResetCount() {
	g.rxErrCount.Store(0)
	g.rxCount.Store(0)
	g.rxBytes.Store(0)
	g.txErrCount.Store(0)
	g.txCount.Store(0)
	g.txBytes.Store(0)
}

func (g *Generator) RxErrors() uint64 { return g.rxErrCount.Load() }
func (g *Generator) RxCount() uint64  { return g.rxCount.Load() }
func (g *Generator) RxBytes() uint64  { return g.rxBytes.Load() }
func (g *Generator) TxErrors() uint64 { return g.txErrCount.Load() }
func (g *Generator) TxCount() uint64  { return g.txCount.Load() }
func (g *Generator) TxBytes() uint64  { return g.txBytes.Load() }

// Enable starts a background goroutine that calls GenFrame(size) in a
// tight loop until Disable is called, matching Prbs::enable/runThread.
func (g *Generator) Enable(size uint32) error {
	g.mu.Lock()
	byteWidth, minSize := g.byteWidth, g.minSize
	g.mu.Unlock()
	if size%byteWidth != 0 || size < minSize {
		return rogue.NewError("prbs.Enable", rogue.CodeGeneral, "invalid frame size")
	}

	g.genMu.Lock()
	defer g.genMu.Unlock()
	if g.genStop != nil {
		return nil
	}
	g.genSize = size
	g.genStop = make(chan struct{})
	g.genDone.Add(1)
	go g.runGen(g.genStop)
	return nil
}

// Disable stops the background generator goroutine started by Enable.
func (g *Generator) Disable() {
	g.genMu.Lock()
	stop := g.genStop
	g.genStop = nil
	g.genMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	g.genDone.Wait()
}

func (g *Generator) runGen(stop chan struct{}) {
	defer g.genDone.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := g.GenFrame(g.genSize); err != nil {
			g.log.Warnf("generator stopped: %v", err)
			return
		}
	}
}

// le32Field returns a byteWidth-long little-endian field carrying v in its
// low 4 bytes and zero above, matching the original's practice of writing
// byteWidth_ bytes out of a zeroed 16-byte uint32[4] buffer.
func le32Field(v uint32, byteWidth uint32) []byte {
	buf := make([]byte, byteWidth)
	binary.LittleEndian.PutUint32(buf[:4], v)
	return buf
}

// GenFrame builds and sends one PRBS frame of size bytes: a sequence
// word, a size word, and genPayload-gated LFSR (or counter) payload words,
// matching Prbs::genFrame.
func (g *Generator) GenFrame(size uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if size%g.byteWidth != 0 || size < g.minSize {
		return rogue.NewError("prbs.GenFrame", rogue.CodeGeneral, "invalid frame size")
	}

	seq := g.txSeq
	sizeWord := (size / g.byteWidth) - 1

	frame, err := g.ReqFrame(size, true)
	if err != nil {
		return rogue.WrapError("prbs.GenFrame", rogue.CodeAllocation, err)
	}

	off := uint32(0)
	stream.FromFrame(frame, off, int(g.byteWidth), le32Field(seq, g.byteWidth))
	off += g.byteWidth
	stream.FromFrame(frame, off, int(g.byteWidth), le32Field(sizeWord, g.byteWidth))
	off += g.byteWidth

	if g.genPayload {
		state := newLFSR(g.width, uint64(seq))
		var wordCount uint32
		for off < size {
			var word []byte
			if g.sendCount {
				word = le32Field(wordCount, g.byteWidth)
			} else {
				step(state, g.taps)
				word = state.bytes(g.byteWidth)
			}
			stream.FromFrame(frame, off, int(g.byteWidth), word)
			off += g.byteWidth
			wordCount++
		}
	}

	if err := frame.SetPayload(size, true); err != nil {
		return rogue.WrapError("prbs.GenFrame", rogue.CodeBoundary, err)
	}
	if err := g.SendFrame(frame); err != nil {
		return rogue.WrapError("prbs.GenFrame", rogue.CodeGeneral, err)
	}

	g.txSeq++
	g.txCount.Add(1)
	g.txBytes.Add(uint64(size))
	return nil
}

// AcceptFrame verifies an incoming frame's framing, sequence, and (if
// enabled) LFSR payload against the expected PRBS sequence, matching
// Prbs::acceptFrame.
func (g *Generator) AcceptFrame(frame *stream.Frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	size := frame.PayloadSize()
	if size%g.byteWidth != 0 || size < g.minSize {
		g.log.Warnf("size violation size=%d, count=%d", size, g.rxCount.Load())
		g.rxErrCount.Add(1)
		return nil
	}

	seqField := make([]byte, g.byteWidth)
	stream.ToFrame(frame, 0, int(g.byteWidth), seqField)
	seq := binary.LittleEndian.Uint32(seqField[:4])

	expSeq := g.rxSeq
	g.rxSeq = seq + 1

	sizeField := make([]byte, g.byteWidth)
	stream.ToFrame(frame, g.byteWidth, int(g.byteWidth), sizeField)
	sizeWord := binary.LittleEndian.Uint32(sizeField[:4])
	expSize := (sizeWord + 1) * g.byteWidth

	if expSize != size {
		g.log.Warnf("bad size. exp=%d, got=%d, count=%d", expSize, size, g.rxCount.Load())
		g.rxErrCount.Add(1)
		return nil
	}

	// Accept any sequence if our local count is zero; an incoming frame
	// with seq=0 is never an error and is treated as a restart.
	if seq != 0 && expSeq != 0 && seq != expSeq {
		g.log.Warnf("bad sequence. cur=%d, got=%d, count=%d", expSeq, seq, g.rxCount.Load())
		g.rxErrCount.Add(1)
		return nil
	}

	if g.checkPayload {
		state := newLFSR(g.width, uint64(seq))
		off := 2 * g.byteWidth
		pos := 0
		got := make([]byte, g.byteWidth)
		for off < size {
			step(state, g.taps)
			stream.ToFrame(frame, off, int(g.byteWidth), got)
			exp := state.bytes(g.byteWidth)
			for i := range exp {
				if got[i] != exp[i] {
					g.log.Warnf("bad value at index %d. count=%d, size=%d", pos, g.rxCount.Load(), (size/g.byteWidth)-1)
					g.rxErrCount.Add(1)
					return nil
				}
			}
			off += g.byteWidth
			pos++
		}
	}

	g.rxCount.Add(1)
	g.rxBytes.Add(uint64(size))
	return nil
}
