package dma

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/stream"
)

// Engine is the receive-side completion loop for the DMA collaborator: it
// repeatedly blocks on GetIndex for a hardware-filled buffer, wraps it as a
// single-Buffer Frame, and fans it out to attached Slaves exactly as
// rogue::hardware::axi::AxiStreamDma's read thread hands buffers up to the
// Pgp/Rssi layer. Structurally this is the teacher's internal/queue.Runner
// ioLoop (one goroutine per device; the goroutine is not locked to an OS
// thread) retargeted from COMMIT_AND_FETCH_REQ completions to DMA
// ReadReady/GetIndex completions.
type Engine struct {
	stream.BaseMaster

	dev  Device
	pool *Pool
	log  *logging.Logger

	metrics rogue.Metrics

	running atomic.Bool
	stop    chan struct{}
	done    sync.WaitGroup
}

// NewEngine builds a receive Engine over dev.
func NewEngine(dev Device) (*Engine, error) {
	pool, err := NewPool(dev)
	if err != nil {
		return nil, err
	}
	return &Engine{
		dev:  dev,
		pool: pool,
		log:  logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[dma] "}),
		stop: make(chan struct{}),
	}, nil
}

// Pool exposes the Engine's hardware-backed stream.Pool so other stages
// (the packetizer, RSSI) can size their own ReqFrame requests against it
// when DMA buffers are the primary pool.
func (e *Engine) Pool() *Pool { return e.pool }

// Metrics exposes the engine's counters for Prometheus registration.
func (e *Engine) Metrics() *rogue.Metrics { return &e.metrics }

// Start launches the completion loop in its own goroutine. Calling Start
// twice is a no-op.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.done.Add(1)
	go e.loop()
}

// Stop signals the completion loop to exit and waits for it to return.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stop)
	e.done.Wait()
}

func (e *Engine) loop() {
	defer e.done.Done()
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		ready, err := e.dev.ReadReady()
		if err != nil {
			e.log.Warnf("ReadReady failed: %v", err)
			e.metrics.DropCount.Add(1)
			time.Sleep(time.Millisecond)
			continue
		}
		if !ready {
			time.Sleep(time.Millisecond)
			continue
		}

		frame, err := e.pool.ReqFrame(0, true)
		if err != nil {
			e.log.Warnf("GetIndex failed: %v", err)
			e.metrics.DropCount.Add(1)
			continue
		}

		buf := frame.BufferAt(0)
		buf.SetPayloadFull()
		e.metrics.RxFrames.Add(1)
		e.metrics.RxBytes.Add(uint64(buf.Payload()))

		if err := e.SendFrame(frame); err != nil {
			e.log.Debugf("SendFrame error: %v", err)
		}
	}
}
