// Package transport implements Rogue's external socket collaborators: the
// UDP client/server stream bridge and the raw TCP memory-transaction
// bridge (spec.md §6), built on net and golang.org/x/sys/unix in the
// teacher's raw-syscall style rather than a framework.
package transport

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/constants"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/stream"
)

// udpRxSize is the fixed receive buffer used by UDPClient (UDPServer
// sizes its receive buffer from maxSize instead),
// matching original_source's Client::RX_SIZE constant.
const udpRxSize = 2 * 1024 * 1024

// UDPClient is a stream.Master/stream.Slave bridging a Frame pipeline to a
// single fixed remote UDP peer, grounded on original_source's
// rogue::protocols::udp::Client.
type UDPClient struct {
	stream.BaseMaster
	stream.BaseSlave

	conn    *net.UDPConn
	maxSize uint32
	timeout time.Duration

	log     *logging.Logger
	metrics rogue.Metrics

	mu   sync.Mutex
	stop chan struct{}
	done sync.WaitGroup
}

// NewUDPClient opens a UDP socket connected to host:port and starts its
// receive loop. maxSize bounds how large a single request buffer may be,
// matching Client::maxSize_.
func NewUDPClient(host string, port uint16, maxSize uint32) (*UDPClient, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, portString(port)))
	if err != nil {
		return nil, rogue.WrapError("transport.NewUDPClient", rogue.CodeNetwork, err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, rogue.WrapError("transport.NewUDPClient", rogue.CodeNetwork, err)
	}

	c := &UDPClient{
		conn:    conn,
		maxSize: maxSize,
		timeout: 10 * time.Second,
		log:     logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[udp.client] "}),
		stop:    make(chan struct{}),
	}
	c.done.Add(1)
	go c.rxLoop()
	return c, nil
}

// SetTimeout sets the write deadline applied to outbound frames, matching
// Client::setTimeout. A zero duration is clamped to 1ns, as the original
// clamps a zero microsecond value up to 1.
func (c *UDPClient) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		d = time.Nanosecond
	}
	c.timeout = d
}

// AcceptReq implements stream.Slave, sizing request buffers to at most
// maxSize bytes, matching Client::acceptReq's maxBuffSize clamp.
func (c *UDPClient) AcceptReq(totalBytes uint32, zeroCopyOK bool) (*stream.Frame, error) {
	max := c.maxSize
	if max == 0 {
		max = constants.DefaultPoolBufferSize
	}
	return stream.NewHeapPool(max).ReqFrame(totalBytes, zeroCopyOK)
}

// AcceptFrame implements stream.Slave: writes every Buffer in f to the
// remote peer as one datagram per Buffer, matching Client::acceptFrame's
// per-buffer sendmsg loop.
func (c *UDPClient) AcceptFrame(f *stream.Frame) error {
	c.mu.Lock()
	timeout := c.timeout
	c.mu.Unlock()

	for i := 0; i < f.BufferCount(); i++ {
		buf := f.BufferAt(i)
		payload := make([]byte, buf.Payload())
		stream.ToFrame(f, sumPayload(f, i), len(payload), payload)

		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return rogue.WrapError("transport.UDPClient.AcceptFrame", rogue.CodeNetwork, err)
		}
		if _, err := c.conn.Write(payload); err != nil {
			return rogue.WrapError("transport.UDPClient.AcceptFrame", rogue.CodeTimeout, err)
		}
		c.metrics.TxBytes.Add(uint64(len(payload)))
		c.metrics.TxFrames.Add(1)
	}
	return nil
}

// Metrics returns the client's counters.
func (c *UDPClient) Metrics() *rogue.Metrics { return &c.metrics }

func (c *UDPClient) rxLoop() {
	defer c.done.Done()
	rx := make([]byte, udpRxSize)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(100 * time.Microsecond)); err != nil {
			c.log.Warnf("set read deadline: %v", err)
			return
		}
		n, err := c.conn.Read(rx)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if n <= 0 {
			continue
		}

		frame, ferr := c.ReqFrame(uint32(n), false)
		if ferr != nil {
			c.log.Warnf("ReqFrame failed: %v", ferr)
			continue
		}
		stream.FromFrame(frame, 0, n, rx[:n])
		_ = frame.SetPayload(uint32(n), true)
		c.metrics.RxBytes.Add(uint64(n))
		c.metrics.RxFrames.Add(1)
		if err := c.SendFrame(frame); err != nil {
			c.log.Debugf("SendFrame error: %v", err)
		}
	}
}

// Close stops the receive loop and closes the underlying socket.
func (c *UDPClient) Close() error {
	close(c.stop)
	c.done.Wait()
	return c.conn.Close()
}

// UDPServer is the server-side counterpart of UDPClient: it binds a local
// port, tracks the most recent remote sender, and replies to that sender
// on AcceptFrame, grounded on original_source's
// rogue::protocols::udp::Server.
type UDPServer struct {
	stream.BaseMaster
	stream.BaseSlave

	conn    *net.UDPConn
	maxSize uint32
	timeout time.Duration

	log     *logging.Logger
	metrics rogue.Metrics

	mu     sync.Mutex
	remote *net.UDPAddr
	stop   chan struct{}
	done   sync.WaitGroup
}

// NewUDPServer binds to port (0 lets the kernel assign one) and starts its
// receive loop, matching Server::Server.
func NewUDPServer(port uint16, maxSize uint32) (*UDPServer, error) {
	laddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort("0.0.0.0", portString(port)))
	if err != nil {
		return nil, rogue.WrapError("transport.NewUDPServer", rogue.CodeNetwork, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, rogue.WrapError("transport.NewUDPServer", rogue.CodeNetwork, err)
	}

	s := &UDPServer{
		conn:    conn,
		maxSize: maxSize,
		timeout: 10 * time.Second,
		log:     logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[udp.server] "}),
		stop:    make(chan struct{}),
	}
	s.done.Add(1)
	go s.rxLoop()
	return s, nil
}

// Port returns the bound local port, resolving a kernel-assigned port the
// same way Server::getPort exposes one requested with port=0.
func (s *UDPServer) Port() uint16 {
	return uint16(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

// SetTimeout sets the write deadline applied to outbound frames. Zero
// clears the write deadline, so a send waits as long as the socket does.
func (s *UDPServer) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// SetRxSize requests a kernel receive buffer of size bytes via
// SO_RCVBUF, raising a warning if the kernel grants less, matching
// Server::setRxSize.
func (s *UDPServer) SetRxSize(size int) (bool, error) {
	fd := netfd.GetFdFromConn(s.conn)
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size); err != nil {
		return false, rogue.WrapError("transport.UDPServer.SetRxSize", rogue.CodeNetwork, err)
	}
	got, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	if err != nil {
		return false, rogue.WrapError("transport.UDPServer.SetRxSize", rogue.CodeNetwork, err)
	}
	if got < size {
		s.log.Errorf("error setting rx buffer size: wanted %d got %d", size, got)
		s.log.Errorf("sudo sysctl -w net.core.rmem_max=%d to increase in kernel", size)
		return false, nil
	}
	return true, nil
}

// AcceptReq implements stream.Slave, as UDPClient.AcceptReq.
func (s *UDPServer) AcceptReq(totalBytes uint32, zeroCopyOK bool) (*stream.Frame, error) {
	max := s.maxSize
	if max == 0 {
		max = constants.DefaultPoolBufferSize
	}
	return stream.NewHeapPool(max).ReqFrame(totalBytes, zeroCopyOK)
}

// AcceptFrame implements stream.Slave: sends f to the last remote address
// seen by the receive loop, matching Server::acceptFrame.
func (s *UDPServer) AcceptFrame(f *stream.Frame) error {
	s.mu.Lock()
	remote := s.remote
	timeout := s.timeout
	s.mu.Unlock()
	if remote == nil {
		return rogue.NewError("transport.UDPServer.AcceptFrame", rogue.CodeNetwork, "no remote peer seen yet")
	}

	for i := 0; i < f.BufferCount(); i++ {
		buf := f.BufferAt(i)
		if buf.Payload() == 0 {
			break
		}
		payload := make([]byte, buf.Payload())
		stream.ToFrame(f, sumPayload(f, i), len(payload), payload)

		if timeout > 0 {
			if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return rogue.WrapError("transport.UDPServer.AcceptFrame", rogue.CodeNetwork, err)
			}
		} else {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}
		if _, err := s.conn.WriteToUDP(payload, remote); err != nil {
			return rogue.WrapError("transport.UDPServer.AcceptFrame", rogue.CodeTimeout, err)
		}
		s.metrics.TxBytes.Add(uint64(len(payload)))
		s.metrics.TxFrames.Add(1)
	}
	return nil
}

// Metrics returns the server's counters.
func (s *UDPServer) Metrics() *rogue.Metrics { return &s.metrics }

func (s *UDPServer) rxLoop() {
	defer s.done.Done()
	rx := make([]byte, s.bufSize())
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(100 * time.Microsecond)); err != nil {
			s.log.Warnf("set read deadline: %v", err)
			return
		}
		n, addr, err := s.conn.ReadFromUDP(rx)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if n <= 0 {
			continue
		}

		s.mu.Lock()
		s.remote = addr
		s.mu.Unlock()

		frame, ferr := s.ReqFrame(uint32(n), false)
		if ferr != nil {
			s.log.Warnf("ReqFrame failed: %v", ferr)
			continue
		}
		stream.FromFrame(frame, 0, n, rx[:n])
		_ = frame.SetPayload(uint32(n), true)
		s.metrics.RxBytes.Add(uint64(n))
		s.metrics.RxFrames.Add(1)
		if err := s.SendFrame(frame); err != nil {
			s.log.Debugf("SendFrame error: %v", err)
		}
	}
}

func (s *UDPServer) bufSize() uint32 {
	if s.maxSize == 0 {
		return constants.DefaultPoolBufferSize
	}
	return s.maxSize
}

// Close stops the receive loop and closes the underlying socket.
func (s *UDPServer) Close() error {
	close(s.stop)
	s.done.Wait()
	return s.conn.Close()
}

func sumPayload(f *stream.Frame, uptoExclusive int) uint32 {
	var total uint32
	for i := 0; i < uptoExclusive; i++ {
		total += f.BufferAt(i).Payload()
	}
	return total
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}
