package xvc

import (
	"encoding/binary"
	"net"
	"strconv"
	"time"

	"github.com/slac-rogue/rogue"
)

const readTimeout = time.Second

// Connection is the per-client protocol engine, grounded on
// rogue::protocols::xilinx::XvcConnection. It owns a single TCP
// connection's buffered rx/tx state and runs the getinfo/settck/shift
// command loop until the peer disconnects.
type Connection struct {
	conn      net.Conn
	drv       Driver
	maxVecLen uint64

	rxb   []byte
	rp    int
	rl    uint64
	txb   []byte
	tl    uint64
	chunk uint64

	supVecLen uint64
}

func newConnection(conn net.Conn, drv Driver, maxVecLen uint64) *Connection {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Connection{conn: conn, drv: drv, maxVecLen: maxVecLen}
}

// readTo issues a single read bounded by readTimeout, matching
// XvcConnection::readTo's select()-with-timeout behavior: a timeout with
// no data is treated the same as any other read failure by the caller.
func (c *Connection) readTo(buf []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		return n, err
	}
	return n, nil
}

// fill ensures the rx window holds at least n octets, reading more from
// the socket as needed, matching XvcConnection::fill.
func (c *Connection) fill(n uint64) error {
	if n <= c.rl {
		return nil
	}
	p := c.rp + int(c.rl)
	k := n - c.rl
	for k > 0 {
		got, err := c.readTo(c.rxb[p : p+int(k)])
		if err != nil {
			return rogue.WrapError("xvc.Connection.fill", rogue.CodeNetwork, err)
		}
		if got <= 0 {
			return rogue.NewError("xvc.Connection.fill", rogue.CodeNetwork, "unable to read from socket")
		}
		k -= uint64(got)
		p += got
	}
	c.rl = n
	return nil
}

// bump marks n octets as consumed, matching XvcConnection::bump.
func (c *Connection) bump(n uint64) {
	c.rp += int(n)
	c.rl -= n
	if c.rl == 0 {
		c.rp = 0
	}
}

// allocBufs sizes the rx/tx windows from the driver's and target's
// reported vector limits, matching XvcConnection::allocBufs.
func (c *Connection) allocBufs() {
	const overhead = 128

	tgtVecLen := c.drv.Query()
	if tgtVecLen == 0 {
		tgtVecLen = c.maxVecLen
	}

	c.supVecLen = c.drv.MaxVectorSize()
	if c.supVecLen == 0 {
		c.supVecLen = tgtVecLen
	} else if tgtVecLen < c.supVecLen {
		c.supVecLen = tgtVecLen
	}

	c.chunk = 2*c.maxVecLen + overhead
	c.rxb = make([]byte, 2*c.chunk)
	c.txb = make([]byte, c.maxVecLen+overhead)
	c.rp = 0
	c.rl = 0
	c.tl = 0
}

// flush writes the pending tx window to the socket, matching
// XvcConnection::flush.
func (c *Connection) flush() error {
	p := c.txb[:c.tl]
	for len(p) > 0 {
		n, err := c.conn.Write(p)
		if err != nil {
			return rogue.WrapError("xvc.Connection.flush", rogue.CodeNetwork, err)
		}
		p = p[n:]
	}
	c.tl = 0
	return nil
}

// Run drives the getinfo/settck/shift command loop until the driver is
// done or the connection fails, matching XvcConnection::run.
func (c *Connection) Run() error {
	defer c.conn.Close()

	c.allocBufs()

	for !c.drv.IsDone() {
		got, err := c.readTo(c.rxb[c.rp : c.rp+int(c.chunk)])
		if err != nil {
			return rogue.WrapError("xvc.Connection.Run", rogue.CodeNetwork, err)
		}
		if got <= 0 {
			return rogue.NewError("xvc.Connection.Run", rogue.CodeNetwork, "unable to read from socket")
		}
		c.rl = uint64(got)

		for {
			if err := c.fill(2); err != nil {
				return err
			}
			cmd := string(c.rxb[c.rp : c.rp+2])

			switch cmd {
			case "ge":
				if err := c.handleGetInfo(); err != nil {
					return err
				}
			case "se":
				if err := c.handleSetTck(); err != nil {
					return err
				}
			case "sh":
				if err := c.handleShift(); err != nil {
					return err
				}
			default:
				return rogue.NewError("xvc.Connection.Run", rogue.CodeProtocolError, "unsupported message received")
			}

			if err := c.flush(); err != nil {
				return err
			}
			if c.rl == 0 {
				break
			}
		}
	}
	return nil
}

func (c *Connection) handleGetInfo() error {
	if err := c.fill(8); err != nil {
		return err
	}
	c.drv.Query()

	reply := "xvcServer_v1.0:" + strconv.FormatUint(c.maxVecLen, 10) + "\n"
	c.tl = uint64(copy(c.txb, reply))

	c.bump(8)
	return nil
}

func (c *Connection) handleSetTck() error {
	if err := c.fill(11); err != nil {
		return err
	}
	requested := uint32(c.rxb[c.rp+10])<<24 | uint32(c.rxb[c.rp+9])<<16 | uint32(c.rxb[c.rp+8])<<8 | uint32(c.rxb[c.rp+7])

	newPeriod := c.drv.SetPeriodNs(requested)
	binary.LittleEndian.PutUint32(c.txb[0:4], newPeriod)
	c.tl = 4

	c.bump(11)
	return nil
}

func (c *Connection) handleShift() error {
	if err := c.fill(10); err != nil {
		return err
	}

	var bits uint32
	for got := 9; got >= 6; got-- {
		bits = (bits << 8) | uint32(c.rxb[c.rp+got])
	}
	bytes := uint64(bits+7) / 8

	if bytes > c.maxVecLen {
		return rogue.NewError("xvc.Connection.handleShift", rogue.CodeProtocolError, "requested bit vector length too big")
	}

	c.bump(10)
	if err := c.fill(2 * bytes); err != nil {
		return err
	}

	vecLen := bytes
	if vecLen > c.supVecLen {
		vecLen = c.supVecLen
	}

	var off uint64
	bitsLeft := bits
	for bitsLeft > 0 {
		bitsSent := uint32(8 * vecLen)
		if uint64(bitsLeft) < uint64(bitsSent) {
			bitsSent = bitsLeft
		}
		tms := c.rxb[c.rp+int(off) : c.rp+int(off)+int(vecLen)]
		tdi := c.rxb[c.rp+int(bytes)+int(off) : c.rp+int(bytes)+int(off)+int(vecLen)]
		tdo := c.txb[off : off+vecLen]
		if err := c.drv.SendVectors(bitsSent, tms, tdi, tdo); err != nil {
			return rogue.WrapError("xvc.Connection.handleShift", rogue.CodeGeneral, err)
		}
		bitsLeft -= bitsSent
		off += vecLen
	}
	c.tl = bytes

	c.bump(2 * bytes)
	return nil
}
