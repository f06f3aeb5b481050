package tcp

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/loom/actor"
	"github.com/teranos/loom/logger"
)

// maxFrameSize bounds a length-prefixed frame; the 2-byte header cannot
// express more.
const maxFrameSize = 0xFFFF

// lenConn speaks the default protocol: every frame is a 2-byte big-endian
// payload length followed by the payload, in both directions.
type lenConn struct {
	baseConn
	sock net.Conn
}

func newLenConn(m *Manager, sock net.Conn) *lenConn {
	c := &lenConn{sock: sock}
	c.m = m
	c.trace = uuid.New().String()
	c.out = newBufQueue()
	c.log = m.owner.Logger().Named("tcp").With(logger.FieldTraceID, c.trace)
	c.touch()
	return c
}

func (c *lenConn) remoteAddr() string {
	return c.sock.RemoteAddr().String()
}

func (c *lenConn) start(serverSide bool) {
	go c.readLoop()
	go c.writeLoop()
}

func (c *lenConn) readLoop() {
	r := bufio.NewReader(c.sock)
	var header [2]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			c.m.postClosed(c, c.closeReason(readErrText(err)))
			return
		}
		size := binary.BigEndian.Uint16(header[:])
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			c.m.postClosed(c, c.closeReason(readErrText(err)))
			return
		}
		c.touch()
		c.m.deliverFrame(c.connID, payload, actor.TypeSocket, 0)
	}
}

func (c *lenConn) writeLoop() {
	c.runWriteLoop(func(buf []byte) error {
		_, err := c.sock.Write(buf)
		return err
	}, func() { c.sock.Close() })
}

// read is unsupported: the default protocol frames implicitly.
func (c *lenConn) read(req readRequest) bool {
	return false
}

// send frames data with the 2-byte length header and enqueues it.
func (c *lenConn) send(data []byte) bool {
	if len(data) > maxFrameSize {
		c.log.Warnw("frame too large", logger.FieldSize, len(data))
		return false
	}
	framed := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(framed, uint16(len(data)))
	copy(framed[2:], data)
	return c.out.push(framed)
}

func (c *lenConn) close(force bool) {
	c.local.Store(true)
	if force {
		c.sock.Close()
	}
	c.out.close()
}

func (c *lenConn) timeoutCheck(now time.Time, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	if c.idleFor(now) >= timeout {
		c.setReason("idle timeout")
		c.sock.Close()
		c.out.close()
	}
}

func (c *lenConn) setNoDelay() error {
	return setNoDelayOn(c.sock)
}

// readErrText maps the error ending a read pump to a close cause.
func readErrText(err error) string {
	if err == io.EOF {
		return "closed by peer"
	}
	return "read: " + err.Error()
}
