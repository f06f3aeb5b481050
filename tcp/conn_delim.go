package tcp

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/loom/actor"
	"github.com/teranos/loom/logger"
)

// delimConn speaks the custom protocol: nothing is read until the owning
// service requests a frame, governed by a byte count or a delimiter. The
// bufio reader persists across requests, so bytes read beyond one frame
// remain a valid prefix of the next.
type delimConn struct {
	baseConn
	sock net.Conn
	r    *bufio.Reader

	reqs      chan readRequest
	pending   atomic.Bool
	quit      chan struct{}
	closeOnce sync.Once
}

func newDelimConn(m *Manager, sock net.Conn) *delimConn {
	c := &delimConn{
		sock: sock,
		r:    bufio.NewReader(sock),
		reqs: make(chan readRequest, 1),
		quit: make(chan struct{}),
	}
	c.m = m
	c.trace = uuid.New().String()
	c.out = newBufQueue()
	c.log = m.owner.Logger().Named("tcp").With(logger.FieldTraceID, c.trace)
	c.touch()
	return c
}

func (c *delimConn) remoteAddr() string {
	return c.sock.RemoteAddr().String()
}

func (c *delimConn) start(serverSide bool) {
	go c.readLoop()
	go c.writeLoop()
}

func (c *delimConn) readLoop() {
	for {
		select {
		case req := <-c.reqs:
			data, err := c.readOne(req)
			if err != nil {
				c.m.postClosed(c, c.closeReason(readErrText(err)))
				return
			}
			c.touch()
			c.m.deliverFrame(c.connID, data, actor.TypeSocket, req.respid)
			c.pending.Store(false)
		case <-c.quit:
			c.m.postClosed(c, c.closeReason("closed"))
			return
		}
	}
}

// readOne satisfies a single request: count bytes exactly, or everything up
// to and including the delimiter.
func (c *delimConn) readOne(req readRequest) ([]byte, error) {
	if req.count > 0 {
		buf := make([]byte, req.count)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	delim := []byte(req.delim)
	var data []byte
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)
		if bytes.HasSuffix(data, delim) {
			return data, nil
		}
	}
}

func (c *delimConn) writeLoop() {
	c.runWriteLoop(func(buf []byte) error {
		_, err := c.sock.Write(buf)
		return err
	}, func() { c.sock.Close() })
}

// read submits a request. At most one may be outstanding; a second request,
// or one against a closed connection, is rejected.
func (c *delimConn) read(req readRequest) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	if req.count <= 0 && req.delim == "" {
		return false
	}
	if !c.pending.CompareAndSwap(false, true) {
		return false
	}
	select {
	case c.reqs <- req:
		return true
	default:
		c.pending.Store(false)
		return false
	}
}

// send enqueues raw bytes; the custom protocol adds no framing.
func (c *delimConn) send(data []byte) bool {
	return c.out.push(data)
}

func (c *delimConn) close(force bool) {
	c.local.Store(true)
	c.closeOnce.Do(func() { close(c.quit) })
	if force {
		c.sock.Close()
	}
	c.out.close()
}

func (c *delimConn) timeoutCheck(now time.Time, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	if c.idleFor(now) >= timeout {
		c.setReason("idle timeout")
		c.closeOnce.Do(func() { close(c.quit) })
		c.sock.Close()
		c.out.close()
	}
}

func (c *delimConn) setNoDelay() error {
	return setNoDelayOn(c.sock)
}
