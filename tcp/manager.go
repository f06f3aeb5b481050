// Package tcp owns network connections for services of the loom runtime.
//
// A Manager belongs to exactly one service. It frames inbound bytes according
// to the selected Protocol and publishes every complete frame to the owning
// service as a message: Type Socket (or SocketWS), Header the decimal
// connection id, Payload the frame. Connection lifecycle events arrive as
// system messages: Header "accept" or "close" with a JSON body naming the
// connection id and, for closes, the cause.
//
// All Manager methods are called from the owning service (that is, on its
// worker loop); connection pumps and accept goroutines re-enter the loop by
// posting, and bail out once the owning service is gone.
package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/loom/actor"
	"github.com/teranos/loom/errors"
	"github.com/teranos/loom/logger"
)

// checkInterval is the cadence of the idle-timeout sweep.
const checkInterval = 10 * time.Second

// Manager owns an optional listening acceptor and a registry of connections
// keyed by 16-bit connection id.
type Manager struct {
	owner *actor.Context
	log   *zap.SugaredLogger

	protocol Protocol
	conns    map[uint32]conn
	connUID  uint32
	timeout  time.Duration
	checker  *time.Timer
	limiter  *rate.Limiter

	listener net.Listener
	wsServer *wsAcceptor
}

// NewManager creates a connection manager owned by the calling service and
// registers it as a component so it is torn down with the service.
func NewManager(owner *actor.Context) *Manager {
	m := &Manager{
		owner:   owner,
		log:     owner.Logger().Named("tcp"),
		conns:   make(map[uint32]conn),
		connUID: 1,
	}
	owner.AddComponent(m)
	return m
}

// SetProtocol selects the wire framing. Must be called before Listen.
func (m *Manager) SetProtocol(p Protocol) {
	m.protocol = p
}

// SetAcceptLimit caps the accept rate of permanent accept loops at perSecond;
// 0 removes the cap.
func (m *Manager) SetAcceptLimit(perSecond int) {
	if perSecond <= 0 {
		m.limiter = nil
		return
	}
	m.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

// SetTimeout arms the periodic idle checker: every connection idle for at
// least seconds is asked to close itself on the next sweep. 0 disables.
func (m *Manager) SetTimeout(seconds int) {
	m.timeout = time.Duration(seconds) * time.Second
	if m.timeout <= 0 {
		if m.checker != nil {
			m.checker.Stop()
			m.checker = nil
		}
		return
	}
	if m.checker == nil {
		m.armChecker()
	}
}

func (m *Manager) armChecker() {
	m.checker = time.AfterFunc(checkInterval, func() {
		m.owner.Post(func() {
			if !m.owner.Alive() || m.timeout <= 0 {
				return
			}
			now := time.Now()
			for _, c := range m.conns {
				c.timeoutCheck(now, m.timeout)
			}
			m.armChecker()
		})
	})
}

// Listen resolves and binds addr. For the default and WebSocket protocols it
// immediately begins accepting in a permanent accept loop; for the custom
// protocol acceptance is one-shot per AsyncAccept call.
func (m *Manager) Listen(ip, port string) error {
	if m.listener != nil {
		return errors.AssertionFailedf("listen called twice")
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(ip, port))
	if err != nil {
		m.log.Warnw("tcp bind error",
			logger.FieldAddress, net.JoinHostPort(ip, port),
			logger.FieldError, err)
		return errors.Wrapf(err, "failed to listen on %s", net.JoinHostPort(ip, port))
	}
	m.listener = ln
	m.log.Infow("listening",
		logger.FieldAddress, ln.Addr().String(),
		logger.FieldProtocol, m.protocol.String())

	switch m.protocol {
	case ProtocolDefault:
		m.AsyncAccept(0)
	case ProtocolWebSocket:
		m.wsServer = newWSAcceptor(m, ln)
		m.wsServer.serve()
	}
	return nil
}

// Addr returns the bound listener address, or "" when not listening. Useful
// with port 0.
func (m *Manager) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// AsyncAccept accepts one connection. With the custom protocol the requester
// receives the new connection id as text (response id negated) or an error
// reply; with the default protocol a successful accept chains the next one
// and an error only logs, leaving the listener open.
func (m *Manager) AsyncAccept(respid int32) {
	ln := m.listener
	if ln == nil {
		m.makeResponse("accept without listener", "error", respid, actor.TypeError)
		return
	}
	go func() {
		if m.limiter != nil {
			_ = m.limiter.Wait(context.Background())
		}
		sock, err := ln.Accept()
		m.owner.Post(func() {
			if !m.owner.Alive() {
				if sock != nil {
					sock.Close()
				}
				return
			}
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if m.protocol == ProtocolCustom {
					m.makeResponse(fmt.Sprintf("tcp accept error %v", err), "error", respid, actor.TypeError)
				} else {
					m.log.Warnw("tcp accept error", logger.FieldError, err)
				}
				return
			}
			id := m.register(m.newStreamConn(sock), true)
			if m.protocol == ProtocolCustom {
				m.makeResponse(strconv.FormatUint(uint64(id), 10), "", respid, actor.TypeText)
			} else {
				m.AsyncAccept(0)
			}
		})
	}()
}

// AsyncConnect dials asynchronously. The requester receives the connection id
// as text, or an error reply naming the transport failure.
func (m *Manager) AsyncConnect(ip, port string, respid int32) {
	addr := net.JoinHostPort(ip, port)
	proto := m.protocol
	go func() {
		c, err := m.dialConn(addr, proto)
		m.owner.Post(func() {
			if !m.owner.Alive() {
				if c != nil {
					c.close(true)
				}
				return
			}
			if err != nil {
				m.makeResponse(fmt.Sprintf("tcp connect error %v", err), "error", respid, actor.TypeError)
				return
			}
			id := m.register(c, false)
			m.makeResponse(strconv.FormatUint(uint64(id), 10), "", respid, actor.TypeText)
		})
	}()
}

// Connect dials synchronously and returns the new connection id, or 0 on
// failure.
func (m *Manager) Connect(ip, port string) uint32 {
	addr := net.JoinHostPort(ip, port)
	c, err := m.dialConn(addr, m.protocol)
	if err != nil {
		m.log.Warnw("tcp connect error",
			logger.FieldAddress, addr,
			logger.FieldError, err)
		return 0
	}
	return m.register(c, false)
}

// dialConn opens and, for WebSocket, handshakes an outbound connection.
func (m *Manager) dialConn(addr string, proto Protocol) (conn, error) {
	if proto == ProtocolWebSocket {
		wsc, err := dialWS(addr)
		if err != nil {
			return nil, err
		}
		return newWSConn(m, wsc), nil
	}
	sock, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return m.newStreamConn(sock), nil
}

// register inserts an established connection, starts its pumps, and announces
// the accept to the owning service for server-side default/WebSocket conns.
func (m *Manager) register(c conn, serverSide bool) uint32 {
	id := m.makeConnID()
	c.setID(id)
	m.conns[id] = c
	c.start(serverSide)
	m.log.Debugw("connection open",
		logger.FieldConnID, id,
		logger.FieldRemote, c.remoteAddr(),
		logger.FieldProtocol, m.protocol.String())
	if serverSide && m.protocol != ProtocolCustom {
		m.owner.Handle(&actor.Message{
			Receiver: m.owner.ID(),
			Type:     actor.TypeSystem,
			Header:   "accept",
			Payload:  []byte(fmt.Sprintf(`{"connid":%d,"remote":%q}`, id, c.remoteAddr())),
		})
	}
	return id
}

// newStreamConn wraps a raw TCP socket in the framer for the configured
// stream protocol. WebSocket conns are built from a handshaked
// websocket.Conn instead.
func (m *Manager) newStreamConn(sock net.Conn) conn {
	if m.protocol == ProtocolCustom {
		return newDelimConn(m, sock)
	}
	return newLenConn(m, sock)
}

// makeConnID allocates the next free connection id: a monotonic counter over
// 1..0xFFFF that skips ids still in use and never returns 0.
func (m *Manager) makeConnID() uint32 {
	for {
		id := m.connUID
		m.connUID++
		if m.connUID > 0xFFFF {
			m.connUID = 1
		}
		if _, inUse := m.conns[id]; !inUse {
			return id
		}
	}
}

// Read requests one frame from a custom-protocol connection, governed either
// by a byte count (n > 0) or a delimiter. At most one read may be outstanding
// per connection; a second request, or a request against an unknown or closed
// connection, yields an error reply with header "closed".
func (m *Manager) Read(connid uint32, n int, delim string, respid int32) {
	c, found := m.conns[connid]
	if found && c.read(readRequest{count: n, delim: delim, respid: respid}) {
		return
	}
	m.makeResponse("read an invalid socket", "closed", respid, actor.TypeError)
}

// Send enqueues data for transmission on a connection. Returns false when the
// connection is unknown or can no longer accept writes.
func (m *Manager) Send(connid uint32, data []byte) bool {
	c, found := m.conns[connid]
	if !found {
		return false
	}
	return c.send(data)
}

// Close gracefully closes a connection: pending writes flush first. Returns
// false when the connection is unknown; closing twice is safe.
func (m *Manager) Close(connid uint32) bool {
	c, found := m.conns[connid]
	if !found {
		return false
	}
	c.close(false)
	return true
}

// Remove force-closes a connection and erases it from the table.
func (m *Manager) Remove(connid uint32) {
	if c, found := m.conns[connid]; found {
		c.close(true)
		delete(m.conns, connid)
	}
}

// SetNoDelay disables Nagle on the connection; best-effort.
func (m *Manager) SetNoDelay(connid uint32) {
	c, found := m.conns[connid]
	if !found {
		return
	}
	if err := c.setNoDelay(); err != nil {
		m.log.Debugw("set_no_delay failed",
			logger.FieldConnID, connid,
			logger.FieldError, err)
	}
}

// ConnCount returns the number of live connections.
func (m *Manager) ConnCount() int {
	return len(m.conns)
}

// Destroy tears the manager down with its owning service: all connections
// force-close, the idle checker stops, and the acceptor closes.
func (m *Manager) Destroy() {
	for _, c := range m.conns {
		c.close(true)
	}
	m.conns = make(map[uint32]conn)
	if m.checker != nil {
		m.checker.Stop()
		m.checker = nil
	}
	if m.wsServer != nil {
		m.wsServer.shutdown()
		m.wsServer = nil
	}
	if m.listener != nil {
		m.listener.Close()
		m.listener = nil
	}
}

// makeResponse publishes an infrastructure reply to the owning service,
// negating respid per the request/response sign discipline. respid 0 means
// no reply is expected.
func (m *Manager) makeResponse(body, header string, respid int32, mtype actor.MsgType) {
	if respid == 0 {
		return
	}
	m.owner.Handle(&actor.Message{
		Receiver:   m.owner.ID(),
		ResponseID: -respid,
		Type:       mtype,
		Header:     header,
		Payload:    []byte(body),
	})
}

// deliverFrame publishes one complete inbound frame. Called from connection
// pump goroutines; Handle posts onto the owner's loop.
func (m *Manager) deliverFrame(connid uint32, payload []byte, mtype actor.MsgType, respid int32) {
	msg := &actor.Message{
		Receiver: m.owner.ID(),
		Type:     mtype,
		Header:   strconv.FormatUint(uint64(connid), 10),
		Payload:  payload,
	}
	if respid != 0 {
		msg.ResponseID = -respid
	}
	m.owner.Handle(msg)
}

// postClosed reports the end of a connection's read pump: the conn is erased
// and, unless the service itself initiated the close, a system message names
// the cause.
func (m *Manager) postClosed(c conn, reason string) {
	m.owner.Post(func() {
		if !m.owner.Alive() {
			return
		}
		cur, found := m.conns[c.id()]
		if !found || cur != c {
			return
		}
		delete(m.conns, c.id())
		m.log.Debugw("connection closed",
			logger.FieldConnID, c.id(),
			logger.FieldReason, reason)
		if !c.locallyClosed() {
			m.owner.Handle(&actor.Message{
				Receiver: m.owner.ID(),
				Type:     actor.TypeSystem,
				Header:   "close",
				Payload:  []byte(fmt.Sprintf(`{"connid":%d,"reason":%q}`, c.id(), reason)),
			})
		}
	})
}
