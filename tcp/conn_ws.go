package tcp

import (
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/loom/actor"
	"github.com/teranos/loom/logger"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to complete the opening handshake
	handshakeWait = 10 * time.Second
)

// wsConn speaks WebSocket. The handshake has already completed by the time a
// wsConn exists: the acceptor upgrades inbound HTTP requests, dialWS
// handshakes outbound dials.
type wsConn struct {
	baseConn
	ws *websocket.Conn
}

func newWSConn(m *Manager, wsc *websocket.Conn) *wsConn {
	c := &wsConn{ws: wsc}
	c.m = m
	c.trace = uuid.New().String()
	c.out = newBufQueue()
	c.log = m.owner.Logger().Named("tcp").With(logger.FieldTraceID, c.trace)
	c.touch()
	return c
}

func (c *wsConn) remoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *wsConn) start(serverSide bool) {
	go c.readLoop()
	go c.writeLoop()
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.m.postClosed(c, c.closeReason(wsErrText(err)))
			return
		}
		c.touch()
		c.m.deliverFrame(c.connID, data, actor.TypeSocketWS, 0)
	}
}

func (c *wsConn) writeLoop() {
	c.runWriteLoop(func(buf []byte) error {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		return c.ws.WriteMessage(websocket.BinaryMessage, buf)
	}, func() {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.ws.Close()
	})
}

// read is unsupported: WebSocket frames implicitly.
func (c *wsConn) read(req readRequest) bool {
	return false
}

// send enqueues one binary WebSocket message.
func (c *wsConn) send(data []byte) bool {
	return c.out.push(data)
}

func (c *wsConn) close(force bool) {
	c.local.Store(true)
	if force {
		c.ws.Close()
	}
	c.out.close()
}

func (c *wsConn) timeoutCheck(now time.Time, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	if c.idleFor(now) >= timeout {
		c.setReason("idle timeout")
		c.ws.Close()
		c.out.close()
	}
}

func (c *wsConn) setNoDelay() error {
	return setNoDelayOn(c.ws.NetConn())
}

// wsErrText maps the error ending a WebSocket read pump to a close cause.
func wsErrText(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return "closed by peer"
	}
	return "read: " + err.Error()
}

// wsAcceptor runs the HTTP upgrade endpoint for a WebSocket listener. Every
// successful upgrade is posted to the owning worker loop for registration.
type wsAcceptor struct {
	m        *Manager
	srv      *http.Server
	ln       net.Listener
	upgrader websocket.Upgrader
}

func newWSAcceptor(m *Manager, ln net.Listener) *wsAcceptor {
	a := &wsAcceptor{
		m:  m,
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: handshakeWait,
			// The manager fronts trusted service traffic, not browsers;
			// origin policy belongs to the hosting layer
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	a.srv = &http.Server{Handler: a}
	return a
}

func (a *wsAcceptor) serve() {
	go func() {
		if err := a.srv.Serve(a.ln); err != nil && err != http.ErrServerClosed {
			a.m.log.Warnw("websocket acceptor stopped", logger.FieldError, err)
		}
	}()
}

func (a *wsAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.m.limiter != nil && !a.m.limiter.Allow() {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	wsc, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.m.log.Warnw("websocket upgrade failed",
			logger.FieldRemote, r.RemoteAddr,
			logger.FieldError, err)
		return
	}
	a.m.owner.Post(func() {
		if !a.m.owner.Alive() {
			wsc.Close()
			return
		}
		a.m.register(newWSConn(a.m, wsc), true)
	})
}

func (a *wsAcceptor) shutdown() {
	a.srv.Close()
}

// dialWS performs an outbound WebSocket handshake against a host:port.
func dialWS(addr string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeWait}
	wsc, _, err := dialer.Dial("ws://"+addr+"/", nil)
	return wsc, err
}
