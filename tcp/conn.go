package tcp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// readRequest asks a custom-protocol connection for one frame: either count
// bytes or everything up to and including delim. respid is the positive
// response id of the requesting call; the satisfied read replies with its
// negation.
type readRequest struct {
	count  int
	delim  string
	respid int32
}

// conn is the per-protocol connection behind a Manager. Manager calls run on
// the owning worker loop; the conn's own pump goroutines call back into the
// manager only by posting.
type conn interface {
	id() uint32
	setID(uint32)

	// start spawns the read/write pumps. serverSide distinguishes accepted
	// connections from dialed ones.
	start(serverSide bool)

	// read submits a read request (custom protocol only). False when the
	// connection is closed, already has an outstanding request, or does not
	// support explicit reads.
	read(req readRequest) bool

	// send enqueues one outbound payload. False when the connection is closed
	// or the payload cannot be framed.
	send(data []byte) bool

	// close shuts the connection down. force drops pending writes; otherwise
	// the writer flushes first.
	close(force bool)

	// timeoutCheck closes the connection if it has been idle for at least
	// timeout. A sweep with timeout<=0 is a no-op.
	timeoutCheck(now time.Time, timeout time.Duration)

	setNoDelay() error
	locallyClosed() bool
	remoteAddr() string
}

// bufQueue is the unbounded outbound queue between send (worker loop) and a
// connection's write pump.
type bufQueue struct {
	mu     sync.Mutex
	q      [][]byte
	spare  [][]byte
	wake   chan struct{}
	closed bool
}

func newBufQueue() *bufQueue {
	return &bufQueue{wake: make(chan struct{}, 1)}
}

func (b *bufQueue) push(buf []byte) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.q = append(b.q, buf)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

func (b *bufQueue) take() [][]byte {
	b.mu.Lock()
	batch := b.q
	b.q = b.spare[:0]
	b.mu.Unlock()
	b.spare = batch
	return batch
}

func (b *bufQueue) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *bufQueue) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// baseConn carries the state shared by every protocol variant: identity, the
// outbound queue, the activity stamp for idle sweeps, and the close
// bookkeeping that decides which close reason reaches the owning service.
type baseConn struct {
	m      *Manager
	connID uint32
	trace  string
	log    *zap.SugaredLogger

	out        *bufQueue
	local      atomic.Bool // closed by the owning service, not the peer
	lastActive atomic.Int64

	reasonMu sync.Mutex
	reason   string
}

func (b *baseConn) id() uint32          { return b.connID }
func (b *baseConn) setID(id uint32)     { b.connID = id }
func (b *baseConn) locallyClosed() bool { return b.local.Load() }

// touch stamps the connection as active; called on every read and write.
func (b *baseConn) touch() {
	b.lastActive.Store(time.Now().UnixNano())
}

func (b *baseConn) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, b.lastActive.Load()))
}

// setReason records the first close cause; later causes are ignored.
func (b *baseConn) setReason(reason string) {
	b.reasonMu.Lock()
	if b.reason == "" {
		b.reason = reason
	}
	b.reasonMu.Unlock()
}

// closeReason resolves the cause reported to the owning service: the first
// recorded reason wins over whatever error ended the read pump.
func (b *baseConn) closeReason(readErr string) string {
	b.reasonMu.Lock()
	defer b.reasonMu.Unlock()
	if b.reason != "" {
		return b.reason
	}
	return readErr
}

// runWriteLoop drains the outbound queue through write until the queue closes
// (graceful close: flush, then close the socket) or a write fails.
func (b *baseConn) runWriteLoop(write func([]byte) error, closeSock func()) {
	for {
		batch := b.out.take()
		for _, buf := range batch {
			if err := write(buf); err != nil {
				b.setReason("write: " + err.Error())
				closeSock()
				return
			}
			b.touch()
		}
		if len(batch) > 0 {
			continue
		}
		if b.out.isClosed() {
			closeSock()
			return
		}
		<-b.out.wake
	}
}

// setNoDelayOn disables Nagle on a TCP socket; best-effort for anything else.
func setNoDelayOn(sock net.Conn) error {
	tc, ok := sock.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("not a tcp socket: %T", sock)
	}
	return tc.SetNoDelay(true)
}
