package actor

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testTick = 2 * time.Millisecond

// newTestServer builds a running server with a fast tick and shuts it down
// with the test.
func newTestServer(t *testing.T, workers int) *Server {
	t.Helper()
	srv, err := NewServer(workers, testTick, zap.NewNop().Sugar())
	require.NoError(t, err)
	srv.Run()
	t.Cleanup(func() {
		srv.Stop()
		srv.Wait()
	})
	return srv
}

// testHandler is a scriptable service: onMsg runs on the worker loop, and
// every inbound message lands in msgs.
type testHandler struct {
	Base
	msgs   chan *Message
	onMsg  func(ctx *Context, msg *Message)
	starts atomic.Int32
}

func newTestHandler() *testHandler {
	return &testHandler{msgs: make(chan *Message, 64)}
}

func (h *testHandler) Start() {
	h.starts.Add(1)
}

func (h *testHandler) HandleMessage(msg *Message) {
	if h.onMsg != nil {
		h.onMsg(h.Ctx, msg)
	}
	select {
	case h.msgs <- msg:
	default:
	}
}

// recv pulls the next captured message or fails the test.
func recv(t *testing.T, ch chan *Message) *Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// recvHeader pulls captured messages until one carries the wanted header.
func recvHeader(t *testing.T, ch chan *Message, header string) *Message {
	t.Helper()
	for {
		msg := recv(t, ch)
		if msg.Header == header {
			return msg
		}
	}
}

func TestRequestReply(t *testing.T) {
	srv := newTestServer(t, 1)

	b := newTestHandler()
	b.onMsg = func(ctx *Context, msg *Message) {
		if msg.Header == "ping" {
			ctx.MakeResponse(msg.Sender, "pong", "ok", msg.ResponseID, TypeSocket)
		}
	}
	bID, err := srv.NewService("b", b, 0)
	require.NoError(t, err)

	a := newTestHandler()
	a.onMsg = func(ctx *Context, msg *Message) {
		if msg.Header == "go" {
			ctx.Send(&Message{
				Receiver:   bID,
				ResponseID: 7,
				Header:     "ping",
				Payload:    []byte("hi"),
			})
		}
	}
	aID, err := srv.NewService("a", a, 0)
	require.NoError(t, err)

	srv.Send(&Message{Receiver: aID, Header: "go", Type: TypeText})

	ping := recvHeader(t, b.msgs, "ping")
	assert.Equal(t, aID, ping.Sender)
	assert.Equal(t, int32(7), ping.ResponseID)
	assert.Equal(t, "hi", ping.Text())
	assert.True(t, ping.IsRequest())

	pong := recvHeader(t, a.msgs, "pong")
	assert.Equal(t, bID, pong.Sender)
	assert.Equal(t, aID, pong.Receiver)
	assert.Equal(t, int32(-7), pong.ResponseID)
	assert.Equal(t, "ok", pong.Text())
	assert.True(t, pong.IsResponse())
}

func TestDeadReceiver(t *testing.T) {
	srv := newTestServer(t, 1)

	a := newTestHandler()
	aID, err := srv.NewService("a", a, 0)
	require.NoError(t, err)

	dead := ID(0x01000099)
	srv.Send(&Message{Receiver: aID, Header: "go", Type: TypeText})
	recvHeader(t, a.msgs, "go")

	// The sender gets exactly one synthesized error reply
	srv.Send(&Message{Sender: aID, Receiver: dead, ResponseID: 21, Header: "ping"})

	errMsg := recvHeader(t, a.msgs, "error")
	assert.Equal(t, ID(0), errMsg.Sender)
	assert.Equal(t, aID, errMsg.Receiver)
	assert.Equal(t, int32(-21), errMsg.ResponseID)
	assert.Equal(t, "call dead service.", errMsg.Text())
	assert.Equal(t, TypeError, errMsg.Type)

	select {
	case extra := <-a.msgs:
		t.Fatalf("unexpected second reply: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcast(t *testing.T) {
	srv := newTestServer(t, 1)

	a, b, c := newTestHandler(), newTestHandler(), newTestHandler()
	aID, err := srv.NewService("a", a, 0)
	require.NoError(t, err)
	_, err = srv.NewService("b", b, 0)
	require.NoError(t, err)
	_, err = srv.NewService("c", c, 0)
	require.NoError(t, err)

	srv.Broadcast(aID, &Message{Header: "hello", Type: TypeText})

	for _, h := range []*testHandler{b, c} {
		msg := recvHeader(t, h.msgs, "hello")
		assert.Equal(t, aID, msg.Sender)
		assert.True(t, msg.Broadcast)
	}

	select {
	case msg := <-a.msgs:
		t.Fatalf("sender received its own broadcast: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCrossWorkerOrdering(t *testing.T) {
	srv := newTestServer(t, 2)

	x := newTestHandler()
	x.msgs = make(chan *Message, 256)
	xID, err := srv.NewService("x", x, 2)
	require.NoError(t, err)
	require.Equal(t, uint8(2), xID.WorkerID())

	const n = 100
	a := newTestHandler()
	a.onMsg = func(ctx *Context, msg *Message) {
		if msg.Header != "go" {
			return
		}
		for i := 0; i < n; i++ {
			ctx.Send(&Message{
				Receiver: xID,
				Header:   "seq",
				Payload:  []byte(fmt.Sprintf("%d", i)),
			})
		}
	}
	aID, err := srv.NewService("a", a, 1)
	require.NoError(t, err)
	require.Equal(t, uint8(1), aID.WorkerID())

	srv.Send(&Message{Receiver: aID, Header: "go"})

	for i := 0; i < n; i++ {
		msg := recvHeader(t, x.msgs, "seq")
		assert.Equal(t, fmt.Sprintf("%d", i), msg.Text())
		assert.Equal(t, aID, msg.Sender)
	}
}

func TestCacheResetOnUpdate(t *testing.T) {
	srv := newTestServer(t, 1)
	w := srv.Worker(1)

	type cacheState struct {
		id      uint32
		hit     []byte
		postIDs uint32
		empty   bool
	}
	probe := make(chan cacheState, 1)

	// Mint and read back a cache entry within one loop task
	w.Post(func() {
		var st cacheState
		st.id = w.MakeCache([]byte("tick-local"))
		st.hit = w.GetCache(st.id)
		probe <- st
	})
	st := <-probe
	assert.Equal(t, []byte("tick-local"), st.hit)

	// After a tick completes the table is empty and the counter is reset
	assert.Eventually(t, func() bool {
		done := make(chan cacheState, 1)
		w.Post(func() {
			done <- cacheState{
				postIDs: w.cacheUUID,
				empty:   len(w.caches) == 0,
			}
		})
		st := <-done
		return st.empty && st.postIDs == 0
	}, 2*time.Second, 5*time.Millisecond)

	// The next mint starts over from id 0
	w.Post(func() {
		var st cacheState
		st.id = w.MakeCache([]byte("again"))
		probe <- st
	})
	st = <-probe
	assert.Equal(t, uint32(0), st.id)
}

func TestWorkerTime(t *testing.T) {
	srv := newTestServer(t, 1)

	a := newTestHandler()
	aID, err := srv.NewService("a", a, 0)
	require.NoError(t, err)

	srv.Send(&Message{Receiver: aID, Header: "go"})
	recvHeader(t, a.msgs, "go")

	srv.Worker(1).WorkerTime(aID, 5)

	reply := recv(t, a.msgs)
	assert.Equal(t, int32(-5), reply.ResponseID)
	assert.Equal(t, "", reply.Header)
	assert.Regexp(t, regexp.MustCompile(`^\["worker1",\d+\.\d{2}\]$`), reply.Text())
}

func TestUtilization(t *testing.T) {
	assert.InDelta(t, 50.0, utilization(50, 100), 1e-9)
	assert.InDelta(t, 0.0, utilization(0, 100), 1e-9)
	assert.InDelta(t, 100.0, utilization(100, 100), 1e-9)
	// A zero-length window counts as one millisecond
	assert.InDelta(t, 300.0, utilization(3, 0), 1e-9)
}

func TestRemoveServiceBroadcast(t *testing.T) {
	srv := newTestServer(t, 1)

	a := newTestHandler()
	aID, err := srv.NewService("a", a, 0)
	require.NoError(t, err)

	b := newTestHandler()
	bID, err := srv.NewService("victim", b, 0)
	require.NoError(t, err)

	srv.Send(&Message{Receiver: aID, Header: "go"})
	recvHeader(t, a.msgs, "go")

	srv.RemoveService(bID, aID, 9, false)

	destroy := recvHeader(t, a.msgs, "service destroy")
	assert.Equal(t, int32(-9), destroy.ResponseID)
	assert.Equal(t, fmt.Sprintf(`{"name":"victim","serviceid":%d}`, uint32(bID)), destroy.Text())

	exit := recvHeader(t, a.msgs, "exit")
	assert.Equal(t, TypeSystem, exit.Type)
	assert.Equal(t, bID, exit.Sender)
	assert.Equal(t, "service exit", exit.Text())
}

func TestRemoveServiceCrashed(t *testing.T) {
	srv := newTestServer(t, 1)

	a := newTestHandler()
	_, err := srv.NewService("a", a, 0)
	require.NoError(t, err)

	b := newTestHandler()
	bID, err := srv.NewService("victim", b, 0)
	require.NoError(t, err)

	srv.RemoveService(bID, 0, 0, true)

	exit := recvHeader(t, a.msgs, "exit")
	assert.Equal(t, "service crashed", exit.Text())
}

func TestRemoveUnknownService(t *testing.T) {
	srv := newTestServer(t, 1)

	a := newTestHandler()
	aID, err := srv.NewService("a", a, 0)
	require.NoError(t, err)

	srv.RemoveService(ID(0x01000077), aID, 4, false)

	errMsg := recvHeader(t, a.msgs, "error")
	assert.Equal(t, int32(-4), errMsg.ResponseID)
	assert.Equal(t, TypeError, errMsg.Type)
	assert.Equal(t, "remove_service: service not found", errMsg.Text())
}

type panicHandler struct {
	Base
}

func (h *panicHandler) HandleMessage(msg *Message) {
	if msg.Header == "boom" {
		panic("handler exploded")
	}
}

func TestHandlerPanicRemovesCrashed(t *testing.T) {
	srv := newTestServer(t, 1)

	peer := newTestHandler()
	_, err := srv.NewService("peer", peer, 0)
	require.NoError(t, err)

	pID, err := srv.NewService("bomb", &panicHandler{}, 0)
	require.NoError(t, err)

	srv.Send(&Message{Receiver: pID, Header: "boom"})

	exit := recvHeader(t, peer.msgs, "exit")
	assert.Equal(t, pID, exit.Sender)
	assert.Equal(t, "service crashed", exit.Text())
}

func TestStartIdempotence(t *testing.T) {
	srv := newTestServer(t, 1)

	h := newTestHandler()
	_, err := srv.NewService("h", h, 0)
	require.NoError(t, err)

	w := srv.Worker(1)
	w.Start()
	w.Start()

	assert.Eventually(t, func() bool {
		return h.starts.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry(t *testing.T) {
	srv := newTestServer(t, 1)

	h := newTestHandler()
	id, err := srv.NewService("named", h, 0)
	require.NoError(t, err)

	assert.True(t, srv.Register("named", id))
	assert.False(t, srv.Register("named", id), "duplicate names are rejected")
	assert.Equal(t, id, srv.Query("named"))
	assert.Equal(t, ID(0), srv.Query("missing"))

	srv.RemoveService(id, 0, 0, false)
	assert.Eventually(t, func() bool {
		return srv.Query("named") == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestExitDrivesShutdown(t *testing.T) {
	srv, err := NewServer(2, testTick, zap.NewNop().Sugar())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := srv.NewService(fmt.Sprintf("svc%d", i), newTestHandler(), 0)
		require.NoError(t, err)
	}
	srv.Run()

	srv.Stop()
	srv.Wait()

	for i := 1; i <= srv.WorkerNum(); i++ {
		assert.True(t, srv.Worker(uint8(i)).Stopped())
		assert.Zero(t, srv.Worker(uint8(i)).ServiceNum())
	}
}
