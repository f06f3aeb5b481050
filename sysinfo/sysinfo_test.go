package sysinfo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/loom/actor"
	"github.com/teranos/loom/internal/testutil"
)

func TestSnapshot(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	info, err := c.Snapshot()
	require.NoError(t, err)

	assert.Positive(t, info.Goroutines)
	assert.Positive(t, info.RSSBytes)
	assert.NotZero(t, info.PID)

	var decoded Info
	require.NoError(t, json.Unmarshal([]byte(info.JSON()), &decoded))
	assert.Equal(t, info.PID, decoded.PID)
}

// probeHandler captures replies for the telemetry request test.
type probeHandler struct {
	actor.Base
	msgs chan *actor.Message
}

func (h *probeHandler) HandleMessage(msg *actor.Message) {
	select {
	case h.msgs <- msg:
	default:
	}
}

func TestServiceRepliesWithSnapshot(t *testing.T) {
	srv := testutil.NewRuntime(t, 1)

	sysID, err := srv.NewService("sysinfo", NewService(), 0)
	require.NoError(t, err)

	probe := &probeHandler{msgs: make(chan *actor.Message, 8)}
	probeID, err := srv.NewService("probe", probe, 0)
	require.NoError(t, err)

	srv.Send(&actor.Message{
		Sender:     probeID,
		Receiver:   sysID,
		Header:     "sysinfo",
		ResponseID: 3,
	})

	select {
	case reply := <-probe.msgs:
		assert.Equal(t, int32(-3), reply.ResponseID)
		assert.Equal(t, actor.TypeText, reply.Type)
		var info Info
		require.NoError(t, json.Unmarshal(reply.Payload, &info))
		assert.Positive(t, info.Goroutines)
	case <-time.After(2 * time.Second):
		t.Fatal("no telemetry reply")
	}
}

func TestServiceIgnoresOtherTraffic(t *testing.T) {
	srv := testutil.NewRuntime(t, 1)

	sysID, err := srv.NewService("sysinfo", NewService(), 0)
	require.NoError(t, err)

	probe := &probeHandler{msgs: make(chan *actor.Message, 8)}
	probeID, err := srv.NewService("probe", probe, 0)
	require.NoError(t, err)

	// Fire-and-forget and foreign headers produce no reply
	srv.Send(&actor.Message{Sender: probeID, Receiver: sysID, Header: "sysinfo"})
	srv.Send(&actor.Message{Sender: probeID, Receiver: sysID, Header: "other", ResponseID: 4})

	select {
	case msg := <-probe.msgs:
		t.Fatalf("unexpected reply: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
