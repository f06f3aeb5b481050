package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerIDEncoding(t *testing.T) {
	tests := []struct {
		name   string
		id     ID
		worker uint8
	}{
		{"worker 1 first service", 0x01000001, 1},
		{"worker 1 other service", 0x01000099, 1},
		{"worker 2", 0x02000001, 2},
		{"top worker", 0xFF00FFFF, 0xFF},
		{"system id", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.worker, tt.id.WorkerID())
		})
	}
}

func TestMakeServiceID(t *testing.T) {
	srv, err := NewServer(3, 0, zap.NewNop().Sugar())
	require.NoError(t, err)
	w := srv.Worker(3)

	seen := make(map[ID]bool)
	for i := 0; i < MaxServiceNum; i++ {
		id := w.makeServiceID()
		assert.True(t, id.Valid())
		assert.Equal(t, uint8(3), id.WorkerID())
		assert.NotZero(t, uint32(id)&0x00FFFFFF, "low bits must never be zero")
		assert.False(t, seen[id], "id reused within one counter period: %x", uint32(id))
		seen[id] = true
	}

	// The counter wraps after MaxServiceNum allocations and revisits the
	// first id.
	assert.True(t, seen[w.makeServiceID()])
}

func TestNewServerWorkerRange(t *testing.T) {
	log := zap.NewNop().Sugar()

	_, err := NewServer(0, 0, log)
	assert.Error(t, err)

	_, err = NewServer(256, 0, log)
	assert.Error(t, err)

	srv, err := NewServer(255, 0, log)
	require.NoError(t, err)
	assert.Equal(t, 255, srv.WorkerNum())
	assert.Nil(t, srv.Worker(0))
	assert.NotNil(t, srv.Worker(255))
}
