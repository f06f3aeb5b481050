// Package testutil provides helpers for tests that need a live runtime.
package testutil

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/loom/actor"
)

// TestUpdateInterval is the fast tick cadence used by runtime tests so
// deferred messages drain promptly.
const TestUpdateInterval = 2 * time.Millisecond

// NewRuntime creates a running server with the given worker count and
// registers shutdown via t.Cleanup.
func NewRuntime(t *testing.T, workers int) *actor.Server {
	t.Helper()

	srv, err := actor.NewServer(workers, TestUpdateInterval, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.Run()

	t.Cleanup(func() {
		srv.Stop()
		srv.Wait()
	})
	return srv
}
