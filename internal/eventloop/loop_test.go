package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/I-luk-I/Warthog/internal/chainstate"
	"github.com/I-luk-I/Warthog/internal/log"
	"github.com/I-luk-I/Warthog/internal/peerdb"
)

// TestRunStopsOnContextCancelWithoutLeaking confirms the worker thread
// (spec.md §4.1) shuts down cleanly and doesn't leave the timer-wakeup or
// shutdown-watcher goroutines running once its context is cancelled.
func TestRunStopsOnContextCancelWithoutLeaking(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	logger, err := log.NewDefaultLogger(log.LogFormatPlain, log.LogLevelNone)
	require.NoError(t, err)

	e := New(ctx, DefaultConfig(), chainstate.NewMemory(), peerdb.NewMemory(), logger, nil)

	done := make(chan error, 1)
	go func() { done <- e.Run() }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
