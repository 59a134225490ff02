package chainstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/I-luk-I/Warthog/internal/wire"
)

func stageHeaders(n int) []wire.Header {
	out := make([]wire.Header, n)
	for i := range out {
		out[i] = wire.Header{Height: wire.Height(i + 1), Bits: 0x1d00ffff}
	}
	return out
}

func TestAsyncStageRequestAppendsContiguousHeadersAndBroadcasts(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan StateUpdate, 8)
	m.Subscribe(ctx, updates)

	m.AsyncStageRequest(StageRequest{Headers: stageHeaders(3)})

	select {
	case u := <-updates:
		require.NotNil(t, u.Append)
		require.Len(t, u.Append.Headers, 3)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Append StateUpdate")
	}

	cs := m.GetChainstate()
	require.Equal(t, wire.Height(3), cs.Length)
}

func TestAsyncStageRequestRejectsNonContiguousHeaders(t *testing.T) {
	m := NewMemory()
	gap := []wire.Header{{Height: 2, Bits: 0x1d00ffff}}
	m.AsyncStageRequest(StageRequest{Headers: gap})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, wire.Height(0), m.GetChainstate().Length)
}

func TestGetHeadersRejectsOutOfRange(t *testing.T) {
	m := NewMemory()
	m.AsyncStageRequest(StageRequest{Headers: stageHeaders(2)})
	time.Sleep(20 * time.Millisecond)

	_, err := m.GetHeaders(Selector{}, 0, 1)
	require.Error(t, err)

	_, err = m.GetHeaders(Selector{}, 10, 1)
	require.Error(t, err)

	got, err := m.GetHeaders(Selector{}, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestAsyncPutMempoolDedupesByTxID(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan StateUpdate, 8)
	m.Subscribe(ctx, updates)

	tx := []byte("a transaction")
	m.AsyncPutMempool([][]byte{tx, tx})

	select {
	case u := <-updates:
		require.Len(t, u.MempoolUpdate.Inserted, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for MempoolUpdate")
	}
}

func TestAsyncSetSignedCheckpointRejectsHeightBeyondChain(t *testing.T) {
	m := NewMemory()
	done := make(chan error, 1)
	m.AsyncSetSignedCheckpoint(wire.SignedSnapshot{
		Priority: wire.SnapshotPriority{Height: 99},
	}, func(_ wire.SignedSnapshot, err error) { done <- err })

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for checkpoint callback")
	}
}
