package blocksync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/I-luk-I/Warthog/internal/chainstate"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

func headers(n int) []wire.Header {
	out := make([]wire.Header, n)
	for i := range out {
		out[i] = wire.Header{Height: wire.Height(i + 1)}
	}
	return out
}

func TestDoBlockRequestFansOutDisjointChunksAcrossPeers(t *testing.T) {
	d := NewDownloader()
	d.Init(wire.Descriptor{1}, headers(1200), 1)

	first := d.DoBlockRequest(1, 1)
	require.NotNil(t, first)
	require.EqualValues(t, 1, first.StartHeight)
	require.EqualValues(t, chunkSize, first.Length)

	second := d.DoBlockRequest(2, 2)
	require.NotNil(t, second)
	require.EqualValues(t, 1+chunkSize, second.StartHeight)
	require.EqualValues(t, chunkSize, second.Length)

	third := d.DoBlockRequest(3, 3)
	require.NotNil(t, third)
	require.EqualValues(t, 1+2*chunkSize, third.StartHeight)
	require.EqualValues(t, 200, third.Length)
}

func TestDoBlockRequestRefusesSecondRequestFromSamePeerWhileOneIsActive(t *testing.T) {
	d := NewDownloader()
	d.Init(wire.Descriptor{1}, headers(1200), 1)

	require.NotNil(t, d.DoBlockRequest(1, 1))
	require.Nil(t, d.DoBlockRequest(1, 2))
}

func TestOnBlockRepRejectsMismatchedStartHeight(t *testing.T) {
	d := NewDownloader()
	d.Init(wire.Descriptor{1}, headers(3), 1)
	d.DoBlockRequest(1, 1)

	offenders, req := d.OnBlockRep(1, 2, []wire.Body{{}})
	require.Equal(t, []transport.ConnectionID{1}, offenders)
	require.Nil(t, req)
}

func TestOnBlockRepAcceptsMatchingReplyAndBuildsStageRequest(t *testing.T) {
	d := NewDownloader()
	d.Init(wire.Descriptor{1}, headers(3), 1)
	d.DoBlockRequest(1, 1)

	offenders, req := d.OnBlockRep(1, 1, []wire.Body{{0x1}, {0x2}, {0x3}})
	require.Empty(t, offenders)
	require.NotNil(t, req)
	require.Len(t, req.Bodies, 3)
	require.Len(t, req.Headers, 3)
	require.True(t, d.Active(), "not yet committed, so still reports work outstanding")

	_, isOffender := d.OnStageResult(chainstate.StageResult{Accepted: true, ForkHeight: 4}, 1)
	require.False(t, isOffender)
	require.False(t, d.Active())
}

func TestOnStageResultRejectionReturnsOffender(t *testing.T) {
	d := NewDownloader()
	offender, isOffender := d.OnStageResult(chainstate.StageResult{Accepted: false}, 9)
	require.True(t, isOffender)
	require.EqualValues(t, 9, offender)
}

func TestPurgePeerClearsActiveRequestForThatPeerOnly(t *testing.T) {
	d := NewDownloader()
	d.Init(wire.Descriptor{1}, headers(3), 1)
	d.DoBlockRequest(1, 1)

	d.PurgePeer(2) // no-op: peer 2 never had a request
	require.Nil(t, d.DoBlockRequest(2, 2))

	d.PurgePeer(1)
	require.NotNil(t, d.DoBlockRequest(2, 2))
}

func TestPurgePeerOfAnAbandonedMiddleChunkDoesNotRollBackFocus(t *testing.T) {
	d := NewDownloader()
	d.Init(wire.Descriptor{1}, headers(1200), 1)

	d.DoBlockRequest(1, 1) // claims [1, 500]
	d.DoBlockRequest(2, 2) // claims [501, 1000]

	d.PurgePeer(1) // not the most recently handed-out chunk, so focus stays put
	third := d.DoBlockRequest(3, 3)
	require.NotNil(t, third)
	require.EqualValues(t, 1001, third.StartHeight, "continues past peer 1's abandoned [1,500], not reissuing it")
}

func TestPurgePeerOfTheMostRecentChunkRollsBackFocus(t *testing.T) {
	d := NewDownloader()
	d.Init(wire.Descriptor{1}, headers(1200), 1)

	d.DoBlockRequest(1, 1) // claims [1, 500]

	d.PurgePeer(1) // the only, and therefore most recent, outstanding chunk
	second := d.DoBlockRequest(2, 2)
	require.NotNil(t, second)
	require.EqualValues(t, 1, second.StartHeight, "reissues the abandoned chunk instead of skipping it")
}
