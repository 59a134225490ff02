package headersync

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

func TestHeaviestBreaksTiesByRegistrationOrder(t *testing.T) {
	d := NewDownloader()
	d.OnPeerInit(1, wire.Descriptor{1}, 10, big.NewInt(100))
	d.OnPeerInit(2, wire.Descriptor{2}, 10, big.NewInt(100))

	req := d.DoHeaderRequests(0, 42, nil)
	require.NotNil(t, req)
	require.Equal(t, transport.ConnectionID(1), req.PeerID)
}

func TestDoHeaderRequestsReturnsNilWhenNoPeerIsAhead(t *testing.T) {
	d := NewDownloader()
	d.OnPeerInit(1, wire.Descriptor{1}, 5, big.NewInt(50))

	req := d.DoHeaderRequests(5, 1, nil)
	require.Nil(t, req)
}

func TestDoHeaderRequestsPrefersGreaterWorksumOverLength(t *testing.T) {
	d := NewDownloader()
	d.OnPeerInit(1, wire.Descriptor{1}, 100, big.NewInt(10))
	d.OnPeerInit(2, wire.Descriptor{2}, 50, big.NewInt(1000))

	req := d.DoHeaderRequests(0, 1, nil)
	require.NotNil(t, req)
	require.Equal(t, transport.ConnectionID(2), req.PeerID)
}

func TestDoHeaderRequestsFansOutAcrossPeersViaBusyPredicate(t *testing.T) {
	d := NewDownloader()
	d.OnPeerInit(1, wire.Descriptor{1}, 100, big.NewInt(1000))
	d.OnPeerInit(2, wire.Descriptor{2}, 100, big.NewInt(500))
	d.OnPeerInit(3, wire.Descriptor{3}, 100, big.NewInt(10))

	busyPeers := make(map[transport.ConnectionID]bool)
	busy := func(id transport.ConnectionID) bool { return busyPeers[id] }

	first := d.DoHeaderRequests(0, 1, busy)
	require.NotNil(t, first)
	require.Equal(t, transport.ConnectionID(1), first.PeerID)
	busyPeers[first.PeerID] = true

	second := d.DoHeaderRequests(0, 2, busy)
	require.NotNil(t, second)
	require.Equal(t, transport.ConnectionID(2), second.PeerID)
	busyPeers[second.PeerID] = true

	third := d.DoHeaderRequests(0, 3, busy)
	require.NotNil(t, third)
	require.Equal(t, transport.ConnectionID(3), third.PeerID)
	busyPeers[third.PeerID] = true

	require.Nil(t, d.DoHeaderRequests(0, 4, busy))
}

func TestOnBatchRepRejectsReplyNotStartingAtFocus(t *testing.T) {
	d := NewDownloader()
	d.OnPeerInit(1, wire.Descriptor{1}, 10, big.NewInt(100))

	offenders := d.OnBatchRep(1, []wire.Header{{Height: 5}})
	require.Equal(t, []transport.ConnectionID{1}, offenders)
}

func TestOnBatchRepAcceptsContiguousReplyAndQueuesChain(t *testing.T) {
	d := NewDownloader()
	d.OnPeerInit(1, wire.Descriptor{1}, 10, big.NewInt(100))

	offenders := d.OnBatchRep(1, []wire.Header{{Height: 1}, {Height: 2}})
	require.Empty(t, offenders)

	hc, ok := d.PopData()
	require.True(t, ok)
	require.Len(t, hc.Headers, 2)

	_, ok = d.PopData()
	require.False(t, ok)
}

func TestRemovePeerExcludesItFromHeaviestSelection(t *testing.T) {
	d := NewDownloader()
	d.OnPeerInit(1, wire.Descriptor{1}, 100, big.NewInt(1000))
	d.RemovePeer(1)

	req := d.DoHeaderRequests(0, 1, nil)
	require.Nil(t, req)
}
