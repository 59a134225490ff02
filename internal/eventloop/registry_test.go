package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

type fakeConn struct {
	id    transport.ConnectionID
	addr  string
	since time.Time
}

func (c *fakeConn) ID() transport.ConnectionID      { return c.id }
func (c *fakeConn) PeerAddress() string             { return c.addr }
func (c *fakeConn) Direction() transport.Direction   { return transport.Outbound }
func (c *fakeConn) ConnectedSince() time.Time        { return c.since }
func (c *fakeConn) AsyncSend(buf []byte)             {}
func (c *fakeConn) AsyncClose(reason wire.Reason)    {}

func newTestPeer(id transport.ConnectionID, addr string) *peer {
	return newPeer(id, &fakeConn{id: id, addr: addr, since: time.Now()})
}

func TestRegistryInsertRejectsDuplicateID(t *testing.T) {
	r := newRegistry()
	p1 := newTestPeer(1, "1.1.1.1:9901")
	p2 := newTestPeer(1, "2.2.2.2:9901")

	require.True(t, r.Insert(p1))
	require.False(t, r.Insert(p2))
}

func TestRegistryEraseIsIdempotent(t *testing.T) {
	r := newRegistry()
	p := newTestPeer(1, "1.1.1.1:9901")
	r.Insert(p)

	r.Erase(1)
	require.NotPanics(t, func() { r.Erase(1) })

	_, ok := r.Find(1)
	require.False(t, ok)
}

func TestInitializedExcludesUninitializedAndErasedPeers(t *testing.T) {
	r := newRegistry()
	p1 := newTestPeer(1, "1.1.1.1:9901")
	p1.initialized = true
	p2 := newTestPeer(2, "2.2.2.2:9901")
	p2.initialized = true
	p2.erased = true
	p3 := newTestPeer(3, "3.3.3.3:9901")

	r.Insert(p1)
	r.Insert(p2)
	r.Insert(p3)

	init := r.Initialized()
	require.Len(t, init, 1)
	require.Equal(t, transport.ConnectionID(1), init[0].id)
}

func TestPopConnectOnlyReturnsDueCandidates(t *testing.T) {
	r := newRegistry()
	r.ScheduleDial("due.example:9901", time.Now().Add(-time.Second))
	r.ScheduleDial("future.example:9901", time.Now().Add(time.Hour))

	due := r.PopConnect(time.Now())
	require.Equal(t, []string{"due.example:9901"}, due)

	wake, ok := r.WakeupTime()
	require.True(t, ok)
	require.True(t, wake.After(time.Now()))
}

func TestOnFailedOutboundNeverDropsPinnedAddress(t *testing.T) {
	r := newRegistry()
	r.Pin("seed.example:9901")

	for i := 0; i < 5; i++ {
		r.OnFailedOutbound("seed.example:9901")
	}

	c, ok := r.dial["seed.example:9901"]
	require.True(t, ok)
	require.True(t, c.pinned)
}
