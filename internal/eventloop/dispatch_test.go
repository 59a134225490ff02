package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/I-luk-I/Warthog/internal/chainstate"
	"github.com/I-luk-I/Warthog/internal/log"
	"github.com/I-luk-I/Warthog/internal/peerdb"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// recordingConn captures every AsyncSend/AsyncClose call instead of
// actually moving bytes, so dispatch tests can assert on what the loop
// chose to send or close without a real transport.
type recordingConn struct {
	id    transport.ConnectionID
	addr  string
	since time.Time

	sent   chan []byte
	closed chan wire.Reason
}

func newRecordingConn(id transport.ConnectionID) *recordingConn {
	return &recordingConn{
		id: id, addr: "peer.example:9901", since: time.Now(),
		sent: make(chan []byte, 8), closed: make(chan wire.Reason, 1),
	}
}

func (c *recordingConn) ID() transport.ConnectionID     { return c.id }
func (c *recordingConn) PeerAddress() string            { return c.addr }
func (c *recordingConn) Direction() transport.Direction  { return transport.Inbound }
func (c *recordingConn) ConnectedSince() time.Time       { return c.since }
func (c *recordingConn) AsyncSend(buf []byte)            { c.sent <- buf }
func (c *recordingConn) AsyncClose(reason wire.Reason) {
	select {
	case c.closed <- reason:
	default:
	}
}

func newTestEventloop(t *testing.T) (*Eventloop, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e := New(ctx, DefaultConfig(), chainstate.NewMemory(), peerdb.NewMemory(), log.NewNopLogger(), nil)
	go e.Run()
	return e, cancel
}

func TestFirstMessageMustBeInit(t *testing.T) {
	e, cancel := newTestEventloop(t)
	defer cancel()

	conn := newRecordingConn(1)
	e.AsyncProcess(conn)

	select {
	case <-conn.sent:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for our own Init")
	}

	e.AsyncInboundMessage(1, &wire.Ping{Nonce: 1})

	select {
	case reason := <-conn.closed:
		require.Equal(t, wire.ReasonNoInit, reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close on pre-Init message")
	}
}

func TestSecondInitIsRejected(t *testing.T) {
	e, cancel := newTestEventloop(t)
	defer cancel()

	conn := newRecordingConn(2)
	e.AsyncProcess(conn)

	select {
	case <-conn.sent:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for our own Init")
	}

	e.AsyncInboundMessage(2, &wire.Init{})
	e.AsyncInboundMessage(2, &wire.Init{})

	select {
	case reason := <-conn.closed:
		require.Equal(t, wire.ReasonInvInit, reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close on duplicate Init")
	}
}
