package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/I-luk-I/Warthog/internal/log"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

func TestDialAndAcceptExchangeFramedMessages(t *testing.T) {
	logger := log.NewNopLogger()

	listener, err := NewListener("127.0.0.1:0", 4, logger)
	require.NoError(t, err)
	defer listener.Close()

	addr := "ws://" + listener.ln.Addr().String() + "/"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialed, err := listener.Dial(ctx, addr)
	require.NoError(t, err)

	accepted, err := listener.Accept(ctx)
	require.NoError(t, err)
	require.Equal(t, transport.Inbound, accepted.Direction())

	ping := &wire.Ping{Nonce: 7}
	buf, err := wire.Encode(ping)
	require.NoError(t, err)
	dialed.AsyncSend(buf)

	received := make(chan wire.Message, 1)
	go accepted.(*Conn).ExtractMessages(ctx, func(m wire.Message) { received <- m })

	select {
	case m := <-received:
		got, ok := m.(*wire.Ping)
		require.True(t, ok)
		require.Equal(t, uint64(7), got.Nonce)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
