// Package transport defines the Connection interface the event loop drives
// (spec.md §6): the loop only ever calls AsyncSend/AsyncClose and reads
// framed messages back out; how bytes actually move is an external
// collaborator's concern. internal/transport/ws provides one concrete,
// runnable implementation over WebSockets.
package transport

import (
	"context"
	"time"

	"github.com/I-luk-I/Warthog/internal/wire"
)

// ConnectionID uniquely identifies a Connection for the lifetime of a
// process; ids are never reused (spec.md §3, C3).
type ConnectionID uint64

// Direction records whether the loop dialed out or accepted the peer.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

// Connection is what the event loop needs from a live peer link. All
// methods must be safe to call from the loop's single worker goroutine;
// AsyncSend/AsyncClose may hand off to other goroutines internally but
// must not block the caller.
type Connection interface {
	ID() ConnectionID
	PeerAddress() string
	Direction() Direction
	ConnectedSince() time.Time

	// AsyncSend enqueues buf for transmission and returns immediately.
	// Delivery order is FIFO per connection; failures surface later as a
	// closed connection, never as a return value here.
	AsyncSend(buf []byte)

	// AsyncClose tears the connection down, carrying reason to the peer
	// when the transport supports it (best effort) and to local logging
	// unconditionally.
	AsyncClose(reason wire.Reason)
}

// Listener accepts inbound connections and dials outbound ones; both
// calls block and return the Connection (or the error) directly.
type Listener interface {
	// Accept blocks until an inbound Connection.
	Accept(ctx context.Context) (Connection, error)

	// Dial opens an outbound Connection to addr.
	Dial(ctx context.Context, addr string) (Connection, error)

	Close() error
}

// InboundEvent and OutboundFailure describe an accepted connection and a
// failed dial. Neither the ws Listener nor cmd/noded uses them: Accept and
// Dial return their results directly, which reach the loop through
// AsyncProcess / AsyncReportFailedOutbound.
type InboundEvent struct {
	Conn Connection
}

type OutboundFailure struct {
	Address string
	Err     error
}
