package eventloop

import (
	"github.com/I-luk-I/Warthog/internal/chainstate"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// Event is the tagged variant every queued event satisfies (spec.md §9:
// "Use a tagged variant (sum type) for Event... the loop matches on the
// tag. No virtual dispatch is needed."). A Go type switch in loop.go plays
// the role of the C++ std::variant visit.
type Event interface{ isEvent() }

// onProcessConnection delivers a freshly accepted/dialed connection to the
// loop for registration (spec.md §3 "registered on first event-loop
// visit").
type onProcessConnection struct{ conn transport.Connection }

func (onProcessConnection) isEvent() {}

// onInboundMessage delivers one decoded message from an already-registered
// connection.
type onInboundMessage struct {
	id  transport.ConnectionID
	msg wire.Message
}

func (onInboundMessage) isEvent() {}

// onRelease tells the loop a connection closed (transport-initiated or
// requested by the loop itself and now confirmed).
type onRelease struct {
	id     transport.ConnectionID
	reason wire.Reason
}

func (onRelease) isEvent() {}

// onFailedOutbound reports a dial failure for backoff scheduling.
type onFailedOutbound struct{ addr string }

func (onFailedOutbound) isEvent() {}

// onPinAddress / onUnpinAddress implement spec.md SUPPLEMENTED FEATURES #2.
type onPinAddress struct{ addr string }

func (onPinAddress) isEvent() {}

type onUnpinAddress struct{ addr string }

func (onUnpinAddress) isEvent() {}

// onStateUpdate carries a StateUpdate pushed by the chain-state server
// (spec.md §6, §4.8).
type onStateUpdate struct{ update chainstate.StateUpdate }

func (onStateUpdate) isEvent() {}

// onStageResult carries a stage_operation::Result back from the
// chain-state server (spec.md §4.7).
type onStageResult struct {
	connID transport.ConnectionID
	result chainstate.StageResult
}

func (onStageResult) isEvent() {}

// onForwardBlockrep delivers an asynchronously fetched block-body range
// back to the loop thread so it can build and send the BlockRep
// (spec.md §9 private async_forward_blockrep).
type onForwardBlockrep struct {
	connID transport.ConnectionID
	nonce  uint64
	start  wire.Height
	bodies []wire.Body
	err    error
}

func (onForwardBlockrep) isEvent() {}

// API callback events (spec.md §5 "API threads... enqueue callback
// event; the callback fires on the loop thread with a snapshot of
// state").
type getPeers struct {
	filterThrottled bool
	cb              func([]PeerInfo)
}

func (getPeers) isEvent() {}

type getSynced struct{ cb func(bool) }

func (getSynced) isEvent() {}

type getHashrate struct {
	n  int
	cb func(float64)
}

func (getHashrate) isEvent() {}

type getHashrateChart struct {
	from, to wire.Height
	window   int
	cb       func([]HashrateSample)
}

func (getHashrateChart) isEvent() {}

type inspect struct{ cb func(Snapshot) }

func (inspect) isEvent() {}
