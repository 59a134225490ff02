package eventloop

import (
	"time"

	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// minThrottleGap is the minimum release spacing for throttled sends
// (spec.md §4.5: "some replies... are sent with a minimum gap (1-2s)").
const minThrottleGap = 1500 * time.Millisecond

// dispatchMessage is the message dispatcher (C8, spec.md §4.4): integrity
// checking already happened in the transport's ExtractMessages (which
// calls wire.Decode); this is step (c), routing by variant, plus the
// first-message-must-be-Init invariant from spec.md §3.
func (e *Eventloop) dispatchMessage(id transport.ConnectionID, msg wire.Message) {
	p, ok := e.registry.Find(id)
	if !ok || p.erased {
		return
	}

	if !p.initialized {
		init, isInit := msg.(*wire.Init)
		if !isInit {
			e.closeConn(p, wire.ReasonNoInit)
			return
		}
		e.handleInit(p, init)
		return
	}

	if _, isInit := msg.(*wire.Init); isInit {
		e.closeConn(p, wire.ReasonInvInit)
		return
	}

	var err error
	switch m := msg.(type) {
	case *wire.Append:
		err = e.handleAppend(p, m)
	case *wire.Fork:
		err = e.handleFork(p, m)
	case *wire.SignedPinRollback:
		err = e.handleSignedPinRollback(p, m)
	case *wire.Ping:
		err = e.handlePing(p, m)
	case *wire.Pong:
		err = e.handlePong(p, m)
	case *wire.BatchReq:
		err = e.handleBatchReq(p, m)
	case *wire.BatchRep:
		err = e.handleBatchRep(p, m)
	case *wire.ProbeReq:
		err = e.handleProbeReq(p, m)
	case *wire.ProbeRep:
		err = e.handleProbeRep(p, m)
	case *wire.BlockReq:
		err = e.handleBlockReq(p, m)
	case *wire.BlockRep:
		err = e.handleBlockRep(p, m)
	case *wire.TxNotify:
		e.handleTxNotify(p.id, m)
	case *wire.TxReq:
		e.handleTxReq(p.id, m)
	case *wire.TxRep:
		e.handleTxRep(m)
	case *wire.Leader:
		err = e.handleLeader(p, m)
	default:
		return
	}

	if err != nil {
		if oe, ok := err.(*wire.OffenseError); ok {
			e.closeConn(p, oe.Reason)
		} else {
			e.logger.Error("unhandled dispatch error", "peer", p.id, "err", err)
			e.closeConn(p, wire.ReasonChainError)
		}
	}
}

// sendThrottled enqueues buf for release no sooner than minThrottleGap
// after the last release on this peer's queue (spec.md §4.5).
func (e *Eventloop) sendThrottled(p *peer, msg wire.Message) {
	buf := mustEncode(e.logger, msg)
	if buf == nil {
		return
	}
	if p.throttle.empty() && !p.throttle.hasTmr {
		p.conn.AsyncSend(buf)
		e.armThrottle(p)
		return
	}
	p.throttle.push(buf)
}

func (e *Eventloop) armThrottle(p *peer) {
	h := e.timers.Insert(time.Now().Add(minThrottleGap), TimerThrottledSend, uint64(p.id), 0)
	p.throttle.timer = h
	p.throttle.hasTmr = true
}

func (e *Eventloop) onThrottledSendFired(p *peer) {
	p.throttle.hasTmr = false
	buf, ok := p.throttle.popOne()
	if !ok {
		return
	}
	p.conn.AsyncSend(buf)
	e.armThrottle(p)
}

// mustEncode encodes msg or logs and returns nil; our own outbound
// messages are always well-formed and under MaxFrameSize, so an error
// here indicates a local bug rather than anything peer-triggered.
func mustEncode(logger interface {
	Error(msg string, keyvals ...interface{})
}, msg wire.Message) []byte {
	buf, err := wire.Encode(msg)
	if err != nil {
		logger.Error("failed to encode outbound message", "type", msg.Type(), "err", err)
		return nil
	}
	return buf
}
