package eventloop

import (
	"github.com/I-luk-I/Warthog/internal/chainstate"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// handleStateUpdate processes a StateUpdate pushed by the chain-state
// server (spec.md §4.8): at most one of Append/Fork/Rollback is set, plus
// an optional mempool log.
func (e *Eventloop) handleStateUpdate(u chainstate.StateUpdate) {
	switch {
	case u.Append != nil:
		e.updateChainAppend(*u.Append)
	case u.Fork != nil:
		e.updateChainFork(*u.Fork)
	case u.Rollback != nil:
		e.updateChainRollback(*u.Rollback)
	}
	if len(u.MempoolUpdate.Inserted) > 0 || len(u.MempoolUpdate.Erased) > 0 {
		e.handleMempoolLog(u.MempoolUpdate.Inserted, u.MempoolUpdate.Erased)
	}
}

// updateChainAppend applies a consensus extension and broadcasts it to
// every peer (spec.md §4.8 "Append: per-peer chain view updated...
// updated consensus message broadcast to every peer.").
func (e *Eventloop) updateChainAppend(a chainstate.Append) {
	e.chain.applyAppend(a.Headers)

	msg := &wire.Append{Headers: a.Headers}
	buf := mustEncode(e.logger, msg)
	for _, p := range e.registry.Initialized() {
		if buf == nil {
			continue
		}
		p.conn.AsyncSend(buf)
	}
	e.coordinateSync()
}

func (e *Eventloop) updateChainFork(f chainstate.Fork) {
	e.chain.applyFork(f.Descriptor, f.ForkHeight, f.Headers)

	msg := &wire.Fork{Descriptor: f.Descriptor, ForkHeight: f.ForkHeight, Headers: f.Headers}
	buf := mustEncode(e.logger, msg)
	for _, p := range e.registry.Initialized() {
		if buf == nil {
			continue
		}
		p.conn.AsyncSend(buf)
	}
	e.coordinateSync()
}

// updateChainRollback applies an authoritative rollback, resets the block
// downloader if the rollback invalidated the stage chain, and restarts
// block download when a stage chain still remains (spec.md §4.8 "Rollback").
func (e *Eventloop) updateChainRollback(r chainstate.RollbackData) {
	stageInvalidated := e.chain.applyRollback(r.Snapshot, r.Descriptor, r.Headers)
	if stageInvalidated {
		e.blockDL.Reset()
	}

	msg := &wire.SignedPinRollback{Snapshot: r.Snapshot}
	buf := mustEncode(e.logger, msg)
	for _, p := range e.registry.Initialized() {
		if buf == nil {
			continue
		}
		p.conn.AsyncSend(buf)
		raiseIfHigher(&p.snaps.ourAck, r.Snapshot.Priority)
	}

	if e.chain.hasStage {
		e.initializeBlockDownload()
	}
	e.coordinateSync()
}

// handleStageResultEvent processes a stage_operation::Result arriving
// back from the chain-state server (spec.md §4.7): on acceptance the next
// stage request is issued via doRequests; on rejection the connection
// that supplied the bad data is closed.
func (e *Eventloop) handleStageResultEvent(connID transport.ConnectionID, result chainstate.StageResult) {
	if offender, isOffender := e.blockDL.OnStageResult(result, connID); isOffender {
		if p, ok := e.registry.Find(offender); ok {
			e.closeConn(p, wire.ReasonInvalidBody)
		}
	}
	e.doRequests()
}
