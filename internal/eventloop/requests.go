package eventloop

import (
	"time"

	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// handleTimer dispatches one expired timer by kind (spec.md §4.1 step 3,
// §4.2).
func (e *Eventloop) handleTimer(t timerEvent) {
	switch t.kind {
	case TimerConnect:
		e.connectScheduled()
	case TimerSendPing:
		if p, ok := e.registry.Find(transport.ConnectionID(t.connID)); ok {
			e.sendPingAwaitPong(p)
		}
	case TimerCloseNoPong:
		if p, ok := e.registry.Find(transport.ConnectionID(t.connID)); ok {
			e.closeConn(p, wire.ReasonTimeout)
		}
	case TimerCloseNoReply:
		if p, ok := e.registry.Find(transport.ConnectionID(t.connID)); ok {
			e.closeConn(p, wire.ReasonTimeout)
		}
	case TimerExpire:
		if p, ok := e.registry.Find(transport.ConnectionID(t.connID)); ok {
			e.expireJob(p, t.nonce)
		}
	case TimerThrottledSend:
		if p, ok := e.registry.Find(transport.ConnectionID(t.connID)); ok {
			e.onThrottledSendFired(p)
		}
	}
}

// connectScheduled dials every address the registry's backoff schedule has
// made due (spec.md §4.3 pop_connect). The dial itself runs on its own
// goroutine so the loop thread never blocks on network I/O; its outcome
// comes back through AsyncProcess/AsyncReportFailedOutbound like any other
// externally-driven event.
func (e *Eventloop) connectScheduled() {
	due := e.registry.PopConnect(time.Now())
	for _, addr := range due {
		if e.dialer == nil {
			e.logger.Debug("outbound dial due, no dialer installed", "addr", addr)
			continue
		}
		addr := addr
		go func() {
			conn, err := e.dialer(e.ctx, addr)
			if err != nil {
				e.logger.Debug("outbound dial failed", "addr", addr, "err", err)
				e.AsyncReportFailedOutbound(addr)
				return
			}
			e.AsyncProcess(conn)
		}()
	}
	if wake, ok := e.registry.WakeupTime(); ok {
		e.timers.Insert(wake, TimerConnect, 0, 0)
	}
}

// pingSleepDuration exposes the configured ping sleep to handlers in other
// files.
func (e *Eventloop) pingSleepDuration() time.Duration { return e.pingSleep }

// sendPingAwaitPong sends a ping and arms the CloseNoPong timer
// (spec.md §4.5).
func (e *Eventloop) sendPingAwaitPong(p *peer) {
	p.ping = pingAwaitingPong
	p.lastPingNonce = newJobNonce()
	buf := mustEncode(e.logger, &wire.Ping{Nonce: p.lastPingNonce, SnapshotPriority: e.ourSnapshotPriority()})
	if buf != nil {
		p.conn.AsyncSend(buf)
	}
	h := e.timers.Insert(time.Now().Add(e.pingTimeout), TimerCloseNoPong, uint64(p.id), 0)
	p.pingTimer = h
	p.hasPing = true
}

// receivedPongSleepPing puts the peer's ping state machine to sleep for
// pingSleep before the next ping (spec.md §4.5 "On pong, the peer sleeps
// for 10s then repings").
func (e *Eventloop) receivedPongSleepPing(p *peer) {
	p.ping = pingSleeping
	e.scheduleNextPing(p, e.pingSleep)
}

func (e *Eventloop) scheduleNextPing(p *peer, after time.Duration) {
	h := e.timers.Insert(time.Now().Add(after), TimerSendPing, uint64(p.id), 0)
	p.pingTimer = h
	p.hasPing = true
}

// assignJob marks a peer's one outstanding job and arms its expiry timer
// (spec.md §4.5 "Job scheduling").
func (e *Eventloop) assignJob(p *peer, kind requestKind, nonce uint64) {
	p.job = job{kind: kind, nonce: nonce}
	h := e.timers.Insert(time.Now().Add(jobExpiry), TimerExpire, uint64(p.id), nonce)
	p.job.expireH = h
	p.job.hasExpire = true
	e.activeRequests++
}

// closeJob clears a peer's outstanding job, cancels its timer, and frees
// an activeRequests slot (spec.md §3 "job: closed on matching reply").
func (e *Eventloop) closeJob(p *peer) {
	if !p.job.active() {
		return
	}
	if p.job.hasExpire {
		e.timers.Cancel(p.job.expireH)
	}
	if p.job.hasNoRep {
		e.timers.Cancel(p.job.noReplyH)
	}
	p.job = job{}
	if e.activeRequests > 0 {
		e.activeRequests--
	}
}

// expireJob converts a job-expiry firing into a CloseNoReply timer
// (spec.md §4.5 "expiry restarts the job as a CloseNoReply timer"). For a
// block job it also purges the peer from the block downloader so the chunk
// can be reassigned; batch and probe jobs notify no downloader.
func (e *Eventloop) expireJob(p *peer, nonce uint64) {
	if !p.job.active() || p.job.nonce != nonce {
		return
	}
	kind := p.job.kind
	h := e.timers.Insert(time.Now().Add(jobExpiry), TimerCloseNoReply, uint64(p.id), nonce)
	p.job.hasNoRep = true
	p.job.noReplyH = h

	switch kind {
	case requestBlock:
		e.blockDL.PurgePeer(p.id)
	}
	e.logger.Debug("job expired", "peer", p.id, "kind", kind)
}

// closeConn tears a peer down: cancels its timers, releases its request
// slot, purges it from the downloaders, and marks it erased; gcErased
// removes it from the registry at the end of the cycle (idempotent,
// spec.md §3).
func (e *Eventloop) closeConn(p *peer, reason wire.Reason) {
	if p.erased {
		return
	}
	p.erased = true

	if p.hasPing {
		e.timers.Cancel(p.pingTimer)
	}
	e.closeJob(p)
	if p.throttle.hasTmr {
		e.timers.Cancel(p.throttle.timer)
	}

	e.headerDL.RemovePeer(p.id)
	e.blockDL.PurgePeer(p.id)

	p.conn.AsyncClose(reason)
	e.logger.Info("peer closed", "peer", p.id, "addr", p.addr, "reason", reason)
	e.metrics.PeerCloses.With("reason", reason.String()).Add(1)

	// spec.md §9 Open Question: erase always triggers do_requests to keep
	// the request pipeline full, rather than leaving the dead-looking
	// doRequests flag from the original unconsulted.
	e.doRequests()
}

func (e *Eventloop) closeOffenders(offenders []transport.ConnectionID) {
	for _, id := range offenders {
		if p, ok := e.registry.Find(id); ok {
			e.closeConn(p, wire.ReasonBatchSize)
		}
	}
}

// doRequests assigns outstanding header/probe/block work to peers while
// activeRequests has capacity (spec.md §4.5 "assign work to connections").
// Each pass tries one new assignment against a fresh busy set, so a
// peer that just received a job in this same pass is excluded from the
// next pick; it stops once a pass makes no progress, having fanned work
// out across up to maxRequests distinct peers rather than pinning a
// single chosen one.
func (e *Eventloop) doRequests() {
	for e.activeRequests < e.maxRequests {
		if e.tryAssignOne() {
			continue
		}
		break
	}
}

// tryAssignOne attempts one new assignment (batch, then probe, then
// block) and reports whether it succeeded. busy excludes peers already
// carrying a job so repeated calls within one doRequests pass reach a
// different peer each time.
func (e *Eventloop) tryAssignOne() bool {
	busy := func(id transport.ConnectionID) bool {
		p, ok := e.registry.Find(id)
		return !ok || p.job.active()
	}
	if req := e.headerDL.DoHeaderRequests(e.chain.consensus.length, newJobNonce(), busy); req != nil {
		if p, ok := e.registry.Find(req.PeerID); ok && !p.job.active() {
			e.assignJob(p, requestBatch, req.Nonce)
			p.conn.AsyncSend(mustEncode(e.logger, req.Batch))
			return true
		}
	} else if req := e.headerDL.DoProbeRequests(e.chain.consensus.length, newJobNonce(), busy); req != nil {
		if p, ok := e.registry.Find(req.PeerID); ok && !p.job.active() {
			e.assignJob(p, requestProbe, req.Nonce)
			p.conn.AsyncSend(mustEncode(e.logger, req.Probe))
			return true
		}
	}
	if e.blockDL.Active() {
		for _, p := range e.registry.Initialized() {
			if p.job.active() {
				continue
			}
			nonce := newJobNonce()
			if req := e.blockDL.DoBlockRequest(p.id, nonce); req != nil {
				e.assignJob(p, requestBlock, nonce)
				p.conn.AsyncSend(mustEncode(e.logger, req))
				return true
			}
		}
	}
	return false
}

// coordinateSync runs after any chain view change and keeps the request
// pipeline full by calling doRequests. It computes the target worksum but
// hands it to neither downloader; header requests are chosen by peer
// length and worksum alone.
func (e *Eventloop) coordinateSync() {
	_ = e.chain.targetWorksum()
	e.doRequests()
}

// initializeBlockDownload starts fetching bodies for the currently staged
// header chain (spec.md §9 initialize_block_download).
func (e *Eventloop) initializeBlockDownload() {
	e.blockDL.Init(e.chain.stage.descriptor, e.chain.stage.headers, e.chain.consensus.length+1)
	e.doRequests()
}

// logChainLength emits the periodic info line spec.md SUPPLEMENTED
// FEATURES #3 describes.
func (e *Eventloop) logChainLength() {
	e.logger.Info("chain length",
		"consensus", e.chain.consensus.length,
		"worksum", e.chain.consensus.worksum.String(),
		"peers", len(e.registry.peers),
	)
}
