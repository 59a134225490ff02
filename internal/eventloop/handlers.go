package eventloop

import (
	"time"

	"github.com/I-luk-I/Warthog/internal/chainstate"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// jobExpiry is how long an assigned job may stay outstanding before it
// expires (spec.md §4.5). The ping timeout and ping sleep are not constants
// here; they come from Config.
const (
	jobExpiry = 2 * time.Minute
)

// handleInit processes a peer's first message: registers it in the
// downloaders and schedules its first ping (spec.md §4.4 table, §4.5).
func (e *Eventloop) handleInit(p *peer, m *wire.Init) {
	p.initialized = true
	p.view = chainView{
		descriptor: m.Descriptor,
		length:     m.Length,
		worksum:    worksumOf(m.WorkBits),
		forkFrom:   1,
		forkTo:     m.Length,
	}
	e.logger.Info("peer initialized", "peer", p.id, "addr", p.addr, "length", m.Length)

	e.headerDL.OnPeerInit(p.id, m.Descriptor, m.Length, p.view.worksum)
	e.scheduleNextPing(p, e.pingSleepDuration())
	e.coordinateSync()
	e.doRequests()
}

func (e *Eventloop) handleAppend(p *peer, m *wire.Append) error {
	if len(m.Headers) == 0 {
		return wire.Offense(wire.ReasonEmpty, "empty append")
	}
	p.view.length += wire.Height(len(m.Headers))
	p.view.worksum.Add(p.view.worksum, worksumOf(bitsOf(m.Headers)))
	e.headerDL.OnPeerAppend(p.id, p.view.length, p.view.worksum)
	e.coordinateSync()
	return nil
}

func (e *Eventloop) handleFork(p *peer, m *wire.Fork) error {
	if len(m.Headers) == 0 {
		return wire.Offense(wire.ReasonEmpty, "empty fork")
	}
	p.view.descriptor = m.Descriptor
	p.view.length = m.ForkHeight + wire.Height(len(m.Headers))
	p.view.worksum = worksumOf(bitsOf(m.Headers))
	p.view.forkFrom = m.ForkHeight
	e.headerDL.OnPeerFork(p.id, m.Descriptor, p.view.length, p.view.worksum)
	e.coordinateSync()
	return nil
}

func (e *Eventloop) handleSignedPinRollback(p *peer, m *wire.SignedPinRollback) error {
	if err := e.verifyRollback(p, m); err != nil {
		return err
	}
	if !e.chain.acceptableRollback(m.Snapshot) {
		return wire.Offense(wire.ReasonLowPriority, "rollback priority too low")
	}
	e.stateServer.AsyncSetSignedCheckpoint(m.Snapshot, func(ss wire.SignedSnapshot, err error) {
		if err != nil {
			e.logger.Debug("signed checkpoint rejected", "peer", p.id, "err", err)
		}
	})
	return nil
}

// verifyRollback checks the rollback's claimed height sits within the
// peer's advertised fork range (spec.md §4.5 "verify against peer's
// claimed fork range").
func (e *Eventloop) verifyRollback(p *peer, m *wire.SignedPinRollback) error {
	if !wire.VerifySnapshot(m.Snapshot) {
		return wire.Offense(wire.ReasonBadRollback, "snapshot signature does not verify")
	}
	if m.Snapshot.Priority.Height > p.view.length {
		return wire.Offense(wire.ReasonBadRollback, "rollback height beyond peer's claimed chain")
	}
	if m.Snapshot.Priority.Height < p.view.forkFrom {
		return wire.Offense(wire.ReasonBadRollbackLen, "rollback height below peer's fork range")
	}
	return nil
}

func (e *Eventloop) handlePing(p *peer, m *wire.Ping) error {
	if raiseIfHigher(&p.snaps.theirClaim, m.SnapshotPriority) {
		e.considerSendSnapshot(p)
	}
	addrs := e.registry.SampleVerified(8)
	ids := e.mempoolSample(8)
	e.sendThrottled(p, &wire.Pong{
		Nonce:            m.Nonce,
		SnapshotPriority: e.ourSnapshotPriority(),
		AddressSample:    addrs,
		TxIDSample:       ids,
	})
	return nil
}

func (e *Eventloop) handlePong(p *peer, m *wire.Pong) error {
	if m.Nonce != p.lastPingNonce {
		return nil // stale pong, ignore rather than offend
	}
	if raiseIfHigher(&p.snaps.theirClaim, m.SnapshotPriority) {
		e.considerSendSnapshot(p)
	}
	if p.hasPing {
		e.timers.Cancel(p.pingTimer)
		p.hasPing = false
	}
	e.receivedPongSleepPing(p)
	return nil
}

// considerSendSnapshot pushes our latest snapshot to a peer whose claim
// trails our own snapshot priority, raising ourAck to match (spec.md §4.5).
func (e *Eventloop) considerSendSnapshot(p *peer) {
	our := e.ourSnapshotPriority()
	if p.snaps.theirClaim.Less(our) {
		raiseIfHigher(&p.snaps.ourAck, our)
		ss := wire.SignedSnapshot{Priority: our}
		if e.chain.pinned != nil {
			ss = *e.chain.pinned
		}
		p.conn.AsyncSend(mustEncode(e.logger, &wire.Leader{Snapshot: ss}))
	}
}

func (e *Eventloop) ourSnapshotPriority() wire.SnapshotPriority {
	if e.chain.pinned != nil {
		return e.chain.pinned.Priority
	}
	return wire.SnapshotPriority{}
}

func (e *Eventloop) handleBatchReq(p *peer, m *wire.BatchReq) error {
	const minReturn, maxReturn = 1, 2000
	if m.Length < minReturn || m.Length > maxReturn {
		return wire.Offense(wire.ReasonBatchSize, "requested length out of bounds")
	}
	headers, err := e.stateServer.GetHeaders(chainstate.Selector{Descriptor: m.Descriptor, UseFork: true}, m.StartHeight, m.Length)
	if err != nil {
		e.sendThrottled(p, &wire.BatchRep{Nonce: m.Nonce})
		return nil
	}
	e.sendThrottled(p, &wire.BatchRep{Nonce: m.Nonce, Headers: headers})
	return nil
}

func (e *Eventloop) handleBatchRep(p *peer, m *wire.BatchRep) error {
	if !p.job.active() || p.job.kind != requestBatch || p.job.nonce != m.Nonce {
		return nil
	}
	e.closeJob(p)
	offenders := e.headerDL.OnBatchRep(p.id, m.Headers)
	e.closeOffenders(offenders)
	if chain, ok := e.headerDL.PopData(); ok {
		e.chain.setStage(chain.Descriptor, chain.Headers)
		e.initializeBlockDownload()
	}
	e.doRequests()
	return nil
}

func (e *Eventloop) handleProbeReq(p *peer, m *wire.ProbeReq) error {
	h, found, err := e.stateServer.GetDescriptorHeader(m.Descriptor, m.Height)
	if err != nil || !found {
		e.sendThrottled(p, &wire.ProbeRep{Nonce: m.Nonce, Found: false})
		return nil
	}
	e.sendThrottled(p, &wire.ProbeRep{Nonce: m.Nonce, Found: true, Header: h})
	return nil
}

func (e *Eventloop) handleProbeRep(p *peer, m *wire.ProbeRep) error {
	if !p.job.active() || p.job.kind != requestProbe || p.job.nonce != m.Nonce {
		return nil
	}
	e.closeJob(p)
	if !m.Found {
		// An empty probe reply while the peer claims a chain covering
		// that height is itself an offense (spec.md §7).
		if p.view.length >= e.headerDL.LastProbedHeight(p.id) {
			e.doRequests()
			return wire.Offense(wire.ReasonNotFound, "empty probe reply for claimed height")
		}
	}
	offenders := e.headerDL.OnProbeRep(p.id, m.Found, m.Header)
	e.closeOffenders(offenders)
	e.doRequests()
	return nil
}

func (e *Eventloop) handleBlockReq(p *peer, m *wire.BlockReq) error {
	p.lastNonce = m.Nonce
	e.stateServer.AsyncGetBlocks(e.ctx, m.StartHeight, m.Length, func(bodies []wire.Body, err error) {
		e.Defer(onForwardBlockrep{connID: p.id, nonce: m.Nonce, start: m.StartHeight, bodies: bodies, err: err})
	})
	return nil
}

func (e *Eventloop) handleBlockRep(p *peer, m *wire.BlockRep) error {
	if !p.job.active() || p.job.kind != requestBlock || p.job.nonce != m.Nonce {
		return nil
	}
	e.closeJob(p)
	offenders, stageReq := e.blockDL.OnBlockRep(p.id, m.StartHeight, m.Bodies)
	e.closeOffenders(offenders)
	if stageReq != nil {
		e.stateServer.AsyncStageRequest(*stageReq)
	}
	e.doRequests()
	return nil
}

func (e *Eventloop) handleLeader(p *peer, m *wire.Leader) error {
	if !e.chain.acceptableRollback(m.Snapshot) {
		return nil
	}
	if !wire.VerifySnapshot(m.Snapshot) {
		return wire.Offense(wire.ReasonBadRollback, "leader snapshot signature does not verify")
	}
	raiseIfHigher(&p.snaps.theirClaim, m.Snapshot.Priority)
	e.stateServer.AsyncSetSignedCheckpoint(m.Snapshot, func(ss wire.SignedSnapshot, err error) {
		if err != nil {
			e.logger.Debug("leader snapshot rejected", "peer", p.id, "err", err)
		}
	})
	return nil
}

func bitsOf(headers []wire.Header) []uint32 {
	bits := make([]uint32, len(headers))
	for i, h := range headers {
		bits[i] = h.Bits
	}
	return bits
}

// mempoolSample returns up to n transaction ids to piggyback on a pong.
func (e *Eventloop) mempoolSample(n int) [][32]byte {
	e.mempool.ensureSorted()
	if len(e.mempool.sorted) <= n {
		out := make([][32]byte, len(e.mempool.sorted))
		for i, s := range e.mempool.sorted {
			out[i] = s.id
		}
		return out
	}
	out := make([][32]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, e.mempool.sorted[i].id)
	}
	return out
}
