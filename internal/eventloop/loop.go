// Package eventloop is the single-threaded coordinator that drives
// per-peer protocol state machines, header/block synchronization, chain
// reconciliation, and timing/offense policy (C9, spec.md §4.1).
package eventloop

import (
	"context"
	"sync"
	"time"

	"github.com/I-luk-I/Warthog/internal/chainstate"
	"github.com/I-luk-I/Warthog/internal/eventloop/blocksync"
	"github.com/I-luk-I/Warthog/internal/eventloop/headersync"
	"github.com/I-luk-I/Warthog/internal/log"
	"github.com/I-luk-I/Warthog/internal/peerdb"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// Eventloop is the worker thread that owns all mutable core state
// (spec.md §4.1 "Thread model"). External callers only ever reach it
// through the Async*/Api* methods, which enqueue events under a short-held
// mutex (spec.md §5).
type Eventloop struct {
	ctx context.Context

	stateServer chainstate.Server
	peerDB      peerdb.DB
	logger      log.Logger
	metrics     *Metrics

	registry *registry
	timers   *TimerWheel
	chain    *chainCache
	mempool  *mempoolOverlay
	headerDL *headersync.Downloader
	blockDL  *blocksync.Downloader

	syncState syncState

	activeRequests int
	maxRequests    int

	lastChainLog time.Time

	pingTimeout time.Duration
	pingSleep   time.Duration

	// dialer performs the actual outbound connect for addresses the
	// registry's backoff schedule makes due. It runs off the loop thread
	// (spec.md §1: the loop never blocks on I/O) and reports back through
	// AsyncProcess/AsyncReportFailedOutbound.
	dialer func(ctx context.Context, addr string) (transport.Connection, error)

	// mutex-protected shared state, mirroring eventloop.hpp's
	// cv/mutex/haswork/closeReason/events/thread grouping.
	mu        sync.Mutex
	cv        *sync.Cond
	hasWork   bool
	closeReason wire.Reason
	shuttingDown bool
	queue     []Event
}

// Config carries the tunables spec.md leaves as production constants
// (§4.5) but that the rewrite exposes through the config package.
type Config struct {
	MaxRequests int
	PingTimeout time.Duration
	PingSleep   time.Duration
}

// DefaultConfig matches spec.md §4.5's production figures.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 10,
		PingTimeout: 10 * time.Minute,
		PingSleep:   10 * time.Second,
	}
}

// New constructs an Eventloop with its dependencies injected explicitly
// (spec.md §9 "Global state": "inject these as construction parameters;
// the event loop should not reach out to an ambient registry.").
func New(ctx context.Context, cfg Config, stateServer chainstate.Server, peerDB peerdb.DB, logger log.Logger, m *Metrics) *Eventloop {
	if m == nil {
		m = NopMetrics()
	}
	e := &Eventloop{
		ctx:         ctx,
		stateServer: stateServer,
		peerDB:      peerDB,
		logger:      logger,
		metrics:     m,
		registry:    newRegistry(),
		timers:      NewTimerWheel(),
		chain:       newChainCache(),
		mempool:     newMempoolOverlay(),
		headerDL:    headersync.NewDownloader(),
		blockDL:     blocksync.NewDownloader(),
		maxRequests: cfg.MaxRequests,
		pingTimeout: cfg.PingTimeout,
		pingSleep:   cfg.PingSleep,
	}
	e.cv = sync.NewCond(&e.mu)
	return e
}

// Defer enqueues an event for the loop thread to process, returning false
// (and logging at Debug) if the loop is shutting down and the event was
// dropped (spec.md §9 Open Question). The Async* wrappers return this bool
// to their callers; the Api* wrappers and in-loop callers discard it.
func (e *Eventloop) Defer(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shuttingDown {
		e.logger.Debug("dropping event on shutting-down loop")
		return false
	}
	e.queue = append(e.queue, ev)
	e.hasWork = true
	e.cv.Signal()
	return true
}

// SetDialer installs the function cmd/noded uses to perform outbound
// connects. It must be set before Run; without one, connectScheduled only
// logs the addresses that came due (useful for tests that never dial).
func (e *Eventloop) SetDialer(d func(ctx context.Context, addr string) (transport.Connection, error)) {
	e.dialer = d
}

// AsyncProcess hands a freshly accepted/dialed connection to the loop.
func (e *Eventloop) AsyncProcess(conn transport.Connection) bool {
	return e.Defer(onProcessConnection{conn: conn})
}

// AsyncInboundMessage hands one decoded message from conn to the loop; the
// transport adapter's ExtractMessages loop calls this per message.
func (e *Eventloop) AsyncInboundMessage(id transport.ConnectionID, msg wire.Message) bool {
	return e.Defer(onInboundMessage{id: id, msg: msg})
}

func (e *Eventloop) AsyncErase(id transport.ConnectionID, reason wire.Reason) bool {
	return e.Defer(onRelease{id: id, reason: reason})
}

func (e *Eventloop) AsyncReportFailedOutbound(addr string) bool {
	return e.Defer(onFailedOutbound{addr: addr})
}

// AsyncPinAddress and AsyncUnpinAddress implement spec.md SUPPLEMENTED
// FEATURES #2: a pinned outbound address is never dropped by
// on_failed_outbound backoff pruning.
func (e *Eventloop) AsyncPinAddress(addr string) bool {
	return e.Defer(onPinAddress{addr: addr})
}

func (e *Eventloop) AsyncUnpinAddress(addr string) bool {
	return e.Defer(onUnpinAddress{addr: addr})
}

func (e *Eventloop) AsyncStateUpdate(u chainstate.StateUpdate) bool {
	return e.Defer(onStateUpdate{update: u})
}

func (e *Eventloop) AsyncStageAction(connID transport.ConnectionID, result chainstate.StageResult) bool {
	return e.Defer(onStageResult{connID: connID, result: result})
}

// AsyncShutdown requests the loop stop on its next iteration
// (spec.md §4.1 "Shutdown").
func (e *Eventloop) AsyncShutdown(reason wire.Reason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeReason = reason
	e.shuttingDown = true
	e.hasWork = true
	e.cv.Signal()
}

// Run is the main cycle (spec.md §4.1 steps 1-7). It blocks until the
// loop shuts down or ctx is cancelled.
func (e *Eventloop) Run() error {
	go func() {
		<-e.ctx.Done()
		e.AsyncShutdown(wire.ReasonShutdown)
	}()

	for {
		events, timers, shouldExit := e.wait()
		if shouldExit {
			e.drainShutdown()
			return nil
		}

		for _, t := range timers {
			e.handleTimer(t)
		}
		for _, ev := range events {
			e.handleEvent(ev)
			e.metrics.EventsHandled.Add(1)
		}

		e.gcErased()
		e.recomputeSyncState()
		e.publishGauges()
		e.maybeLogChainLength()
	}
}

// maybeLogChainLength ticks the periodic info line spec.md SUPPLEMENTED
// FEATURES #3 describes, at most once per minute.
func (e *Eventloop) maybeLogChainLength() {
	if now := time.Now(); now.Sub(e.lastChainLog) >= time.Minute {
		e.lastChainLog = now
		e.logChainLength()
	}
}

// wait is step 1-2 of the main cycle: block on the condition variable
// until work is available or the earliest timer is due, then swap out the
// queue and pop expired timers under the lock.
func (e *Eventloop) wait() (events []Event, timers []timerEvent, shutdown bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for !e.hasWork && !e.shuttingDown {
		deadline, ok := e.timers.Next()
		if !ok {
			e.cv.Wait()
			continue
		}
		if !time.Now().Before(deadline) {
			break
		}
		timer := time.AfterFunc(time.Until(deadline), func() {
			e.mu.Lock()
			e.hasWork = true
			e.cv.Signal()
			e.mu.Unlock()
		})
		e.cv.Wait()
		timer.Stop()
	}

	if e.shuttingDown && len(e.queue) == 0 {
		return nil, nil, true
	}

	events = e.queue
	e.queue = nil
	e.hasWork = false
	timers = e.timers.PopExpired(time.Now())
	return events, timers, false
}

func (e *Eventloop) drainShutdown() {
	e.logger.Info("event loop shutting down", "reason", e.closeReason)
	for _, p := range e.registry.All() {
		e.closeConn(p, e.closeReason)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.stateServer.ShutdownJoin(ctx); err != nil {
		e.logger.Error("chain-state server shutdown failed", "err", err)
	}
}

// handleEvent dispatches one queued event by tag (spec.md §9: a tagged
// variant for Event, matched without virtual dispatch).
func (e *Eventloop) handleEvent(ev Event) {
	switch v := ev.(type) {
	case onProcessConnection:
		e.processConnection(v.conn)
	case onInboundMessage:
		e.dispatchMessage(v.id, v.msg)
	case onRelease:
		if p, ok := e.registry.Find(v.id); ok {
			e.closeConn(p, v.reason)
		}
	case onFailedOutbound:
		e.registry.OnFailedOutbound(v.addr)
	case onPinAddress:
		e.registry.Pin(v.addr)
	case onUnpinAddress:
		e.registry.Unpin(v.addr)
	case onStateUpdate:
		e.handleStateUpdate(v.update)
	case onStageResult:
		e.handleStageResultEvent(v.connID, v.result)
	case onForwardBlockrep:
		e.handleForwardBlockrep(v)
	case getPeers:
		e.handleGetPeers(v)
	case getSynced:
		e.handleGetSynced(v)
	case getHashrate:
		e.handleGetHashrate(v)
	case getHashrateChart:
		e.handleGetHashrateChart(v)
	case inspect:
		e.handleInspect(v)
	default:
		e.logger.Error("unknown event type dispatched")
	}
}

// processConnection registers a newly delivered connection and sends the
// first Init (spec.md §3 "registered on first event-loop visit").
func (e *Eventloop) processConnection(conn transport.Connection) {
	p := newPeer(conn.ID(), conn)
	if !e.registry.Insert(p) {
		conn.AsyncClose(wire.ReasonChainError)
		return
	}
	e.sendInit(p)
}

func (e *Eventloop) sendInit(p *peer) {
	cs := e.stateServer.GetChainstate()
	init := &wire.Init{
		Descriptor: cs.Descriptor,
		Length:     cs.Length,
		WorkBits:   cs.WorkBits,
	}
	buf := mustEncode(e.logger, init)
	if buf != nil {
		p.conn.AsyncSend(buf)
	}
}

// handleForwardBlockrep builds and sends the BlockRep once the
// chain-state server's asynchronous body fetch completes
// (spec.md §9 async_forward_blockrep).
func (e *Eventloop) handleForwardBlockrep(v onForwardBlockrep) {
	p, ok := e.registry.Find(v.connID)
	if !ok || p.erased {
		return
	}
	if v.err != nil {
		e.closeConn(p, wire.ReasonNotFound)
		return
	}
	e.sendThrottled(p, &wire.BlockRep{Nonce: v.nonce, StartHeight: v.start, Bodies: v.bodies})
}

func (e *Eventloop) gcErased() {
	for _, p := range e.registry.All() {
		if p.erased {
			e.registry.Erase(p.id)
		}
	}
}

func (e *Eventloop) publishGauges() {
	e.metrics.Peers.Set(float64(len(e.registry.peers)))
	e.metrics.ActiveRequests.Set(float64(e.activeRequests))
	e.metrics.ConsensusLen.Set(float64(e.chain.consensus.length))
	e.metrics.MempoolSize.Set(float64(len(e.mempool.entries)))
}
