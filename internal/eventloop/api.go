package eventloop

import (
	"time"

	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// This file unifies the two overlapping API DTO namespaces the original
// source split across its forward_declarations headers (spec.md §9 Open
// Question) into one typed set, per SPEC_FULL.md's OPEN QUESTION
// DECISIONS.

// PeerInfo is what ApiGetPeers returns per peer.
type PeerInfo struct {
	ID         transport.ConnectionID
	Address    string
	Direction  transport.Direction
	Since      time.Time
	Initialized bool
	Length      wire.Height
	Descriptor  wire.Descriptor
	Throttled   bool
}

// HashrateSample is one point of a hashrate chart (spec.md SUPPLEMENTED
// FEATURES #1).
type HashrateSample struct {
	Height    wire.Height
	Hashrate  float64
	Timestamp uint32
}

// Snapshot is the inspector DTO (spec.md §6 "inspector").
type Snapshot struct {
	Peers          []PeerInfo
	ConsensusLen   wire.Height
	ConsensusDesc  wire.Descriptor
	StageLen       wire.Height
	StageDesc      wire.Descriptor
	Synced         bool
	ActiveRequests int
	MaxRequests    int
}

// ApiGetPeers enqueues a callback that fires on the loop thread with the
// current peer set (spec.md §5, §6).
func (e *Eventloop) ApiGetPeers(filterThrottled bool, cb func([]PeerInfo)) {
	e.Defer(getPeers{filterThrottled: filterThrottled, cb: cb})
}

func (e *Eventloop) ApiGetSynced(cb func(bool)) {
	e.Defer(getSynced{cb: cb})
}

// ApiGetHashrate estimates current hashrate from the last n consensus
// headers' timestamps and difficulties (spec.md SUPPLEMENTED FEATURES #1).
func (e *Eventloop) ApiGetHashrate(n int, cb func(float64)) {
	e.Defer(getHashrate{n: n, cb: cb})
}

func (e *Eventloop) ApiGetHashrateChart(from, to wire.Height, window int, cb func([]HashrateSample)) {
	e.Defer(getHashrateChart{from: from, to: to, window: window, cb: cb})
}

func (e *Eventloop) ApiInspect(cb func(Snapshot)) {
	e.Defer(inspect{cb: cb})
}

func (e *Eventloop) handleGetPeers(ev getPeers) {
	var out []PeerInfo
	for _, p := range e.registry.All() {
		if ev.filterThrottled && !p.throttle.empty() {
			continue
		}
		out = append(out, PeerInfo{
			ID:          p.id,
			Address:     p.addr,
			Since:       p.since,
			Initialized: p.initialized,
			Length:      p.view.length,
			Descriptor:  p.view.descriptor,
			Throttled:   !p.throttle.empty(),
		})
	}
	ev.cb(out)
}

func (e *Eventloop) handleGetSynced(ev getSynced) {
	ev.cb(e.syncState.synced)
}

func (e *Eventloop) handleGetHashrate(ev getHashrate) {
	ev.cb(e.chain.estimateHashrate(ev.n))
}

func (e *Eventloop) handleGetHashrateChart(ev getHashrateChart) {
	ev.cb(e.chain.hashrateChart(ev.from, ev.to, ev.window))
}

func (e *Eventloop) handleInspect(ev inspect) {
	ev.cb(e.snapshot())
}

func (e *Eventloop) snapshot() Snapshot {
	var peers []PeerInfo
	for _, p := range e.registry.All() {
		peers = append(peers, PeerInfo{
			ID:          p.id,
			Address:     p.addr,
			Since:       p.since,
			Initialized: p.initialized,
			Length:      p.view.length,
			Descriptor:  p.view.descriptor,
			Throttled:   !p.throttle.empty(),
		})
	}
	return Snapshot{
		Peers:          peers,
		ConsensusLen:   e.chain.consensus.length,
		ConsensusDesc:  e.chain.consensus.descriptor,
		StageLen:       e.chain.stage.length,
		StageDesc:      e.chain.stage.descriptor,
		Synced:         e.syncState.synced,
		ActiveRequests: e.activeRequests,
		MaxRequests:    e.maxRequests,
	}
}
