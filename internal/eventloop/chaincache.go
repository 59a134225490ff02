package eventloop

import (
	"math/big"

	"github.com/I-luk-I/Warthog/internal/pow"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// chainView2 is a twin view's state: descriptor, headers retained, and
// accumulated work (spec.md §3: "Each carries headers, total work,
// descriptor... and length.").
//
// Named chainView2 to avoid colliding with the per-peer chainView in
// peer.go, which carries the same shape for a different purpose (the
// peer's advertised view versus our own local cache).
type chainView2 struct {
	descriptor wire.Descriptor
	headers    []wire.Header
	worksum    *big.Int
	length     wire.Height
}

func (v *chainView2) recomputeWorksum() {
	bits := make([]uint32, len(v.headers))
	for i, h := range v.headers {
		bits[i] = h.Bits
	}
	v.worksum = pow.Worksum(bits)
	v.length = wire.Height(len(v.headers))
}

// chainCache is the loop's twin view of consensus and stage chains (C6,
// spec.md §3): consensus is validated and monotonically advancing modulo
// signed-snapshot rollbacks, stage is the heaviest candidate currently
// under evaluation.
type chainCache struct {
	consensus chainView2
	stage     chainView2
	hasStage  bool

	pinned *wire.SignedSnapshot // highest-priority snapshot we've accepted
}

func newChainCache() *chainCache {
	return &chainCache{
		consensus: chainView2{worksum: big.NewInt(0)},
		stage:     chainView2{worksum: big.NewInt(0)},
	}
}

// applyAppend extends consensus by headers already validated by the
// chain-state server.
func (c *chainCache) applyAppend(headers []wire.Header) {
	c.consensus.headers = append(c.consensus.headers, headers...)
	c.consensus.recomputeWorksum()
}

// applyFork replaces consensus with a new descriptor's header chain,
// reorganizing at forkHeight.
func (c *chainCache) applyFork(descriptor wire.Descriptor, forkHeight wire.Height, headers []wire.Header) {
	c.consensus.descriptor = descriptor
	c.consensus.headers = headers
	c.consensus.recomputeWorksum()
	// A fork invalidates any stage built against the superseded chain.
	if c.hasStage && c.stage.descriptor != descriptor {
		c.clearStage()
	}
}

// applyRollback adopts a signed snapshot's authority, replacing consensus
// with the snapshot's chain (spec.md §4.8: "If the new snapshot is
// incompatible with the stage chain, the block downloader is reset.").
// It returns true if the stage chain was invalidated as a result, so the
// caller can reset the block downloader.
func (c *chainCache) applyRollback(ss wire.SignedSnapshot, descriptor wire.Descriptor, headers []wire.Header) (stageInvalidated bool) {
	c.pinned = &ss
	c.consensus.descriptor = descriptor
	c.consensus.headers = headers
	c.consensus.recomputeWorksum()

	if c.hasStage && (c.stage.descriptor != descriptor || c.stage.length < ss.Priority.Height) {
		c.clearStage()
		return true
	}
	return false
}

// setStage promotes a candidate header chain for validation (C4's
// pop_data()/C9's set_stage_headers).
func (c *chainCache) setStage(descriptor wire.Descriptor, headers []wire.Header) {
	c.stage = chainView2{descriptor: descriptor, headers: headers}
	c.stage.recomputeWorksum()
	c.hasStage = true
}

func (c *chainCache) clearStage() {
	c.stage = chainView2{worksum: big.NewInt(0)}
	c.hasStage = false
}

// acceptableRollback reports whether a newly claimed snapshot priority is
// high enough to supersede our pinned checkpoint (spec.md "A snapshot with
// higher priority can force a rollback of consensus.").
func (c *chainCache) acceptableRollback(ss wire.SignedSnapshot) bool {
	if c.pinned == nil {
		return true
	}
	return c.pinned.Priority.Less(ss.Priority)
}

// targetWorksum is the greater of our consensus work and whatever work the
// stage chain (if any) already represents. coordinateSync computes it, but
// it is not passed to the header downloader.
func (c *chainCache) targetWorksum() *big.Int {
	if c.hasStage && c.stage.worksum.Cmp(c.consensus.worksum) > 0 {
		return c.stage.worksum
	}
	return c.consensus.worksum
}

// estimateHashrate derives a hashrate estimate from the last n consensus
// headers' timestamps and difficulties (spec.md SUPPLEMENTED FEATURES #1),
// rather than tracking it separately as the original source's stored
// hashrate series did.
func (c *chainCache) estimateHashrate(n int) float64 {
	hs := c.consensus.headers
	if len(hs) < 2 {
		return 0
	}
	if n <= 0 || n > len(hs) {
		n = len(hs)
	}
	window := hs[len(hs)-n:]
	span := int64(window[len(window)-1].Time) - int64(window[0].Time)
	if span <= 0 {
		return 0
	}
	bits := make([]uint32, len(window)-1)
	for i := range bits {
		bits[i] = window[i+1].Bits
	}
	work := pow.Worksum(bits)
	workF := new(big.Float).SetInt(work)
	rate, _ := new(big.Float).Quo(workF, big.NewFloat(float64(span))).Float64()
	return rate
}

// hashrateChart buckets estimated hashrate across [from, to] into windows
// of `window` headers each (spec.md SUPPLEMENTED FEATURES #1, the ranged
// variant of api_get_hashrate_chart).
func (c *chainCache) hashrateChart(from, to wire.Height, window int) []HashrateSample {
	if window <= 0 {
		window = 1
	}
	hs := c.consensus.headers
	var out []HashrateSample
	for h := from; h <= to && int(h) <= len(hs); h += wire.Height(window) {
		end := h + wire.Height(window)
		if end > to {
			end = to
		}
		if int(end) > len(hs) {
			end = wire.Height(len(hs))
		}
		if end <= h {
			continue
		}
		segment := hs[h-1 : end]
		span := int64(segment[len(segment)-1].Time) - int64(segment[0].Time)
		var rate float64
		if span > 0 && len(segment) > 1 {
			bits := make([]uint32, len(segment)-1)
			for i := range bits {
				bits[i] = segment[i+1].Bits
			}
			work := pow.Worksum(bits)
			workF := new(big.Float).SetInt(work)
			rate, _ = new(big.Float).Quo(workF, big.NewFloat(float64(span))).Float64()
		}
		out = append(out, HashrateSample{Height: end, Hashrate: rate, Timestamp: segment[len(segment)-1].Time})
	}
	return out
}
