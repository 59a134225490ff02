// Package blocksync is the block downloader (C5, spec.md §4.7): it
// consumes promoted header chains from the header downloader and fetches
// bodies in ordered ranges against the validated header chain.
package blocksync

import (
	"github.com/I-luk-I/Warthog/internal/chainstate"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

const chunkSize = 500

// fetch is one peer's outstanding body request against the staged chain
// (spec.md §4.7 "per-peer focus pointers").
type fetch struct {
	start  wire.Height
	length uint32
}

// Downloader coordinates block-body fetching against a staged header
// chain, handing out disjoint height ranges to as many peers as have
// spare capacity at once, rather than one peer at a time.
type Downloader struct {
	descriptor wire.Descriptor
	headers    []wire.Header // the full staged chain, indexed by height-1
	focus      wire.Height   // next height not yet handed out to any peer
	committed  wire.Height   // next height not yet staged to the chain-state server

	active map[transport.ConnectionID]fetch
}

func NewDownloader() *Downloader {
	return &Downloader{active: make(map[transport.ConnectionID]fetch)}
}

// Reset discards all progress, e.g. after an incompatible rollback
// invalidated the stage chain (spec.md §4.8).
func (d *Downloader) Reset() {
	*d = Downloader{active: make(map[transport.ConnectionID]fetch)}
}

// Init begins fetching bodies for a freshly promoted header chain
// (spec.md §4.6 pop_data() feeding into C9's initialize_block_download).
func (d *Downloader) Init(descriptor wire.Descriptor, headers []wire.Header, fromHeight wire.Height) {
	d.descriptor = descriptor
	d.headers = headers
	if fromHeight < 1 {
		fromHeight = 1
	}
	d.focus = fromHeight
	d.committed = fromHeight
	d.active = make(map[transport.ConnectionID]fetch)
}

// Active reports whether the staged chain still has heights at or above
// committed (not yet validated), holding off a "caught up" verdict (C10) while any chunk is
// still assigned but not yet validated, not just while chunks remain
// unassigned.
func (d *Downloader) Active() bool {
	return d.committed <= wire.Height(len(d.headers))
}

// DoBlockRequest hands peerID the next unassigned chunk, if that peer
// doesn't already carry one and any chunk remains to assign. Distinct
// peers get distinct ranges, so many chunks can be in flight at once
// (spec.md §4.7, §8 Scenario 6).
func (d *Downloader) DoBlockRequest(peerID transport.ConnectionID, nonce uint64) *wire.BlockReq {
	if _, busy := d.active[peerID]; busy {
		return nil
	}
	if d.focus > wire.Height(len(d.headers)) {
		return nil
	}
	remaining := wire.Height(len(d.headers)) - d.focus + 1
	length := uint32(remaining)
	if length > chunkSize {
		length = chunkSize
	}
	start := d.focus
	d.focus += wire.Height(length)
	d.active[peerID] = fetch{start: start, length: length}
	return &wire.BlockReq{Nonce: nonce, StartHeight: start, Length: length}
}

// OnBlockRep verifies a reply's range matches that peer's own
// outstanding fetch, forwards the bodies to the chain-state server as a
// stage request, and clears the peer's fetch (spec.md §4.7). It returns
// the peer as an offender on a range mismatch.
func (d *Downloader) OnBlockRep(peerID transport.ConnectionID, start wire.Height, bodies []wire.Body) ([]transport.ConnectionID, *chainstate.StageRequest) {
	f, ok := d.active[peerID]
	if !ok || start != f.start {
		return []transport.ConnectionID{peerID}, nil
	}
	delete(d.active, peerID)
	if uint32(len(bodies)) != f.length {
		return []transport.ConnectionID{peerID}, nil
	}

	headers := d.headers[start-1 : start-1+wire.Height(len(bodies))]
	req := &chainstate.StageRequest{
		ConnectionID: uint64(peerID),
		Descriptor:   d.descriptor,
		Headers:      append([]wire.Header(nil), headers...),
		Bodies:       bodies,
	}
	return nil, req
}

// OnStageResult advances committed past a validated chunk, or, on
// rejection naming a specific offender connection, returns it
// (spec.md §4.7 "On successful stage validation... offenders... are
// closed and the next stage request is issued").
func (d *Downloader) OnStageResult(result chainstate.StageResult, connID transport.ConnectionID) (offender transport.ConnectionID, isOffender bool) {
	if !result.Accepted {
		return connID, true
	}
	if result.ForkHeight > d.committed {
		d.committed = result.ForkHeight
	}
	return 0, false
}

// PurgePeer drops an in-flight request attributed to a peer that is being
// closed for an unrelated reason. If that peer held the most recently
// handed-out chunk, focus rolls back so the range is reassigned rather
// than permanently skipped; an abandoned chunk behind other still-active
// ranges is left for those peers to finish.
func (d *Downloader) PurgePeer(peerID transport.ConnectionID) {
	f, ok := d.active[peerID]
	if !ok {
		return
	}
	delete(d.active, peerID)
	if f.start+wire.Height(f.length) == d.focus {
		d.focus = f.start
	}
}
