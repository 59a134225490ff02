// Package headersync is the header downloader (C4, spec.md §4.6): it owns
// the set of peer chain views and iteratively issues batch and probe
// requests to make local headers converge on the heaviest fork any peer
// advertises.
package headersync

import (
	"math/big"

	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// PeerView is what the downloader tracks per peer.
type PeerView struct {
	id         transport.ConnectionID
	descriptor wire.Descriptor
	length     wire.Height
	worksum    *big.Int

	registeredOrder int // lower wins ties (spec.md §4.6 "earlier-registered peer wins ties")

	// focus is the next height this downloader will request from this
	// peer if it becomes the chosen sender.
	focus wire.Height

	lastProbed wire.Height
}

// HeaderChain is a validated candidate chain ready for staging
// (spec.md §4.6 pop_data()).
type HeaderChain struct {
	Descriptor wire.Descriptor
	Headers    []wire.Header
}

// Request describes outbound work the downloader wants the loop to issue
// (spec.md §4.6's do_header_requests/do_probe_requests contract, adapted
// to return data instead of performing I/O itself — the loop owns all
// actual sends).
type Request struct {
	PeerID      transport.ConnectionID
	Nonce       uint64
	Batch       *wire.BatchReq
	Probe       *wire.ProbeReq
}

// Downloader coordinates header sync across all initialized peers.
type Downloader struct {
	peers map[transport.ConnectionID]*PeerView
	order int

	pending []HeaderChain

	minReturn, maxReturn uint32
}

func NewDownloader() *Downloader {
	return &Downloader{
		peers:     make(map[transport.ConnectionID]*PeerView),
		minReturn: 1,
		maxReturn: 2000,
	}
}

func (d *Downloader) OnPeerInit(id transport.ConnectionID, descriptor wire.Descriptor, length wire.Height, worksum *big.Int) {
	d.order++
	d.peers[id] = &PeerView{
		id: id, descriptor: descriptor, length: length, worksum: worksum,
		registeredOrder: d.order, focus: 1,
	}
}

func (d *Downloader) OnPeerAppend(id transport.ConnectionID, length wire.Height, worksum *big.Int) {
	if p, ok := d.peers[id]; ok {
		p.length = length
		p.worksum = worksum
	}
}

func (d *Downloader) OnPeerFork(id transport.ConnectionID, descriptor wire.Descriptor, length wire.Height, worksum *big.Int) {
	if p, ok := d.peers[id]; ok {
		p.descriptor = descriptor
		p.length = length
		p.worksum = worksum
		p.focus = 1
	}
}

func (d *Downloader) RemovePeer(id transport.ConnectionID) {
	delete(d.peers, id)
}

// bestAvailable returns the peer with the greatest worksum among those
// strictly ahead of ourLength and not reported busy by the caller,
// breaking ties by earlier registration order (spec.md §4.6). It is
// evaluated fresh on every call, so a do_requests pass that calls this
// repeatedly (excluding whichever peer it just assigned a job to) fans
// work out across every eligible peer instead of pinning a single
// globally "heaviest" one (spec.md §4.5 "assign work to connections",
// §8 Scenario 6: up to max_requests peers busy at once).
func (d *Downloader) bestAvailable(ourLength wire.Height, busy func(transport.ConnectionID) bool) *PeerView {
	var best *PeerView
	for _, p := range d.peers {
		if p.length <= ourLength {
			continue
		}
		if busy != nil && busy(p.id) {
			continue
		}
		if best == nil || p.worksum.Cmp(best.worksum) > 0 ||
			(p.worksum.Cmp(best.worksum) == 0 && p.registeredOrder < best.registeredOrder) {
			best = p
		}
	}
	return best
}

// DoHeaderRequests chooses the best available (not busy) peer ahead of
// ourLength and returns a batch request continuing from that peer's own
// focus pointer, or nil if no eligible peer advertises a chain longer
// than ourLength (spec.md §4.6 do_header_requests(sender)). Passing a
// non-nil busy skips peers already carrying a job, so a caller can call
// this once per assignment slot in a single do_requests pass and reach
// a different peer each time.
func (d *Downloader) DoHeaderRequests(ourLength wire.Height, nonce uint64, busy func(transport.ConnectionID) bool) *Request {
	p := d.bestAvailable(ourLength, busy)
	if p == nil {
		return nil
	}
	length := uint32(p.length - p.focus + 1)
	if length > d.maxReturn {
		length = d.maxReturn
	}
	if length < d.minReturn {
		return nil
	}
	return &Request{
		PeerID: p.id,
		Nonce:  nonce,
		Batch: &wire.BatchReq{
			Nonce:       nonce,
			Descriptor:  p.descriptor,
			StartHeight: p.focus,
			Length:      length,
		},
	}
}

// DoProbeRequests issues a single-height probe to disambiguate a
// suspected fork point on the best available (not busy) peer, when a
// batch isn't yet warranted (spec.md §4.6 do_probe_requests(sender)).
func (d *Downloader) DoProbeRequests(ourLength wire.Height, nonce uint64, busy func(transport.ConnectionID) bool) *Request {
	p := d.bestAvailable(ourLength, busy)
	if p == nil {
		return nil
	}
	probeHeight := ourLength + 1
	p.lastProbed = probeHeight
	return &Request{
		PeerID: p.id,
		Nonce:  nonce,
		Probe: &wire.ProbeReq{
			Nonce:      nonce,
			Descriptor: p.descriptor,
			Height:     probeHeight,
		},
	}
}

func (d *Downloader) LastProbedHeight(id transport.ConnectionID) wire.Height {
	if p, ok := d.peers[id]; ok {
		return p.lastProbed
	}
	return 0
}

// OnBatchRep validates a batch reply's size against [minReturn, maxReturn]
// and its first height against that peer's focus, then advances the focus;
// it returns the peer as an offender if the reply violates either check
// (spec.md §4.6 "Offenses... are returned as a list of offenders").
func (d *Downloader) OnBatchRep(id transport.ConnectionID, headers []wire.Header) []transport.ConnectionID {
	p, ok := d.peers[id]
	if !ok {
		return nil
	}
	if n := uint32(len(headers)); n < d.minReturn || n > d.maxReturn {
		return []transport.ConnectionID{id}
	}
	if headers[0].Height != p.focus {
		return []transport.ConnectionID{id}
	}
	p.focus += wire.Height(len(headers))

	if p.focus > 1 && int(p.focus-1) >= 1 {
		d.pending = append(d.pending, HeaderChain{Descriptor: p.descriptor, Headers: headers})
	}
	return nil
}

// OnProbeRep folds a probe reply into the fork-range estimate for a peer.
func (d *Downloader) OnProbeRep(id transport.ConnectionID, found bool, h wire.Header) []transport.ConnectionID {
	p, ok := d.peers[id]
	if !ok {
		return nil
	}
	if found {
		p.focus = h.Height
	}
	return nil
}

// PopData returns a heavier validated header chain ready to promote to
// the stage, if one is queued.
func (d *Downloader) PopData() (HeaderChain, bool) {
	if len(d.pending) == 0 {
		return HeaderChain{}, false
	}
	hc := d.pending[0]
	d.pending = d.pending[1:]
	return hc, true
}
