package eventloop

import (
	"time"

	"github.com/mroth/weightedrand"

	"github.com/I-luk-I/Warthog/internal/transport"
)

// dialCandidate is an address the registry has scheduled for an outbound
// attempt (spec.md §4.3: pop_connect/wakeup_time).
type dialCandidate struct {
	addr     string
	due      time.Time
	pinned   bool
	failures int
}

// registry is the connection registry (C2, spec.md §4.3): the set of live
// peers, indexed by id, plus the outbound-dial schedule.
type registry struct {
	peers map[transport.ConnectionID]*peer

	dial   map[string]*dialCandidate
	pinned map[string]bool
}

func newRegistry() *registry {
	return &registry{
		peers:  make(map[transport.ConnectionID]*peer),
		dial:   make(map[string]*dialCandidate),
		pinned: make(map[string]bool),
	}
}

// Insert registers a newly accepted/dialed connection. Returns false if a
// peer with this id is already registered (should not happen; ids are
// assigned by the transport and are unique for the process lifetime).
func (r *registry) Insert(p *peer) bool {
	if _, exists := r.peers[p.id]; exists {
		return false
	}
	r.peers[p.id] = p
	p.registered = true
	return true
}

// Erase removes a peer from the registry. Idempotent (spec.md §3:
// "Erasure is idempotent").
func (r *registry) Erase(id transport.ConnectionID) {
	delete(r.peers, id)
}

func (r *registry) Find(id transport.ConnectionID) (*peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

func (r *registry) All() []*peer {
	out := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Initialized returns only peers that have completed the Init handshake.
func (r *registry) Initialized() []*peer {
	var out []*peer
	for _, p := range r.peers {
		if p.initialized && !p.erased {
			out = append(out, p)
		}
	}
	return out
}

// SampleVerified returns up to n distinct addresses of initialized peers,
// picked by weight rather than uniformly: a non-empty address weighs 10,
// an empty one 1 (spec.md DOMAIN STACK: mroth/weightedrand for
// sample_verified / pong address samples).
func (r *registry) SampleVerified(n int) []string {
	init := r.Initialized()
	if len(init) == 0 {
		return nil
	}
	choices := make([]weightedrand.Choice, 0, len(init))
	for _, p := range init {
		weight := uint(1)
		if p.addr != "" {
			weight = 10
		}
		choices = append(choices, weightedrand.Choice{Item: p.addr, Weight: weight})
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		out := make([]string, 0, n)
		for i := 0; i < n && i < len(init); i++ {
			out = append(out, init[i].addr)
		}
		return out
	}

	seen := make(map[string]bool)
	out := make([]string, 0, n)
	for len(out) < n && len(out) < len(init) {
		addr := chooser.Pick().(string)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// PopConnect returns dial candidates whose scheduled time is due.
func (r *registry) PopConnect(now time.Time) []string {
	var out []string
	for addr, c := range r.dial {
		if !c.due.After(now) {
			out = append(out, addr)
			delete(r.dial, addr)
		}
	}
	return out
}

// WakeupTime returns the earliest scheduled dial, if any.
func (r *registry) WakeupTime() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, c := range r.dial {
		if !found || c.due.Before(earliest) {
			earliest = c.due
			found = true
		}
	}
	return earliest, found
}

// Pin marks addr as must-keep: OnFailedOutbound backoff pruning never
// drops a pinned address (spec.md SUPPLEMENTED FEATURES #2).
func (r *registry) Pin(addr string) {
	r.pinned[addr] = true
	if c, ok := r.dial[addr]; ok {
		c.pinned = true
	}
}

func (r *registry) Unpin(addr string) {
	delete(r.pinned, addr)
	if c, ok := r.dial[addr]; ok {
		c.pinned = false
	}
}

// OnFailedOutbound records a failed dial and reschedules it with
// exponential backoff; no address is dropped, pinned or not.
func (r *registry) OnFailedOutbound(addr string) {
	c, ok := r.dial[addr]
	if !ok {
		c = &dialCandidate{addr: addr, pinned: r.pinned[addr]}
		r.dial[addr] = c
	}
	c.failures++
	backoff := backoffFor(c.failures)
	c.due = time.Now().Add(backoff)
}

// ScheduleDial queues addr for an outbound attempt at due.
func (r *registry) ScheduleDial(addr string, due time.Time) {
	r.dial[addr] = &dialCandidate{addr: addr, due: due, pinned: r.pinned[addr]}
}

// backoffFor is the opaque exponential-backoff policy spec.md §4.3 treats
// as out of scope; it caps at 10 minutes.
func backoffFor(failures int) time.Duration {
	base := time.Second
	max := 10 * time.Minute
	d := base << uint(failures)
	if d <= 0 || d > max {
		return max
	}
	return d
}
