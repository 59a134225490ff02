package chainstate

import (
	"context"
	"math/big"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/I-luk-I/Warthog/internal/pow"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// Memory is a reference Server implementation backed entirely by an
// in-process slice of headers and bodies. It is not a persistence layer
// (Non-goals exclude persistence) — it exists to drive unit and
// integration tests of the event loop without a real chain-state server.
type Memory struct {
	mu sync.Mutex

	descriptor wire.Descriptor
	headers    []wire.Header // index i holds height i+1
	bodies     map[wire.Height]wire.Body
	mempool    map[[32]byte][]byte

	subs []chan<- StateUpdate
}

// NewMemory returns an empty Memory server with a zero descriptor and no
// headers; callers stage a header chain through AsyncStageRequest before use.
func NewMemory() *Memory {
	return &Memory{
		bodies:  make(map[wire.Height]wire.Body),
		mempool: make(map[[32]byte][]byte),
	}
}

func (m *Memory) GetChainstate() Chainstate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainstateLocked()
}

func (m *Memory) chainstateLocked() Chainstate {
	bits := make([]uint32, len(m.headers))
	for i, h := range m.headers {
		bits[i] = h.Bits
	}
	return Chainstate{
		Descriptor: m.descriptor,
		Length:     wire.Height(len(m.headers)),
		WorkBits:   bits,
	}
}

func (m *Memory) GetHeaders(sel Selector, from wire.Height, n uint32) ([]wire.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from == 0 || int(from) > len(m.headers) {
		return nil, wire.Offense(wire.ReasonNotFound, "height out of range")
	}
	start := int(from) - 1
	end := start + int(n)
	if end > len(m.headers) {
		end = len(m.headers)
	}
	out := make([]wire.Header, end-start)
	copy(out, m.headers[start:end])
	return out, nil
}

func (m *Memory) GetDescriptorHeader(d wire.Descriptor, h wire.Height) (wire.Header, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d != m.descriptor {
		return wire.Header{}, false, nil
	}
	if h == 0 || int(h) > len(m.headers) {
		return wire.Header{}, false, nil
	}
	return m.headers[h-1], true, nil
}

func (m *Memory) AsyncGetBlocks(ctx context.Context, from wire.Height, n uint32, cb func([]wire.Body, error)) {
	go func() {
		m.mu.Lock()
		out := make([]wire.Body, 0, n)
		for h := from; h < from+wire.Height(n); h++ {
			b, ok := m.bodies[h]
			if !ok {
				m.mu.Unlock()
				cb(nil, wire.Offense(wire.ReasonNotFound, "missing body"))
				return
			}
			out = append(out, b)
		}
		m.mu.Unlock()
		cb(out, nil)
	}()
}

// AsyncStageRequest validates the staged headers purely on height
// contiguity; it checks no worksum and never runs real consensus rules
// (Non-goal). Acceptance appends the headers to the consensus chain and
// fans out an Append StateUpdate to subscribers; a rejected request is
// dropped silently. Memory produces no StageResult for either outcome.
func (m *Memory) AsyncStageRequest(req StageRequest) {
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if len(req.Headers) == 0 {
			return
		}
		expect := wire.Height(len(m.headers) + 1)
		for _, h := range req.Headers {
			if h.Height != expect {
				return
			}
			expect++
		}
		m.headers = append(m.headers, req.Headers...)
		for i, b := range req.Bodies {
			m.bodies[req.Headers[i].Height] = b
		}
		m.broadcastLocked(StateUpdate{Append: &Append{Headers: req.Headers}})
	}()
}

func (m *Memory) AsyncPutMempool(txs [][]byte) {
	go func() {
		m.mu.Lock()
		var ids [][32]byte
		for _, tx := range txs {
			id := txID(tx)
			if _, ok := m.mempool[id]; ok {
				continue
			}
			m.mempool[id] = tx
			ids = append(ids, id)
		}
		m.mu.Unlock()
		if len(ids) > 0 {
			m.mu.Lock()
			m.broadcastLocked(StateUpdate{MempoolUpdate: MempoolLog{Inserted: ids}})
			m.mu.Unlock()
		}
	}()
}

func (m *Memory) AsyncSetSignedCheckpoint(ss wire.SignedSnapshot, cb func(wire.SignedSnapshot, error)) {
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if int(ss.Priority.Height) > len(m.headers) {
			cb(ss, wire.Offense(wire.ReasonBadRollback, "snapshot height beyond known chain"))
			return
		}
		cb(ss, nil)
	}()
}

func (m *Memory) Subscribe(ctx context.Context, updates chan<- StateUpdate) {
	m.mu.Lock()
	m.subs = append(m.subs, updates)
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s == updates {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
	}()
}

func (m *Memory) ShutdownJoin(ctx context.Context) error {
	return nil
}

func (m *Memory) broadcastLocked(u StateUpdate) {
	for _, s := range m.subs {
		select {
		case s <- u:
		default:
		}
	}
}

// Worksum returns the accumulated work of the current consensus chain,
// using internal/pow the same way the loop does when comparing forks.
func (m *Memory) Worksum() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	bits := make([]uint32, len(m.headers))
	for i, h := range m.headers {
		bits[i] = h.Bits
	}
	return pow.Worksum(bits)
}

func txID(tx []byte) [32]byte {
	return blake2b.Sum256(tx)
}
