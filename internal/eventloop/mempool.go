package eventloop

import (
	"sort"

	"github.com/google/orderedcode"

	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// mempoolEntry is one cached transaction plus the ordering key the
// subscription scan sorts by: (transactionHeight, id) (spec.md §4.9).
type mempoolEntry struct {
	height wire.Height
	id     [32]byte
	tx     []byte
	key    string // orderedcode-encoded (height, id) for stable comparison
}

func orderKey(height wire.Height, id [32]byte) string {
	encoded, err := orderedcode.Append(nil, int64(height), string(id[:]))
	if err != nil {
		// orderedcode.Append only errors on unsupported item types; the
		// two types used here are always supported.
		panic(err)
	}
	return string(encoded)
}

// mempoolOverlay is the local transaction cache plus per-peer subscription
// bounds that gate targeted gossip (C7, spec.md §4.9).
type mempoolOverlay struct {
	entries map[[32]byte]*mempoolEntry
	sorted  []*mempoolEntry // kept sorted by key; resorted lazily
	dirty   bool
}

func newMempoolOverlay() *mempoolOverlay {
	return &mempoolOverlay{entries: make(map[[32]byte]*mempoolEntry)}
}

func (m *mempoolOverlay) insert(height wire.Height, id [32]byte, tx []byte) bool {
	if _, exists := m.entries[id]; exists {
		return false
	}
	e := &mempoolEntry{height: height, id: id, tx: tx, key: orderKey(height, id)}
	m.entries[id] = e
	m.sorted = append(m.sorted, e)
	m.dirty = true
	return true
}

func (m *mempoolOverlay) erase(id [32]byte) {
	e, ok := m.entries[id]
	if !ok {
		return
	}
	delete(m.entries, id)
	for i, s := range m.sorted {
		if s == e {
			m.sorted = append(m.sorted[:i], m.sorted[i+1:]...)
			break
		}
	}
}

func (m *mempoolOverlay) get(id [32]byte) ([]byte, bool) {
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

func (m *mempoolOverlay) ensureSorted() {
	if !m.dirty {
		return
	}
	sort.Slice(m.sorted, func(i, j int) bool { return m.sorted[i].key < m.sorted[j].key })
	m.dirty = false
}

// entriesAbove returns every cached entry whose height is strictly above
// the given subscription floor, in (height, id) order — the scan spec.md §4.9
// describes: "new entries are sorted by (transactionHeight, id) and
// scanned against the subscription map".
func (m *mempoolOverlay) entriesAbove(floor wire.Height) []*mempoolEntry {
	m.ensureSorted()
	floorKey := orderKeyFloor(floor + 1)
	idx := sort.Search(len(m.sorted), func(i int) bool { return m.sorted[i].key >= floorKey })
	return m.sorted[idx:]
}

// orderKeyFloor encodes the lowest possible key at a given height (an
// empty id component sorts before any real 32-byte id under orderedcode's
// length-prefixed string encoding).
func orderKeyFloor(height wire.Height) string {
	encoded, err := orderedcode.Append(nil, int64(height), "")
	if err != nil {
		panic(err)
	}
	return string(encoded)
}

// notifyNewEntries builds the per-peer TxNotify targets for transactions
// that arrived since each peer's subscriptionFloor, then raises each
// notified peer's floor to the new high-water mark (spec.md §4.9).
func (e *Eventloop) notifyNewEntries(fresh []*mempoolEntry) {
	if len(fresh) == 0 {
		return
	}
	highest := fresh[len(fresh)-1].height

	for _, p := range e.registry.Initialized() {
		var ids [][32]byte
		for _, entry := range fresh {
			if entry.height >= p.subscriptionFloor {
				ids = append(ids, entry.id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		e.sendThrottled(p, &wire.TxNotify{IDs: ids})
		if highest > p.subscriptionFloor {
			p.subscriptionFloor = highest
		}
	}
}

func (e *Eventloop) handleMempoolLog(inserted, erased [][32]byte) {
	var fresh []*mempoolEntry
	for _, id := range inserted {
		if entry, ok := e.mempool.entries[id]; ok {
			fresh = append(fresh, entry)
		}
	}
	for _, id := range erased {
		e.mempool.erase(id)
	}
	e.notifyNewEntries(fresh)
}

func (e *Eventloop) handleTxNotify(id transport.ConnectionID, msg *wire.TxNotify) {
	p, ok := e.registry.Find(id)
	if !ok {
		return
	}
	var missing [][32]byte
	for _, txid := range msg.IDs {
		if _, have := e.mempool.get(txid); !have {
			missing = append(missing, txid)
		}
	}
	if len(missing) > 0 {
		p.conn.AsyncSend(mustEncode(e.logger, &wire.TxReq{IDs: missing}))
	}
}

func (e *Eventloop) handleTxReq(id transport.ConnectionID, msg *wire.TxReq) {
	p, ok := e.registry.Find(id)
	if !ok {
		return
	}
	var txs [][]byte
	for _, txid := range msg.IDs {
		if tx, have := e.mempool.get(txid); have {
			txs = append(txs, tx)
		}
	}
	if len(txs) > 0 {
		e.sendThrottled(p, &wire.TxRep{Txs: txs})
	}
}

func (e *Eventloop) handleTxRep(msg *wire.TxRep) {
	if len(msg.Txs) > 0 {
		e.stateServer.AsyncPutMempool(msg.Txs)
	}
}
