package eventloop

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/I-luk-I/Warthog/internal/pow"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

// requestKind tags the single outstanding job a peer may carry
// (spec.md §3: "at most one outstanding job").
type requestKind uint8

const (
	requestNone requestKind = iota
	requestProbe
	requestBatch
	requestBlock
)

// job is a peer's one outstanding request (spec.md §3, §4.5).
type job struct {
	kind      requestKind
	nonce     uint64
	expireH   TimerHandle
	noReplyH  TimerHandle
	hasExpire bool
	hasNoRep  bool
}

func (j job) active() bool { return j.kind != requestNone }

// pingState is the peer's ping/pong state machine (spec.md §4.5).
type pingState uint8

const (
	pingSleeping pingState = iota
	pingAwaitingPong
)

// chainView is the peer's advertised chain head and the range over which
// it may diverge from our consensus (spec.md §3).
type chainView struct {
	descriptor wire.Descriptor
	length     wire.Height
	worksum    *big.Int
	forkFrom   wire.Height // lowest height where views may still diverge
	forkTo     wire.Height // highest height probed/known to diverge
}

// snapshotPriorities tracks the two monotone counters spec.md §4.5
// requires: "Snapshot priority monotonicity: their_claim and our_ack never
// decrease."
type snapshotPriorities struct {
	theirClaim wire.SnapshotPriority
	ourAck     wire.SnapshotPriority
}

// raiseIfHigher updates *p to np if np is higher priority, returning
// whether it changed (enforces monotonicity; never decreases).
func raiseIfHigher(p *wire.SnapshotPriority, np wire.SnapshotPriority) bool {
	if p.Less(np) {
		*p = np
		return true
	}
	return false
}

// peer is the per-connection state the loop maintains (C3, spec.md §3).
type peer struct {
	id   transport.ConnectionID
	conn transport.Connection

	registered bool
	initialized bool
	erased      bool

	addr  string
	since time.Time

	view chainView
	job  job

	ping      pingState
	pingTimer TimerHandle
	hasPing   bool
	lastPingNonce uint64

	throttle throttleQueue

	snaps snapshotPriorities

	lastNonce uint64 // last block-request nonce seen from this peer

	subscriptionFloor wire.Height // C7: lowest transactionHeight known sent
}

func newPeer(id transport.ConnectionID, conn transport.Connection) *peer {
	return &peer{
		id:    id,
		conn:  conn,
		addr:  conn.PeerAddress(),
		since: conn.ConnectedSince(),
	}
}

// newJobNonce mints a correlation nonce for a freshly assigned job
// (spec.md DOMAIN STACK: google/uuid for per-job correlation nonces).
func newJobNonce() uint64 {
	id := uuid.New()
	var n uint64
	for _, b := range id[:8] {
		n = n<<8 | uint64(b)
	}
	return n
}

// throttleQueue holds outbound buffers gated by a scheduled-release timer
// (spec.md §4.5 "throttled sends").
type throttleQueue struct {
	pending [][]byte
	timer   TimerHandle
	hasTmr  bool
}

func (q *throttleQueue) push(buf []byte) {
	q.pending = append(q.pending, buf)
}

func (q *throttleQueue) popOne() ([]byte, bool) {
	if len(q.pending) == 0 {
		return nil, false
	}
	buf := q.pending[0]
	q.pending = q.pending[1:]
	return buf, true
}

func (q *throttleQueue) empty() bool { return len(q.pending) == 0 }

// worksumOf is a convenience wrapper peers/downloaders use when comparing
// chain views by accumulated work (internal/pow).
func worksumOf(bits []uint32) *big.Int { return pow.Worksum(bits) }
