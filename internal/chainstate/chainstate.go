// Package chainstate defines the chain-state server interface the event
// loop consumes as an external collaborator (spec.md §6): the authority
// for headers, blocks, and mempool contents that the loop itself never
// stores durably. It is not a persistence layer (Non-goals) — only the
// contract the loop depends on, plus a reference in-memory implementation
// good enough to drive integration tests.
package chainstate

import (
	"context"

	"github.com/I-luk-I/Warthog/internal/wire"
)

// Selector selects which chain (by fork descriptor) a header query is
// relative to; the zero value selects the consensus chain.
type Selector struct {
	Descriptor wire.Descriptor
	UseFork    bool
}

// Chainstate is a point-in-time summary of the server's consensus chain,
// returned by GetChainstate and carried in StateUpdate events.
type Chainstate struct {
	Descriptor wire.Descriptor
	Length     wire.Height
	WorkBits   []uint32
}

// Append is a StateUpdate variant: the consensus chain grew by headers
// already known to the loop (it initiated or confirmed the extension).
type Append struct {
	Headers []wire.Header
}

// Fork is a StateUpdate variant: the consensus chain reorganized onto a
// new descriptor at ForkHeight.
type Fork struct {
	Descriptor wire.Descriptor
	ForkHeight wire.Height
	Headers    []wire.Header
}

// RollbackData is a StateUpdate variant: a signed snapshot forced a
// rollback to an earlier point on (possibly) a different fork.
type RollbackData struct {
	Snapshot   wire.SignedSnapshot
	Descriptor wire.Descriptor
	Headers    []wire.Header
}

// StateUpdate is the tagged variant the chain-state server pushes to the
// loop via AsyncStateUpdate; at most one of Append/Fork/Rollback is
// non-nil, and an update carrying only a MempoolUpdate sets none of them.
type StateUpdate struct {
	MempoolUpdate MempoolLog
	Append        *Append
	Fork          *Fork
	Rollback      *RollbackData
}

// MempoolLog describes transactions that entered or left the mempool as a
// side effect of a chain update (new transactions gossiped in, confirmed
// transactions dropped).
type MempoolLog struct {
	Inserted [][32]byte
	Erased   [][32]byte
}

// StageResult is returned asynchronously from AsyncStageRequest: either the
// server accepted the staged headers/blocks for validation, or it rejected
// them with a Reason (spec.md §6, communication/stage_operation::Result).
type StageResult struct {
	Accepted   bool
	Reason     wire.Reason
	ForkHeight wire.Height
}

// Server is the chain-state server's consumed interface (spec.md §6).
// Implementations must be safe for concurrent use: the event loop calls
// the synchronous methods from its own goroutine but the async methods may
// be invoked from request-handling goroutines, and callbacks arrive on
// whatever goroutine the server chooses.
type Server interface {
	// GetChainstate returns a snapshot of the current consensus chain.
	GetChainstate() Chainstate

	// GetHeaders returns up to n consecutive headers starting at from,
	// relative to the chain selected by sel.
	GetHeaders(sel Selector, from wire.Height, n uint32) ([]wire.Header, error)

	// GetDescriptorHeader returns the header at height on the chain
	// identified by descriptor, if the server still retains it.
	GetDescriptorHeader(d wire.Descriptor, h wire.Height) (wire.Header, bool, error)

	// AsyncGetBlocks fetches bodies for [from, from+n) and invokes cb on
	// completion (possibly on a different goroutine).
	AsyncGetBlocks(ctx context.Context, from wire.Height, n uint32, cb func([]wire.Body, error))

	// AsyncStageRequest submits headers and/or bodies for validation; the
	// result arrives later as a StageResult event via the loop's event
	// queue (spec.md §4: C9 dispatches stage_operation::Result).
	AsyncStageRequest(req StageRequest)

	// AsyncPutMempool submits gossip-received transactions for validation
	// and insertion.
	AsyncPutMempool(txs [][]byte)

	// AsyncSetSignedCheckpoint submits a signed snapshot that may force a
	// rollback; cb receives the snapshot and a nil error on success or the
	// rejection error on failure (possibly on a different goroutine).
	AsyncSetSignedCheckpoint(ss wire.SignedSnapshot, cb func(wire.SignedSnapshot, error))

	// Subscribe registers the loop to receive StateUpdate and MempoolLog
	// events; updates is written to off the caller's goroutine until ctx
	// is cancelled.
	Subscribe(ctx context.Context, updates chan<- StateUpdate)

	// ShutdownJoin requests the server stop and blocks until it has.
	ShutdownJoin(ctx context.Context) error
}

// StageRequest bundles what is being staged for validation: a candidate
// header chain, optionally with bodies, from a specific peer connection.
type StageRequest struct {
	ConnectionID uint64
	Descriptor   wire.Descriptor
	Headers      []wire.Header
	Bodies       []wire.Body
}
