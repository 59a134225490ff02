// Package wire defines the framed messages exchanged between peers and the
// codec that frames them on the transport (spec.md §6 "Wire messages").
//
// Layouts are implementation-defined (as the spec allows) but are fixed for
// this deployment: a 1-byte type code, a length, and a CRC32 checksum over
// the payload, matching the legacy framing the original node used.
package wire

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Descriptor is a compact fork identifier (spec GLOSSARY). It is the
// blake2b-256 hash of the fork's genesis-relative header chain prefix that
// uniquely identifies it among concurrently tracked forks.
type Descriptor [32]byte

func (d Descriptor) String() string {
	return fmt.Sprintf("%x", d[:8])
}

// NewDescriptor derives a Descriptor from the given header hashes.
func NewDescriptor(headerHashes ...[32]byte) Descriptor {
	h, _ := blake2b.New256(nil)
	for _, hh := range headerHashes {
		h.Write(hh[:])
	}
	var d Descriptor
	copy(d[:], h.Sum(nil))
	return d
}

// Height is a 1-indexed block height; height 0 is not a valid block height.
type Height uint32

// Header is the minimal header representation the event loop reasons
// about: enough to compute hash, work, and link to its parent.
type Header struct {
	Height     Height
	PrevHash   [32]byte
	MerkleRoot [32]byte
	Bits       uint32 // compact difficulty target, see internal/pow
	Time       uint32 // unix seconds
	Nonce      uint64
}

// Hash returns the blake2b-256 hash of the header's fields, used both as
// the block identity and as an input to descriptor computation.
func (h Header) Hash() [32]byte {
	hh, _ := blake2b.New256(nil)
	var buf [4 + 32 + 32 + 4 + 4 + 8]byte
	putU32(buf[0:4], uint32(h.Height))
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	putU32(buf[68:72], h.Bits)
	putU32(buf[72:76], h.Time)
	putU64(buf[76:84], h.Nonce)
	hh.Write(buf[:])
	var out [32]byte
	copy(out[:], hh.Sum(nil))
	return out
}

// Body is the raw transaction container for a block (spec GLOSSARY; grounded
// on the original node's BodyContainer, which is an opaque, size-capped byte
// span).
type Body []byte

// MaxBodySize is the size bound for an individual block body; the codec
// and the handlers do not check bodies against it.
const MaxBodySize = 4 << 20

// SignedSnapshot is an externally signed checkpoint that authorizes a
// consensus rollback (spec.md §3).
type SignedSnapshot struct {
	Priority  SnapshotPriority
	Hash      [32]byte
	Signature [64]byte
	PubKey    [32]byte
}

// SnapshotPriority orders signed snapshots by (importance, height); higher
// priority can force a rollback of a lower one.
type SnapshotPriority struct {
	Importance uint32
	Height     Height
}

func (p SnapshotPriority) Less(o SnapshotPriority) bool {
	if p.Importance != o.Importance {
		return p.Importance < o.Importance
	}
	return p.Height < o.Height
}

//
// Message kinds (spec.md §4.4 table). Each carries the fields its handler
// needs; Type() identifies the wire type code for framing.
//

type Type uint8

const (
	TypeInit Type = iota + 1
	TypeAppend
	TypeFork
	TypeSignedPinRollback
	TypePing
	TypePong
	TypeBatchReq
	TypeBatchRep
	TypeProbeReq
	TypeProbeRep
	TypeBlockReq
	TypeBlockRep
	TypeTxNotify
	TypeTxReq
	TypeTxRep
	TypeLeader
)

// Init carries the peer's chain head; it must be the first message a peer
// sends (spec.md §3 invariants).
type Init struct {
	Descriptor  Descriptor
	Length      Height
	WorkBits    []uint32 // compact bits of the advertised chain's headers, for worksum
	ListenAddr  string
	UserAgent   string
	ProtocolVer uint32
}

func (Init) Type() Type { return TypeInit }

// Append announces the peer's chain extended by one or more headers.
type Append struct {
	Headers []Header
}

func (Append) Type() Type { return TypeAppend }

// Fork announces the peer reorganized onto a new fork.
type Fork struct {
	Descriptor Descriptor
	ForkHeight Height
	Headers    []Header
}

func (Fork) Type() Type { return TypeFork }

// SignedPinRollback carries an authoritative rollback snapshot.
type SignedPinRollback struct {
	Snapshot SignedSnapshot
}

func (SignedPinRollback) Type() Type { return TypeSignedPinRollback }

// Ping carries liveness plus the sender's snapshot priority; the address
// and mempool-id samples travel on the Pong.
type Ping struct {
	Nonce            uint64
	SnapshotPriority SnapshotPriority
}

func (Ping) Type() Type { return TypePing }

// Pong answers a Ping with address and mempool-id samples.
type Pong struct {
	Nonce            uint64
	SnapshotPriority SnapshotPriority
	AddressSample    []string
	TxIDSample       [][32]byte
}

func (Pong) Type() Type { return TypePong }

// BatchReq requests a contiguous header range at a given descriptor.
type BatchReq struct {
	Nonce       uint64
	Descriptor  Descriptor
	StartHeight Height
	Length      uint32
}

func (BatchReq) Type() Type { return TypeBatchReq }

// BatchRep answers a BatchReq.
type BatchRep struct {
	Nonce   uint64
	Headers []Header
}

func (BatchRep) Type() Type { return TypeBatchRep }

// ProbeReq requests a single header at a height/descriptor.
type ProbeReq struct {
	Nonce      uint64
	Descriptor Descriptor
	Height     Height
}

func (ProbeReq) Type() Type { return TypeProbeReq }

// ProbeRep answers a ProbeReq; Found=false means the peer has no header at
// that height/descriptor (an empty reply is itself an offense if the peer
// claimed a longer chain, spec.md §7).
type ProbeRep struct {
	Nonce  uint64
	Found  bool
	Header Header
}

func (ProbeRep) Type() Type { return TypeProbeRep }

// BlockReq requests a contiguous body range.
type BlockReq struct {
	Nonce       uint64
	StartHeight Height
	Length      uint32
}

func (BlockReq) Type() Type { return TypeBlockReq }

// BlockRep answers a BlockReq.
type BlockRep struct {
	Nonce       uint64
	StartHeight Height
	Bodies      []Body
}

func (BlockRep) Type() Type { return TypeBlockRep }

// TxNotify announces transaction ids the sender believes the recipient may
// not have.
type TxNotify struct {
	IDs [][32]byte
}

func (TxNotify) Type() Type { return TypeTxNotify }

// TxReq requests full transactions by id.
type TxReq struct {
	IDs [][32]byte
}

func (TxReq) Type() Type { return TypeTxReq }

// TxRep answers a TxReq with the transactions the sender has.
type TxRep struct {
	Txs [][]byte
}

func (TxRep) Type() Type { return TypeTxRep }

// Leader carries a signed snapshot raising the sender's claimed authority.
type Leader struct {
	Snapshot SignedSnapshot
}

func (Leader) Type() Type { return TypeLeader }

// Message is the sum type every handler dispatches on (spec.md §9: "Dynamic
// dispatch on events... tagged variant (sum type)... the loop matches on
// the tag. No virtual dispatch is needed.").
type Message interface {
	Type() Type
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
