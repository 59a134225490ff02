package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// MaxFrameSize bounds a single framed message on the wire.
const MaxFrameSize = 8 << 20

// Frame is the on-wire envelope: 1-byte type, 4-byte length, 4-byte CRC32
// checksum over the payload, then the payload itself (spec.md §6).
type Frame struct {
	Type     Type
	Checksum uint32
	Payload  []byte
}

// Encode serializes msg into a framed buffer ready to hand to a
// Connection.AsyncSend (spec.md §6).
func Encode(msg Message) ([]byte, error) {
	payload, err := marshalPayload(msg)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxFrameSize {
		return nil, Offense(ReasonBlockSize, "payload too large")
	}

	sum := crc32.ChecksumIEEE(payload)

	buf := make([]byte, 1+4+4+len(payload))
	buf[0] = byte(msg.Type())
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[5:9], sum)
	copy(buf[9:], payload)
	return buf, nil
}

// Decode parses one framed buffer, verifying the checksum (ReasonChecksum on
// mismatch) before dispatch (spec.md §4.4: "integrity-checked (checksum) —
// failure ⇒ fatal offense CHECKSUM").
func Decode(raw []byte) (Message, error) {
	if len(raw) < 9 {
		return nil, Offense(ReasonChecksum, "frame too short")
	}
	typ := Type(raw[0])
	length := binary.BigEndian.Uint32(raw[1:5])
	sum := binary.BigEndian.Uint32(raw[5:9])
	payload := raw[9:]
	if uint32(len(payload)) != length {
		return nil, Offense(ReasonChecksum, "length mismatch")
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, Offense(ReasonChecksum, "checksum mismatch")
	}
	return unmarshalPayload(typ, payload)
}

// --- payload (de)serialization -------------------------------------------

type writer struct{ b bytes.Buffer }

func (w *writer) u8(v uint8)   { w.b.WriteByte(v) }
func (w *writer) u32(v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); w.b.Write(b[:]) }
func (w *writer) u64(v uint64) { var b [8]byte; binary.BigEndian.PutUint64(b[:], v); w.b.Write(b[:]) }
func (w *writer) bytes32(b [32]byte) { w.b.Write(b[:]) }
func (w *writer) bytes64(b [64]byte) { w.b.Write(b[:]) }
func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.b.Write(b)
}
func (w *writer) str(s string) { w.bytes([]byte(s)) }
func (w *writer) header(h Header) {
	w.u32(uint32(h.Height))
	w.bytes32(h.PrevHash)
	w.bytes32(h.MerkleRoot)
	w.u32(h.Bits)
	w.u32(h.Time)
	w.u64(h.Nonce)
}
func (w *writer) snapshot(s SignedSnapshot) {
	w.u32(s.Priority.Importance)
	w.u32(uint32(s.Priority.Height))
	w.bytes32(s.Hash)
	w.bytes64(s.Signature)
	w.bytes32(s.PubKey)
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.b) {
		r.fail(Offense(ReasonChecksum, "truncated payload"))
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.off : r.off+4])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.b[r.off : r.off+8])
	r.off += 8
	return v
}

func (r *reader) bytes32() (out [32]byte) {
	if !r.need(32) {
		return
	}
	copy(out[:], r.b[r.off:r.off+32])
	r.off += 32
	return
}

func (r *reader) bytes64() (out [64]byte) {
	if !r.need(64) {
		return
	}
	copy(out[:], r.b[r.off:r.off+64])
	r.off += 64
	return
}

const maxRepeat = 1 << 20

func (r *reader) bytes() []byte {
	n := r.u32()
	if n > maxRepeat || !r.need(int(n)) {
		if r.err == nil && n > maxRepeat {
			r.fail(Offense(ReasonChecksum, "oversized field"))
		}
		return nil
	}
	out := make([]byte, n)
	copy(out, r.b[r.off:r.off+int(n)])
	r.off += int(n)
	return out
}

func (r *reader) str() string { return string(r.bytes()) }

func (r *reader) header() Header {
	var h Header
	h.Height = Height(r.u32())
	h.PrevHash = r.bytes32()
	h.MerkleRoot = r.bytes32()
	h.Bits = r.u32()
	h.Time = r.u32()
	h.Nonce = r.u64()
	return h
}

func (r *reader) snapshot() SignedSnapshot {
	var s SignedSnapshot
	s.Priority.Importance = r.u32()
	s.Priority.Height = Height(r.u32())
	s.Hash = r.bytes32()
	s.Signature = r.bytes64()
	s.PubKey = r.bytes32()
	return s
}

func marshalPayload(msg Message) ([]byte, error) {
	w := &writer{}
	switch m := msg.(type) {
	case *Init:
		w.bytes32([32]byte(m.Descriptor))
		w.u32(uint32(m.Length))
		w.u32(uint32(len(m.WorkBits)))
		for _, bits := range m.WorkBits {
			w.u32(bits)
		}
		w.str(m.ListenAddr)
		w.str(m.UserAgent)
		w.u32(m.ProtocolVer)
	case *Append:
		w.u32(uint32(len(m.Headers)))
		for _, h := range m.Headers {
			w.header(h)
		}
	case *Fork:
		w.bytes32([32]byte(m.Descriptor))
		w.u32(uint32(m.ForkHeight))
		w.u32(uint32(len(m.Headers)))
		for _, h := range m.Headers {
			w.header(h)
		}
	case *SignedPinRollback:
		w.snapshot(m.Snapshot)
	case *Ping:
		w.u64(m.Nonce)
		w.u32(m.SnapshotPriority.Importance)
		w.u32(uint32(m.SnapshotPriority.Height))
	case *Pong:
		w.u64(m.Nonce)
		w.u32(m.SnapshotPriority.Importance)
		w.u32(uint32(m.SnapshotPriority.Height))
		w.u32(uint32(len(m.AddressSample)))
		for _, a := range m.AddressSample {
			w.str(a)
		}
		w.u32(uint32(len(m.TxIDSample)))
		for _, id := range m.TxIDSample {
			w.bytes32(id)
		}
	case *BatchReq:
		w.u64(m.Nonce)
		w.bytes32([32]byte(m.Descriptor))
		w.u32(uint32(m.StartHeight))
		w.u32(m.Length)
	case *BatchRep:
		w.u64(m.Nonce)
		w.u32(uint32(len(m.Headers)))
		for _, h := range m.Headers {
			w.header(h)
		}
	case *ProbeReq:
		w.u64(m.Nonce)
		w.bytes32([32]byte(m.Descriptor))
		w.u32(uint32(m.Height))
	case *ProbeRep:
		w.u64(m.Nonce)
		if m.Found {
			w.u8(1)
		} else {
			w.u8(0)
		}
		w.header(m.Header)
	case *BlockReq:
		w.u64(m.Nonce)
		w.u32(uint32(m.StartHeight))
		w.u32(m.Length)
	case *BlockRep:
		w.u64(m.Nonce)
		w.u32(uint32(m.StartHeight))
		w.u32(uint32(len(m.Bodies)))
		for _, b := range m.Bodies {
			w.bytes(b)
		}
	case *TxNotify:
		w.u32(uint32(len(m.IDs)))
		for _, id := range m.IDs {
			w.bytes32(id)
		}
	case *TxReq:
		w.u32(uint32(len(m.IDs)))
		for _, id := range m.IDs {
			w.bytes32(id)
		}
	case *TxRep:
		w.u32(uint32(len(m.Txs)))
		for _, t := range m.Txs {
			w.bytes(t)
		}
	case *Leader:
		w.snapshot(m.Snapshot)
	default:
		return nil, fmt.Errorf("wire: unknown message type %T", msg)
	}
	return w.b.Bytes(), nil
}

func unmarshalPayload(typ Type, payload []byte) (Message, error) {
	r := &reader{b: payload}
	var msg Message
	switch typ {
	case TypeInit:
		m := &Init{}
		m.Descriptor = Descriptor(r.bytes32())
		m.Length = Height(r.u32())
		n := r.u32()
		if n > maxRepeat {
			return nil, Offense(ReasonChecksum, "oversized field")
		}
		m.WorkBits = make([]uint32, n)
		for i := range m.WorkBits {
			m.WorkBits[i] = r.u32()
		}
		m.ListenAddr = r.str()
		m.UserAgent = r.str()
		m.ProtocolVer = r.u32()
		msg = m
	case TypeAppend:
		m := &Append{}
		m.Headers = readHeaders(r)
		msg = m
	case TypeFork:
		m := &Fork{}
		m.Descriptor = Descriptor(r.bytes32())
		m.ForkHeight = Height(r.u32())
		m.Headers = readHeaders(r)
		msg = m
	case TypeSignedPinRollback:
		msg = &SignedPinRollback{Snapshot: r.snapshot()}
	case TypePing:
		m := &Ping{}
		m.Nonce = r.u64()
		m.SnapshotPriority.Importance = r.u32()
		m.SnapshotPriority.Height = Height(r.u32())
		msg = m
	case TypePong:
		m := &Pong{}
		m.Nonce = r.u64()
		m.SnapshotPriority.Importance = r.u32()
		m.SnapshotPriority.Height = Height(r.u32())
		na := r.u32()
		if na > maxRepeat {
			return nil, Offense(ReasonChecksum, "oversized field")
		}
		m.AddressSample = make([]string, na)
		for i := range m.AddressSample {
			m.AddressSample[i] = r.str()
		}
		nt := r.u32()
		if nt > maxRepeat {
			return nil, Offense(ReasonChecksum, "oversized field")
		}
		m.TxIDSample = make([][32]byte, nt)
		for i := range m.TxIDSample {
			m.TxIDSample[i] = r.bytes32()
		}
		msg = m
	case TypeBatchReq:
		m := &BatchReq{}
		m.Nonce = r.u64()
		m.Descriptor = Descriptor(r.bytes32())
		m.StartHeight = Height(r.u32())
		m.Length = r.u32()
		msg = m
	case TypeBatchRep:
		m := &BatchRep{}
		m.Nonce = r.u64()
		m.Headers = readHeaders(r)
		msg = m
	case TypeProbeReq:
		m := &ProbeReq{}
		m.Nonce = r.u64()
		m.Descriptor = Descriptor(r.bytes32())
		m.Height = Height(r.u32())
		msg = m
	case TypeProbeRep:
		m := &ProbeRep{}
		m.Nonce = r.u64()
		m.Found = r.u8() != 0
		m.Header = r.header()
		msg = m
	case TypeBlockReq:
		m := &BlockReq{}
		m.Nonce = r.u64()
		m.StartHeight = Height(r.u32())
		m.Length = r.u32()
		msg = m
	case TypeBlockRep:
		m := &BlockRep{}
		m.Nonce = r.u64()
		m.StartHeight = Height(r.u32())
		n := r.u32()
		if n > maxRepeat {
			return nil, Offense(ReasonChecksum, "oversized field")
		}
		m.Bodies = make([]Body, n)
		for i := range m.Bodies {
			m.Bodies[i] = r.bytes()
		}
		msg = m
	case TypeTxNotify:
		m := &TxNotify{}
		m.IDs = readIDs(r)
		msg = m
	case TypeTxReq:
		m := &TxReq{}
		m.IDs = readIDs(r)
		msg = m
	case TypeTxRep:
		m := &TxRep{}
		n := r.u32()
		if n > maxRepeat {
			return nil, Offense(ReasonChecksum, "oversized field")
		}
		m.Txs = make([][]byte, n)
		for i := range m.Txs {
			m.Txs[i] = r.bytes()
		}
		msg = m
	case TypeLeader:
		msg = &Leader{Snapshot: r.snapshot()}
	default:
		return nil, fmt.Errorf("wire: unknown type code %d", typ)
	}
	if r.err != nil {
		return nil, r.err
	}
	return msg, nil
}

func readHeaders(r *reader) []Header {
	n := r.u32()
	if n > maxRepeat {
		r.fail(Offense(ReasonChecksum, "oversized field"))
		return nil
	}
	out := make([]Header, n)
	for i := range out {
		out[i] = r.header()
	}
	return out
}

func readIDs(r *reader) [][32]byte {
	n := r.u32()
	if n > maxRepeat {
		r.fail(Offense(ReasonChecksum, "oversized field"))
		return nil
	}
	out := make([][32]byte, n)
	for i := range out {
		out[i] = r.bytes32()
	}
	return out
}

// ReadFrame reads one length-delimited frame from r, for stream transports
// (spec.md §6). The ws transport does not use it: each WebSocket message
// already holds one whole frame, which it passes to Decode.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[1:5])
	if length > MaxFrameSize {
		return nil, Offense(ReasonChecksum, "frame too large")
	}
	out := make([]byte, 9+length)
	copy(out, hdr[:])
	if _, err := io.ReadFull(r, out[9:]); err != nil {
		return nil, err
	}
	return out, nil
}
