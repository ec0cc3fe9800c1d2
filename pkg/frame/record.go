package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Kind discriminates the record variants carried in a frame payload.
type Kind uint8

const (
	KindAccount     Kind = 1
	KindTransaction Kind = 2
	KindBlock       Kind = 3
	KindSlot        Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindTransaction:
		return "transaction"
	case KindBlock:
		return "block"
	case KindSlot:
		return "slot"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

const (
	PubkeySize    = 32
	SignatureSize = 64
	BlockhashSize = 32
)

// SlotStatusCode is the numeric slot status. Values outside the named set
// round-trip unchanged so newer statuses forward opaquely.
type SlotStatusCode uint8

const (
	SlotProcessed          SlotStatusCode = 0
	SlotConfirmed          SlotStatusCode = 1
	SlotRooted             SlotStatusCode = 2
	SlotFirstShredReceived SlotStatusCode = 3
	SlotCompleted          SlotStatusCode = 4
	SlotCreatedBank        SlotStatusCode = 5
	SlotDead               SlotStatusCode = 6
)

func (s SlotStatusCode) String() string {
	switch s {
	case SlotProcessed:
		return "processed"
	case SlotConfirmed:
		return "confirmed"
	case SlotRooted:
		return "rooted"
	case SlotFirstShredReceived:
		return "first_shred_received"
	case SlotCompleted:
		return "completed"
	case SlotCreatedBank:
		return "created_bank"
	case SlotDead:
		return "dead"
	}
	return fmt.Sprintf("status_%d", uint8(s))
}

// Record is one logical event emitted by the source. The concrete types are
// the four update variants below; the set is closed.
type Record interface {
	Kind() Kind

	// ShardKey is a stable 64 bit hash of the record's routing key. All
	// records with the same key hash to the same shard and therefore
	// traverse the same queue and socket, which gives per-key ordering.
	ShardKey() uint64
}

type AccountUpdate struct {
	Slot         uint64
	Pubkey       [PubkeySize]byte
	Owner        [PubkeySize]byte
	Lamports     uint64
	RentEpoch    uint64
	Executable   bool
	WriteVersion uint64
	Data         []byte
	TxnSignature *[SignatureSize]byte
}

func (a *AccountUpdate) Kind() Kind { return KindAccount }

func (a *AccountUpdate) ShardKey() uint64 { return xxhash.Sum64(a.Pubkey[:]) }

type TransactionUpdate struct {
	Slot      uint64
	Signature [SignatureSize]byte
	IsVote    bool
	Index     uint32
	Meta      []byte
	Message   []byte
}

func (t *TransactionUpdate) Kind() Kind { return KindTransaction }

func (t *TransactionUpdate) ShardKey() uint64 { return xxhash.Sum64(t.Signature[:]) }

type BlockUpdate struct {
	Slot            uint64
	Blockhash       [BlockhashSize]byte
	ParentSlot      uint64
	BlockTime       *int64
	BlockHeight     *uint64
	ExecutedTxCount uint32
	EntryCount      uint64
}

func (b *BlockUpdate) Kind() Kind { return KindBlock }

func (b *BlockUpdate) ShardKey() uint64 { return hashSlot(b.Slot) }

type SlotUpdate struct {
	Slot   uint64
	Parent *uint64
	Status SlotStatusCode
}

func (s *SlotUpdate) Kind() Kind { return KindSlot }

func (s *SlotUpdate) ShardKey() uint64 { return hashSlot(s.Slot) }

func hashSlot(slot uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], slot)
	return xxhash.Sum64(b[:])
}

/*
	Canonical payload layout, little-endian throughout:

	| kind | fixed-width fields in declaration order |

	Optional fields are a presence byte followed by the value when present.
	Variable byte fields are a uint32 length followed by the bytes.
*/

func canonicalSize(r Record) int {
	switch v := r.(type) {
	case *AccountUpdate:
		n := 1 + 8 + PubkeySize + PubkeySize + 8 + 8 + 1 + 8 + 4 + len(v.Data) + 1
		if v.TxnSignature != nil {
			n += SignatureSize
		}
		return n
	case *TransactionUpdate:
		return 1 + 8 + SignatureSize + 1 + 4 + 4 + len(v.Meta) + 4 + len(v.Message)
	case *BlockUpdate:
		n := 1 + 8 + BlockhashSize + 8 + 1 + 1 + 4 + 8
		if v.BlockTime != nil {
			n += 8
		}
		if v.BlockHeight != nil {
			n += 8
		}
		return n
	case *SlotUpdate:
		n := 1 + 8 + 1 + 1
		if v.Parent != nil {
			n += 8
		}
		return n
	}
	return 0
}

func appendRecord(dst []byte, r Record) ([]byte, error) {
	switch v := r.(type) {
	case *AccountUpdate:
		dst = append(dst, byte(KindAccount))
		dst = appendUint64(dst, v.Slot)
		dst = append(dst, v.Pubkey[:]...)
		dst = append(dst, v.Owner[:]...)
		dst = appendUint64(dst, v.Lamports)
		dst = appendUint64(dst, v.RentEpoch)
		dst = appendBool(dst, v.Executable)
		dst = appendUint64(dst, v.WriteVersion)
		dst = appendBytes(dst, v.Data)
		if v.TxnSignature != nil {
			dst = append(dst, 1)
			dst = append(dst, v.TxnSignature[:]...)
		} else {
			dst = append(dst, 0)
		}
		return dst, nil
	case *TransactionUpdate:
		dst = append(dst, byte(KindTransaction))
		dst = appendUint64(dst, v.Slot)
		dst = append(dst, v.Signature[:]...)
		dst = appendBool(dst, v.IsVote)
		dst = appendUint32(dst, v.Index)
		dst = appendBytes(dst, v.Meta)
		dst = appendBytes(dst, v.Message)
		return dst, nil
	case *BlockUpdate:
		dst = append(dst, byte(KindBlock))
		dst = appendUint64(dst, v.Slot)
		dst = append(dst, v.Blockhash[:]...)
		dst = appendUint64(dst, v.ParentSlot)
		if v.BlockTime != nil {
			dst = append(dst, 1)
			dst = appendUint64(dst, uint64(*v.BlockTime))
		} else {
			dst = append(dst, 0)
		}
		if v.BlockHeight != nil {
			dst = append(dst, 1)
			dst = appendUint64(dst, *v.BlockHeight)
		} else {
			dst = append(dst, 0)
		}
		dst = appendUint32(dst, v.ExecutedTxCount)
		dst = appendUint64(dst, v.EntryCount)
		return dst, nil
	case *SlotUpdate:
		dst = append(dst, byte(KindSlot))
		dst = appendUint64(dst, v.Slot)
		if v.Parent != nil {
			dst = append(dst, 1)
			dst = appendUint64(dst, *v.Parent)
		} else {
			dst = append(dst, 0)
		}
		dst = append(dst, byte(v.Status))
		return dst, nil
	}
	return dst, fmt.Errorf("%w: unknown record type %T", ErrMalformedPayload, r)
}

func unmarshalRecord(b []byte) (Record, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty record", ErrMalformedPayload)
	}
	r := reader{b: b[1:]}
	switch Kind(b[0]) {
	case KindAccount:
		a := &AccountUpdate{}
		a.Slot = r.uint64()
		r.array(a.Pubkey[:])
		r.array(a.Owner[:])
		a.Lamports = r.uint64()
		a.RentEpoch = r.uint64()
		a.Executable = r.bool()
		a.WriteVersion = r.uint64()
		a.Data = r.bytes()
		if r.bool() {
			sig := new([SignatureSize]byte)
			r.array(sig[:])
			a.TxnSignature = sig
		}
		if err := r.done(); err != nil {
			return nil, err
		}
		return a, nil
	case KindTransaction:
		t := &TransactionUpdate{}
		t.Slot = r.uint64()
		r.array(t.Signature[:])
		t.IsVote = r.bool()
		t.Index = r.uint32()
		t.Meta = r.bytes()
		t.Message = r.bytes()
		if err := r.done(); err != nil {
			return nil, err
		}
		return t, nil
	case KindBlock:
		bl := &BlockUpdate{}
		bl.Slot = r.uint64()
		r.array(bl.Blockhash[:])
		bl.ParentSlot = r.uint64()
		if r.bool() {
			v := int64(r.uint64())
			bl.BlockTime = &v
		}
		if r.bool() {
			v := r.uint64()
			bl.BlockHeight = &v
		}
		bl.ExecutedTxCount = r.uint32()
		bl.EntryCount = r.uint64()
		if err := r.done(); err != nil {
			return nil, err
		}
		return bl, nil
	case KindSlot:
		s := &SlotUpdate{}
		s.Slot = r.uint64()
		if r.bool() {
			v := r.uint64()
			s.Parent = &v
		}
		s.Status = SlotStatusCode(r.byte())
		if err := r.done(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown record kind %d", ErrMalformedPayload, b[0])
}

func appendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBool(dst []byte, v bool) []byte {
	if v {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func appendBytes(dst, b []byte) []byte {
	dst = appendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// reader consumes a canonical payload. Underflow is latched and surfaced
// once by done so the per-field calls stay unconditional.
type reader struct {
	b    []byte
	fail bool
}

func (r *reader) take(n int) []byte {
	if r.fail || len(r.b) < n {
		r.fail = true
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bool() bool { return r.byte() != 0 }

func (r *reader) array(dst []byte) {
	b := r.take(len(dst))
	if b != nil {
		copy(dst, b)
	}
}

func (r *reader) bytes() []byte {
	n := r.uint32()
	if n == 0 {
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) done() error {
	if r.fail {
		return fmt.Errorf("%w: record underflow", ErrMalformedPayload)
	}
	if len(r.b) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, len(r.b))
	}
	return nil
}
