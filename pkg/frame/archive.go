package frame

import (
	"encoding/binary"
	"fmt"
)

/*
	Archived payload layout. One kind byte, then a fixed-offset field
	section, then a tail region for variable-length bytes. Variable fields
	live in the fixed section as (uint32 offset, uint32 len), offsets
	relative to the start of the payload. All integers little-endian.

	account, fixed section 171 bytes:
	  [1,9)    slot          u64
	  [9,17)   lamports      u64
	  [17,25)  rent_epoch    u64
	  [25,33)  write_version u64
	  [33,65)  pubkey        32B
	  [65,97)  owner         32B
	  [97]     executable    u8
	  [98]     sig_present   u8
	  [99,163) txn_signature 64B (zero when absent)
	  [163,167) data_off     u32
	  [167,171) data_len     u32

	transaction, fixed section 94 bytes:
	  [1,9)   slot      u64
	  [9,13)  index     u32
	  [13]    is_vote   u8
	  [14,78) signature 64B
	  [78,82) meta_off  u32
	  [82,86) meta_len  u32
	  [86,90) msg_off   u32
	  [90,94) msg_len   u32

	block, fixed section 79 bytes:
	  [1,9)   slot            u64
	  [9,17)  parent_slot     u64
	  [17,25) entry_count     u64
	  [25,29) executed_tx     u32
	  [29]    time_present    u8
	  [30,38) block_time      i64
	  [38]    height_present  u8
	  [39,47) block_height    u64
	  [47,79) blockhash       32B

	slot, fixed section 19 bytes:
	  [1,9)   slot           u64
	  [9]     parent_present u8
	  [10,18) parent         u64
	  [18]    status         u8
*/

const (
	archivedAccountFixed     = 171
	archivedTransactionFixed = 94
	archivedBlockFixed       = 79
	archivedSlotFixed        = 19
)

func appendArchived(dst []byte, r Record) ([]byte, error) {
	switch v := r.(type) {
	case *AccountUpdate:
		base := len(dst)
		dst = append(dst, make([]byte, archivedAccountFixed)...)
		b := dst[base:]
		b[0] = byte(KindAccount)
		binary.LittleEndian.PutUint64(b[1:9], v.Slot)
		binary.LittleEndian.PutUint64(b[9:17], v.Lamports)
		binary.LittleEndian.PutUint64(b[17:25], v.RentEpoch)
		binary.LittleEndian.PutUint64(b[25:33], v.WriteVersion)
		copy(b[33:65], v.Pubkey[:])
		copy(b[65:97], v.Owner[:])
		if v.Executable {
			b[97] = 1
		}
		if v.TxnSignature != nil {
			b[98] = 1
			copy(b[99:163], v.TxnSignature[:])
		}
		binary.LittleEndian.PutUint32(b[163:167], archivedAccountFixed)
		binary.LittleEndian.PutUint32(b[167:171], uint32(len(v.Data)))
		return append(dst, v.Data...), nil
	case *TransactionUpdate:
		base := len(dst)
		dst = append(dst, make([]byte, archivedTransactionFixed)...)
		b := dst[base:]
		b[0] = byte(KindTransaction)
		binary.LittleEndian.PutUint64(b[1:9], v.Slot)
		binary.LittleEndian.PutUint32(b[9:13], v.Index)
		if v.IsVote {
			b[13] = 1
		}
		copy(b[14:78], v.Signature[:])
		off := uint32(archivedTransactionFixed)
		binary.LittleEndian.PutUint32(b[78:82], off)
		binary.LittleEndian.PutUint32(b[82:86], uint32(len(v.Meta)))
		off += uint32(len(v.Meta))
		binary.LittleEndian.PutUint32(b[86:90], off)
		binary.LittleEndian.PutUint32(b[90:94], uint32(len(v.Message)))
		dst = append(dst, v.Meta...)
		return append(dst, v.Message...), nil
	case *BlockUpdate:
		base := len(dst)
		dst = append(dst, make([]byte, archivedBlockFixed)...)
		b := dst[base:]
		b[0] = byte(KindBlock)
		binary.LittleEndian.PutUint64(b[1:9], v.Slot)
		binary.LittleEndian.PutUint64(b[9:17], v.ParentSlot)
		binary.LittleEndian.PutUint64(b[17:25], v.EntryCount)
		binary.LittleEndian.PutUint32(b[25:29], v.ExecutedTxCount)
		if v.BlockTime != nil {
			b[29] = 1
			binary.LittleEndian.PutUint64(b[30:38], uint64(*v.BlockTime))
		}
		if v.BlockHeight != nil {
			b[38] = 1
			binary.LittleEndian.PutUint64(b[39:47], *v.BlockHeight)
		}
		copy(b[47:79], v.Blockhash[:])
		return dst, nil
	case *SlotUpdate:
		base := len(dst)
		dst = append(dst, make([]byte, archivedSlotFixed)...)
		b := dst[base:]
		b[0] = byte(KindSlot)
		binary.LittleEndian.PutUint64(b[1:9], v.Slot)
		if v.Parent != nil {
			b[9] = 1
			binary.LittleEndian.PutUint64(b[10:18], *v.Parent)
		}
		b[18] = byte(v.Status)
		return dst, nil
	}
	return dst, fmt.Errorf("%w: unknown record type %T", ErrMalformedPayload, r)
}

// ArchivedKind reports the record kind of an archived payload.
func ArchivedKind(payload []byte) (Kind, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: empty archived payload", ErrMalformedPayload)
	}
	return Kind(payload[0]), nil
}

// ArchivedAccount is a read-only view over an archived account payload.
// Accessors return subslices of the underlying bytes; no copies are made.
type ArchivedAccount struct{ b []byte }

// AsArchivedAccount validates the payload shape and returns a view.
func AsArchivedAccount(payload []byte) (ArchivedAccount, error) {
	if len(payload) < archivedAccountFixed || payload[0] != byte(KindAccount) {
		return ArchivedAccount{}, fmt.Errorf("%w: archived account", ErrMalformedPayload)
	}
	off := binary.LittleEndian.Uint32(payload[163:167])
	n := binary.LittleEndian.Uint32(payload[167:171])
	if uint64(off)+uint64(n) > uint64(len(payload)) {
		return ArchivedAccount{}, fmt.Errorf("%w: archived account data range", ErrMalformedPayload)
	}
	return ArchivedAccount{b: payload}, nil
}

func (a ArchivedAccount) Slot() uint64         { return binary.LittleEndian.Uint64(a.b[1:9]) }
func (a ArchivedAccount) Lamports() uint64     { return binary.LittleEndian.Uint64(a.b[9:17]) }
func (a ArchivedAccount) RentEpoch() uint64    { return binary.LittleEndian.Uint64(a.b[17:25]) }
func (a ArchivedAccount) WriteVersion() uint64 { return binary.LittleEndian.Uint64(a.b[25:33]) }
func (a ArchivedAccount) Pubkey() []byte       { return a.b[33:65] }
func (a ArchivedAccount) Owner() []byte        { return a.b[65:97] }
func (a ArchivedAccount) Executable() bool     { return a.b[97] != 0 }

func (a ArchivedAccount) TxnSignature() []byte {
	if a.b[98] == 0 {
		return nil
	}
	return a.b[99:163]
}

func (a ArchivedAccount) Data() []byte {
	off := binary.LittleEndian.Uint32(a.b[163:167])
	n := binary.LittleEndian.Uint32(a.b[167:171])
	return a.b[off : off+n]
}

// ArchivedTransaction is a read-only view over an archived transaction
// payload.
type ArchivedTransaction struct{ b []byte }

func AsArchivedTransaction(payload []byte) (ArchivedTransaction, error) {
	if len(payload) < archivedTransactionFixed || payload[0] != byte(KindTransaction) {
		return ArchivedTransaction{}, fmt.Errorf("%w: archived transaction", ErrMalformedPayload)
	}
	for _, at := range []int{78, 86} {
		off := binary.LittleEndian.Uint32(payload[at : at+4])
		n := binary.LittleEndian.Uint32(payload[at+4 : at+8])
		if uint64(off)+uint64(n) > uint64(len(payload)) {
			return ArchivedTransaction{}, fmt.Errorf("%w: archived transaction range", ErrMalformedPayload)
		}
	}
	return ArchivedTransaction{b: payload}, nil
}

func (t ArchivedTransaction) Slot() uint64      { return binary.LittleEndian.Uint64(t.b[1:9]) }
func (t ArchivedTransaction) Index() uint32     { return binary.LittleEndian.Uint32(t.b[9:13]) }
func (t ArchivedTransaction) IsVote() bool      { return t.b[13] != 0 }
func (t ArchivedTransaction) Signature() []byte { return t.b[14:78] }

func (t ArchivedTransaction) Meta() []byte    { return t.rng(78) }
func (t ArchivedTransaction) Message() []byte { return t.rng(86) }

func (t ArchivedTransaction) rng(at int) []byte {
	off := binary.LittleEndian.Uint32(t.b[at : at+4])
	n := binary.LittleEndian.Uint32(t.b[at+4 : at+8])
	return t.b[off : off+n]
}

// decodeArchived is the copy fallback: it materializes owned records from
// an archived payload.
func decodeArchived(payload []byte) (Record, error) {
	kind, err := ArchivedKind(payload)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindAccount:
		v, err := AsArchivedAccount(payload)
		if err != nil {
			return nil, err
		}
		a := &AccountUpdate{
			Slot:         v.Slot(),
			Lamports:     v.Lamports(),
			RentEpoch:    v.RentEpoch(),
			Executable:   v.Executable(),
			WriteVersion: v.WriteVersion(),
		}
		copy(a.Pubkey[:], v.Pubkey())
		copy(a.Owner[:], v.Owner())
		if d := v.Data(); len(d) > 0 {
			a.Data = append([]byte(nil), d...)
		}
		if sig := v.TxnSignature(); sig != nil {
			s := new([SignatureSize]byte)
			copy(s[:], sig)
			a.TxnSignature = s
		}
		return a, nil
	case KindTransaction:
		v, err := AsArchivedTransaction(payload)
		if err != nil {
			return nil, err
		}
		t := &TransactionUpdate{
			Slot:   v.Slot(),
			Index:  v.Index(),
			IsVote: v.IsVote(),
		}
		copy(t.Signature[:], v.Signature())
		if m := v.Meta(); len(m) > 0 {
			t.Meta = append([]byte(nil), m...)
		}
		if m := v.Message(); len(m) > 0 {
			t.Message = append([]byte(nil), m...)
		}
		return t, nil
	case KindBlock:
		if len(payload) < archivedBlockFixed {
			return nil, fmt.Errorf("%w: archived block", ErrMalformedPayload)
		}
		b := &BlockUpdate{
			Slot:            binary.LittleEndian.Uint64(payload[1:9]),
			ParentSlot:      binary.LittleEndian.Uint64(payload[9:17]),
			EntryCount:      binary.LittleEndian.Uint64(payload[17:25]),
			ExecutedTxCount: binary.LittleEndian.Uint32(payload[25:29]),
		}
		if payload[29] != 0 {
			v := int64(binary.LittleEndian.Uint64(payload[30:38]))
			b.BlockTime = &v
		}
		if payload[38] != 0 {
			v := binary.LittleEndian.Uint64(payload[39:47])
			b.BlockHeight = &v
		}
		copy(b.Blockhash[:], payload[47:79])
		return b, nil
	case KindSlot:
		if len(payload) < archivedSlotFixed {
			return nil, fmt.Errorf("%w: archived slot", ErrMalformedPayload)
		}
		s := &SlotUpdate{
			Slot:   binary.LittleEndian.Uint64(payload[1:9]),
			Status: SlotStatusCode(payload[18]),
		}
		if payload[9] != 0 {
			v := binary.LittleEndian.Uint64(payload[10:18])
			s.Parent = &v
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown archived kind %d", ErrMalformedPayload, kind)
}
