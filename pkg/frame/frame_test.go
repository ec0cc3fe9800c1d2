package frame

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func testRecords(t *testing.T) map[string]Record {
	t.Helper()

	data := make([]byte, 512)
	_, err := rand.Read(data)
	require.NoError(t, err)

	sig := new([SignatureSize]byte)
	for i := range sig {
		sig[i] = byte(i)
	}

	blockTime := int64(1700000000)
	blockHeight := uint64(250_000_000)
	parent := uint64(41)

	account := &AccountUpdate{
		Slot:         12345,
		Lamports:     987654321,
		RentEpoch:    361,
		Executable:   true,
		WriteVersion: 88,
		Data:         data,
		TxnSignature: sig,
	}
	for i := range account.Pubkey {
		account.Pubkey[i] = 0xAB
	}
	for i := range account.Owner {
		account.Owner[i] = 0xCD
	}

	tx := &TransactionUpdate{
		Slot:    12346,
		IsVote:  false,
		Index:   7,
		Meta:    []byte("meta bytes"),
		Message: []byte("message bytes"),
	}
	copy(tx.Signature[:], bytes.Repeat([]byte{0x11}, SignatureSize))

	block := &BlockUpdate{
		Slot:            12347,
		ParentSlot:      12346,
		BlockTime:       &blockTime,
		BlockHeight:     &blockHeight,
		ExecutedTxCount: 1200,
		EntryCount:      64,
	}
	copy(block.Blockhash[:], bytes.Repeat([]byte{0x22}, BlockhashSize))

	slot := &SlotUpdate{
		Slot:   42,
		Parent: &parent,
		Status: SlotRooted,
	}

	return map[string]Record{
		"account":     account,
		"transaction": tx,
		"block":       block,
		"slot":        slot,
	}
}

func TestRoundTripAllFlagCombinations(t *testing.T) {
	codec := Codec{}
	flagSets := map[string]Flags{
		"plain":        0,
		"lz4":          FlagLZ4,
		"archived":     FlagArchived,
		"lz4_archived": FlagLZ4 | FlagArchived,
	}

	for name, rec := range testRecords(t) {
		for fname, flags := range flagSets {
			t.Run(name+"/"+fname, func(t *testing.T) {
				b, err := codec.Encode(rec, flags)
				require.NoError(t, err)

				got, err := codec.Decode(b)
				require.NoError(t, err)
				require.Equal(t, rec, got)
			})
		}
	}
}

func TestRoundTripMinimalRecords(t *testing.T) {
	codec := Codec{}
	records := []Record{
		&AccountUpdate{Slot: 1},
		&TransactionUpdate{Slot: 1},
		&BlockUpdate{Slot: 1},
		&SlotUpdate{Slot: 1, Status: SlotProcessed},
	}
	for _, rec := range records {
		for _, flags := range []Flags{0, FlagArchived} {
			b, err := codec.Encode(rec, flags)
			require.NoError(t, err)

			got, err := codec.Decode(b)
			require.NoError(t, err)
			require.Equal(t, rec, got)
		}
	}
}

func TestBatchRoundTripPreservesOrder(t *testing.T) {
	codec := Codec{}
	recs := testRecords(t)
	in := []Record{recs["slot"], recs["account"], recs["transaction"], recs["block"], recs["slot"]}

	for name, flags := range map[string]Flags{"plain": 0, "lz4": FlagLZ4, "archived": FlagArchived} {
		t.Run(name, func(t *testing.T) {
			b, err := codec.EncodeBatch(in, flags)
			require.NoError(t, err)

			h, err := ParseHeader(b)
			require.NoError(t, err)
			require.NotZero(t, h.Flags&FlagBatch)

			out, err := codec.DecodeBatch(b)
			require.NoError(t, err)
			require.Equal(t, in, out)
		})
	}
}

func TestDecodeBatchAcceptsSingleFrame(t *testing.T) {
	codec := Codec{}
	rec := testRecords(t)["slot"]

	b, err := codec.Encode(rec, 0)
	require.NoError(t, err)

	out, err := codec.DecodeBatch(b)
	require.NoError(t, err)
	require.Equal(t, []Record{rec}, out)
}

func TestSlotFrameWireLayout(t *testing.T) {
	codec := Codec{}
	parent := uint64(99)
	rec := &SlotUpdate{Slot: 100, Parent: &parent, Status: SlotConfirmed}

	b, err := codec.Encode(rec, 0)
	require.NoError(t, err)

	// magic 0xFA57 on the wire little-endian: low byte first.
	require.Equal(t, byte(0x57), b[0])
	require.Equal(t, byte(0xFA), b[1])
	require.Equal(t, byte(1), b[2])
	require.Equal(t, byte(0), b[3])

	// kind + slot + presence + parent + status
	payloadLen := uint32(1 + 8 + 1 + 8 + 1)
	require.Equal(t, payloadLen, binary.LittleEndian.Uint32(b[4:8]))
	require.Equal(t, Checksum(b[HeaderSize:]), binary.LittleEndian.Uint32(b[8:12]))
	require.Len(t, b, HeaderSize+int(payloadLen))

	got, err := codec.Decode(b)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestChecksumMismatchOnCorruption(t *testing.T) {
	codec := Codec{}
	rec := &AccountUpdate{
		Slot:         1,
		Lamports:     42,
		WriteVersion: 7,
	}
	for i := range rec.Pubkey {
		rec.Pubkey[i] = 0x01
	}
	for i := range rec.Owner {
		rec.Owner[i] = 0x02
	}

	b, err := codec.Encode(rec, 0)
	require.NoError(t, err)

	b[20] ^= 0xFF
	_, err = codec.Decode(b)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestChecksumCoversEveryPayloadByte(t *testing.T) {
	codec := Codec{}
	rec := testRecords(t)["transaction"]

	b, err := codec.Encode(rec, 0)
	require.NoError(t, err)

	for i := HeaderSize; i < len(b); i++ {
		corrupt := append([]byte(nil), b...)
		corrupt[i] ^= 0x80
		_, err := codec.Decode(corrupt)
		require.ErrorIs(t, err, ErrChecksumMismatch, "offset %d", i)
	}
}

func TestHeaderValidation(t *testing.T) {
	codec := Codec{}
	rec := &SlotUpdate{Slot: 5, Status: SlotProcessed}
	good, err := codec.Encode(rec, 0)
	require.NoError(t, err)

	t.Run("bad magic", func(t *testing.T) {
		b := append([]byte(nil), good...)
		b[1] = 0x00
		_, err := codec.Decode(b)
		require.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("unsupported version", func(t *testing.T) {
		b := append([]byte(nil), good...)
		b[2] = 9
		_, err := codec.Decode(b)
		require.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("reserved flag bits", func(t *testing.T) {
		for bit := 3; bit < 8; bit++ {
			b := append([]byte(nil), good...)
			b[3] |= 1 << bit
			_, err := codec.Decode(b)
			require.ErrorIs(t, err, ErrReservedBitsSet)
		}
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := codec.Decode(good[:HeaderSize-1])
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := codec.Decode(good[:len(good)-2])
		require.ErrorIs(t, err, ErrTruncated)
	})
}

func TestEncodeRejectsOversizeFrame(t *testing.T) {
	codec := Codec{MaxFrameBytes: 1024}
	rec := &AccountUpdate{Slot: 1, Data: make([]byte, 4096)}

	_, err := codec.Encode(rec, 0)
	require.ErrorIs(t, err, ErrLenExceedsMax)

	_, err = codec.EncodeBatch([]Record{rec, rec}, 0)
	require.ErrorIs(t, err, ErrLenExceedsMax)
}

func TestDecodeRejectsOversizeFrame(t *testing.T) {
	big := Codec{}
	rec := &AccountUpdate{Slot: 1, Data: make([]byte, 4096)}
	b, err := big.Encode(rec, 0)
	require.NoError(t, err)

	small := Codec{MaxFrameBytes: 1024}
	_, err = small.Decode(b)
	require.ErrorIs(t, err, ErrLenExceedsMax)
}

func TestLZ4IncompressiblePayload(t *testing.T) {
	codec := Codec{}
	data := make([]byte, 256)
	_, err := rand.Read(data)
	require.NoError(t, err)

	rec := &AccountUpdate{Slot: 9, Data: data}
	b, err := codec.Encode(rec, FlagLZ4)
	require.NoError(t, err)

	got, err := codec.Decode(b)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestUnknownSlotStatusRoundTrips(t *testing.T) {
	codec := Codec{}
	rec := &SlotUpdate{Slot: 7, Status: SlotStatusCode(99)}

	for _, flags := range []Flags{0, FlagArchived} {
		b, err := codec.Encode(rec, flags)
		require.NoError(t, err)

		got, err := codec.Decode(b)
		require.NoError(t, err)
		require.Equal(t, rec, got)
	}
}

func TestStreamDecoder(t *testing.T) {
	codec := Codec{}
	recs := testRecords(t)
	var buf bytes.Buffer

	single, err := codec.Encode(recs["account"], FlagLZ4)
	require.NoError(t, err)
	buf.Write(single)

	batch, err := codec.EncodeBatch([]Record{recs["slot"], recs["transaction"]}, 0)
	require.NoError(t, err)
	buf.Write(batch)

	dec := NewStreamDecoder(&buf, codec)

	got, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, recs["account"], got)

	got, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, recs["slot"], got)

	got, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, recs["transaction"], got)

	_, err = dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamDecoderTruncatedTail(t *testing.T) {
	codec := Codec{}
	b, err := codec.Encode(testRecords(t)["slot"], 0)
	require.NoError(t, err)

	dec := NewStreamDecoder(bytes.NewReader(b[:len(b)-3]), codec)
	_, err = dec.Next()
	require.ErrorIs(t, err, ErrTruncated)

	// the stream error is sticky
	_, err = dec.Next()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestStreamDecoderFatalOnHeaderCorruption(t *testing.T) {
	codec := Codec{}
	first, err := codec.Encode(testRecords(t)["slot"], 0)
	require.NoError(t, err)
	second, err := codec.Encode(testRecords(t)["block"], 0)
	require.NoError(t, err)

	stream := append(append([]byte(nil), first...), second...)
	stream[len(first)] = 0x00 // clobber the second frame's magic

	dec := NewStreamDecoder(bytes.NewReader(stream), codec)
	_, err = dec.Next()
	require.NoError(t, err)

	_, err = dec.Next()
	require.ErrorIs(t, err, ErrBadMagic)
	_, err = dec.Next()
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestShardKeyStability(t *testing.T) {
	recs := testRecords(t)
	for name, rec := range recs {
		require.Equal(t, rec.ShardKey(), rec.ShardKey(), name)
	}

	a1 := recs["account"].(*AccountUpdate)
	a2 := &AccountUpdate{Pubkey: a1.Pubkey, Slot: a1.Slot + 1}
	require.Equal(t, a1.ShardKey(), a2.ShardKey(), "shard key depends only on pubkey")

	other := &AccountUpdate{}
	for i := range other.Pubkey {
		other.Pubkey[i] = 0x55
	}
	require.NotEqual(t, a1.ShardKey(), other.ShardKey())
}
