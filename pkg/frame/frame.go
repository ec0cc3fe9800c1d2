package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

/*
	Frame header, 12 bytes little-endian:

	| offset | size | field       |
	|      0 |    2 | magic 0xFA57|
	|      2 |    1 | version     |
	|      3 |    1 | flags       |
	|      4 |    4 | payload_len |
	|      8 |    4 | checksum    |

	The checksum is the low 32 bits of xxhash64 over the payload bytes as
	they appear on the wire (after compression).
*/

const (
	Magic      = 0xFA57
	Version    = 1
	HeaderSize = 12

	// DefaultMaxFrameBytes caps the payload size unless configured otherwise.
	DefaultMaxFrameBytes = 16 << 20
)

// Flags is the frame flag byte.
type Flags uint8

const (
	// FlagLZ4 marks an LZ4 block-compressed payload.
	FlagLZ4 Flags = 1 << 0
	// FlagArchived marks the fixed-layout payload that supports typed
	// read-only views without copying.
	FlagArchived Flags = 1 << 1
	// FlagBatch marks a payload holding length-delimited sub-frames.
	FlagBatch Flags = 1 << 2

	flagsKnown = FlagLZ4 | FlagArchived | FlagBatch
)

// Header is a parsed frame header.
type Header struct {
	Version    uint8
	Flags      Flags
	PayloadLen uint32
	Checksum   uint32
}

// Codec encodes and decodes frames. The zero value uses
// DefaultMaxFrameBytes.
type Codec struct {
	MaxFrameBytes uint32
}

func (c Codec) maxFrameBytes() uint32 {
	if c.MaxFrameBytes == 0 {
		return DefaultMaxFrameBytes
	}
	return c.MaxFrameBytes
}

// ParseHeader validates the fixed header fields. It does not look at the
// payload, so callers can decide how to handle oversize frames.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d header bytes", ErrTruncated, len(b))
	}
	if binary.LittleEndian.Uint16(b[0:2]) != Magic {
		return Header{}, fmt.Errorf("%w: 0x%04x", ErrBadMagic, binary.LittleEndian.Uint16(b[0:2]))
	}
	h := Header{
		Version:    b[2],
		Flags:      Flags(b[3]),
		PayloadLen: binary.LittleEndian.Uint32(b[4:8]),
		Checksum:   binary.LittleEndian.Uint32(b[8:12]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Flags&^flagsKnown != 0 {
		return Header{}, fmt.Errorf("%w: 0x%02x", ErrReservedBitsSet, uint8(h.Flags))
	}
	return h, nil
}

func putHeader(b []byte, flags Flags, payload []byte) {
	binary.LittleEndian.PutUint16(b[0:2], Magic)
	b[2] = Version
	b[3] = byte(flags)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(b[8:12], Checksum(payload))
}

// Checksum returns the 32 bit payload checksum.
func Checksum(payload []byte) uint32 {
	return uint32(xxhash.Sum64(payload))
}

// Encode returns a single frame carrying r. FlagBatch is rejected here; use
// EncodeBatch.
func (c Codec) Encode(r Record, flags Flags) ([]byte, error) {
	if flags&^flagsKnown != 0 {
		return nil, fmt.Errorf("%w: 0x%02x", ErrReservedBitsSet, uint8(flags))
	}
	if flags&FlagBatch != 0 {
		return nil, fmt.Errorf("%w: single-record frame with batch flag", ErrMalformedPayload)
	}

	var (
		payload []byte
		err     error
	)
	if flags&FlagArchived != 0 {
		payload, err = appendArchived(nil, r)
	} else {
		payload, err = appendRecord(make([]byte, 0, canonicalSize(r)), r)
	}
	if err != nil {
		return nil, err
	}
	return c.seal(payload, flags)
}

// EncodeBatch returns one batch frame holding records in order. Sub-frames
// are uint32 length-delimited record payloads, canonical or, with
// FlagArchived, archived; the outer compression flag covers the
// concatenation.
func (c Codec) EncodeBatch(records []Record, flags Flags) ([]byte, error) {
	if flags&^flagsKnown != 0 {
		return nil, fmt.Errorf("%w: 0x%02x", ErrReservedBitsSet, uint8(flags))
	}
	flags |= FlagBatch

	size := 0
	for _, r := range records {
		size += 4 + canonicalSize(r)
	}
	payload := make([]byte, 0, size)
	for _, r := range records {
		var err error
		lenAt := len(payload)
		payload = appendUint32(payload, 0)
		if flags&FlagArchived != 0 {
			payload, err = appendArchived(payload, r)
		} else {
			payload, err = appendRecord(payload, r)
		}
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(payload[lenAt:lenAt+4], uint32(len(payload)-lenAt-4))
	}
	return c.seal(payload, flags)
}

func (c Codec) seal(payload []byte, flags Flags) ([]byte, error) {
	if flags&FlagLZ4 != 0 {
		var err error
		payload, err = compressLZ4(payload)
		if err != nil {
			return nil, err
		}
	}
	if uint32(len(payload)) > c.maxFrameBytes() {
		return nil, fmt.Errorf("%w: %d > %d", ErrLenExceedsMax, len(payload), c.maxFrameBytes())
	}
	out := make([]byte, HeaderSize+len(payload))
	copy(out[HeaderSize:], payload)
	putHeader(out[:HeaderSize], flags, payload)
	return out, nil
}

// Decode validates and parses a single-record frame.
func (c Codec) Decode(b []byte) (Record, error) {
	h, payload, err := c.open(b)
	if err != nil {
		return nil, err
	}
	if h.Flags&FlagBatch != 0 {
		return nil, fmt.Errorf("%w: batch frame passed to Decode", ErrMalformedPayload)
	}
	if h.Flags&FlagArchived != 0 {
		return decodeArchived(payload)
	}
	return unmarshalRecord(payload)
}

// DecodeBatch parses a batch frame, preserving sub-frame order. A frame
// without the batch flag decodes as a single-element batch.
func (c Codec) DecodeBatch(b []byte) ([]Record, error) {
	h, payload, err := c.open(b)
	if err != nil {
		return nil, err
	}
	decodeOne := unmarshalRecord
	if h.Flags&FlagArchived != 0 {
		decodeOne = decodeArchived
	}
	if h.Flags&FlagBatch == 0 {
		r, err := decodeOne(payload)
		if err != nil {
			return nil, err
		}
		return []Record{r}, nil
	}

	return decodeSubFrames(payload, decodeOne)
}

func decodeSubFrames(payload []byte, decodeOne func([]byte) (Record, error)) ([]Record, error) {
	var records []Record
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, fmt.Errorf("%w: sub-frame length", ErrMalformedPayload)
		}
		n := binary.LittleEndian.Uint32(payload[:4])
		payload = payload[4:]
		if uint32(len(payload)) < n {
			return nil, fmt.Errorf("%w: sub-frame body %d > %d", ErrMalformedPayload, n, len(payload))
		}
		r, err := decodeOne(payload[:n])
		if err != nil {
			return nil, err
		}
		records = append(records, r)
		payload = payload[n:]
	}
	return records, nil
}

// DecodeFrame decodes a frame whose header and payload the caller already
// split, returning its records in order. The payload must be exactly
// h.PayloadLen bytes.
func (c Codec) DecodeFrame(h Header, payload []byte) ([]Record, error) {
	if uint32(len(payload)) != h.PayloadLen {
		return nil, fmt.Errorf("%w: want %d payload bytes, have %d", ErrTruncated, h.PayloadLen, len(payload))
	}
	body, err := c.openPayload(h, payload)
	if err != nil {
		return nil, err
	}
	decodeOne := unmarshalRecord
	if h.Flags&FlagArchived != 0 {
		decodeOne = decodeArchived
	}
	if h.Flags&FlagBatch == 0 {
		r, err := decodeOne(body)
		if err != nil {
			return nil, err
		}
		return []Record{r}, nil
	}
	return decodeSubFrames(body, decodeOne)
}

// open validates the header, length, checksum and compression and returns
// the decoded payload bytes.
func (c Codec) open(b []byte) (Header, []byte, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	if h.PayloadLen > c.maxFrameBytes() {
		return Header{}, nil, fmt.Errorf("%w: %d > %d", ErrLenExceedsMax, h.PayloadLen, c.maxFrameBytes())
	}
	if uint32(len(b)-HeaderSize) < h.PayloadLen {
		return Header{}, nil, fmt.Errorf("%w: want %d payload bytes, have %d", ErrTruncated, h.PayloadLen, len(b)-HeaderSize)
	}
	payload, err := c.openPayload(h, b[HeaderSize:HeaderSize+int(h.PayloadLen)])
	if err != nil {
		return Header{}, nil, err
	}
	return h, payload, nil
}

func (c Codec) openPayload(h Header, payload []byte) ([]byte, error) {
	if Checksum(payload) != h.Checksum {
		return nil, fmt.Errorf("%w: want 0x%08x, have 0x%08x", ErrChecksumMismatch, h.Checksum, Checksum(payload))
	}
	if h.Flags&FlagLZ4 != 0 {
		out, err := decompressLZ4(payload, c.maxFrameBytes())
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return payload, nil
}
