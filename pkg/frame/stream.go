package frame

import (
	"errors"
	"fmt"
	"io"
)

// StreamDecoder produces records from a concatenation of frames in wire
// order. Header-level corruption is fatal: once Next returns a non-EOF
// error the stream is dead and every further call returns the same error.
// There is no resynchronization.
type StreamDecoder struct {
	r     io.Reader
	codec Codec

	header  [HeaderSize]byte
	payload []byte
	pending []Record
	err     error
}

func NewStreamDecoder(r io.Reader, codec Codec) *StreamDecoder {
	return &StreamDecoder{r: r, codec: codec}
}

// Next returns the next record. io.EOF is returned only at a clean frame
// boundary; a partial frame surfaces ErrTruncated.
func (d *StreamDecoder) Next() (Record, error) {
	if d.err != nil {
		return nil, d.err
	}
	if len(d.pending) > 0 {
		r := d.pending[0]
		d.pending = d.pending[1:]
		return r, nil
	}

	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			d.err = io.EOF
		} else if errors.Is(err, io.ErrUnexpectedEOF) {
			d.err = fmt.Errorf("%w: partial header", ErrTruncated)
		} else {
			d.err = err
		}
		return nil, d.err
	}
	h, err := ParseHeader(d.header[:])
	if err != nil {
		d.err = err
		return nil, d.err
	}
	if h.PayloadLen > d.codec.maxFrameBytes() {
		d.err = fmt.Errorf("%w: %d > %d", ErrLenExceedsMax, h.PayloadLen, d.codec.maxFrameBytes())
		return nil, d.err
	}

	if cap(d.payload) < int(h.PayloadLen) {
		d.payload = make([]byte, h.PayloadLen)
	}
	d.payload = d.payload[:h.PayloadLen]
	if _, err := io.ReadFull(d.r, d.payload); err != nil {
		d.err = fmt.Errorf("%w: partial payload", ErrTruncated)
		return nil, d.err
	}

	body, err := d.codec.openPayload(h, d.payload)
	if err != nil {
		d.err = err
		return nil, d.err
	}

	decodeOne := unmarshalRecord
	if h.Flags&FlagArchived != 0 {
		decodeOne = decodeArchived
	}
	if h.Flags&FlagBatch == 0 {
		rec, err := decodeOne(body)
		if err != nil {
			d.err = err
			return nil, d.err
		}
		return rec, nil
	}

	records, err := decodeSubFrames(body, decodeOne)
	if err != nil {
		d.err = err
		return nil, d.err
	}
	if len(records) == 0 {
		return d.Next()
	}
	d.pending = records[1:]
	return records[0], nil
}
