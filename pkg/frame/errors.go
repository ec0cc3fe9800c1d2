package frame

import "errors"

var (
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrReservedBitsSet    = errors.New("reserved flag bits set")
	ErrLenExceedsMax      = errors.New("payload length exceeds max frame size")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrDecompressFailed   = errors.New("decompress failed")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrTruncated          = errors.New("truncated frame")
)
