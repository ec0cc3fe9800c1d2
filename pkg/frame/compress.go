package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

/*
	Compressed payload layout:

	| uint32 decompressed length | lz4 block |

	Incompressible input is still emitted as a valid lz4 block (a single
	literal run), so readers never need a stored-raw special case.
*/

func compressLZ4(src []byte) ([]byte, error) {
	out := make([]byte, 4+lz4.CompressBlockBound(len(src)))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(src)))

	var c lz4.Compressor
	n, err := c.CompressBlock(src, out[4:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		// Incompressible. Encode the input as literal-only sequences.
		return append(out[:4], literalBlock(src)...), nil
	}
	return out[:4+n], nil
}

func decompressLZ4(src []byte, maxLen uint32) ([]byte, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("%w: short compressed payload", ErrDecompressFailed)
	}
	decLen := binary.LittleEndian.Uint32(src[:4])
	if decLen > maxLen {
		return nil, fmt.Errorf("%w: decompressed %d > %d", ErrLenExceedsMax, decLen, maxLen)
	}
	out := make([]byte, decLen)
	n, err := lz4.UncompressBlock(src[4:], out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	if uint32(n) != decLen {
		return nil, fmt.Errorf("%w: decompressed %d, declared %d", ErrDecompressFailed, n, decLen)
	}
	return out, nil
}

// literalBlock emits src as raw lz4 literal sequences with no matches.
func literalBlock(src []byte) []byte {
	n := len(src)
	if n == 0 {
		return nil
	}
	out := make([]byte, 0, n+n/255+16)
	if n < 15 {
		out = append(out, byte(n)<<4)
	} else {
		out = append(out, 0xF0)
		for rest := n - 15; ; rest -= 255 {
			if rest < 255 {
				out = append(out, byte(rest))
				break
			}
			out = append(out, 255)
		}
	}
	return append(out, src...)
}
