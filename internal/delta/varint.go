package delta

import (
	"io"

	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// maxVarintBytes is the longest encoding ReadVarint will accept before
// failing with svnerr.Delta (spec.md §4.4: "reject any encoding longer
// than 9 bytes").
const maxVarintBytes = 9

// ReadVarint decodes a big-endian base-128 varint with a continuation
// bit in the MSB of each byte, as used throughout the delta window
// header and instruction stream.
func ReadVarint(r io.ByteReader) (uint64, error) {
	var n uint64
	for i := 0; ; i++ {
		if i >= maxVarintBytes {
			return 0, svnerr.New(svnerr.Delta, "varint longer than %d bytes", maxVarintBytes)
		}
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, svnerr.Wrap(svnerr.Delta, io.ErrUnexpectedEOF, "read varint")
			}
			return 0, svnerr.Wrap(svnerr.Delta, err, "read varint")
		}
		if n > (1<<57)-1 {
			// Next shift would overflow a uint64 once combined with the
			// incoming 7 bits; the value would exceed 2^63-1.
			return 0, svnerr.New(svnerr.Delta, "varint overflows 63 bits")
		}
		n = (n << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return n, nil
		}
	}
}

// PutVarint appends the minimal big-endian base-128 encoding of n (no
// leading all-zero continuation byte) to dst and returns the result.
func PutVarint(dst []byte, n uint64) []byte {
	var tmp [maxVarintBytes]byte
	i := len(tmp)
	i--
	tmp[i] = byte(n & 0x7f)
	n >>= 7
	for n > 0 {
		i--
		tmp[i] = byte(n&0x7f) | 0x80
		n >>= 7
	}
	return append(dst, tmp[i:]...)
}

// SizeVarint returns the number of bytes PutVarint would emit for n.
func SizeVarint(n uint64) int {
	size := 1
	for n >>= 7; n > 0; n >>= 7 {
		size++
	}
	return size
}
