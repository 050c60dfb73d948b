package delta

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// maxWindowSize is the encoder's per-window chunk size (spec.md §4.4:
// "emit one window per <= 64 KiB of source").
const maxWindowSize = 64 * 1024

// Encode produces a version-1 svndiff stream for target. The encoder
// policy (spec.md §4.4) never attempts to find common substrings between
// target and source: every window declares an empty source slice
// (source_length = 0) and carries a single FROM_NEW instruction for its
// whole payload, deflating it only when that shrinks the window. source
// is accepted for API symmetry with a future diffing encoder and is
// never read — callers may pass nil.
func Encode(target []byte, source []byte) []byte {
	_ = source
	var out bytes.Buffer
	out.Write(magic[:])
	out.WriteByte(1)
	for off := 0; off < len(target) || (len(target) == 0 && off == 0); off += maxWindowSize {
		end := off + maxWindowSize
		if end > len(target) {
			end = len(target)
		}
		writeWindow(&out, target[off:end])
		if len(target) == 0 {
			break
		}
	}
	return out.Bytes()
}

func writeWindow(out *bytes.Buffer, payload []byte) {
	instrHeader, instrLength := encodeFromNewInstruction(uint64(len(payload)))
	packedInstructions := packStream(instrHeader)
	packedNewData := packStream(payload)

	out.Write(PutVarint(nil, 0))                      // source_offset
	out.Write(PutVarint(nil, 0))                       // source_length
	out.Write(PutVarint(nil, uint64(len(payload))))    // target_length
	out.Write(PutVarint(nil, uint64(len(packedInstructions)))) // instructions_length (wire length)
	out.Write(PutVarint(nil, uint64(len(packedNewData))))      // new_data_length (wire length)
	out.Write(packedInstructions)
	out.Write(packedNewData)
	_ = instrLength
}

// encodeFromNewInstruction builds the (unpacked) instruction stream for
// a single FROM_NEW instruction covering length bytes.
func encodeFromNewInstruction(length uint64) ([]byte, uint64) {
	var buf []byte
	tagBits := byte(FromNew) << 6
	if length >= 1 && length <= 0x3f {
		buf = append(buf, tagBits|byte(length))
	} else {
		// length == 0, or too large for the inline 6-bit field: the
		// header's length field is 0, signalling a following varint.
		buf = append(buf, tagBits)
		buf = PutVarint(buf, length)
	}
	return buf, length
}

// packStream wraps raw as a version-1 packed stream: a varint
// uncompressed_length followed by either the literal bytes or their
// zlib-deflated form, whichever the policy favours. Deflation is used
// only when the deflated size (plus its own length varint) is smaller
// than the literal encoding.
func packStream(raw []byte) []byte {
	header := PutVarint(nil, uint64(len(raw)))
	literalSize := len(header) + len(raw)

	var deflated bytes.Buffer
	zw := zlib.NewWriter(&deflated)
	if _, err := zw.Write(raw); err == nil {
		if err := zw.Close(); err == nil {
			dHeader := PutVarint(nil, uint64(len(raw)))
			deflatedSize := len(dHeader) + deflated.Len()
			if deflatedSize < literalSize {
				out := make([]byte, 0, deflatedSize)
				out = append(out, dHeader...)
				out = append(out, deflated.Bytes()...)
				return out
			}
		}
	}
	out := make([]byte, 0, literalSize)
	out = append(out, header...)
	out = append(out, raw...)
	return out
}

// EncodeFull is a convenience wrapper equivalent to Encode(target, nil),
// named to match the push planner's call sites where there is never a
// meaningful prior revision buffer (spec.md §4.8: new/modified files are
// always sent as a full-content Delta).
func EncodeFull(target []byte) []byte { return Encode(target, nil) }

// writerTo is implemented to let callers stream an encoded delta
// directly to a protocol connection without buffering it twice.
type writerTo struct {
	target []byte
}

func (w writerTo) WriteTo(dst io.Writer) (int64, error) {
	b := Encode(w.target, nil)
	n, err := dst.Write(b)
	if err != nil {
		return int64(n), svnerr.Wrap(svnerr.IO, err, "write delta stream")
	}
	return int64(n), nil
}

// NewWriterTo returns an io.WriterTo that encodes target on demand.
func NewWriterTo(target []byte) io.WriterTo { return writerTo{target: target} }
