// Package wire implements the framed, parenthesised s-expression stream
// used to talk to an svn server (spec.md §4.1, §4.2): a buffered
// reader/writer with one-byte pushback (C1) layered under a codec for
// the wire grammar of lists, atoms, integers and length-prefixed byte
// strings (C2).
package wire

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// Reader is the framed byte-stream reader of C1: read-one-byte with
// one-byte pushback, and read-exactly-N.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r with buffering suitable for the protocol's
// byte-at-a-time token scanning.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// ReadByte reads a single byte. Unexpected end of stream is fatal at
// this layer, per spec.md §4.1.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return 0, svnerr.Wrap(svnerr.IO, io.ErrUnexpectedEOF, "read byte")
		}
		return 0, svnerr.Wrap(svnerr.IO, err, "read byte")
	}
	return b, nil
}

// UnreadByte pushes the last byte read by ReadByte back onto the stream.
// Only a single byte of pushback is guaranteed.
func (r *Reader) UnreadByte() error {
	return errors.Wrap(r.r.UnreadByte(), "unread byte")
}

// PeekByte returns the next byte without consuming it.
func (r *Reader) PeekByte() (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if uerr := r.UnreadByte(); uerr != nil {
		return 0, svnerr.Wrap(svnerr.IO, uerr, "peek byte")
	}
	return b, nil
}

// ReadFull reads exactly len(buf) bytes, failing with IoError on a short
// read.
func (r *Reader) ReadFull(buf []byte) error {
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return svnerr.Wrap(svnerr.IO, err, "read exactly-n")
	}
	return nil
}

// Writer is the framed byte-stream writer half of C1.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps w with buffering; callers must call Flush once a
// complete message has been written.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 64*1024)}
}

// WriteAll writes every byte of p or fails.
func (w *Writer) WriteAll(p []byte) error {
	if _, err := w.w.Write(p); err != nil {
		return svnerr.Wrap(svnerr.IO, err, "write-all")
	}
	return nil
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) error {
	if err := w.w.WriteByte(b); err != nil {
		return svnerr.Wrap(svnerr.IO, err, "write byte")
	}
	return nil
}

// Flush flushes any buffered bytes to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return svnerr.Wrap(svnerr.IO, err, "flush")
	}
	return nil
}
