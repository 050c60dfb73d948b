package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// Token kinds in the wire grammar (spec.md §4.2): a message is a
// whitespace-separated sequence of '(' , ')', non-negative decimal
// integers, length-prefixed byte strings ("N:" followed by exactly N raw
// bytes) and lowercase-starting atoms.

const maxAtomLen = 256

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Decoder reads the s-expression reply grammar from a Reader.
type Decoder struct {
	r *Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r *Reader) *Decoder { return &Decoder{r: r} }

func (d *Decoder) skipWhitespace() error {
	for {
		b, err := d.r.PeekByte()
		if err != nil {
			return err
		}
		if !isWhitespace(b) {
			return nil
		}
		if _, err := d.r.ReadByte(); err != nil {
			return err
		}
	}
}

// ReadList consumes whitespace until '(', failing if another token
// appears first.
func (d *Decoder) ReadList() error {
	if err := d.skipWhitespace(); err != nil {
		return err
	}
	b, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	if b != '(' {
		return svnerr.New(svnerr.Protocol, "expected '(', got %q", b)
	}
	return nil
}

// ReadListEnd consumes the ')' that closes a list opened by ReadList.
func (d *Decoder) ReadListEnd() error {
	if err := d.skipWhitespace(); err != nil {
		return err
	}
	b, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	if b != ')' {
		return svnerr.New(svnerr.Protocol, "expected ')', got %q", b)
	}
	return nil
}

// ReadOptional implements read-optional: if the next token is ')' it is
// consumed and present is false; otherwise the stream is left positioned
// and present is true.
func (d *Decoder) ReadOptional() (present bool, err error) {
	if err := d.skipWhitespace(); err != nil {
		return false, err
	}
	b, err := d.r.PeekByte()
	if err != nil {
		return false, err
	}
	if b == ')' {
		_, err := d.r.ReadByte()
		return false, err
	}
	return true, nil
}

// ReadNumber consumes whitespace then a non-negative decimal integer
// token.
func (d *Decoder) ReadNumber() (uint64, error) {
	if err := d.skipWhitespace(); err != nil {
		return 0, err
	}
	var digits []byte
	for {
		b, err := d.r.PeekByte()
		if err != nil {
			return 0, err
		}
		if !isDigit(b) {
			break
		}
		if _, err := d.r.ReadByte(); err != nil {
			return 0, err
		}
		digits = append(digits, b)
		if len(digits) > 20 {
			return 0, svnerr.New(svnerr.Protocol, "number token too long")
		}
	}
	if len(digits) == 0 {
		return 0, svnerr.New(svnerr.Protocol, "expected number token")
	}
	n, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil {
		return 0, svnerr.Wrap(svnerr.Protocol, err, "parse number token")
	}
	return n, nil
}

// ReadString consumes whitespace then a length-prefixed byte string
// ("N:" followed by exactly N raw bytes), returning the raw bytes.
func (d *Decoder) ReadString() ([]byte, error) {
	n, err := d.readStringLength()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := d.r.ReadFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readStringLength parses the "N:" prefix, including the colon, and
// returns N. It does not read the following N bytes.
func (d *Decoder) readStringLength() (uint64, error) {
	if err := d.skipWhitespace(); err != nil {
		return 0, err
	}
	var digits []byte
	for {
		b, err := d.r.PeekByte()
		if err != nil {
			return 0, err
		}
		if !isDigit(b) {
			break
		}
		if _, err := d.r.ReadByte(); err != nil {
			return 0, err
		}
		digits = append(digits, b)
		if len(digits) > 20 {
			return 0, svnerr.New(svnerr.Protocol, "string length token too long")
		}
	}
	if len(digits) == 0 {
		return 0, svnerr.New(svnerr.Protocol, "expected string length token")
	}
	colon, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if colon != ':' {
		return 0, svnerr.New(svnerr.Protocol, "expected ':' after string length, got %q", colon)
	}
	n, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil {
		return 0, svnerr.Wrap(svnerr.Protocol, err, "parse string length")
	}
	return n, nil
}

// ReadAtom consumes whitespace then a lowercase-starting atom token.
func (d *Decoder) ReadAtom() (string, error) {
	if err := d.skipWhitespace(); err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		b, err := d.r.PeekByte()
		if err != nil {
			return "", err
		}
		if isWhitespace(b) || b == '(' || b == ')' {
			break
		}
		if _, err := d.r.ReadByte(); err != nil {
			return "", err
		}
		sb.WriteByte(b)
		if sb.Len() > maxAtomLen {
			return "", svnerr.New(svnerr.Protocol, "atom token too long")
		}
	}
	if sb.Len() == 0 {
		return "", svnerr.New(svnerr.Protocol, "expected atom token")
	}
	return sb.String(), nil
}

// peekTokenKind looks at the next non-whitespace byte to classify the
// upcoming token without consuming it.
func (d *Decoder) peekTokenKind() (byte, error) {
	if err := d.skipWhitespace(); err != nil {
		return 0, err
	}
	return d.r.PeekByte()
}

// ReadEnd consumes tokens, balancing parens, until the enclosing list
// (the one most recently opened by the caller's ReadList) closes. It is
// used to skip unknown tail fields.
//
// Contract: skipping must correctly count nested strings whose content
// may contain any byte, including '(' and ')' — so strings are
// length-counted first, never scanned for a matching delimiter.
func (d *Decoder) ReadEnd() error {
	depth := 1
	for depth > 0 {
		kind, err := d.peekTokenKind()
		if err != nil {
			return err
		}
		switch {
		case kind == '(':
			if _, err := d.r.ReadByte(); err != nil {
				return err
			}
			depth++
		case kind == ')':
			if _, err := d.r.ReadByte(); err != nil {
				return err
			}
			depth--
		case isDigit(kind):
			// Ambiguous between a bare number and a length-prefixed
			// string; peekIsStringLength consumes the digit run and,
			// having looked ahead for a following ':', also consumes
			// whichever token it turned out to be (the string's raw
			// bytes, or nothing more for a bare number).
			if _, err := d.peekIsStringLength(); err != nil {
				return err
			}
		default:
			if _, err := d.ReadAtom(); err != nil {
				return err
			}
		}
	}
	return nil
}

// peekIsStringLength reads the digit run starting at the current
// position and checks whether a ':' follows. If so this is a
// length-prefixed string: the colon and the string's raw bytes are
// consumed too, and isString is true. Otherwise the digit run was a
// bare number token, already fully consumed, and isString is false.
// Used only by ReadEnd, which does not need the parsed value either
// way.
func (d *Decoder) peekIsStringLength() (bool, error) {
	var digits []byte
	for {
		b, err := d.r.PeekByte()
		if err != nil {
			return false, err
		}
		if !isDigit(b) {
			break
		}
		if _, err := d.r.ReadByte(); err != nil {
			return false, err
		}
		digits = append(digits, b)
	}
	next, err := d.r.PeekByte()
	isString := err == nil && next == ':'
	if isString {
		if _, err := d.r.ReadByte(); err != nil { // consume ':'
			return false, err
		}
		n, err := strconv.ParseUint(string(digits), 10, 64)
		if err != nil {
			return false, svnerr.Wrap(svnerr.Protocol, err, "parse string length")
		}
		buf := make([]byte, n)
		if err := d.r.ReadFull(buf); err != nil {
			return false, err
		}
		return true, nil
	}
	// It was a bare number; nothing left to do, the digits are consumed.
	if len(digits) == 0 {
		return false, svnerr.New(svnerr.Protocol, "expected digit run")
	}
	return false, nil
}

// Encoder writes the wire grammar to a Writer.
type Encoder struct {
	w *Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w *Writer) *Encoder { return &Encoder{w: w} }

// WriteList writes '(' followed by a separating space.
func (e *Encoder) WriteList() error {
	return e.w.WriteAll([]byte("( "))
}

// WriteListEnd writes ') ' to close a list opened with WriteList.
func (e *Encoder) WriteListEnd() error {
	return e.w.WriteAll([]byte(") "))
}

// WriteNumber writes a decimal integer token.
func (e *Encoder) WriteNumber(n uint64) error {
	return e.w.WriteAll([]byte(fmt.Sprintf("%d ", n)))
}

// WriteString writes a length-prefixed byte string token.
func (e *Encoder) WriteString(p []byte) error {
	if err := e.w.WriteAll([]byte(fmt.Sprintf("%d:", len(p)))); err != nil {
		return err
	}
	if err := e.w.WriteAll(p); err != nil {
		return err
	}
	return e.w.WriteAll([]byte(" "))
}

// WriteAtom writes a bare atom token.
func (e *Encoder) WriteAtom(s string) error {
	return e.w.WriteAll([]byte(s + " "))
}

// Flush flushes the underlying Writer.
func (e *Encoder) Flush() error { return e.w.Flush() }
