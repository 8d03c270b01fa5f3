package core

// streaming.go provides readers that normalize ledger bytes before CSV
// parsing: a UTF-8 BOM is skipped and invalid UTF-8 is replaced with U+FFFD.
//
// Ledgers are small (see MaxLedgerBytes), but the readers stream so the parser
// never needs a second full copy of a file.

import (
	"bytes"
	"io"
	"unicode/utf8"
)

// utf8BOM is the byte-order mark some spreadsheet exports prepend.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// UTF8Sanitizer replaces invalid UTF-8 sequences with U+FFFD while
// streaming. A multi-byte sequence split across reads is carried over rather
// than replaced.
type UTF8Sanitizer struct {
	r       io.Reader
	pending []byte // incomplete trailing sequence from the previous read
	out     []byte // sanitized bytes not yet returned
	err     error
}

// NewUTF8Sanitizer wraps r.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{r: r}
}

// Read implements io.Reader.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	for len(s.out) == 0 {
		if s.err != nil {
			if len(s.pending) > 0 {
				// Input ended inside a sequence.
				s.out = append(s.out, sanitizeChunk(s.pending)...)
				s.pending = nil
				continue
			}
			return 0, s.err
		}

		buf := make([]byte, len(p)+len(s.pending))
		copy(buf, s.pending)
		n, err := s.r.Read(buf[len(s.pending):])
		data := buf[:len(s.pending)+n]
		s.pending = nil
		s.err = err

		if tail := incompleteTrailingBytes(data); tail > 0 && err == nil {
			s.pending = append([]byte(nil), data[len(data)-tail:]...)
			data = data[:len(data)-tail]
		}
		s.out = sanitizeChunk(data)
	}

	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

func sanitizeChunk(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.Write(data[:size])
		}
		data = data[size:]
	}
	return buf.Bytes()
}

// incompleteTrailingBytes returns the number of bytes at the end of data
// that could be the start of an incomplete multi-byte UTF-8 sequence.
func incompleteTrailingBytes(data []byte) int {
	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		// Not a continuation byte.
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected length of a UTF-8 sequence starting with byte b.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// BOMSkippingReader wraps an io.Reader and skips a leading UTF-8 BOM.
type BOMSkippingReader struct {
	r       io.Reader
	checked bool
	head    []byte
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{r: r}
}

// Read implements io.Reader.
func (b *BOMSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		var buf [3]byte
		n, err := io.ReadFull(b.r, buf[:])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, err
		}
		if n == 3 && bytes.Equal(buf[:], utf8BOM) {
			b.head = nil
		} else {
			b.head = append([]byte(nil), buf[:n]...)
		}
	}

	if len(b.head) > 0 {
		n := copy(p, b.head)
		b.head = b.head[n:]
		return n, nil
	}
	return b.r.Read(p)
}

// NormalizeLedgerReader strips a BOM and then sanitizes UTF-8.
// The BOM must go first; the sanitizer would otherwise pass it through.
func NormalizeLedgerReader(r io.Reader) io.Reader {
	return NewUTF8Sanitizer(NewBOMSkippingReader(r))
}

// looksBinary reports whether data contains NUL bytes, which never occur in
// a text export.
func looksBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}
