// Package wire implements raw HTTP/1.1 message parsing and serialization
// over byte streams, without net/http. Fields are scanned into fixed-size
// scratch buffers owned by the caller so a connection can parse an
// arbitrary number of messages without per-request allocation.
package wire

import (
	"bufio"
	"errors"
	"io"
)

// Scratch-buffer capacities. A field longer than its buffer is a parse
// failure, not a truncation.
const (
	MethodBufSize = 32
	PathBufSize   = 2048
	ProtoBufSize  = 10
	NameBufSize   = 256
	ValueBufSize  = 4096
	ReasonBufSize = 256
)

var (
	// ErrFieldTooLong is returned when a scanned field exceeds the
	// capacity of its scratch buffer.
	ErrFieldTooLong = errors.New("wire: field exceeds buffer capacity")

	// ErrMalformedMessage is returned for structural violations such as
	// a missing line feed or a header line without a colon.
	ErrMalformedMessage = errors.New("wire: malformed message")

	// ErrBadContentLength is returned when a Content-Length value is not
	// a valid non-negative integer.
	ErrBadContentLength = errors.New("wire: invalid content-length")
)

// Header is a single name/value pair. Insertion order is preserved and
// duplicate names are allowed; name comparison is always case-insensitive.
type Header struct {
	Name  string
	Value string
}

// Buffers holds one connection's reusable parse scratch space. The same
// set is reused across every request/response iteration of a connection
// and must never be shared between connections.
type Buffers struct {
	Method []byte // request method or response status code
	Path   []byte
	Proto  []byte
	Name   []byte
	Value  []byte
	Reason []byte
}

// NewBuffers allocates a scratch-buffer set with the default capacities.
func NewBuffers() *Buffers {
	return &Buffers{
		Method: make([]byte, MethodBufSize),
		Path:   make([]byte, PathBufSize),
		Proto:  make([]byte, ProtoBufSize),
		Name:   make([]byte, NameBufSize),
		Value:  make([]byte, ValueBufSize),
		Reason: make([]byte, ReasonBufSize),
	}
}

// readField scans bytes from r into buf until delim is found and returns
// the scanned bytes without the delimiter. Filling buf before the
// delimiter appears yields ErrFieldTooLong; a stream that ends first
// yields io.ErrUnexpectedEOF.
func readField(r *bufio.Reader, buf []byte, delim byte) ([]byte, error) {
	n := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if b == delim {
			return buf[:n], nil
		}
		if n == len(buf) {
			return nil, ErrFieldTooLong
		}
		buf[n] = b
		n++
	}
}

// discardLF consumes the line feed that follows a CR-delimited field.
func discardLF(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if b != '\n' {
		return ErrMalformedMessage
	}
	return nil
}

// errUnexpected maps a bare EOF mid-message to io.ErrUnexpectedEOF.
func errUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// equalFold reports whether b matches the ASCII string s ignoring case.
// Header names are ASCII; this avoids the allocation of strings.EqualFold
// on a converted scratch slice.
func equalFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		c, d := b[i], s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if 'A' <= d && d <= 'Z' {
			d += 'a' - 'A'
		}
		if c != d {
			return false
		}
	}
	return true
}

// trimLeadingSpace returns v without leading spaces and horizontal tabs.
func trimLeadingSpace(v []byte) []byte {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\t') {
		v = v[1:]
	}
	return v
}

// parseDecimal parses a non-negative base-10 integer from b.
func parseDecimal(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, ErrBadContentLength
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, ErrBadContentLength
		}
		n = n*10 + int64(c-'0')
		if n < 0 {
			return 0, ErrBadContentLength
		}
	}
	return n, nil
}
