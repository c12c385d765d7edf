package wire

import (
	"bufio"
	"strings"
)

// Request is one parsed client request. It lives for a single iteration of
// a connection's request loop: string fields are copied out of the scratch
// buffers, so the next parse may reuse them freely.
type Request struct {
	Method string
	Path   string
	Proto  string

	// Headers carries every forwardable header in wire order. Host,
	// Connection, Transfer-Encoding, Upgrade and X-Forwarded-For are
	// consumed during parsing and are not present here.
	Headers []Header

	Host          string
	ContentLength int64 // 0 when absent
	Chunked       bool
	KeepAlive     bool
	Expect100     bool
	Upgrade       bool   // Upgrade: websocket
	ForwardedFor  string // existing X-Forwarded-For chain, if any
}

// ReadRequest parses a request head (request line plus headers, through
// the blank line) from r using the given scratch buffers. The body, if
// any, is left unread on the stream.
func ReadRequest(r *bufio.Reader, bufs *Buffers) (*Request, error) {
	method, err := readField(r, bufs.Method, ' ')
	if err != nil {
		return nil, err
	}
	path, err := readField(r, bufs.Path, ' ')
	if err != nil {
		return nil, err
	}
	proto, err := readField(r, bufs.Proto, '\r')
	if err != nil {
		return nil, err
	}
	if err := discardLF(r); err != nil {
		return nil, err
	}
	if len(method) == 0 || len(path) == 0 || len(proto) == 0 {
		return nil, ErrMalformedMessage
	}

	req := &Request{
		Method: string(method),
		Path:   string(path),
		Proto:  string(proto),
		// HTTP/1.1 defaults to keep-alive; HTTP/1.0 must opt in.
		KeepAlive: string(proto) == "HTTP/1.1",
	}

	for {
		name, value, done, err := readHeaderLine(r, bufs)
		if err != nil {
			return nil, err
		}
		if done {
			return req, nil
		}

		switch {
		case equalFold(name, "Host"):
			req.Host = string(value)
		case equalFold(name, "Content-Length"):
			n, err := parseDecimal(value)
			if err != nil {
				return nil, err
			}
			req.ContentLength = n
			req.Headers = append(req.Headers, Header{Name: string(name), Value: string(value)})
		case equalFold(name, "Transfer-Encoding"):
			if tokenListContains(value, "chunked") {
				req.Chunked = true
			}
		case equalFold(name, "Connection"):
			if tokenListContains(value, "close") {
				req.KeepAlive = false
			} else if tokenListContains(value, "keep-alive") {
				req.KeepAlive = true
			}
		case equalFold(name, "Expect"):
			if equalFold(value, "100-continue") {
				req.Expect100 = true
			}
			req.Headers = append(req.Headers, Header{Name: string(name), Value: string(value)})
		case equalFold(name, "Upgrade"):
			if equalFold(value, "websocket") {
				req.Upgrade = true
			}
		case equalFold(name, "X-Forwarded-For"):
			req.ForwardedFor = string(value)
		default:
			req.Headers = append(req.Headers, Header{Name: string(name), Value: string(value)})
		}
	}
}

// readHeaderLine scans one header line. done is true when the blank line
// terminating the head was consumed instead.
func readHeaderLine(r *bufio.Reader, bufs *Buffers) (name, value []byte, done bool, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, nil, false, errUnexpected(err)
	}
	if b == '\r' {
		if err := discardLF(r); err != nil {
			return nil, nil, false, err
		}
		return nil, nil, true, nil
	}
	if err := r.UnreadByte(); err != nil {
		return nil, nil, false, err
	}

	name, err = readField(r, bufs.Name, ':')
	if err != nil {
		return nil, nil, false, err
	}
	if len(name) == 0 {
		return nil, nil, false, ErrMalformedMessage
	}
	value, err = readField(r, bufs.Value, '\r')
	if err != nil {
		return nil, nil, false, err
	}
	if err := discardLF(r); err != nil {
		return nil, nil, false, err
	}
	return name, trimLeadingSpace(value), false, nil
}

// tokenListContains reports whether a comma-separated header value
// contains the given token, compared case-insensitively.
func tokenListContains(value []byte, token string) bool {
	v := string(value)
	for len(v) > 0 {
		var part string
		if i := strings.IndexByte(v, ','); i >= 0 {
			part, v = v[:i], v[i+1:]
		} else {
			part, v = v, ""
		}
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
