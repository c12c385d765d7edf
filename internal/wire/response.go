package wire

import "bufio"

// Response is one parsed gateway response head. Like Request it lives for
// a single iteration of the connection loop.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string

	// Headers carries every relayable header in wire order. Connection
	// and Server are consumed during parsing; the connection machine
	// emits its own versions of both.
	Headers []Header

	ContentLength int64 // -1 when absent
	Chunked       bool
	KeepAlive     bool // gateway allows connection reuse
	WebSocket     bool // Upgrade: websocket (101 hand-off)
}

// ReadResponse parses a response head (status line plus headers, through
// the blank line) from r using the given scratch buffers. The body is
// left unread on the stream.
//
// Chunked framing is authoritative: when Transfer-Encoding: chunked is
// present, any Content-Length on the same message is ignored for relay
// purposes (RFC 7230 §3.3.3).
func ReadResponse(r *bufio.Reader, bufs *Buffers) (*Response, error) {
	proto, err := readField(r, bufs.Proto, ' ')
	if err != nil {
		return nil, err
	}
	code, err := readField(r, bufs.Method, ' ')
	if err != nil {
		return nil, err
	}
	reason, err := readField(r, bufs.Reason, '\r')
	if err != nil {
		return nil, err
	}
	if err := discardLF(r); err != nil {
		return nil, err
	}

	status, err := parseDecimal(code)
	if err != nil || status < 100 || status > 999 {
		return nil, ErrMalformedMessage
	}

	resp := &Response{
		Proto:         string(proto),
		StatusCode:    int(status),
		Reason:        string(reason),
		ContentLength: -1,
		KeepAlive:     true,
	}

	for {
		name, value, done, err := readHeaderLine(r, bufs)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}

		switch {
		case equalFold(name, "Content-Length"):
			n, err := parseDecimal(value)
			if err != nil {
				return nil, err
			}
			resp.ContentLength = n
			resp.Headers = append(resp.Headers, Header{Name: string(name), Value: string(value)})
		case equalFold(name, "Transfer-Encoding"):
			if tokenListContains(value, "chunked") {
				resp.Chunked = true
			}
			resp.Headers = append(resp.Headers, Header{Name: string(name), Value: string(value)})
		case equalFold(name, "Connection"):
			if tokenListContains(value, "close") {
				resp.KeepAlive = false
			}
		case equalFold(name, "Upgrade"):
			if equalFold(value, "websocket") {
				resp.WebSocket = true
			}
			resp.Headers = append(resp.Headers, Header{Name: string(name), Value: string(value)})
		case equalFold(name, "Server"):
			// dropped; the proxy writes its own identity banner
		default:
			resp.Headers = append(resp.Headers, Header{Name: string(name), Value: string(value)})
		}
	}

	if resp.Chunked {
		resp.ContentLength = -1
	}
	return resp, nil
}
