package proxy

import (
	"fmt"
	"io"
)

// Synthesized responses the proxy emits on its own behalf. Each is a
// minimal status line, a small fixed header set and a short plain-text
// body, always followed by connection close.
const (
	statusBadRequest     = 400
	statusBadGateway     = 502
	statusGatewayTimeout = 504
)

var reasonPhrases = map[int]string{
	statusBadRequest:     "Bad Request",
	statusBadGateway:     "Bad Gateway",
	statusGatewayTimeout: "Gateway Timeout",
}

// synthesizeResponse renders a complete self-describing response.
func synthesizeResponse(status int, banner, body string) []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nServer: %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, reasonPhrases[status], banner, len(body), body,
	))
}

// writeSynthesized writes a synthesized response best-effort; the
// connection is closing either way.
func writeSynthesized(w io.Writer, status int, banner, body string) {
	w.Write(synthesizeResponse(status, banner, body))
}
