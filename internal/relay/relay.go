// Package relay copies message bodies between the client and gateway
// transports under the three framing policies the proxy supports:
// fixed length, chunked-terminator seeking, and unlimited bidirectional
// tunneling.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// BufferSize is the per-connection relay buffer capacity.
const BufferSize = 32 * 1024

// ErrShortBody is returned by CopyN when the source ends before the
// declared length was copied.
var ErrShortBody = errors.New("relay: stream ended before declared length")

// CopyN copies exactly n bytes from src to dst through buf.
func CopyN(dst io.Writer, src io.Reader, n int64, buf []byte) (int64, error) {
	written, err := io.CopyBuffer(dst, io.LimitReader(src, n), buf)
	if err != nil {
		return written, err
	}
	if written < n {
		return written, ErrShortBody
	}
	return written, nil
}

// chunkTerminator is the zero-length final chunk that ends a chunked body.
var chunkTerminator = []byte("0\r\n\r\n")

// CopyUntilChunkEnd relays a chunked body from src to dst without decoding
// it: bytes stream through verbatim until the terminator sequence has been
// observed, terminator included. The terminator may span read boundaries.
func CopyUntilChunkEnd(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var written int64
	matched := 0
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			end := -1
			for i := 0; i < n; i++ {
				b := buf[i]
				switch {
				case b == chunkTerminator[matched]:
					matched++
				case b == chunkTerminator[0]:
					matched = 1
				default:
					matched = 0
				}
				if matched == len(chunkTerminator) {
					end = i + 1
					break
				}
			}
			limit := n
			if end >= 0 {
				limit = end
			}
			wn, werr := dst.Write(buf[:limit])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if end >= 0 {
				return written, nil
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				rerr = io.ErrUnexpectedEOF
			}
			return written, rerr
		}
	}
}

// halfCloser is implemented by net.TCPConn and tls.Conn.
type halfCloser interface {
	CloseWrite() error
}

// Tunnel relays bytes between client and gateway in both directions until
// either side closes its half or ctx is canceled, then closes both
// transports and waits for the copy loops to unwind. Used for WebSocket
// hand-off, where the connection has left HTTP framing behind.
func Tunnel(ctx context.Context, client, gateway net.Conn) {
	done := make(chan struct{}, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	relayHalf := func(dst, src net.Conn) {
		defer wg.Done()
		buf := make([]byte, BufferSize)
		io.CopyBuffer(dst, src, buf)
		if hc, ok := dst.(halfCloser); ok {
			hc.CloseWrite()
		}
		done <- struct{}{}
	}

	go relayHalf(gateway, client)
	go relayHalf(client, gateway)

	select {
	case <-ctx.Done():
	case <-done:
	}
	client.Close()
	gateway.Close()
	wg.Wait()
}
