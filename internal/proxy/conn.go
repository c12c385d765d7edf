package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"time"

	"tlsgate/internal/gateway"
	"tlsgate/internal/metrics"
	"tlsgate/internal/relay"
	"tlsgate/internal/wire"
)

// handshakeTimeout bounds the TLS server handshake. A plaintext client on
// the TLS port fails here and is refused on the raw transport.
const handshakeTimeout = 10 * time.Second

// closeReason is the terminal state of a connection, recorded once when
// the request loop exits.
type closeReason string

const (
	reasonBadHandshake       closeReason = "bad_handshake"
	reasonInvalidRequest     closeReason = "invalid_request"
	reasonGatewayUnreachable closeReason = "gateway_unreachable"
	reasonGatewayTimeout     closeReason = "gateway_timeout"
	reasonBadGatewayResponse closeReason = "bad_gateway_response"
	reasonClientClosed       closeReason = "client_closed"
	reasonConnectionClose    closeReason = "connection_close"
	reasonWebSocketClosed    closeReason = "websocket_closed"
	reasonWorkerPanic        closeReason = "worker_panic"
)

// conn drives one accepted client socket through the proxy state machine:
// TLS handshake, then the request loop, then close. It owns the client
// and upstream transports exclusively for its lifetime, along with one
// reusable scratch-buffer set.
type conn struct {
	raw       net.Conn
	tlsConfig *tls.Config
	tlsConn   *tls.Conn
	br        *bufio.Reader
	bw        *bufio.Writer

	gw   *gateway.Client
	bufs *wire.Buffers
	body []byte // relay buffer, reused across iterations

	banner    string
	keepAlive bool // proxy-level keep-alive feature flag

	logger  *slog.Logger
	metrics *metrics.Metrics

	iteration uint64
	reason    closeReason
}

func newConn(raw net.Conn, tlsConfig *tls.Config, gw *gateway.Client, banner string, keepAlive bool, logger *slog.Logger, m *metrics.Metrics) *conn {
	return &conn{
		raw:       raw,
		tlsConfig: tlsConfig,
		gw:        gw,
		bufs:      wire.NewBuffers(),
		body:      make([]byte, relay.BufferSize),
		banner:    banner,
		keepAlive: keepAlive,
		logger:    logger,
		metrics:   m,
	}
}

// serve runs the connection to completion. All failures are handled here;
// none escape to the dispatcher.
func (c *conn) serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.reason = reasonWorkerPanic
			c.logger.Error("panic in connection worker", "panic", r)
		}
		c.finish()
	}()

	if err := c.handshake(ctx); err != nil {
		// No encrypted channel exists; refuse on the raw transport.
		writeSynthesized(c.raw, statusBadRequest, c.banner, "TLS required\n")
		c.reason = reasonBadHandshake
		c.logger.Debug("tls handshake failed", "remote", c.raw.RemoteAddr(), "err", err)
		return
	}

	for {
		c.iteration++
		if done := c.iterate(ctx); done {
			return
		}
	}
}

func (c *conn) handshake(ctx context.Context) error {
	start := time.Now()
	tc := tls.Server(c.raw, c.tlsConfig)
	c.raw.SetDeadline(time.Now().Add(handshakeTimeout))
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := tc.HandshakeContext(hctx); err != nil {
		return err
	}
	c.raw.SetDeadline(time.Time{})
	c.tlsConn = tc
	c.br = bufio.NewReader(tc)
	c.bw = bufio.NewWriter(tc)
	c.metrics.HandshakeDuration.Observe(time.Since(start).Seconds())
	return nil
}

// iterate runs one request/response round trip. It returns true when the
// connection must close, having already set the close reason.
func (c *conn) iterate(ctx context.Context) (done bool) {
	// A clean disconnect between requests is the normal end of a
	// keep-alive connection, not an error.
	if _, err := c.br.Peek(1); err != nil {
		c.reason = reasonClientClosed
		return true
	}

	req, err := wire.ReadRequest(c.br, c.bufs)
	if err != nil {
		c.deny(statusBadRequest, "invalid request\n")
		c.reason = reasonInvalidRequest
		c.logger.Debug("request parse failed", "err", err)
		return true
	}

	if !c.gw.Connected() {
		if err := c.gw.Connect(ctx); err != nil {
			if isTimeout(err) {
				c.deny(statusGatewayTimeout, "gateway timeout\n")
				c.reason = reasonGatewayTimeout
			} else {
				c.deny(statusBadGateway, "gateway unreachable\n")
				c.reason = reasonGatewayUnreachable
			}
			c.logger.Warn("gateway connect failed", "err", err)
			return true
		}
	}

	start := time.Now()
	if err := c.gw.SendRequest(req, peerIP(c.raw.RemoteAddr())); err != nil {
		c.deny(statusBadGateway, "gateway unreachable\n")
		c.reason = reasonGatewayUnreachable
		return true
	}

	// forcedClose marks iterations after which the byte stream can no
	// longer be trusted for another request (e.g. an unsent 100-continue
	// body still pending on the client side).
	forcedClose := false
	var resp *wire.Response

	if req.Expect100 {
		resp, forcedClose, done = c.forwardExpectContinue(req)
		if done {
			return true
		}
	} else {
		if err := c.relayRequestBody(req); err != nil {
			c.deny(statusBadGateway, "gateway unreachable\n")
			c.reason = reasonGatewayUnreachable
			return true
		}
		resp, done = c.readGatewayResponse()
		if done {
			return true
		}
	}

	c.metrics.GatewayDuration.WithLabelValues(metrics.NormalizeMethod(req.Method)).Observe(time.Since(start).Seconds())
	c.metrics.RequestsTotal.WithLabelValues(metrics.NormalizeMethod(req.Method), metrics.StatusClass(resp.StatusCode)).Inc()

	if resp.StatusCode == 101 && !resp.WebSocket {
		// An upgrade we do not speak; deliver it, then drop the link.
		forcedClose = true
	}

	keepAlive := c.keepAlive && req.KeepAlive && resp.KeepAlive && !forcedClose && !resp.WebSocket

	headers := make([]wire.Header, 0, len(resp.Headers)+2)
	headers = append(headers, resp.Headers...)
	headers = append(headers, wire.Header{Name: "Server", Value: c.banner})
	switch {
	case resp.WebSocket:
		headers = append(headers, wire.Header{Name: "Connection", Value: "Upgrade"})
	case keepAlive:
		headers = append(headers, wire.Header{Name: "Connection", Value: "keep-alive"})
	default:
		headers = append(headers, wire.Header{Name: "Connection", Value: "close"})
	}
	if err := wire.WriteResponseHead(c.bw, resp.Proto, resp.StatusCode, resp.Reason, headers); err != nil {
		c.reason = reasonClientClosed
		return true
	}

	if resp.WebSocket {
		if err := c.bw.Flush(); err != nil {
			c.reason = reasonClientClosed
			return true
		}
		c.tunnel(ctx)
		c.reason = reasonWebSocketClosed
		return true
	}

	if err := c.relayResponseBody(req, resp); err != nil {
		c.reason = reasonBadGatewayResponse
		c.logger.Warn("response body relay failed", "err", err)
		return true
	}
	if err := c.bw.Flush(); err != nil {
		c.reason = reasonClientClosed
		return true
	}

	if !keepAlive {
		c.reason = reasonConnectionClose
		return true
	}
	return false
}

// forwardExpectContinue handles the Expect: 100-continue interim exchange.
// The request head has already been sent; the client's body is streamed
// only if the gateway answers 100. Any other interim status becomes the
// final response, and the connection cannot be reused because the client
// may still hold an unsent body.
func (c *conn) forwardExpectContinue(req *wire.Request) (resp *wire.Response, forcedClose, done bool) {
	interim, rdone := c.readGatewayResponse()
	if rdone {
		return nil, false, true
	}
	if interim.StatusCode != 100 {
		return interim, true, false
	}

	// Relay the interim head so the client releases the body.
	if err := wire.WriteResponseHead(c.bw, interim.Proto, interim.StatusCode, interim.Reason, interim.Headers); err != nil {
		c.reason = reasonClientClosed
		return nil, false, true
	}
	if err := c.bw.Flush(); err != nil {
		c.reason = reasonClientClosed
		return nil, false, true
	}
	if err := c.relayRequestBody(req); err != nil {
		c.deny(statusBadGateway, "gateway unreachable\n")
		c.reason = reasonGatewayUnreachable
		return nil, false, true
	}
	resp, rdone = c.readGatewayResponse()
	if rdone {
		return nil, false, true
	}
	return resp, false, false
}

// readGatewayResponse parses the gateway response head, mapping failures
// to a 502 and a terminal close reason.
func (c *conn) readGatewayResponse() (*wire.Response, bool) {
	resp, err := c.gw.ReadResponse(c.bufs)
	if err != nil {
		c.deny(statusBadGateway, "bad gateway response\n")
		if isTimeout(err) {
			c.reason = reasonGatewayTimeout
		} else {
			c.reason = reasonBadGatewayResponse
		}
		c.logger.Warn("gateway response failed", "err", err)
		return nil, true
	}
	return resp, false
}

// relayRequestBody streams the client's request body upstream under the
// framing the request declared. Requests without a body are a no-op.
// Client reads are deadline-bounded so a stalled sender cannot hold the
// worker and its upstream connection forever.
func (c *conn) relayRequestBody(req *wire.Request) error {
	if d := c.gw.Timeout(); d > 0 {
		c.tlsConn.SetReadDeadline(time.Now().Add(d))
		defer c.tlsConn.SetReadDeadline(time.Time{})
	}
	var err error
	switch {
	case req.Chunked:
		_, err = relay.CopyUntilChunkEnd(c.gw.Writer(), c.br, c.body)
	case req.ContentLength > 0:
		_, err = relay.CopyN(c.gw.Writer(), c.br, req.ContentLength, c.body)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	return c.gw.Writer().Flush()
}

// relayResponseBody streams the gateway's response body to the client.
// Chunked framing wins over Content-Length when both are present; with
// neither there is no body to relay.
func (c *conn) relayResponseBody(req *wire.Request, resp *wire.Response) error {
	if !bodyAllowed(req.Method, resp.StatusCode) {
		return nil
	}
	c.gw.ArmReadDeadline()
	defer c.gw.ClearReadDeadline()
	switch {
	case resp.Chunked:
		_, err := relay.CopyUntilChunkEnd(c.bw, c.gw.Reader(), c.body)
		return err
	case resp.ContentLength >= 0:
		_, err := relay.CopyN(c.bw, c.gw.Reader(), resp.ContentLength, c.body)
		return err
	}
	return nil
}

// tunnel converts the connection into a raw bidirectional relay after a
// WebSocket upgrade. Bytes already buffered on either side during head
// parsing are replayed first so nothing is lost.
func (c *conn) tunnel(ctx context.Context) {
	if n := c.gw.Reader().Buffered(); n > 0 {
		b, _ := c.gw.Reader().Peek(n)
		if _, err := c.tlsConn.Write(b); err != nil {
			return
		}
		c.gw.Reader().Discard(n)
	}
	if n := c.br.Buffered(); n > 0 {
		b, _ := c.br.Peek(n)
		if _, err := c.gw.Writer().Write(b); err != nil {
			return
		}
		if err := c.gw.Writer().Flush(); err != nil {
			return
		}
		c.br.Discard(n)
	}
	relay.Tunnel(ctx, c.tlsConn, c.gw.Conn())
}

// deny writes a synthesized error response on the encrypted channel.
func (c *conn) deny(status int, body string) {
	writeSynthesized(c.tlsConn, status, c.banner, body)
}

func (c *conn) finish() {
	c.gw.Close()
	if c.tlsConn != nil {
		c.tlsConn.Close()
	} else {
		c.raw.Close()
	}
	if c.reason == "" {
		c.reason = reasonClientClosed
	}
	c.metrics.ConnectionsTotal.WithLabelValues(string(c.reason)).Inc()
	c.logger.Debug("connection closed",
		"remote", c.raw.RemoteAddr(),
		"reason", string(c.reason),
		"iterations", c.iteration,
	)
}

// bodyAllowed reports whether a response to the given request method and
// status code carries a body at all, regardless of framing headers.
func bodyAllowed(method string, status int) bool {
	if method == "HEAD" {
		return false
	}
	if status < 200 || status == 204 || status == 304 {
		return false
	}
	return true
}

// peerIP extracts the bare IP from a transport address for the
// X-Forwarded-For chain.
func peerIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
