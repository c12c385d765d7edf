// Package gateway owns the upstream leg of the proxy. It speaks HTTP/1.1
// directly on a raw transport rather than through an HTTP client, so the
// undecoded gateway byte stream stays available for relaying: chunked
// bodies and 101 upgrade responses pass through byte-for-byte.
package gateway

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"tlsgate/internal/config"
	"tlsgate/internal/wire"
)

// Endpoint is the resolved upstream address and forwarding policy. It is
// immutable after construction and shared read-only by all connections.
type Endpoint struct {
	Addr               string // host:port
	UseTLS             bool
	HostnameOverride   string // rewrites the forwarded Host header when set
	Timeout            time.Duration
	ProxyAuthorization string
}

// NewEndpoint builds the shared upstream endpoint from configuration.
func NewEndpoint(cfg *config.Config) *Endpoint {
	return &Endpoint{
		Addr:               cfg.Gateway.Addr(),
		UseTLS:             cfg.Gateway.UseHTTPS,
		HostnameOverride:   cfg.Gateway.HostnameOverride,
		Timeout:            time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second,
		ProxyAuthorization: cfg.Gateway.ProxyAuthorization,
	}
}

// hopByHopNames are request headers never blindly forwarded across the
// proxy boundary. Connection, Transfer-Encoding, Upgrade and Host are
// already consumed during parsing; the rest are filtered here.
var hopByHopNames = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopNames {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// Client holds one connection's exclusive upstream transport. It is not
// safe for concurrent use; each proxied client connection owns exactly one.
type Client struct {
	ep     *Endpoint
	logger *slog.Logger

	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

// NewClient creates an unconnected Client for the given endpoint. The
// transport is dialed lazily on first use.
func NewClient(ep *Endpoint, logger *slog.Logger) *Client {
	return &Client{
		ep:     ep,
		logger: logger.With("component", "gateway_client"),
	}
}

// Connected reports whether the upstream transport is established.
func (c *Client) Connected() bool {
	return c.conn != nil
}

// Connect dials the gateway, wrapping the transport in TLS when the
// endpoint requires it. The endpoint timeout bounds the dial (and the TLS
// handshake, for HTTPS gateways).
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := &net.Dialer{Timeout: c.ep.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.ep.Addr)
	if err != nil {
		return fmt.Errorf("dial gateway %s: %w", c.ep.Addr, err)
	}
	if c.ep.UseTLS {
		host := c.ep.HostnameOverride
		if host == "" {
			host, _, _ = net.SplitHostPort(c.ep.Addr)
		}
		tc := tls.Client(conn, &tls.Config{ServerName: host})
		if c.ep.Timeout > 0 {
			conn.SetDeadline(time.Now().Add(c.ep.Timeout))
		}
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("gateway tls handshake: %w", err)
		}
		conn.SetDeadline(time.Time{})
		conn = tc
	}
	c.conn = conn
	c.br = bufio.NewReader(conn)
	c.bw = bufio.NewWriter(conn)
	return nil
}

// SendRequest serializes the request head for the upstream leg and
// flushes it. clientAddr is the immediate peer address appended to the
// X-Forwarded-For chain. The body, if any, is relayed separately by the
// caller through Writer.
func (c *Client) SendRequest(req *wire.Request, clientAddr string) error {
	if c.conn == nil {
		return fmt.Errorf("gateway: not connected")
	}
	if c.ep.Timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.ep.Timeout))
	}
	headers := c.buildForwardHeaders(req, clientAddr)
	if err := wire.WriteRequestHead(c.bw, req.Method, req.Path, req.Proto, headers); err != nil {
		return fmt.Errorf("write request head: %w", err)
	}
	if err := c.bw.Flush(); err != nil {
		return fmt.Errorf("send request head: %w", err)
	}
	c.conn.SetWriteDeadline(time.Time{})
	return nil
}

// buildForwardHeaders assembles the outbound header list: rewritten Host
// first, the client's forwardable headers in wire order, then the headers
// the proxy itself controls.
func (c *Client) buildForwardHeaders(req *wire.Request, clientAddr string) []wire.Header {
	headers := make([]wire.Header, 0, len(req.Headers)+5)

	host := req.Host
	if c.ep.HostnameOverride != "" {
		host = c.ep.HostnameOverride
	}
	if host == "" {
		host = c.ep.Addr
	}
	headers = append(headers, wire.Header{Name: "Host", Value: host})

	for _, h := range req.Headers {
		if isHopByHop(h.Name) {
			continue
		}
		headers = append(headers, h)
	}

	chain := clientAddr
	if req.ForwardedFor != "" {
		chain = req.ForwardedFor + ", " + clientAddr
	}
	headers = append(headers, wire.Header{Name: "X-Forwarded-For", Value: chain})

	if c.ep.ProxyAuthorization != "" {
		headers = append(headers, wire.Header{Name: "Proxy-Authorization", Value: c.ep.ProxyAuthorization})
	}

	switch {
	case req.Upgrade:
		// Minimal WebSocket handshake: the 101 must come back raw, so
		// the upgrade happens on this same wire-level transport.
		headers = append(headers,
			wire.Header{Name: "Connection", Value: "Upgrade"},
			wire.Header{Name: "Upgrade", Value: "websocket"},
		)
	default:
		headers = append(headers, wire.Header{Name: "Connection", Value: "keep-alive"})
	}

	if req.Chunked {
		headers = append(headers, wire.Header{Name: "Transfer-Encoding", Value: "chunked"})
	}
	return headers
}

// ReadResponse parses the gateway's raw response head. The read is
// bounded by the endpoint timeout; the deadline is cleared afterwards so
// long-lived relays (WebSocket) are not cut off.
func (c *Client) ReadResponse(bufs *wire.Buffers) (*wire.Response, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("gateway: not connected")
	}
	if c.ep.Timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.ep.Timeout))
	}
	resp, err := wire.ReadResponse(c.br, bufs)
	c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	return resp, nil
}

// ArmReadDeadline bounds the next upstream reads by the endpoint timeout.
// Used around body relays so a stalled gateway cancels the iteration.
func (c *Client) ArmReadDeadline() {
	if c.conn != nil && c.ep.Timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.ep.Timeout))
	}
}

// ClearReadDeadline removes the upstream read bound.
func (c *Client) ClearReadDeadline() {
	if c.conn != nil {
		c.conn.SetReadDeadline(time.Time{})
	}
}

// Timeout returns the endpoint's per-operation timeout.
func (c *Client) Timeout() time.Duration { return c.ep.Timeout }

// Reader exposes the buffered upstream reader for body relaying. Bytes
// already buffered during head parsing are reachable here, which is what
// lets a WebSocket relay replay them.
func (c *Client) Reader() *bufio.Reader { return c.br }

// Writer exposes the buffered upstream writer for body relaying.
func (c *Client) Writer() *bufio.Writer { return c.bw }

// Conn exposes the raw upstream transport for tunneling.
func (c *Client) Conn() net.Conn { return c.conn }

// Close releases the upstream transport.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.br = nil
	c.bw = nil
	return err
}

// Preflight probes the gateway once with a minimal OPTIONS round trip on
// a throwaway transport. Called at proxy startup only; a failure here is
// fatal to startup, never to an individual connection.
func (c *Client) Preflight(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	probe := &wire.Request{Method: "OPTIONS", Path: "/", Proto: "HTTP/1.1"}
	if err := c.SendRequest(probe, "127.0.0.1"); err != nil {
		return fmt.Errorf("gateway preflight: %w", err)
	}
	resp, err := c.ReadResponse(wire.NewBuffers())
	if err != nil {
		return fmt.Errorf("gateway preflight: %w", err)
	}
	c.logger.Debug("gateway preflight ok", "status", resp.StatusCode)
	return nil
}
