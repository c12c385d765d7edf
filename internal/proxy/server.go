// Package proxy implements the TLS-terminating HTTP/1.1 reverse proxy:
// the listener and worker dispatcher, and the per-connection protocol
// state machine.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"golang.org/x/time/rate"

	"tlsgate/internal/config"
	"tlsgate/internal/gateway"
	"tlsgate/internal/metrics"
)

// Server accepts raw client sockets, queues them, and dispatches each to
// an isolated worker goroutine. The queue is bounded by the configured
// maximum concurrent connection count; once full, acceptance blocks until
// capacity frees.
type Server struct {
	cfg     *config.Config
	tlsConf *tls.Config
	ep      *gateway.Endpoint
	banner  string
	logger  *slog.Logger
	metrics *metrics.Metrics

	ln      net.Listener
	queue   chan net.Conn
	sem     chan struct{}
	limiter *rate.Limiter

	shuttingDown atomic.Bool
	stop         chan struct{}
	acceptDone   chan struct{}
	dispatchDone chan struct{}

	activeConns atomic.Int64
	totalConns  atomic.Int64
}

// New builds a Server from configuration, loading the TLS key pair.
func New(cfg *config.Config, ep *gateway.Endpoint, logger *slog.Logger, m *metrics.Metrics, version string) (*Server, error) {
	tlsConf, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.Server.MaxConnections
	if maxConns <= 0 {
		maxConns = 512
	}

	s := &Server{
		cfg:          cfg,
		tlsConf:      tlsConf,
		ep:           ep,
		banner:       "tlsgate/" + version,
		logger:       logger.With("component", "proxy"),
		metrics:      m,
		queue:        make(chan net.Conn, maxConns),
		sem:          make(chan struct{}, maxConns),
		stop:         make(chan struct{}),
		acceptDone:   make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	if cfg.Server.AcceptRate.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.AcceptRate.ConnectionsPerSecond), 1)
	}
	return s, nil
}

// Start binds the listener and launches the accept and dispatch loops.
// Bind failure is fatal; everything after it is connection-scoped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Server.Addr(), err)
	}
	s.ln = ln
	s.logger.Info("proxy listening",
		"addr", ln.Addr().String(),
		"gateway", s.ep.Addr,
		"max_connections", s.cfg.Server.MaxConnections,
	)
	go s.acceptLoop()
	go s.dispatchLoop()
	return nil
}

// Stop closes the listener and the accept queue. In-flight connections
// are not forcibly aborted; their workers run to completion on their own.
func (s *Server) Stop(ctx context.Context) error {
	s.shuttingDown.Store(true)
	close(s.stop)
	if s.ln != nil {
		s.ln.Close()
	}
	select {
	case <-s.acceptDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	close(s.queue)
	select {
	case <-s.dispatchDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("proxy stopped", "connections_served", s.totalConns.Load())
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ActiveConnections returns the number of connections currently served.
func (s *Server) ActiveConnections() int64 { return s.activeConns.Load() }

// TotalConnections returns the number of connections accepted so far.
func (s *Server) TotalConnections() int64 { return s.totalConns.Load() }

// acceptLoop re-arms the accept call immediately after each accepted
// socket; processing never blocks acceptance beyond queue capacity.
func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return
			}
			s.logger.Warn("accept failed", "err", err)
			continue
		}
		if s.limiter != nil && !s.limiter.Allow() {
			nc.Close()
			continue
		}
		// The queue send can block while every slot is occupied; shutdown
		// must still be able to unblock it.
		select {
		case s.queue <- nc:
		case <-s.stop:
			nc.Close()
			return
		}
	}
}

// dispatchLoop is the single consumer of the accept queue. Each dequeued
// socket gets its own worker goroutine; the slot semaphore bounds live
// connections at the configured maximum.
func (s *Server) dispatchLoop() {
	defer close(s.dispatchDone)
	for nc := range s.queue {
		s.sem <- struct{}{}
		go s.runWorker(nc)
	}
}

func (s *Server) runWorker(nc net.Conn) {
	defer func() { <-s.sem }()

	s.totalConns.Add(1)
	s.activeConns.Add(1)
	s.metrics.ConnectionsActive.Inc()
	defer func() {
		s.activeConns.Add(-1)
		s.metrics.ConnectionsActive.Dec()
	}()

	gw := gateway.NewClient(s.ep, s.logger)
	c := newConn(nc, s.tlsConf, gw, s.banner, s.cfg.Server.KeepAliveEnabled(), s.logger, s.metrics)
	c.serve(context.Background())
}
