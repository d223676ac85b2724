// Package proxy implements the raw TCP data path: accept a connection,
// decode one request, forward it upstream, write the relayed response back.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"relay-proxy-go/internal/client"
	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
)

// Server owns the data-path listener. Each accepted connection is handled by
// its own goroutine, bounded by an admission gate: when max_inflight handlers
// are busy, accepting pauses and excess connections wait in the listen
// backlog instead of spawning without limit.
type Server struct {
	addr        string
	readTimeout time.Duration
	maxBody     int64
	pool        *client.Pool
	logger      *slog.Logger
	metrics     *metrics.Metrics

	gate chan struct{}
	ln   net.Listener
	wg   sync.WaitGroup
}

// NewServer wires the data path together. The metrics parameter is optional;
// pass nil to disable data-path metrics recording.
func NewServer(cfg *config.Config, pool *client.Pool, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		addr:        cfg.Proxy.Addr(),
		readTimeout: time.Duration(cfg.Proxy.ReadTimeoutSeconds) * time.Second,
		maxBody:     cfg.Proxy.MaxBodyBytes,
		pool:        pool,
		logger:      logger.With("component", "proxy"),
		metrics:     m,
		gate:        make(chan struct{}, cfg.Proxy.MaxInflight),
	}
}

// Start binds the listener and begins accepting in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("proxy listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("proxy listening", "addr", ln.Addr().String())
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address. Useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		select {
		case s.gate <- struct{}{}:
		default:
			s.logger.Debug("admission gate full, pausing accept")
			s.gate <- struct{}{}
		}
		conn, err := s.ln.Accept()
		if err != nil {
			<-s.gate
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Stop closes the listener and waits for in-flight handlers until ctx
// expires. Forwards already in progress are not canceled; the upstream
// timeout bounds them.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("proxy stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("proxy stopped with handlers still active")
		return ctx.Err()
	}
}
