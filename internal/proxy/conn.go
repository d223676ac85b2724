package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/wire"
)

// handle runs one exchange: decode a single request, forward it, write the
// relayed response, close. Malformed input and read timeouts close the
// connection without a response; forwarding always produces one.
func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() { <-s.gate }()
	defer func() { _ = conn.Close() }()

	log := s.logger.With(
		"conn_id", uuid.NewString(),
		"remote_addr", conn.RemoteAddr().String(),
	)

	dec := wire.NewDecoder(conn, s.readTimeout, s.maxBody)
	req, err := dec.ReadRequest()
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			log.Debug("client closed without sending a request")
		case errors.Is(err, wire.ErrRequestTimeout):
			log.Error("timed out reading request", "err", err)
		default:
			log.Warn("dropping malformed request", "err", err)
		}
		return
	}

	log.Info("proxying request", "method", req.Method, "path", req.Path)

	start := time.Now()
	res := s.pool.Forward(context.Background(), req)

	if s.metrics != nil {
		method := metrics.NormalizeMethod(req.Method)
		status := strconv.Itoa(res.Status)
		s.metrics.RequestsTotal.WithLabelValues(method, status).Inc()
		s.metrics.RequestDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
	}

	if err := wire.WriteResponse(conn, req.Version, res.Status, res.Body); err != nil {
		log.Warn("writing response", "err", err)
	}
}
