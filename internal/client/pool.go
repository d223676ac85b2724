// Package client provides the pooled upstream HTTP client the proxy
// forwards through.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/stats"
)

const (
	// maxConnsPerOrigin caps connections to any single upstream host. The
	// pool-wide idle limit comes from configuration.
	maxConnsPerOrigin = 30

	idleConnTimeout = 90 * time.Second
	dnsCacheTTL     = 300 * time.Second
)

// Pool forwards parsed requests to the configured origin over a shared
// pooled transport. Forward never fails: upstream trouble becomes a
// synthetic 502 result, so the data path always has something to relay.
type Pool struct {
	httpClient *http.Client
	rt         *config.Runtime
	reg        *stats.Register
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewPool builds the shared transport and client. The pool size is fixed at
// startup from the loaded configuration; later runtime updates change the
// advertised value only. The metrics parameter is optional; pass nil to
// disable upstream metrics recording.
func NewPool(cfg *config.Config, rt *config.Runtime, reg *stats.Register, logger *slog.Logger, m *metrics.Metrics) *Pool {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.MaxConnections,
		MaxIdleConnsPerHost: maxConnsPerOrigin,
		MaxConnsPerHost:     maxConnsPerOrigin,
		IdleConnTimeout:     idleConnTimeout,
		DialContext:         cachedDialContext(dialer, newDNSCache(net.DefaultResolver, dnsCacheTTL)),
	}

	return &Pool{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		rt:      rt,
		reg:     reg,
		logger:  logger.With("component", "pool"),
		metrics: m,
	}
}

// Forward sends req to the current origin and returns the result to relay.
// The target URL is the origin joined with the request path exactly as it
// arrived, query string and all.
func (p *Pool) Forward(ctx context.Context, req *model.Request) model.Result {
	call := p.reg.Begin()
	defer call.End()
	if p.metrics != nil {
		p.metrics.ActiveConnections.Inc()
		defer p.metrics.ActiveConnections.Dec()
	}

	target := p.rt.TargetURL() + req.Path

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		call.Failure()
		p.logger.Error("building upstream request", "target", target, "err", err)
		return badGateway(err)
	}
	for k, v := range req.Headers {
		if k == "Host" {
			hreq.Host = v
			continue
		}
		hreq.Header.Set(k, v)
	}

	p.logger.Debug("upstream request", "method", req.Method, "target", target)

	start := time.Now()
	resp, err := p.httpClient.Do(hreq)
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	if p.metrics != nil {
		p.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}
	if err != nil {
		call.Failure()
		p.logger.Error("upstream request failed", "target", target, "err", err)
		return badGateway(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if p.metrics != nil {
		p.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		call.Failure()
		p.logger.Error("reading upstream response", "target", target, "err", err)
		return badGateway(err)
	}

	call.Success()
	return model.Result{Status: resp.StatusCode, Body: string(payload)}
}

// CloseIdle drops pooled upstream connections. Called on shutdown after the
// data path has drained.
func (p *Pool) CloseIdle() {
	if t, ok := p.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// badGateway folds err into the fixed 502 payload relayed to the client.
func badGateway(err error) model.Result {
	payload, _ := json.Marshal(struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}{
		Error:   "Bad Gateway",
		Details: err.Error(),
	})
	return model.Result{Status: http.StatusBadGateway, Body: string(payload)}
}
