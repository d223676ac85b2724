package config

import "sync"

// Runtime is the slice of configuration the control API may change while the
// proxy runs: the forward target and the advertised pool size. The pool reads
// the target on every forward; the pool size is applied to the transport at
// startup and reported here.
type Runtime struct {
	mu             sync.RWMutex
	targetURL      string
	maxConnections int
}

// NewRuntime seeds the runtime view from the loaded configuration.
func NewRuntime(cfg *Config) *Runtime {
	return &Runtime{
		targetURL:      cfg.Upstream.TargetURL,
		maxConnections: cfg.Upstream.MaxConnections,
	}
}

// TargetURL returns the current forward origin.
func (r *Runtime) TargetURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.targetURL
}

// MaxConnections returns the current advertised pool size.
func (r *Runtime) MaxConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxConnections
}

// SetTargetURL replaces the forward origin. Callers validate first.
func (r *Runtime) SetTargetURL(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targetURL = u
}

// SetMaxConnections replaces the advertised pool size.
func (r *Runtime) SetMaxConnections(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxConnections = n
}

// View returns both runtime values under one lock.
func (r *Runtime) View() (targetURL string, maxConnections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.targetURL, r.maxConnections
}
