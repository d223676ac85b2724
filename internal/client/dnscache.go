package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// resolver is the subset of net.Resolver the cache needs.
type resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// dnsCache memoizes host lookups for a fixed TTL so repeated forwards to the
// same origin skip resolution. Failed lookups are not cached.
type dnsCache struct {
	resolver resolver
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]dnsEntry
}

type dnsEntry struct {
	addrs   []string
	expires time.Time
}

func newDNSCache(r resolver, ttl time.Duration) *dnsCache {
	return &dnsCache{
		resolver: r,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]dnsEntry),
	}
}

// lookup returns the addresses for host, resolving when absent or stale.
func (c *dnsCache) lookup(ctx context.Context, host string) ([]string, error) {
	c.mu.Lock()
	if e, ok := c.entries[host]; ok && c.now().Before(e.expires) {
		addrs := e.addrs
		c.mu.Unlock()
		return addrs, nil
	}
	c.mu.Unlock()

	addrs, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[host] = dnsEntry{addrs: addrs, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return addrs, nil
}

// cachedDialContext dials through the cache, trying each resolved address
// until one connects.
func cachedDialContext(d *net.Dialer, cache *dnsCache) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		addrs, err := cache.lookup(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, a := range addrs {
			conn, err := d.DialContext(ctx, network, net.JoinHostPort(a, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no addresses resolved for %s", host)
		}
		return nil, lastErr
	}
}
