// Package stats tracks process-wide request counters for the proxy.
package stats

import (
	"sync/atomic"
	"time"
)

// Register holds the proxy's request counters. Counters mutate atomically,
// and Reset swaps the whole block in a single pointer store. A call begun
// before a reset keeps updating the retired block, so its remaining updates
// are dropped from the published numbers rather than corrupting them.
type Register struct {
	cur atomic.Pointer[counters]
}

type counters struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64
	startedAt int64 // unix nanoseconds, written once before publication
}

// NewRegister returns a register whose uptime clock starts at now.
func NewRegister(now time.Time) *Register {
	r := &Register{}
	r.cur.Store(&counters{startedAt: now.UnixNano()})
	return r
}

// Call tracks one forwarded request against the counter block that was
// current when it began: Begin, then Success or Failure, then End.
type Call struct {
	c *counters
}

// Begin records a new request. Total and active both increase.
func (r *Register) Begin() Call {
	c := r.cur.Load()
	c.total.Add(1)
	c.active.Add(1)
	return Call{c: c}
}

// Success marks the call's request as answered by the upstream.
func (cl Call) Success() { cl.c.succeeded.Add(1) }

// Failure marks the call's request as failed.
func (cl Call) Failure() { cl.c.failed.Add(1) }

// End releases the call's active slot.
func (cl Call) End() { cl.c.active.Add(-1) }

// Active returns the number of requests currently being forwarded.
func (r *Register) Active() int64 {
	return r.cur.Load().active.Load()
}

// Snapshot is the point-in-time view of the register served by the API.
type Snapshot struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	StartTime          time.Time `json:"start_time"`
	UptimeSeconds      int64     `json:"uptime_seconds"`
	ActiveConnections  int64     `json:"active_connections"`
}

// Snapshot reads the current counters. Each value is individually
// consistent; while requests are in flight, total may run ahead of
// succeeded plus failed.
func (r *Register) Snapshot(now time.Time) Snapshot {
	c := r.cur.Load()
	start := time.Unix(0, c.startedAt)
	return Snapshot{
		TotalRequests:      c.total.Load(),
		SuccessfulRequests: c.succeeded.Load(),
		FailedRequests:     c.failed.Load(),
		StartTime:          start,
		UptimeSeconds:      int64(now.Sub(start).Seconds()),
		ActiveConnections:  c.active.Load(),
	}
}

// Reset zeroes every counter and restarts the uptime clock.
func (r *Register) Reset(now time.Time) {
	r.cur.Store(&counters{startedAt: now.UnixNano()})
}
