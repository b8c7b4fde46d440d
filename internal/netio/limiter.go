package netio

import (
	"sync"

	"golang.org/x/time/rate"
)

// CommandLimiter throttles each connection's inbound command rate to
// spec.md §5's default (20/sec, linear refill), dropping excess input at
// the network layer before it ever reaches the NetIn queue.
type CommandLimiter struct {
	mu      sync.Mutex
	perSec  float64
	burst   int
	buckets map[uint64]*rate.Limiter
}

// NewCommandLimiter returns a limiter granting perSec tokens/sec per
// session, with burst as the bucket's capacity.
func NewCommandLimiter(perSec float64, burst int) *CommandLimiter {
	return &CommandLimiter{perSec: perSec, burst: burst, buckets: make(map[uint64]*rate.Limiter)}
}

// Allow reports whether sessionID may send one more command right now,
// consuming a token if so.
func (c *CommandLimiter) Allow(sessionID uint64) bool {
	c.mu.Lock()
	b, ok := c.buckets[sessionID]
	if !ok {
		b = rate.NewLimiter(rate.Limit(c.perSec), c.burst)
		c.buckets[sessionID] = b
	}
	c.mu.Unlock()
	return b.Allow()
}

// Forget drops a session's bucket once its connection closes.
func (c *CommandLimiter) Forget(sessionID uint64) {
	c.mu.Lock()
	delete(c.buckets, sessionID)
	c.mu.Unlock()
}

// ConnLimiter enforces spec.md §5's admission counters: a global cap on
// concurrent connections and a per-IP cap, shared between network tasks
// under a short critical section the tick thread never touches.
type ConnLimiter struct {
	mu       sync.Mutex
	total    int
	perIP    map[string]int
	maxTotal int
	maxPerIP int
}

func NewConnLimiter(maxTotal, maxPerIP int) *ConnLimiter {
	return &ConnLimiter{perIP: make(map[string]int), maxTotal: maxTotal, maxPerIP: maxPerIP}
}

// Admit reserves a connection slot for ip, or reports false if either cap
// is already at capacity.
func (c *ConnLimiter) Admit(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxTotal > 0 && c.total >= c.maxTotal {
		return false
	}
	if c.maxPerIP > 0 && c.perIP[ip] >= c.maxPerIP {
		return false
	}
	c.total++
	c.perIP[ip]++
	return true
}

// Release frees the slot reserved by a prior Admit(ip).
func (c *ConnLimiter) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total--
	c.perIP[ip]--
	if c.perIP[ip] <= 0 {
		delete(c.perIP, ip)
	}
}
