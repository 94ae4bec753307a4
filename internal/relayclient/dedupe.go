package relayclient

import "time"

// nonceCache remembers handoff attempts by (agent_id, nonce) for a bounded window.
// Owned by the simulation goroutine; no locking.
type nonceCache struct {
	seen      map[string]seenEntry
	ttl       time.Duration
	max       int
	lastPrune int64
}

type seenEntry struct {
	expiresAt int64
	confirmed bool
}

func newNonceCache(ttl time.Duration, limit int) *nonceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if limit <= 0 {
		limit = 4096
	}
	return &nonceCache{
		seen: map[string]seenEntry{},
		ttl:  ttl,
		max:  limit,
	}
}

// observe records key and reports whether it was already present and unexpired.
func (c *nonceCache) observe(key string, now time.Time) (seenEntry, bool) {
	nowMS := now.UnixMilli()
	if c.shouldPrune(nowMS) {
		c.prune(nowMS)
	}
	if e, ok := c.seen[key]; ok && e.expiresAt > nowMS {
		return e, true
	}
	if len(c.seen) >= c.max {
		c.evictOldest()
	}
	e := seenEntry{expiresAt: nowMS + c.ttl.Milliseconds()}
	c.seen[key] = e
	return e, false
}

func (c *nonceCache) markConfirmed(key string) {
	if e, ok := c.seen[key]; ok {
		e.confirmed = true
		c.seen[key] = e
	}
}

func (c *nonceCache) len() int { return len(c.seen) }

func (c *nonceCache) shouldPrune(nowMS int64) bool {
	if len(c.seen) == 0 {
		return false
	}
	return nowMS-c.lastPrune > c.ttl.Milliseconds()/2
}

func (c *nonceCache) prune(nowMS int64) {
	for k, e := range c.seen {
		if e.expiresAt <= nowMS {
			delete(c.seen, k)
		}
	}
	c.lastPrune = nowMS
}

func (c *nonceCache) evictOldest() {
	var oldestKey string
	var oldest int64
	for k, e := range c.seen {
		if oldestKey == "" || e.expiresAt < oldest {
			oldestKey = k
			oldest = e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.seen, oldestKey)
	}
}
