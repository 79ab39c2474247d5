// internal/throttle/throttle.go
//
// Per-IP failure throttling.
//
// Context
// -------
// Repeated application failures from one address (bad logins, validation
// spam) feed a sliding-window counter kept in the shared cache facade
// under its own region.  The window is two hourly buckets: the current
// hour counts in full, the previous hour proportionally to how much of
// it still falls inside the trailing hour.  Entries are plain cache
// values keyed by address and hour, so the whole thing costs nothing
// when nobody misbehaves.
package throttle

import (
	"strconv"
	"time"

	"github.com/strandweb/strand/internal/cache"
	"github.com/strandweb/strand/internal/metrics"
)

const region = "Throttle"

// Limiter counts failures per client address.  Safe for concurrent use
// to the extent the facade is; a lost increment under contention only
// under-counts, which is the tolerable direction.
type Limiter struct {
	cache *cache.Cache
	limit int
	now   func() time.Time
}

// New builds a limiter that blocks an address after limit failures per
// sliding hour.  A non-positive limit disables blocking.
func New(c *cache.Cache, limit int) *Limiter {
	return &Limiter{cache: c, limit: limit, now: time.Now}
}

func key(ip string, hour int64) string {
	return ip + "#" + strconv.FormatInt(hour, 10)
}

func (l *Limiter) count(ip string, hour int64) int {
	v, ok := l.cache.Get(region, key(ip, hour))
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

// Fail records one failure for ip in the current hourly bucket.
func (l *Limiter) Fail(ip string) {
	if ip == "" {
		return
	}
	hour := l.now().Unix() / 3600
	l.cache.Set(region, key(ip, hour), l.count(ip, hour)+1)
}

// Blocked reports whether ip has exceeded the failure budget for the
// trailing hour.
func (l *Limiter) Blocked(ip string) bool {
	if l.limit <= 0 || ip == "" {
		return false
	}
	now := l.now()
	hour := now.Unix() / 3600

	// Fraction of the previous bucket still inside the trailing hour.
	elapsed := float64(now.Unix()%3600) / 3600
	weighted := float64(l.count(ip, hour)) + float64(l.count(ip, hour-1))*(1-elapsed)

	if weighted >= float64(l.limit) {
		metrics.ThrottleBlockedTotal.Inc()
		return true
	}
	return false
}

// Reset clears both live buckets for ip, e.g. after a successful login.
func (l *Limiter) Reset(ip string) {
	hour := l.now().Unix() / 3600
	l.cache.Evict(region, key(ip, hour))
	l.cache.Evict(region, key(ip, hour-1))
}
