// Package ratelimit gates mentions with a per-member cooldown.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

type key struct {
	guildID string
	userID  string
}

// Limiter allows one call per member per cooldown. Members are tracked in a
// bounded LRU whose entries expire once their cooldown has passed, so idle
// members do not accumulate.
type Limiter struct {
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limiters *expirable.LRU[key, *rate.Limiter]
}

// New creates a limiter. A cooldown <= 0 disables limiting; maxEntries bounds
// the number of members tracked at once.
func New(cooldown time.Duration, maxEntries int) *Limiter {
	l := &Limiter{cooldown: cooldown, now: time.Now}
	if cooldown > 0 {
		l.limiters = expirable.NewLRU[key, *rate.Limiter](maxEntries, nil, cooldown)
	}
	return l
}

// Allow reports whether the member may be served now and, if so, starts a new
// cooldown window.
func (l *Limiter) Allow(guildID, userID string) bool {
	if l.cooldown <= 0 {
		return true
	}

	k := key{guildID: guildID, userID: userID}
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters.Get(k)
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.cooldown), 1)
	}
	if !lim.AllowN(l.now(), 1) {
		return false
	}
	// Re-adding restarts the entry's TTL at the allowed call.
	l.limiters.Add(k, lim)
	return true
}

// Len returns the number of members currently in cooldown tracking.
func (l *Limiter) Len() int {
	if l.limiters == nil {
		return 0
	}
	return l.limiters.Len()
}
