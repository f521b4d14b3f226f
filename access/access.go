// Package access gates operator commands: an admin allow-list plus a
// per-user minimum interval between commands. Front ends (bots, CLIs)
// consult the guard before touching the provisioning layer.
package access

import (
	"sync"
	"time"
)

// Reason explains a denial.
type Reason string

const (
	DenyUnknownUser Reason = "unknown_user"
	DenyRateLimited Reason = "rate_limited"
)

// Verdict is the outcome of a Check. Reason is empty when allowed.
type Verdict struct {
	Allowed bool
	Reason  Reason
}

var allowed = Verdict{Allowed: true}

func denied(r Reason) Verdict { return Verdict{Reason: r} }

// Guard tracks per-user command times in a bounded map. When the map
// is full the stalest entry is evicted, so a scan of spoofed IDs
// cannot grow memory without bound.
type Guard struct {
	admins      map[int64]struct{}
	minInterval time.Duration
	maxEntries  int

	mu       sync.Mutex
	lastSeen map[int64]time.Time
}

// NewGuard builds a guard for the given admin IDs. minInterval <= 0
// disables rate limiting; maxEntries <= 0 gets a sane default.
func NewGuard(adminIDs []int64, minInterval time.Duration, maxEntries int) *Guard {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Guard{
		admins:      admins,
		minInterval: minInterval,
		maxEntries:  maxEntries,
		lastSeen:    make(map[int64]time.Time, len(adminIDs)),
	}
}

// Check decides whether userID may run a command at time now. A
// rate-limited attempt does not reset the user's window; hammering
// the limit never extends it.
func (g *Guard) Check(userID int64, now time.Time) Verdict {
	if _, ok := g.admins[userID]; !ok {
		return denied(DenyUnknownUser)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.minInterval > 0 {
		if last, ok := g.lastSeen[userID]; ok && now.Sub(last) < g.minInterval {
			return denied(DenyRateLimited)
		}
	}

	if _, ok := g.lastSeen[userID]; !ok && len(g.lastSeen) >= g.maxEntries {
		g.evictStalest()
	}
	g.lastSeen[userID] = now
	return allowed
}

// evictStalest removes the entry with the oldest timestamp. Caller
// holds the lock.
func (g *Guard) evictStalest() {
	var (
		victim int64
		oldest time.Time
		found  bool
	)
	for id, seen := range g.lastSeen {
		if !found || seen.Before(oldest) {
			victim, oldest, found = id, seen, true
		}
	}
	if found {
		delete(g.lastSeen, victim)
	}
}
