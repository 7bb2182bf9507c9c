// Package ratelimit paces page visits per site with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/contact-harvester/internal/clock/system"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

const defaultIdleTTL = 10 * time.Minute

// Limiter manages per-site rate limits. Hosts that differ only by a "www."
// prefix share a bucket. Buckets unused for IdleTTL are dropped.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*siteLimiter
	defaultRate  rate.Limit
	defaultBurst int
	idleTTL      time.Duration
	clock        harvest.Clock
	lastSweep    time.Time
}

type siteLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// IdleTTL defaults to ten minutes.
	IdleTTL time.Duration
	// Clock defaults to the system clock.
	Clock harvest.Clock
}

// New creates a new Limiter. A non-positive rate disables pacing.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = defaultIdleTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Limiter{
		limiters:     make(map[string]*siteLimiter),
		defaultRate:  r,
		defaultBurst: burst,
		idleTTL:      idle,
		clock:        clock,
		lastSweep:    clock.Now(),
	}
}

// Wait blocks until a token is available for the site of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	site := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		site = harvest.SiteKey(u.Host)
	}
	limiter := l.limiterFor(site)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not worth a histogram sample.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(site, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(site string) *rate.Limiter {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.evictIdle(now)
	}
	entry, exists := l.limiters[site]
	if !exists {
		entry = &siteLimiter{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.limiters[site] = entry
	}
	entry.lastUsed = now
	return entry.limiter
}

// evictIdle drops buckets idle for at least idleTTL. Callers hold mu.
func (l *Limiter) evictIdle(now time.Time) {
	for site, entry := range l.limiters {
		if now.Sub(entry.lastUsed) >= l.idleTTL {
			delete(l.limiters, site)
		}
	}
	l.lastSweep = now
}
