// Package ratelimit guards outbound SearchBackend calls against abusive retry
// loops with a host-keyed token bucket built on golang.org/x/time/rate.
// MediaFetcher calls do not go through it.
package ratelimit

import (
	"context"
	"net/url"
	"sync"

	"kingo/internal/constants"

	"golang.org/x/time/rate"
)

// HostLimiter owns one token bucket per remote host, created lazily and
// race-free via double-checked locking.
type HostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	burst    int
	perSec   float64
}

// NewHostLimiter constructs a HostLimiter using the given burst and
// steady-state rate per host.
func NewHostLimiter(burst int, perSecond float64) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		burst:    burst,
		perSec:   perSecond,
	}
}

// DefaultHostLimiter returns a HostLimiter using the schema defaults.
func DefaultHostLimiter() *HostLimiter {
	return NewHostLimiter(constants.RateLimitBurst, constants.RateLimitPerSecond)
}

// Allow reports whether a request to rawURL's host may proceed now,
// consuming a token if so.
func (h *HostLimiter) Allow(rawURL string) bool {
	return h.limiterFor(rawURL).Allow()
}

// Wait blocks until a token for rawURL's host is available or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	return h.limiterFor(rawURL).Wait(ctx)
}

func (h *HostLimiter) limiterFor(rawURL string) *rate.Limiter {
	host := hostOf(rawURL)

	h.mu.RLock()
	l, ok := h.limiters[host]
	h.mu.RUnlock()
	if ok {
		return l
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok = h.limiters[host]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(h.perSec), h.burst)
	h.limiters[host] = l
	return l
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
