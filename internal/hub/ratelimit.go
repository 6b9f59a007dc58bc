package hub

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-host rate limiters
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int // Track original rates for consistency check
	mu       sync.RWMutex
}

// NewRateLimiterPool creates a new rate limiter pool
func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
	}
}

// GetOrCreate returns an existing rate limiter or creates a new one.
// If a limiter exists with a different rate, it logs a warning and keeps the
// existing one.
func (p *RateLimiterPool) GetOrCreate(host string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[host]; exists {
		if existingRate, ok := p.rates[host]; ok && existingRate != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, using existing rate",
				"host", host,
				"existing_rpm", existingRate,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := max(5, requestsPerMinute/5)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[host] = limiter
	p.rates[host] = requestsPerMinute

	slog.Debug("Created rate limiter",
		"host", host,
		"rpm", requestsPerMinute,
		"rps", rps,
		"burst", burst)

	return limiter
}

// Wait blocks until the rate limiter for host allows the next request
func (p *RateLimiterPool) Wait(ctx context.Context, host string, requestsPerMinute int) error {
	limiter := p.GetOrCreate(host, requestsPerMinute)
	return limiter.Wait(ctx)
}
