// Package loadctrl caps the request rate shared by all simulated users.
package loadctrl

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gates outgoing requests.
//
// Thread Safety: Implementations must be safe for concurrent use by multiple goroutines.
type RateLimiter interface {
	// Acquire blocks until a request slot is available or ctx is done.
	Acquire(ctx context.Context) error

	// CurrentRate returns the configured limit in QPS.
	CurrentRate() float64

	// BurstSize returns how many requests may be sent back to back.
	BurstSize() int

	// Stats returns usage counters.
	Stats() RateLimiterStats
}

// RateLimiterStats contains statistics about rate limiter usage.
type RateLimiterStats struct {
	TotalAcquired int64
	CurrentQPS    float64
	AvgWaitTime   time.Duration
	MaxWaitTime   time.Duration
}

// RateLimiterConfig configures the global request cap.
// A zero QPS disables limiting.
type RateLimiterConfig struct {
	QPS       float64 `yaml:"qps,omitempty" json:"qps,omitempty"`
	BurstSize int     `yaml:"burstSize,omitempty" json:"burstSize,omitempty"`
}

// Enabled reports whether the config asks for a limiter.
func (c RateLimiterConfig) Enabled() bool {
	return c.QPS > 0
}

// New builds a limiter from cfg, or returns nil when limiting is disabled.
func New(cfg RateLimiterConfig) RateLimiter {
	if !cfg.Enabled() {
		return nil
	}
	return NewTokenBucketLimiter(cfg.QPS, cfg.BurstSize)
}

// TokenBucketLimiter implements RateLimiter on top of golang.org/x/time/rate.
type TokenBucketLimiter struct {
	limiter   *rate.Limiter
	burstSize int
	qps       float64

	totalAcquired atomic.Int64
	totalWaitTime atomic.Int64 // nanoseconds
	maxWaitTime   atomic.Int64 // nanoseconds
}

// NewTokenBucketLimiter creates a token bucket limiter.
// A burst of 0 defaults to max(1, int(qps)); a non-positive qps becomes 1.
func NewTokenBucketLimiter(qps float64, burst int) *TokenBucketLimiter {
	if burst <= 0 {
		burst = max(1, int(qps))
	}
	if qps <= 0 {
		qps = 1
	}
	return &TokenBucketLimiter{
		limiter:   rate.NewLimiter(rate.Limit(qps), burst),
		burstSize: burst,
		qps:       qps,
	}
}

// Acquire blocks until a token is available or ctx is done.
func (l *TokenBucketLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	waited := int64(time.Since(start))
	l.totalAcquired.Add(1)
	l.totalWaitTime.Add(waited)
	for {
		prev := l.maxWaitTime.Load()
		if waited <= prev || l.maxWaitTime.CompareAndSwap(prev, waited) {
			break
		}
	}
	return nil
}

// CurrentRate returns the rate limit in QPS.
func (l *TokenBucketLimiter) CurrentRate() float64 {
	return l.qps
}

// BurstSize returns the configured burst size.
func (l *TokenBucketLimiter) BurstSize() int {
	return l.burstSize
}

// Stats returns current statistics about the rate limiter.
func (l *TokenBucketLimiter) Stats() RateLimiterStats {
	var avgWait time.Duration
	if n := l.totalAcquired.Load(); n > 0 {
		avgWait = time.Duration(l.totalWaitTime.Load() / n)
	}
	return RateLimiterStats{
		TotalAcquired: l.totalAcquired.Load(),
		CurrentQPS:    l.qps,
		AvgWaitTime:   avgWait,
		MaxWaitTime:   time.Duration(l.maxWaitTime.Load()),
	}
}
