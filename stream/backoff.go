package stream

import (
	"math/rand"
	"time"
)

// BackoffPolicy is a capped exponential backoff with full jitter.
// MaxAttempts <= 0 means retry forever.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the delays used by the venue stream workers:
// 1s doubling up to 30s, unbounded attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: time.Second, Max: 30 * time.Second}
}

// Delay returns the sleep before attempt n (0-based). The exponential
// ceiling is drawn down uniformly so that herds of reconnecting
// sessions do not synchronize.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	max := p.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	ceil := base
	for i := 0; i < attempt; i++ {
		ceil *= 2
		if ceil >= max {
			ceil = max
			break
		}
	}
	if ceil <= 0 {
		ceil = base
	}
	return time.Duration(rand.Int63n(int64(ceil))) + time.Millisecond
}

// Exhausted reports whether the policy gives up after attempt n.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
