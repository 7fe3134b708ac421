// Package server implements a token bucket rate limiter for per-connection
// frame throttling.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// frameLimiter throttles inbound frames on one connection. It refills burst
// tokens every interval.
type frameLimiter struct {
	limiter *rate.Limiter
}

func newFrameLimiter(burst int, interval time.Duration) *frameLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	every := rate.Every(interval / time.Duration(burst))
	return &frameLimiter{limiter: rate.NewLimiter(every, burst)}
}

func (l *frameLimiter) allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
