// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package sources

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter gates requests to at most maxRPS per second using a
// monotonic-clock throttle, shared across every worker of a single client.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewRateLimiter builds a limiter enforcing a minimum of 1/maxRPS seconds
// between requests. A non-positive maxRPS disables throttling.
func NewRateLimiter(maxRPS float64) *RateLimiter {
	if maxRPS <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{interval: time.Duration(float64(time.Second) / maxRPS)}
}

// Wait blocks until the next request is permitted, or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.interval == 0 {
		return nil
	}
	r.mu.Lock()
	now := time.Now()
	wait := r.interval - now.Sub(r.last)
	if wait < 0 {
		wait = 0
	}
	r.last = now.Add(wait)
	r.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryConfig configures WithRetry's exponential backoff.
type RetryConfig struct {
	Attempts int
	BaseMin  time.Duration
	BaseMax  time.Duration
}

// DefaultRetry is 3 attempts with a 1s backoff floor; callers pick the
// ceiling (8s for bibliographic providers, 16s for article downloads).
func DefaultRetry(maxBackoff time.Duration) RetryConfig {
	return RetryConfig{Attempts: 3, BaseMin: time.Second, BaseMax: maxBackoff}
}

// WithRetry invokes fn up to cfg.Attempts times, sleeping an exponentially
// growing, jittered backoff between attempts, and returns the last error if
// every attempt fails. fn should return a nil error only on success.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	var err error
	backoff := cfg.BaseMin
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			sleep := backoff
			if sleep > cfg.BaseMax {
				sleep = cfg.BaseMax
			}
			jittered := sleep/2 + time.Duration(rand.Int63n(int64(sleep/2+1)))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
