package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter interface {
	Allow() bool
}

// tokenBucket is a rateLimiter that can also tell callers when to retry.
type tokenBucket struct {
	limiter *rate.Limiter
}

func newTokenBucketLimiter(ratePerSecond float64, burst int) *tokenBucket {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}

	return &tokenBucket{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

func (b *tokenBucket) Allow() bool {
	if b == nil || b.limiter == nil {
		return true
	}
	return b.limiter.Allow()
}

// retryAfter is the wait until the next token, rounded up to whole seconds.
func (b *tokenBucket) retryAfter() time.Duration {
	if b == nil || b.limiter == nil {
		return 0
	}
	r := b.limiter.Reserve()
	delay := r.Delay()
	r.Cancel()
	return time.Duration(math.Ceil(delay.Seconds())) * time.Second
}

func rateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		if bucket, ok := limiter.(*tokenBucket); ok {
			if wait := bucket.retryAfter(); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
			}
		}
		writeError(w, http.StatusTooManyRequests, "Too many requests", "rate limit exceeded, please retry shortly")
	})
}
