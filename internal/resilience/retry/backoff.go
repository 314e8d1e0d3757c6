package retry

import (
	"math"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/resilience/policy"
)

// RateLimitFloor is the minimum delay before retrying a rate-limited call.
const RateLimitFloor = 5 * time.Second

// Delay computes the pause before retry number attempt (1-based). rnd returns
// a value in [0, 1) and is only consulted when the policy enables jitter.
func Delay(p policy.Policy, c domain.Classification, attempt int, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(p.BaseDelay)
	var d float64
	switch p.Strategy {
	case domain.StrategyImmediate, domain.StrategyNoRetry:
		d = 0
	case domain.StrategyFixedInterval:
		d = base
	case domain.StrategyLinearBackoff:
		d = base * float64(attempt)
	case domain.StrategyFibonacciBackoff:
		d = base * float64(fib(attempt))
	default:
		d = base * math.Pow(p.Multiplier, float64(attempt-1))
	}

	if p.Jitter && rnd != nil {
		d *= 0.5 + rnd()*0.5
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if hint := float64(c.RetryAfter); hint > d {
		d = hint
		if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
		}
	}
	if c.Category == domain.CategoryRateLimit && d < float64(RateLimitFloor) {
		d = float64(RateLimitFloor)
	}

	ms := math.Round(d / float64(time.Millisecond))
	if math.IsNaN(ms) || ms < 0 {
		ms = 0
	}
	if ms > float64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64/int64(time.Millisecond)) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// fib returns the n-th Fibonacci number with fib(0)=0 and fib(1)=1,
// saturating at math.MaxInt64 from fib(93) on.
func fib(n int) int64 {
	var a, b int64 = 0, 1
	for i := 0; i < n; i++ {
		if b > math.MaxInt64-a {
			if i == n-1 {
				return b
			}
			return math.MaxInt64
		}
		a, b = b, a+b
	}
	return a
}
