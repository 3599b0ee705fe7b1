package executor

import (
	"strconv"
	"time"
)

const (
	// DefaultBackoffBase is the delay before the first retry.
	DefaultBackoffBase = 30 * time.Second
	// DefaultBackoffCap bounds the delay between retries so repeated
	// failures stay spaced out without growing without limit.
	DefaultBackoffCap = 1 * time.Hour
)

// BackoffDelay computes the delay before the next retry:
// base * 2^retryCount, capped at cap. retryCount is the number of retries
// already performed, so the first retry waits exactly base.
func BackoffDelay(retryCount int, base, cap time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		delay = cap
	}
	return delay
}

// ParseRetryAfter parses a numeric Retry-After header value (seconds).
// HTTP-date values are not handled and report ok=false.
func ParseRetryAfter(retryAfter string) (time.Duration, bool) {
	if retryAfter == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(retryAfter)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
