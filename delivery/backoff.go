package delivery

import (
	"math/rand"
	"time"
)

// backoffCapSeconds bounds the exponential retry delay.
const backoffCapSeconds = 240

// Backoff returns the delay before attempt+1: min(240, 10·2^(attempt-1))
// seconds plus up to 2s of jitter. Attempt counts from 1; the retry
// processor and the scheduler share this formula so a retry is never due
// earlier than the floor.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	seconds := 10 * (1 << uint(attempt-1))
	if attempt > 6 || seconds > backoffCapSeconds {
		// 10·2^5 = 320 already exceeds the cap; guard the shift too.
		seconds = backoffCapSeconds
	}

	jitter := time.Duration(rand.Int63n(int64(2 * time.Second)))
	return time.Duration(seconds)*time.Second + jitter
}

// BackoffFloor is the guaranteed minimum delay before attempt+1, without
// jitter. Tests and invariant checks use it.
func BackoffFloor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := 10 * (1 << uint(attempt-1))
	if attempt > 6 || seconds > backoffCapSeconds {
		seconds = backoffCapSeconds
	}
	return time.Duration(seconds) * time.Second
}
