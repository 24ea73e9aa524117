package webhooks

import (
    "math/rand"
    "time"
)

const (
    backoffBaseDelay = 30 * time.Second
    backoffMaxDelay  = 1 * time.Hour
)

// backoffBase doubles per failed attempt up to the ceiling.
func backoffBase(attempt int) time.Duration {
    if attempt < 1 { attempt = 1 }
    if attempt > 12 { attempt = 12 }
    d := backoffBaseDelay * time.Duration(1<<(attempt-1))
    if d > backoffMaxDelay { d = backoffMaxDelay }
    return d
}

// nextBackoff adds up to 25% jitter so synchronized failures don't retry in
// lockstep. Jitter is additive, so delays stay non-decreasing per attempt.
func nextBackoff(attempt int) time.Duration {
    base := backoffBase(attempt)
    return base + time.Duration(rand.Int63n(int64(base)/4+1))
}
