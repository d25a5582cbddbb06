package offline

import "time"

// RetryPolicy bounds redelivery of queued items.
type RetryPolicy struct {
	// MaxAttempts is the number of failures after which an item is dead-lettered.
	// Zero or negative retries forever.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy mirrors the backoff of the background sync scheduler:
// one minute doubling up to an hour, eight attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     8,
		InitialInterval: time.Minute,
		MaxInterval:     time.Hour,
		Multiplier:      2,
	}
}

// Exhausted reports whether attempts has used up the retry budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// Unbounded reports whether the policy never dead-letters.
func (p RetryPolicy) Unbounded() bool {
	return p.MaxAttempts <= 0
}
