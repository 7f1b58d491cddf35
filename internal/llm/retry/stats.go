package retry

import (
	"sync/atomic"
	"time"
)

// retryStats provides thread-safe retry metrics using atomic operations.
type retryStats struct {
	totalAttempts           atomic.Int64 // all attempts, first tries included
	successfulFirstAttempts atomic.Int64 // operations that never retried
	successfulRetries       atomic.Int64 // operations that succeeded after retrying
	shortCircuits           atomic.Int64 // non-retryable errors returned immediately
	exhausted               atomic.Int64 // operations that failed every attempt
	maxBackoff              atomic.Int64 // longest applied backoff, nanoseconds
}

func (s *retryStats) recordBackoff(backoff time.Duration) {
	nanos := backoff.Nanoseconds()
	for {
		current := s.maxBackoff.Load()
		if nanos <= current {
			return
		}
		if s.maxBackoff.CompareAndSwap(current, nanos) {
			return
		}
	}
}

// Stats is a snapshot of retry activity for observability.
type Stats struct {
	TotalAttempts           int64         `json:"total_attempts"`
	SuccessfulFirstAttempts int64         `json:"successful_first_attempts"`
	SuccessfulRetries       int64         `json:"successful_retries"`
	ShortCircuits           int64         `json:"short_circuits"`
	Exhausted               int64         `json:"exhausted"`
	MaxBackoff              time.Duration `json:"max_backoff"`
}

// Stats returns a snapshot of the retryer's counters.
func (r *Retryer) Stats() Stats {
	return Stats{
		TotalAttempts:           r.stats.totalAttempts.Load(),
		SuccessfulFirstAttempts: r.stats.successfulFirstAttempts.Load(),
		SuccessfulRetries:       r.stats.successfulRetries.Load(),
		ShortCircuits:           r.stats.shortCircuits.Load(),
		Exhausted:               r.stats.exhausted.Load(),
		MaxBackoff:              time.Duration(r.stats.maxBackoff.Load()),
	}
}
