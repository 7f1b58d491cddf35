package retry

import (
	"math"
	"math/rand"
	"time"
)

// Delay computes the deterministic backoff for attempt n (0-indexed):
// min(baseDelay * exponentialBase^n, maxDelay). Negative attempts yield the
// base delay.
func Delay(cfg Config, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := cfg.BaseDelay
	if base <= 0 {
		base = time.Millisecond // never hot-loop
	}
	mult := cfg.ExponentialBase
	if mult < 1.0 {
		mult = 1.0
	}

	d := float64(base) * math.Pow(mult, float64(attempt))
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

// JitteredDelay returns the actual sleep for attempt n: the deterministic
// delay plus delay*jitterFactor*U(0,1). Jitter is additive, so the sleep is
// never below the deterministic exponential delay; randomization spreads
// concurrent retries without shortening any of them. Thread-safe via
// math/rand.
func JitteredDelay(cfg Config, attempt int) time.Duration {
	d := Delay(cfg, attempt)
	if cfg.JitterFactor <= 0 {
		return d
	}
	jitter := float64(d) * cfg.JitterFactor * rand.Float64() // #nosec G404 -- non-cryptographic jitter is appropriate here
	return d + time.Duration(jitter)
}
