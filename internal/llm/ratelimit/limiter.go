// Package ratelimit implements single-process admission control for outbound
// provider requests: a FIFO queue drained by one goroutine, sliding
// per-minute and per-hour quotas over a pruned dispatch history, and a small
// token-bucket smoothing delay between dispatches.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
)

// Window durations for quota accounting.
const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// DefaultMinInterval is the fixed inter-dispatch delay applied even when
// quota allows immediate dispatch.
const DefaultMinInterval = 100 * time.Millisecond

// Config holds the sliding-window quotas. Pure configuration, no behavior.
type Config struct {
	RequestsPerMinute int           `json:"requests_per_minute" koanf:"requests_per_minute"`
	RequestsPerHour   int           `json:"requests_per_hour" koanf:"requests_per_hour"`
	BurstLimit        int           `json:"burst_limit" koanf:"burst_limit"`
	MinInterval       time.Duration `json:"min_interval" koanf:"min_interval"`
}

// DefaultConfig returns quotas suitable for a single API key.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 20,
		RequestsPerHour:   400,
		BurstLimit:        5,
		MinInterval:       DefaultMinInterval,
	}
}

// queueItem is one pending operation. Owned exclusively by the queue and
// removed once dispatched. done is buffered so the drain loop never blocks
// on a caller that has already given up.
type queueItem struct {
	ctx        context.Context
	run        func(ctx context.Context) error
	done       chan error
	enqueuedAt time.Time
}

// Limiter serializes outbound requests through a FIFO queue with sliding
// per-minute and per-hour quotas. The dispatch-timestamp history is the sole
// source of truth for quota accounting; it is shared by every in-flight
// request because the quota is per API key, not per request.
type Limiter struct {
	name     string
	cfg      Config
	logger   *slog.Logger
	smoother *rate.Limiter

	mu       sync.Mutex
	queue    []*queueItem
	history  []time.Time
	draining bool

	// Test seams. Production values are set by NewLimiter.
	now       func() time.Time
	minWindow time.Duration
	hourWin   time.Duration
}

// NewLimiter creates a limiter for one provider's API key.
func NewLimiter(name string, cfg Config) *Limiter {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	burst := cfg.BurstLimit
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		name:      name,
		cfg:       cfg,
		logger:    slog.Default().With("component", "ratelimit", "provider", name),
		smoother:  rate.NewLimiter(rate.Every(cfg.MinInterval), burst),
		now:       time.Now,
		minWindow: minuteWindow,
		hourWin:   hourWindow,
	}
}

// Schedule admits op for execution once quota allows, preserving FIFO order
// among queued operations. It blocks until op completes, the op's error is
// returned to this caller only, and a failed op never stops the queue.
// A context cancelled while queued abandons the slot without dispatching.
func (l *Limiter) Schedule(ctx context.Context, op func(ctx context.Context) error) error {
	item := &queueItem{
		ctx:        ctx,
		run:        op,
		done:       make(chan error, 1),
		enqueuedAt: l.now(),
	}

	l.mu.Lock()
	l.queue = append(l.queue, item)
	if !l.draining {
		l.draining = true
		go l.drain()
	}
	l.mu.Unlock()

	return <-item.done
}

// drain is the single active queue processor. The draining flag guarantees
// mutual exclusion; concurrent callers enqueue but never spawn a second
// drain loop. Draining resumes automatically as items are enqueued.
func (l *Limiter) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		item := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.dispatch(item)
	}
}

// dispatch waits for quota and smoothing, then starts the operation.
// The dispatch timestamp is recorded before invoking the operation so that
// in-flight calls still count against quota. The operation itself runs in
// its own goroutine: dispatches are serialized, network time is not.
func (l *Limiter) dispatch(item *queueItem) {
	if err := item.ctx.Err(); err != nil {
		item.done <- err
		return
	}

	// Wake exactly when the oldest blocking history entry ages out rather
	// than polling.
	for {
		wait := l.admissionWait()
		if wait <= 0 {
			break
		}
		// A request whose deadline falls before the next admissible slot can
		// never dispatch; reject it now with timing guidance instead of
		// holding the queue position until the context expires.
		if deadline, ok := item.ctx.Deadline(); ok && l.now().Add(wait).After(deadline) {
			item.done <- &llmerrors.RateLimitError{
				Provider:   l.name,
				RetryAfter: int((wait + time.Second - 1) / time.Second),
				Limit:      l.cfg.RequestsPerMinute,
			}
			return
		}
		l.logger.Debug("quota exhausted, delaying dispatch",
			"wait", wait, "queued_for", l.now().Sub(item.enqueuedAt))
		select {
		case <-time.After(wait):
		case <-item.ctx.Done():
			item.done <- item.ctx.Err()
			return
		}
	}

	if err := l.smoother.Wait(item.ctx); err != nil {
		item.done <- err
		return
	}

	l.recordDispatch()

	go func() {
		item.done <- item.run(item.ctx)
	}()
}

// admissionWait returns how long until the next request is admissible, or
// zero when both windows have capacity. The history is pruned of entries
// older than one hour on every check.
func (l *Limiter) admissionWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	var wait time.Duration

	if l.cfg.RequestsPerMinute > 0 {
		recent := l.sinceLocked(now.Add(-l.minWindow))
		if len(recent) >= l.cfg.RequestsPerMinute {
			oldest := recent[len(recent)-l.cfg.RequestsPerMinute]
			if w := oldest.Add(l.minWindow).Sub(now); w > wait {
				wait = w
			}
		}
	}

	if l.cfg.RequestsPerHour > 0 && len(l.history) >= l.cfg.RequestsPerHour {
		oldest := l.history[len(l.history)-l.cfg.RequestsPerHour]
		if w := oldest.Add(l.hourWin).Sub(now); w > wait {
			wait = w
		}
	}

	return wait
}

// NextAvailableAt reports when the next request could dispatch. Now when the
// queue is admissible immediately.
func (l *Limiter) NextAvailableAt() time.Time {
	return l.now().Add(l.admissionWait())
}

// QueueDepth reports the number of operations waiting for dispatch.
func (l *Limiter) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Limiter) recordDispatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, l.now())
}

// pruneLocked drops history entries older than the hour window. Callers must
// hold mu.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.hourWin)
	i := 0
	for i < len(l.history) && !l.history[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.history = append(l.history[:0], l.history[i:]...)
	}
}

// sinceLocked returns the suffix of history at or after cutoff. History is
// append-only ordered, so this is a linear scan from the back. Callers must
// hold mu.
func (l *Limiter) sinceLocked(cutoff time.Time) []time.Time {
	i := len(l.history)
	for i > 0 && l.history[i-1].After(cutoff) {
		i--
	}
	return l.history[i:]
}
