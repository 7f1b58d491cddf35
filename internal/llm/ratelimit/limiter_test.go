package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personahq/persona-engine/internal/domain"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/transport"
)

// openConfig admits everything with minimal smoothing delay.
func openConfig() Config {
	return Config{
		RequestsPerMinute: 1000,
		RequestsPerHour:   0,
		BurstLimit:        100,
		MinInterval:       time.Microsecond,
	}
}

func TestSchedule_RunsOperation(t *testing.T) {
	l := NewLimiter("openai", openConfig())

	ran := false
	err := l.Schedule(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestSchedule_ReturnsOperationError(t *testing.T) {
	l := NewLimiter("openai", openConfig())

	opErr := errors.New("provider exploded")
	err := l.Schedule(context.Background(), func(ctx context.Context) error {
		return opErr
	})

	assert.ErrorIs(t, err, opErr)
}

// A failing operation must not wedge the queue; the next caller still runs.
func TestSchedule_FailureDoesNotStopQueue(t *testing.T) {
	l := NewLimiter("openai", openConfig())

	_ = l.Schedule(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	ran := false
	err := l.Schedule(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestSchedule_FIFODispatchOrder(t *testing.T) {
	l := NewLimiter("openai", openConfig())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Staggered starts pin the enqueue order; dispatches are serialized by
	// the drain loop so the recorded order is the dispatch order.
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Schedule(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSchedule_CancelledWhileQueued(t *testing.T) {
	l := NewLimiter("openai", openConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := l.Schedule(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

// A queued request whose deadline falls before the next admissible slot is
// rejected immediately with timing guidance instead of blocking until the
// context expires.
func TestSchedule_DeadlineBeforeNextSlot(t *testing.T) {
	cfg := openConfig()
	cfg.RequestsPerMinute = 1
	l := NewLimiter("openai", cfg)

	require.NoError(t, l.Schedule(context.Background(), func(ctx context.Context) error {
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	ran := false
	err := l.Schedule(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	})

	var rlErr *llmerrors.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "openai", rlErr.Provider)
	assert.Equal(t, 1, rlErr.Limit)
	assert.Positive(t, rlErr.RetryAfter)
	assert.False(t, ran)
	assert.Less(t, time.Since(start), 5*time.Second,
		"rejection must not wait out the quota window")
}

// With a per-window quota of N, request N+1 dispatches no earlier than one
// window after the first. The window seam shrinks a minute to milliseconds.
func TestSchedule_SlidingWindowAdmission(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 2,
		RequestsPerHour:   0,
		BurstLimit:        10,
		MinInterval:       time.Microsecond,
	}
	l := NewLimiter("openai", cfg)
	l.minWindow = 300 * time.Millisecond

	start := time.Now()
	for i := 0; i < 3; i++ {
		err := l.Schedule(context.Background(), func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond,
		"third dispatch must wait for the first to age out of the window")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSchedule_HourWindowAdmission(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 0,
		RequestsPerHour:   1,
		BurstLimit:        10,
		MinInterval:       time.Microsecond,
	}
	l := NewLimiter("openai", cfg)
	l.hourWin = 200 * time.Millisecond

	start := time.Now()
	for i := 0; i < 2; i++ {
		require.NoError(t, l.Schedule(context.Background(), func(ctx context.Context) error {
			return nil
		}))
	}

	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestNextAvailableAt(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 1,
		BurstLimit:        1,
		MinInterval:       time.Microsecond,
	}
	l := NewLimiter("openai", cfg)

	// Empty history admits immediately.
	assert.WithinDuration(t, time.Now(), l.NextAvailableAt(), 50*time.Millisecond)

	require.NoError(t, l.Schedule(context.Background(), func(ctx context.Context) error {
		return nil
	}))

	// Quota of one per minute: next slot is roughly a minute out.
	next := l.NextAvailableAt()
	assert.Greater(t, time.Until(next), 50*time.Second)
}

func TestQueueDepth(t *testing.T) {
	l := NewLimiter("openai", openConfig())
	assert.Equal(t, 0, l.QueueDepth())
}

func TestMiddleware_PerProviderIsolation(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 1,
		BurstLimit:        1,
		MinInterval:       time.Microsecond,
	}
	mw := NewMiddleware(cfg, []string{"openai", "anthropic"})

	h := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{ID: req.Provider}, nil
	}))

	// One request each: separate queues, neither blocks the other even with
	// a quota of one per minute.
	done := make(chan string, 2)
	for _, p := range []string{"openai", "anthropic"} {
		go func(p string) {
			resp, err := h.Handle(context.Background(), &transport.Request{Provider: p})
			if assert.NoError(t, err) {
				done <- resp.ID
			}
		}(p)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			got[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("cross-provider blocking detected")
		}
	}
	assert.True(t, got["openai"] && got["anthropic"])
}

func TestMiddleware_UnknownProviderPassesThrough(t *testing.T) {
	mw := NewMiddleware(openConfig(), []string{"openai"})

	h := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{ID: "direct"}, nil
	}))

	resp, err := h.Handle(context.Background(), &transport.Request{Provider: "mystery"})
	require.NoError(t, err)
	assert.Equal(t, "direct", resp.ID)
}
