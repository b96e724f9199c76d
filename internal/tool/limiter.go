package tool

import (
	"context"
	"errors"
	"time"
)

var errLimiterStopped = errors.New("tool: limiter stopped")

// Limiter is a token bucket shared by every session that talks to the tool.
// A nil *Limiter never blocks.
type Limiter struct {
	tokens chan struct{}
	stop   chan struct{}
}

// NewLimiter allows rps invocations per second with the given burst. rps <= 0
// disables throttling and returns nil.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		tokens: make(chan struct{}, burst),
		stop:   make(chan struct{}),
	}
	for i := 0; i < burst; i++ {
		l.tokens <- struct{}{}
	}

	period := time.Duration(float64(time.Second) / rps)
	if period <= 0 {
		period = time.Millisecond
	}
	go l.refill(period)
	return l
}

func (l *Limiter) refill(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case l.tokens <- struct{}{}:
			default:
			}
		case <-l.stop:
			return
		}
	}
}

// Wait blocks until a token is available, the limiter stops or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return errLimiterStopped
	case <-l.tokens:
		return nil
	}
}

// Stop ends the refill goroutine. Waiters blocked afterwards return an error.
func (l *Limiter) Stop() {
	if l == nil {
		return
	}
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}
