package core

// limiter.go bounds the number of decodes running at once.
//
// Decoding a binary trace inflates its container in memory, so parallel
// uploads of large traces are capped with a semaphore. When all slots are
// occupied, new requests wait up to maxWait before failing with
// ErrTooManyDecodes. A decode that runs past the decode timeout is reported
// to its caller as timed out, but it keeps its slot until the decoder
// returns, so the memory bound holds. WaitForDrain blocks until every
// active decode is done.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTooManyDecodes is returned when all decode slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyDecodes = errors.New("too many concurrent decodes, please try again later")

// DefaultMaxConcurrentDecodes is the default limit for parallel decodes.
const DefaultMaxConcurrentDecodes = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// DecodeLimiter runs decodes behind a semaphore with a per-decode deadline.
type DecodeLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration
	timeout   time.Duration

	mu       sync.RWMutex
	active   int
	timedOut int
}

// NewDecodeLimiter creates a limiter that allows at most maxConcurrent simultaneous decodes.
// Requests that cannot acquire a slot within maxWait will receive ErrTooManyDecodes,
// and decodes running longer than timeout are abandoned by their caller.
func NewDecodeLimiter(maxConcurrent int, maxWait, timeout time.Duration) *DecodeLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentDecodes
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	if timeout <= 0 {
		timeout = DefaultDecodeTimeout
	}

	return &DecodeLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		timeout:   timeout,
	}
}

// Decode runs fn in a decode slot. The decoder's own error comes back as
// decodeErr; err reports a full limiter, a cancelled ctx or an expired
// decode timeout, in which case decodeErr is meaningless. fn keeps the slot
// until it returns, even after its caller has given up.
func (l *DecodeLimiter) Decode(ctx context.Context, fn func() error) (decodeErr error, err error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() {
		defer l.release()
		done <- fn()
	}()

	select {
	case decodeErr = <-done:
		return decodeErr, nil
	case <-timer.C:
		l.mu.Lock()
		l.timedOut++
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: decode ran longer than %s", context.DeadlineExceeded, l.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquire waits up to maxWait for a decode slot. The caller must release it.
func (l *DecodeLimiter) acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyDecodes
	}
}

func (l *DecodeLimiter) release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of currently active decodes.
func (l *DecodeLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of available slots.
func (l *DecodeLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all active decodes complete or ctx is cancelled.
func (l *DecodeLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DecodeLimiterStatus is a snapshot of the limiter's state. TimedOut counts
// decodes abandoned since startup.
type DecodeLimiterStatus struct {
	Active        int           `json:"active"`
	Available     int           `json:"available"`
	MaxConcurrent int           `json:"max_concurrent"`
	TimedOut      int           `json:"timed_out"`
	Timeout       time.Duration `json:"timeout_ns"`
}

// Status returns the current limiter state for monitoring.
func (l *DecodeLimiter) Status() DecodeLimiterStatus {
	l.mu.RLock()
	active, timedOut := l.active, l.timedOut
	l.mu.RUnlock()

	return DecodeLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
		TimedOut:      timedOut,
		Timeout:       l.timeout,
	}
}
