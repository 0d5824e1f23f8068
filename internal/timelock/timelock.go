// Package timelock computes swap deadlines and decides refund eligibility.
package timelock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Timelock errors
var (
	ErrNonPositiveTimeout = errors.New("timeout must be positive")
	ErrTimeoutTooShort    = errors.New("timeout below minimum")
	ErrTimeoutTooLong     = errors.New("timeout above maximum")
	ErrNotExpired         = errors.New("deadline not reached")
	ErrExpired            = errors.New("deadline passed")
)

// Clock is the time source of the host environment.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a manual clock starting at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Policy bounds timeouts and evaluates deadlines.
// A zero MaxTimeout means no upper bound.
type Policy struct {
	MinTimeout time.Duration
	MaxTimeout time.Duration
}

// Validate checks a requested timeout duration against the policy bounds.
func (p Policy) Validate(timeout time.Duration) error {
	if timeout <= 0 {
		return ErrNonPositiveTimeout
	}
	if p.MinTimeout > 0 && timeout < p.MinTimeout {
		return fmt.Errorf("%w: %s < %s", ErrTimeoutTooShort, timeout, p.MinTimeout)
	}
	if p.MaxTimeout > 0 && timeout > p.MaxTimeout {
		return fmt.Errorf("%w: %s > %s", ErrTimeoutTooLong, timeout, p.MaxTimeout)
	}
	return nil
}

// Deadline returns createdAt + timeout.
func Deadline(createdAt time.Time, timeout time.Duration) time.Time {
	return createdAt.Add(timeout)
}

// Expired reports whether now is at or past the deadline.
func Expired(now, deadline time.Time) bool {
	return !now.Before(deadline)
}

// Remaining returns the time left until deadline, or zero once it has passed.
func Remaining(now, deadline time.Time) time.Duration {
	if Expired(now, deadline) {
		return 0
	}
	return deadline.Sub(now)
}

// CheckRefundable returns ErrNotExpired until the deadline is reached.
func CheckRefundable(now, deadline time.Time) error {
	if !Expired(now, deadline) {
		return fmt.Errorf("%w: %s remaining", ErrNotExpired, Remaining(now, deadline).Round(time.Second))
	}
	return nil
}

// CheckOpen returns ErrExpired once the deadline is reached.
func CheckOpen(now, deadline time.Time) error {
	if Expired(now, deadline) {
		return fmt.Errorf("%w at %s", ErrExpired, deadline.UTC().Format(time.RFC3339))
	}
	return nil
}
