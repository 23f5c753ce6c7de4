// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock abstracts time for deterministic testing
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test_cb", 2, 2, time.Minute, 100*time.Millisecond, WithClock(clk))

	// Initial state: Closed
	assert.Equal(t, "closed", cb.State())

	// 1st Failure: Should remain Closed (below minAttempts)
	err := cb.Execute(func() error { return errors.New("fail") })
	assert.Error(t, err)
	assert.Equal(t, "closed", cb.State())

	// 2nd Failure: attempts=2, failures=2 >= threshold=2 -> Open
	err = cb.Execute(func() error { return errors.New("fail") })
	assert.Error(t, err)
	assert.Equal(t, "open", cb.State())

	// Request while Open: Should return ErrCircuitOpen immediately
	err = cb.Execute(func() error { return nil })
	assert.True(t, errors.Is(err, ErrCircuitOpen))

	// Advance time past resetTimeout
	clk.Advance(150 * time.Millisecond)

	// Next request: Should be allowed (HalfOpen) -> Success (1 of 3 needed)
	err = cb.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, "half-open", cb.State())
}

func TestCircuitBreaker_HalfOpenSuccessesCloseTheCircuit(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test_cb", 1, 1, time.Minute, 100*time.Millisecond, WithClock(clk), WithHalfOpenSuccessThreshold(2))

	_ = cb.Execute(func() error { return errors.New("fail") })
	assert.Equal(t, "open", cb.State())

	clk.Advance(150 * time.Millisecond)

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, "half-open", cb.State())

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test_cb", 1, 1, time.Minute, 100*time.Millisecond, WithClock(clk))

	// Open the circuit
	_ = cb.Execute(func() error { return errors.New("fail") })
	assert.Equal(t, "open", cb.State())

	// Wait for reset
	clk.Advance(150 * time.Millisecond)

	// HalfOpen failure: Should go back to Open
	err := cb.Execute(func() error { return errors.New("fail") })
	assert.Error(t, err)
	assert.Equal(t, "open", cb.State())
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("panic_cb", 1, 1, time.Minute, time.Minute, WithPanicRecovery(true))

	// Execute function that panics
	assert.Panics(t, func() {
		_ = cb.Execute(func() error {
			panic("oops")
		})
	})

	// Should have counted as a failure and opened the circuit
	assert.Equal(t, "open", cb.State())
}

func TestCircuitBreaker_NoPanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("no_panic_cb", 1, 1, time.Minute, time.Minute, WithPanicRecovery(false))

	// Execute function that panics without recovery: RecordTechnicalFailure
	// on line after fn() is never reached, so the breaker does not trip.
	assert.Panics(t, func() {
		_ = cb.Execute(func() error {
			panic("oops")
		})
	})

	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreaker_AllowRequestWithoutTransitionDoesNotMutateState(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("probe_cb", 1, 1, time.Minute, 100*time.Millisecond, WithClock(clk))

	_ = cb.Execute(func() error { return errors.New("fail") })
	assert.Equal(t, "open", cb.State())

	clk.Advance(150 * time.Millisecond)
	assert.True(t, cb.AllowRequestWithoutTransition())
	// Probing must not itself flip the state to half-open.
	assert.Equal(t, "open", cb.State())
}
