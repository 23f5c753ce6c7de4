// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package modelclient abstracts the three external model endpoints
// (text LLM, image, audio) behind one capability-typed Run call. The
// core treats responses as opaque records except for the fields the
// Generation Pipeline reads (task id, audio path, status, error
// string). Each endpoint is rate-limited independently of the
// Endpoint Queue Scheduler's concurrency bound, and guarded by a
// circuit breaker so a flapping endpoint fails fast instead of
// filling the pending queue with doomed jobs.
package modelclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/resilience"
	"golang.org/x/time/rate"
)

// ErrEndpointUnavailable is returned by Run when the endpoint's
// circuit breaker is open.
var ErrEndpointUnavailable = errors.New("modelclient: endpoint unavailable")

// Request is the opaque request record sent to an endpoint.
type Request struct {
	SongID  string
	Payload map[string]any
}

// Response is the opaque response record; the pipeline reads only a
// handful of its fields and never parses audio.
type Response struct {
	TaskID        string
	Status        string // upstream-defined; pipeline treats "succeeded"/"failed" as terminal
	AudioURL      string
	AudioDuration float64
	CoverURL      string
	Title         string
	Artist        string
	ErrorMessage  string
	Raw           map[string]any
}

// Caller is implemented by the actual HTTP client wired against a
// model provider. It is the only thing a Client adapts.
type Caller func(ctx context.Context, req Request) (Response, error)

// Client wraps one endpoint type's Caller with rate limiting and a
// circuit breaker.
type Client struct {
	endpointType jukebox.EndpointType
	call         Caller
	limiter      *rate.Limiter
	breaker      *resilience.CircuitBreaker
}

// Config tunes one Client instance.
type Config struct {
	// RatePerSecond and Burst configure the token bucket in front of
	// Call, independent of the Scheduler's concurrency bound.
	RatePerSecond float64
	Burst         int

	// Breaker thresholds; zero values fall back to the circuit
	// breaker's own defaults.
	BreakerThreshold    int
	BreakerMinAttempts  int
	BreakerWindow       time.Duration
	BreakerResetTimeout time.Duration
}

// New constructs a Client for one endpoint type.
func New(endpointType jukebox.EndpointType, call Caller, cfg Config) *Client {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RatePerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	return &Client{
		endpointType: endpointType,
		call:         call,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: resilience.NewCircuitBreaker(
			fmt.Sprintf("modelclient.%s", endpointType),
			cfg.BreakerThreshold,
			cfg.BreakerMinAttempts,
			cfg.BreakerWindow,
			cfg.BreakerResetTimeout,
		),
	}
}

// Run invokes the underlying endpoint, gated by the token bucket and
// the circuit breaker. ctx cancellation is honored both while waiting
// on the limiter and during the call itself.
func (c *Client) Run(ctx context.Context, req Request) (Response, error) {
	if !c.breaker.AllowRequest() {
		return Response{}, ErrEndpointUnavailable
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}

	c.breaker.RecordAttempt()
	resp, err := c.call(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.breaker.RecordSuccess() // cancellation is not an upstream failure
			return resp, err
		}
		c.breaker.RecordTechnicalFailure()
		logger := log.WithComponent("modelclient")
		logger.Warn().
			Str("endpoint_type", string(c.endpointType)).
			Str("song_id", req.SongID).
			Err(err).
			Msg("model endpoint call failed")
		return resp, err
	}
	c.breaker.RecordSuccess()
	return resp, nil
}

// State reports the breaker's current state string, for
// /api/worker/status telemetry.
func (c *Client) State() string {
	return c.breaker.State()
}

// Breaker exposes the Client's circuit breaker so a Scheduler for the
// same endpoint can short-circuit Submit while the endpoint is open.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}
