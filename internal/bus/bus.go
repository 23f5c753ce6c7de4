// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus implements the process-wide Event Bus: a typed
// in-process pub/sub with fire-and-forget delivery and per-handler
// isolation. Each subscription owns a FIFO queue drained by its own
// goroutine, so handlers observe emits of a kind in emission order
// and a slow handler never blocks an emitter or another handler.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/metrics"
)

// Handler processes one event. A returned error is logged and does
// not prevent other handlers, nor later events to the same handler,
// from running.
type Handler func(ctx context.Context, ev jukebox.Event) error

// UnsubscribeFunc removes a previously registered handler. Safe to
// call more than once; the second call is a no-op.
type UnsubscribeFunc func()

// Config tunes bus telemetry.
type Config struct {
	// SlowThreshold is the handler-invocation duration above which a
	// warning is logged and a metric incremented. Zero disables the check.
	SlowThreshold time.Duration
	// Trace enables per-emit debug logging (LOG_EVENT_BUS).
	Trace bool
}

// Bus is the process-wide Event Bus. The zero value is not usable;
// use New.
type Bus struct {
	cfg Config

	mu   sync.RWMutex
	subs map[jukebox.EventKind]map[string]*subscription

	seq atomic.Uint64

	closing chan struct{}
	wg      sync.WaitGroup
}

type subscription struct {
	kind    jukebox.EventKind
	name    string
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []jukebox.Event
	closed bool
}

// New constructs an Event Bus ready to accept subscriptions and emits.
func New(cfg Config) *Bus {
	b := &Bus{
		cfg:     cfg,
		subs:    make(map[jukebox.EventKind]map[string]*subscription),
		closing: make(chan struct{}),
	}
	return b
}

// Subscribe registers handler under name for kind. Subscribing again
// with the same (kind, name) replaces the prior handler in place,
// making Subscribe idempotent per (kind, handler) as required by the
// contract; the replaced subscription is shut down, but events already
// in its queue are still delivered to the old handler before its
// goroutine exits.
func (b *Bus) Subscribe(kind jukebox.EventKind, name string, handler Handler) UnsubscribeFunc {
	sub := &subscription{kind: kind, name: name, handler: handler}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[string]*subscription)
	}
	if old, ok := b.subs[kind][name]; ok {
		old.shutdown()
	}
	b.subs[kind][name] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatchLoop(sub)

	return func() {
		b.mu.Lock()
		if cur, ok := b.subs[kind][name]; ok && cur == sub {
			delete(b.subs[kind], name)
		}
		b.mu.Unlock()
		sub.shutdown()
	}
}

// Emit is fire-and-forget: it assigns a monotonic sequence number and
// returns immediately. Every handler registered for kind at the time
// of this call will observe the event in an isolated goroutine, in
// the order emits were made to that handler. Emit never fails.
func (b *Bus) Emit(kind jukebox.EventKind, payload map[string]any) {
	seq := b.seq.Add(1)
	ev := jukebox.Event{Kind: kind, Sequence: seq, At: time.Now(), Payload: payload}

	if b.cfg.Trace {
		logger := log.WithComponent("bus")
		logger.Debug().
			Str("kind", string(kind)).
			Uint64("sequence", seq).
			Msg("event emitted")
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[kind]))
	for _, s := range b.subs[kind] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.push(ev)
	}
}

// RemoveAll tears down every subscription. Used only by tests.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[jukebox.EventKind]map[string]*subscription)
	b.mu.Unlock()

	for _, byName := range all {
		for _, sub := range byName {
			sub.shutdown()
		}
	}
}

// Close stops all dispatch goroutines and waits for in-flight handler
// invocations to finish. After Close, Emit is a no-op.
func (b *Bus) Close() {
	b.RemoveAll()
	b.wg.Wait()
}

func (b *Bus) dispatchLoop(sub *subscription) {
	defer b.wg.Done()
	for {
		ev, ok := sub.pop()
		if !ok {
			return
		}
		b.invoke(sub, ev)
	}
}

func (b *Bus) invoke(sub *subscription, ev jukebox.Event) {
	logger := log.WithComponent("bus")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerErrorTotal.WithLabelValues(string(ev.Kind)).Inc()
			logger.Error().
				Str("kind", string(ev.Kind)).
				Str("handler", sub.name).
				Uint64("sequence", ev.Sequence).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()

	err := sub.handler(context.Background(), ev)

	elapsed := time.Since(start)
	if err != nil {
		metrics.BusHandlerErrorTotal.WithLabelValues(string(ev.Kind)).Inc()
		logger.Error().
			Err(err).
			Str("kind", string(ev.Kind)).
			Str("handler", sub.name).
			Uint64("sequence", ev.Sequence).
			Msg("event handler returned error")
	}

	if b.cfg.SlowThreshold > 0 && elapsed > b.cfg.SlowThreshold {
		metrics.BusHandlerSlowTotal.WithLabelValues(string(ev.Kind)).Inc()
		logger.Warn().
			Str("kind", string(ev.Kind)).
			Str("handler", sub.name).
			Uint64("sequence", ev.Sequence).
			Dur("elapsed", elapsed).
			Msg("slow event handler")
	}
}

func (s *subscription) push(ev jukebox.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *subscription) pop() (jukebox.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return jukebox.Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscription) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// String is a convenience for log fields and error messages.
func (b *Bus) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, byName := range b.subs {
		total += len(byName)
	}
	return fmt.Sprintf("bus(subscriptions=%d)", total)
}
