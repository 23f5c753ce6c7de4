// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler implements the Endpoint Queue Scheduler: one
// bounded-concurrency, priority-aware, cancellable work queue per
// external model endpoint type. A single dispatch loop per instance
// pops the priority heap and hands jobs to a weighted semaphore, so
// at most C jobs run concurrently per endpoint and the three endpoint
// schedulers never block each other.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/metrics"
	"github.com/jukebox-room/corectl/internal/resilience"
	"github.com/jukebox-room/corectl/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// ErrCancelled is returned by Handle.Await when the job was cancelled
// before or during execution.
var ErrCancelled = errors.New("scheduler: job cancelled")

// ErrSchedulerClosed is returned by Submit after Close.
var ErrSchedulerClosed = errors.New("scheduler: closed")

// ErrEndpointUnavailable is returned by Submit when an attached
// circuit breaker has tripped open for this endpoint: a flapping
// endpoint stops accepting new jobs instead of filling the pending
// queue with work doomed to fail.
var ErrEndpointUnavailable = errors.New("scheduler: endpoint unavailable (circuit open)")

// WorkFunc is one unit of scheduled work. It must observe ctx
// cancellation at its suspension points (HTTP calls, sleeps, poll
// loops) per the cooperative-cancellation contract.
type WorkFunc func(ctx context.Context) (any, error)

// PendingInfo describes one job waiting to run.
type PendingInfo struct {
	SongID       string
	Priority     int
	WaitingSince time.Time
}

// ActiveInfo describes one job currently executing.
type ActiveInfo struct {
	SongID    string
	StartedAt time.Time
}

// Completion is a record of one finished job, kept in a rolling window.
type Completion struct {
	SongID     string
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
	Err        error
}

// Status is the telemetry snapshot returned by Scheduler.Status.
type Status struct {
	EndpointType     jukebox.EndpointType
	Pending          []PendingInfo
	Active           []ActiveInfo
	Errors           uint64
	LastErrorMessage string
	Recent           []Completion
}

// Handle is returned by Submit; it exposes cancellation and result
// retrieval for one scheduled job.
type Handle struct {
	job *job
}

// Cancel marks the job cancelled. If not yet started it is dropped
// from the pending set without invocation; if running, its
// cancellation token fires.
func (h *Handle) Cancel() {
	h.job.cancelFn()
}

// Await blocks until the job completes, is cancelled, or ctx is done.
func (h *Handle) Await(ctx context.Context) (any, error) {
	select {
	case <-h.job.done:
		return h.job.result, h.job.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type job struct {
	id         uint64
	songID     string
	priority   int
	enqueuedAt time.Time
	startedAt  time.Time
	work       WorkFunc
	ctx        context.Context
	cancelFn   context.CancelFunc
	done       chan struct{}
	result     any
	err        error
	heapIndex  int
}

// priorityQueue orders pending jobs by priority (lower = sooner), tie
// broken by enqueuedAt (FIFO).
type priorityQueue []*job

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].enqueuedAt.Before(q[j].enqueuedAt)
}
func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}
func (q *priorityQueue) Push(x any) {
	j := x.(*job)
	j.heapIndex = len(*q)
	*q = append(*q, j)
}
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.heapIndex = -1
	*q = old[:n-1]
	return j
}

const recentWindow = 20

// Scheduler is one per-endpoint-type instance of the Endpoint Queue.
// The three endpoint schedulers are independent: a saturated image
// scheduler does not block LLM progress.
type Scheduler struct {
	endpointType jukebox.EndpointType
	sem          *semaphore.Weighted

	// Breaker, when set, short-circuits Submit for an endpoint that is
	// currently flapping. Nil disables the check.
	Breaker *resilience.CircuitBreaker

	mu      sync.Mutex
	pending priorityQueue
	active  map[uint64]*job
	bySong  map[string]*job
	nextID  uint64
	errors  uint64
	lastErr string
	recent  []Completion

	wake   chan struct{}
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler for one endpoint type with the given
// maximum concurrency C (C >= 1).
func New(endpointType jukebox.EndpointType, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	s := &Scheduler{
		endpointType: endpointType,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		active:       make(map[uint64]*job),
		bySong:       make(map[string]*job),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Submit enqueues a job for songID at priority (lower = sooner).
func (s *Scheduler) Submit(songID string, priority int, work WorkFunc) (*Handle, error) {
	if s.Breaker != nil && !s.Breaker.AllowRequestWithoutTransition() {
		return nil, ErrEndpointUnavailable
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	s.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:         s.nextID,
		songID:     songID,
		priority:   priority,
		enqueuedAt: time.Now(),
		work:       work,
		ctx:        ctx,
		cancelFn:   cancel,
		done:       make(chan struct{}),
	}
	heap.Push(&s.pending, j)
	s.bySong[songID] = j
	pendingLen := len(s.pending)
	s.mu.Unlock()

	metrics.SchedulerPendingGauge.WithLabelValues(string(s.endpointType)).Set(float64(pendingLen))
	s.poke()
	return &Handle{job: j}, nil
}

// Cancel marks the job for songID cancelled, whether pending or active.
func (s *Scheduler) Cancel(songID string) {
	s.mu.Lock()
	j, ok := s.bySong[songID]
	s.mu.Unlock()
	if !ok {
		return
	}
	j.cancelFn()
	s.poke()
}

// Status returns a telemetry snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{EndpointType: s.endpointType, Errors: s.errors, LastErrorMessage: s.lastErr}
	for _, j := range s.pending {
		st.Pending = append(st.Pending, PendingInfo{SongID: j.songID, Priority: j.priority, WaitingSince: j.enqueuedAt})
	}
	for _, j := range s.active {
		st.Active = append(st.Active, ActiveInfo{SongID: j.songID, StartedAt: j.startedAt})
	}
	st.Recent = append(st.Recent, s.recent...)
	return st
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops the dispatch loop; jobs already active are left to run
// to completion or cancellation by the caller.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	logger := log.WithComponent("scheduler").With().Str("endpoint", string(s.endpointType)).Logger()

	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-time.After(time.Second):
			// Periodic wake covers the race between a freed slot and a
			// pending Submit landing between checks.
		}

		for {
			j := s.popReady()
			if j == nil {
				break
			}
			if !s.sem.TryAcquire(1) {
				s.mu.Lock()
				heap.Push(&s.pending, j)
				s.mu.Unlock()
				break
			}
			s.runJob(j, logger)
		}
	}
}

// popReady pops the highest-priority pending job that has not been
// cancelled, dropping cancelled pending jobs without invocation.
func (s *Scheduler) popReady() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) > 0 {
		j := heap.Pop(&s.pending).(*job)
		select {
		case <-j.ctx.Done():
			j.err = ErrCancelled
			close(j.done)
			delete(s.bySong, j.songID)
			continue
		default:
		}
		return j
	}
	return nil
}

func (s *Scheduler) runJob(j *job, logger zerolog.Logger) {
	s.mu.Lock()
	j.startedAt = time.Now()
	s.active[j.id] = j
	pendingLen := len(s.pending)
	s.mu.Unlock()

	metrics.SchedulerActiveGauge.WithLabelValues(string(s.endpointType)).Inc()
	metrics.SchedulerPendingGauge.WithLabelValues(string(s.endpointType)).Set(float64(pendingLen))

	go func() {
		defer s.sem.Release(1)
		defer func() {
			s.mu.Lock()
			delete(s.active, j.id)
			delete(s.bySong, j.songID)
			s.mu.Unlock()
			metrics.SchedulerActiveGauge.WithLabelValues(string(s.endpointType)).Dec()
			s.poke()
		}()

		spanCtx, span := telemetry.Tracer("scheduler").Start(j.ctx, "scheduler.job")
		span.SetAttributes(
			attribute.String("endpoint_type", string(s.endpointType)),
			attribute.String("song_id", j.songID),
		)
		result, err := j.work(spanCtx)
		span.End()

		cancelled := false
		select {
		case <-j.ctx.Done():
			cancelled = true
		default:
		}

		s.mu.Lock()
		if cancelled {
			// A job that ignored its token and completed anyway still
			// terminates as cancelled; its result is discarded.
			result = nil
			if err == nil {
				err = ErrCancelled
			}
		}
		if err != nil && !cancelled {
			s.errors++
			s.lastErr = err.Error()
			metrics.SchedulerErrorsTotal.WithLabelValues(string(s.endpointType)).Inc()
		}
		j.result, j.err = result, err
		s.recent = append(s.recent, Completion{
			SongID:     j.songID,
			EnqueuedAt: j.enqueuedAt,
			StartedAt:  j.startedAt,
			FinishedAt: time.Now(),
			Cancelled:  cancelled,
			Err:        err,
		})
		if len(s.recent) > recentWindow {
			s.recent = s.recent[len(s.recent)-recentWindow:]
		}
		s.mu.Unlock()

		close(j.done)

		if err != nil && !cancelled {
			logger.Warn().Str("song_id", j.songID).Err(err).Msg("job failed")
		}
	}()
}
