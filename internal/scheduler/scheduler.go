// Package scheduler is the DAG Scheduler (§4.2): it dispatches
// ready tasks to a bounded pool of worker slots, running each to
// completion via the Task Engine. Grounded on
// internal/apiserver/scheduler/scheduler.go's dual-path shape (an
// event-driven primary path plus a database-polling fallback path),
// simplified from its node-selection strategy chain to a single FIFO
// ready-frontier policy: a task's readiness here is "not already owned
// by a worker," not a placement decision across candidate nodes, since
// the kernel has one worker pool rather than a fleet of remote nodes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/netbuddy/taskforge/internal/clock"
	"github.com/netbuddy/taskforge/internal/engine"
	"github.com/netbuddy/taskforge/internal/eventbus"
	"github.com/netbuddy/taskforge/internal/logging"
	"github.com/netbuddy/taskforge/internal/metrics"
	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/storage"
)

// Config controls the Scheduler's dispatch behavior.
type Config struct {
	// WorkerSlots bounds how many tasks the Scheduler drives concurrently.
	WorkerSlots int

	// PollInterval is the fallback path's polling period, catching any
	// pending task the primary Enqueue path missed (a task created
	// while the scheduler was down, or an Enqueue call racing a crash).
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerSlots <= 0 {
		c.WorkerSlots = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Scheduler dispatches pending tasks to the Task Engine, bounded by
// Config.WorkerSlots concurrent in-flight tasks.
type Scheduler struct {
	store   storage.StateStore
	engine  *engine.Engine
	bus     eventbus.EventBus
	clk     clock.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
	cfg     Config

	sem   chan struct{}
	ready chan string

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	dispatched map[string]struct{}
}

// New constructs a Scheduler. eng drives each dispatched task to a
// terminal or yielding status. bus and m may both be nil, but a nil bus
// means Cancel's status/error events are recorded to the event log
// without being fanned out to any subscriber.
func New(store storage.StateStore, eng *engine.Engine, bus eventbus.EventBus, clk clock.Clock, logger *logging.Logger, cfg Config, m *metrics.Metrics) *Scheduler {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{
		store:      store,
		engine:     eng,
		bus:        bus,
		clk:        clk,
		logger:     logger,
		metrics:    m,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.WorkerSlots),
		ready:      make(chan string, 256),
		dispatched: make(map[string]struct{}),
	}
}

// publish allocates the next per-task sequence number from the State
// Store's event log and fans the event out on the Event Bus, matching
// engine.publish's publish-after-commit ordering: callers invoke this
// only once the triggering store write has already committed.
func (s *Scheduler) publish(ctx context.Context, taskID string, kind model.EventKind, payload any) {
	event := &model.TaskEvent{TaskID: taskID, Kind: kind, Timestamp: s.clk.Now(), Payload: payload}
	seq, err := s.store.AppendEvent(ctx, event)
	if err != nil {
		if s.logger != nil {
			s.logger.WithTaskID(taskID).WithError(err).Warn("scheduler: failed to append event log entry")
		}
		return
	}
	event.Seq = seq
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, *event); err != nil && s.logger != nil {
		s.logger.WithTaskID(taskID).WithError(err).Warn("scheduler: failed to publish event")
	}
}

// Enqueue is the primary dispatch path: the External API calls this
// immediately after creating a pending task so it is picked up without
// waiting for the next fallback poll. Non-blocking; a full ready
// channel silently defers the task to the fallback poll instead of
// blocking the caller, since the fallback path will find it regardless.
func (s *Scheduler) Enqueue(taskID string) {
	select {
	case s.ready <- taskID:
	default:
	}
}

// Start runs the primary and fallback dispatch loops until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.consumeReady(ctx)
	}()
	go func() {
		defer wg.Done()
		s.fallbackPolling(ctx)
	}()
	wg.Wait()
}

// Stop signals both dispatch loops to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

func (s *Scheduler) consumeReady(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case taskID := <-s.ready:
			s.dispatch(ctx, taskID)
		}
	}
}

func (s *Scheduler) fallbackPolling(ctx context.Context) {
	s.pollPendingTasks(ctx)

	ticker := s.clk.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C():
			s.pollPendingTasks(ctx)
		}
	}
}

func (s *Scheduler) pollPendingTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx, storage.TaskFilter{Status: model.TaskStatusPending})
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Warn("scheduler: fallback poll failed to list pending tasks")
		}
		return
	}
	for _, t := range tasks {
		s.dispatch(ctx, t.ID)
	}
}

// dispatch claims taskID for exactly one in-flight worker goroutine
// (the ready-frontier check: a task already owned by a worker is not
// dispatched again) and blocks acquiring a worker slot before running
// it, so at most Config.WorkerSlots tasks are driven concurrently.
func (s *Scheduler) dispatch(ctx context.Context, taskID string) {
	s.mu.Lock()
	if _, owned := s.dispatched[taskID]; owned {
		s.mu.Unlock()
		return
	}
	s.dispatched[taskID] = struct{}{}
	s.mu.Unlock()

	waitStart := s.clk.Now()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.dispatched, taskID)
			s.mu.Unlock()
		}()

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-s.sem }()

		s.metrics.ObserveDispatchLatency(s.clk.Now().Sub(waitStart).Seconds())

		if err := s.engine.Run(ctx, taskID); err != nil && s.logger != nil {
			s.logger.WithTaskID(taskID).WithError(err).Warn("scheduler: task run returned an error")
		}
	}()
}
