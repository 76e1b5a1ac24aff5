// Package lease implements the Lease Sweeper (§4.1's heartbeat
// contract, §5): a background loop that reclaims tasks whose worker
// has stopped heartbeating, failing them outright rather than routing
// them back through the fix loop. Grounded on
// internal/engine/heartbeat.go's ticker-driven pattern (the same
// clock.Clock.NewTicker idiom, applied to reading staleness instead of
// writing liveness).
package lease

import (
	"context"
	"errors"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/netbuddy/taskforge/internal/clock"
	"github.com/netbuddy/taskforge/internal/eventbus"
	"github.com/netbuddy/taskforge/internal/logging"
	"github.com/netbuddy/taskforge/internal/metrics"
	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/storage"
)

// Config controls the sweeper's scan cadence and staleness threshold.
type Config struct {
	// SweepInterval is how often the sweeper scans for stale leases.
	SweepInterval time.Duration

	// LeaseTimeout (T_lease) is how long a task may go without a
	// heartbeat before it is reclaimed. Recommended 3*T_beat.
	LeaseTimeout time.Duration

	// EtcdClient, if set, gates sweep() behind a distributed lock so
	// that only one of several orchestrator processes sharing a State
	// Store reclaims a given stale lease per cycle. Nil runs unprotected,
	// the correct choice for a single-process deployment.
	EtcdClient *clientv3.Client

	// EtcdLockKey namespaces the distributed lock; defaults to
	// "/taskforge/lease-sweeper/lock".
	EtcdLockKey string
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 45 * time.Second
	}
	if c.EtcdLockKey == "" {
		c.EtcdLockKey = "/taskforge/lease-sweeper/lock"
	}
	return c
}

// Sweeper periodically reclaims tasks whose heartbeat has expired.
type Sweeper struct {
	store   storage.StateStore
	bus     eventbus.EventBus
	clk     clock.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
	cfg     Config
	lock    *sweepLock
}

// New constructs a Sweeper. m may be nil. When cfg.EtcdClient is set,
// sweep() acquires a distributed lock before scanning so concurrent
// orchestrator processes don't race to reclaim the same lease.
func New(store storage.StateStore, bus eventbus.EventBus, clk clock.Clock, logger *logging.Logger, cfg Config, m *metrics.Metrics) *Sweeper {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	s := &Sweeper{store: store, bus: bus, clk: clk, logger: logger, metrics: m, cfg: cfg}
	if cfg.EtcdClient != nil {
		s.lock = newSweepLock(cfg.EtcdClient, cfg.EtcdLockKey, cfg.SweepInterval)
	}
	return s
}

// Run blocks, sweeping every Config.SweepInterval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := s.clk.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.sweep(ctx)
		}
	}
}

// sweep reclaims every task whose heartbeat is older than T_lease, per
// §5's "heartbeat > now - T_lease for every task in an executing
// status; violation is the sole trigger for lease reclamation."
func (s *Sweeper) sweep(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.acquire(ctx)
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).Warn("lease sweeper: etcd lock acquisition failed, sweeping unprotected this cycle")
			}
		} else if !acquired {
			return
		}
	}

	cutoff := s.clk.Now().Add(-s.cfg.LeaseTimeout)
	stale, err := s.store.ListStaleHeartbeats(ctx, cutoff)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Warn("lease sweeper: failed to list stale heartbeats")
		}
		return
	}
	for _, task := range stale {
		s.reclaim(ctx, task)
	}
}

// reclaim fails one task with lease_expired. §4.1: "a failed lease does
// not spawn a fix child," so this bypasses the Task Engine's fix-loop
// path entirely and writes the terminal status directly.
func (s *Sweeper) reclaim(ctx context.Context, task *model.Task) {
	now := s.clk.Now()
	from := task.Status
	err := s.store.UpdateTaskStatus(ctx, task.ID, task.Status, func(t *model.Task) {
		t.Status = model.TaskStatusFailed
		t.ErrorKind = model.ErrorKindLeaseExpired
		t.ErrorMessage = "lease expired"
		t.UpdatedAt = now
		completedAt := now
		t.CompletedAt = &completedAt
	})
	if errors.Is(err, storage.ErrConflict) {
		// The task moved on its own (e.g. its worker resumed
		// heartbeating and finished) between the list and this write;
		// leave whatever status it reached alone.
		return
	}
	if err != nil {
		if s.logger != nil {
			s.logger.WithTaskID(task.ID).WithError(err).Warn("lease sweeper: failed to reclaim task")
		}
		return
	}
	if s.logger != nil {
		s.logger.TransitionLog(task.ID, string(from), string(model.TaskStatusFailed), "lease expired")
	}
	s.metrics.RecordLeaseReclaim()
	s.publishStatus(ctx, task.ID, from, model.TaskStatusFailed, "lease expired")
}

func (s *Sweeper) publishStatus(ctx context.Context, taskID string, from, to model.TaskStatus, reason string) {
	if s.bus == nil {
		return
	}
	event := &model.TaskEvent{TaskID: taskID, Kind: model.EventKindStatus, Timestamp: s.clk.Now(), Payload: model.StatusPayload{From: from, To: to, Reason: reason}}
	seq, err := s.store.AppendEvent(ctx, event)
	if err != nil {
		if s.logger != nil {
			s.logger.WithTaskID(taskID).WithError(err).Warn("lease sweeper: failed to append event log entry")
		}
		return
	}
	event.Seq = seq
	if err := s.bus.Publish(ctx, *event); err != nil && s.logger != nil {
		s.logger.WithTaskID(taskID).WithError(err).Warn("lease sweeper: failed to publish event")
	}
}
