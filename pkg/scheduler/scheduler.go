// Package scheduler runs the resource sync tasks of every registered storage
// on a fixed cadence. Jobs are spread over a fixed pool of workers and each
// (storage, kind) pair is serialized by a named lease so that several manager
// processes can share one database.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/lock"
	"git.srvlab.io/whiskey/arraysync/pkg/observability"
	"git.srvlab.io/whiskey/arraysync/pkg/security"
	"git.srvlab.io/whiskey/arraysync/pkg/task"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

const (
	// DefaultInterval is the default time between sync cycles
	DefaultInterval = 5 * time.Minute

	// DefaultCleanupInterval is the default time between driver cache evictions
	DefaultCleanupInterval = 30 * time.Minute

	// DefaultWorkers is the default size of the worker pool
	DefaultWorkers = 4

	// DefaultLockWait bounds how long a job waits for its lease
	DefaultLockWait = 10 * time.Second
)

// Config tunes the scheduler
type Config struct {
	// Interval between sync cycles
	Interval time.Duration

	// CleanupInterval between driver cache evictions
	CleanupInterval time.Duration

	// Workers is the number of jobs run at once
	Workers int

	// LockWait bounds lease acquisition per job; the job is skipped after it
	LockWait time.Duration

	// Kinds are the tasks run for each storage, task.Kinds when empty
	Kinds []task.Kind
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.LockWait <= 0 {
		c.LockWait = DefaultLockWait
	}
	if len(c.Kinds) == 0 {
		c.Kinds = task.Kinds
	}
}

// DriverCache is the part of drivers.Manager the scheduler needs
type DriverCache interface {
	task.DriverSource
	RemoveDriver(storageID string)
	CachedIDs() []string
}

// TaskFactory builds the task of a kind for a storage
type TaskFactory func(kind task.Kind, storageID string, deps task.Deps) (task.Task, error)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMetrics records task outcomes and lock skips
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTaskFactory replaces task.New
func WithTaskFactory(f TaskFactory) Option {
	return func(s *Scheduler) { s.newTask = f }
}

// WithClock sets the clock used to time jobs
func WithClock(c clock.PassiveClock) Option {
	return func(s *Scheduler) { s.clock = c }
}

type job struct {
	storageID string
	kind      task.Kind
}

func (j job) lockName() string {
	return j.storageID + "/" + string(j.kind)
}

// Scheduler owns the sync cadence
type Scheduler struct {
	cfg     Config
	store   *db.Store
	drivers DriverCache
	locker  lock.Locker
	deps    task.Deps
	metrics *observability.Metrics
	newTask TaskFactory
	clock   clock.PassiveClock

	queue chan job

	// pending holds jobs queued or running, so a pair is never queued twice
	mu      sync.Mutex
	pending map[job]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. deps.Store and deps.Drivers are filled in from
// store and drv.
func New(cfg Config, store *db.Store, drv DriverCache, locker lock.Locker, deps task.Deps, opts ...Option) *Scheduler {
	cfg.setDefaults()
	deps.Store = store
	deps.Drivers = drv

	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		drivers: drv,
		locker:  locker,
		deps:    deps,
		newTask: task.New,
		clock:   clock.RealClock{},
		pending: make(map[job]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the workers and the sync and cleanup loops. The first sync
// cycle starts immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan job, s.cfg.Workers)

	klog.Infof("Starting scheduler (interval=%v, cleanup_interval=%v, workers=%d, lock_wait=%v)",
		s.cfg.Interval, s.cfg.CleanupInterval, s.cfg.Workers, s.cfg.LockWait)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		wait.UntilWithContext(ctx, s.enqueueAll, s.cfg.Interval)
	}()
	go func() {
		defer s.wg.Done()
		wait.UntilWithContext(ctx, s.cleanup, s.cfg.CleanupInterval)
	}()
}

// Stop cancels running jobs and waits for the workers to exit
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	klog.Info("Stopping scheduler")
	s.cancel()
	s.wg.Wait()
	klog.Info("Scheduler stopped")
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if err := s.runJob(ctx, j); err != nil {
				utils.LogErrorDetails(fmt.Sprintf("Sync %s of storage %s failed", j.kind, j.storageID), err)
			}
			s.done(j)
		}
	}
}

// Enqueue queues one sync job. It reports false when the same job is already
// queued or running, or when the scheduler is stopping.
func (s *Scheduler) Enqueue(ctx context.Context, storageID string, kind task.Kind) bool {
	j := job{storageID: storageID, kind: kind}

	s.mu.Lock()
	if _, ok := s.pending[j]; ok {
		s.mu.Unlock()
		klog.V(4).Infof("Sync %s of storage %s already pending", kind, storageID)
		return false
	}
	s.pending[j] = struct{}{}
	s.mu.Unlock()

	select {
	case s.queue <- j:
		return true
	case <-ctx.Done():
		s.done(j)
		return false
	}
}

func (s *Scheduler) done(j job) {
	s.mu.Lock()
	delete(s.pending, j)
	s.mu.Unlock()
}

// enqueueAll queues every kind of every registered storage
func (s *Scheduler) enqueueAll(ctx context.Context) {
	storages, err := s.store.Storages.GetAll(ctx, db.Query{})
	if err != nil {
		klog.Errorf("Failed to list storages: %v", err)
		return
	}
	klog.V(2).Infof("Starting sync cycle for %d storages", len(storages))
	for _, st := range storages {
		for _, kind := range s.cfg.Kinds {
			s.Enqueue(ctx, st.ID, kind)
		}
	}
}

// runJob runs the Sync of one task under its lease. A lease that cannot be
// acquired within the wait bound skips the job for this cycle.
func (s *Scheduler) runJob(ctx context.Context, j job) error {
	t, err := s.newTask(j.kind, j.storageID, s.deps)
	if err != nil {
		return err
	}

	start := s.clock.Now()
	err = lock.WithLock(ctx, s.locker, j.lockName(), s.cfg.LockWait, t.Sync)
	if errors.Is(err, lock.ErrLockTimeout) {
		klog.Warningf("Skipping sync %s of storage %s: %v", j.kind, j.storageID, err)
		if s.metrics != nil {
			s.metrics.RecordLockSkip(string(j.kind))
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordSyncTask(string(j.kind), err, s.clock.Since(start))
	}
	return err
}

// RunOnce syncs every kind of the given storages, or of all storages when none
// are given, and waits for the jobs. The storage kind of every storage is
// synced before the other kinds start. Failed jobs are logged and returned
// joined; they do not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context, storageIDs ...string) error {
	if len(storageIDs) == 0 {
		storages, err := s.store.Storages.GetAll(ctx, db.Query{})
		if err != nil {
			return fmt.Errorf("failed to list storages: %w", err)
		}
		for _, st := range storages {
			storageIDs = append(storageIDs, st.ID)
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, kinds := range runPhases(s.cfg.Kinds) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for _, id := range storageIDs {
			for _, kind := range kinds {
				j := job{storageID: id, kind: kind}
				g.Go(func() error {
					if err := s.runJob(gctx, j); err != nil {
						utils.LogErrorDetails(fmt.Sprintf("Sync %s of storage %s failed", j.kind, j.storageID), err)
						mu.Lock()
						errs = append(errs, fmt.Errorf("%s/%s: %w", j.storageID, j.kind, err))
						mu.Unlock()
					}
					return nil
				})
			}
		}
		_ = g.Wait()
	}
	return errors.Join(errs...)
}

// runPhases splits kinds so the storage kind finishes before the others
// start. A failed storage sync does not hold the other kinds back.
func runPhases(kinds []task.Kind) [][]task.Kind {
	if len(kinds) < 2 || !slices.Contains(kinds, task.KindStorage) {
		return [][]task.Kind{kinds}
	}
	rest := make([]task.Kind, 0, len(kinds)-1)
	for _, k := range kinds {
		if k != task.KindStorage {
			rest = append(rest, k)
		}
	}
	return [][]task.Kind{{task.KindStorage}, rest}
}

// cleanup evicts cached drivers of storages that no longer exist
func (s *Scheduler) cleanup(ctx context.Context) {
	storages, err := s.store.Storages.GetAll(ctx, db.Query{})
	if err != nil {
		klog.Errorf("Failed to list storages for driver cleanup: %v", err)
		return
	}
	known := make(map[string]bool, len(storages))
	for _, st := range storages {
		known[st.ID] = true
	}

	evicted := 0
	for _, id := range s.drivers.CachedIDs() {
		if !known[id] {
			s.drivers.RemoveDriver(id)
			evicted++
		}
	}
	if evicted > 0 {
		klog.Infof("Evicted %d cached drivers of removed storages", evicted)
	}
}

// Cleanup runs one driver cache eviction
func (s *Scheduler) Cleanup(ctx context.Context) {
	s.cleanup(ctx)
}

// RemoveStorage tears down every resource kind of storageID, the storage
// record last, and evicts its driver
func (s *Scheduler) RemoveStorage(ctx context.Context, storageID string) error {
	security.GetLogger().LogStorageRemove(storageID, security.OutcomeUnknown, nil)
	err := s.removeStorage(ctx, storageID)
	outcome := security.OutcomeSuccess
	if err != nil {
		outcome = security.OutcomeFailure
	}
	security.GetLogger().LogStorageRemove(storageID, outcome, err)
	return err
}

func (s *Scheduler) removeStorage(ctx context.Context, storageID string) error {
	for i := len(task.Kinds) - 1; i >= 0; i-- {
		kind := task.Kinds[i]
		t, err := s.newTask(kind, storageID, s.deps)
		if err != nil {
			return err
		}
		j := job{storageID: storageID, kind: kind}
		if err := lock.WithLock(ctx, s.locker, j.lockName(), s.cfg.LockWait, t.Remove); err != nil {
			return fmt.Errorf("failed to remove %s of storage %s: %w", kind, storageID, err)
		}
	}

	s.drivers.RemoveDriver(storageID)
	klog.Infof("Removed storage %s", storageID)
	return nil
}
