package sync

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/config"
	"github.com/arwahdevops/replisearch/internal/metrics"
)

// Gate admits at most one holder. Idle -> Running -> Idle.
type Gate struct {
	running atomic.Bool
}

func (g *Gate) TryAcquire() bool { return g.running.CompareAndSwap(false, true) }

func (g *Gate) Release() { g.running.Store(false) }

func (g *Gate) Running() bool { return g.running.Load() }

// PeriodicLoop waits Warmup, then runs Task every Interval measured from the
// end of the previous run. A tick that finds Gate held is dropped.
type PeriodicLoop struct {
	Name     string
	Warmup   time.Duration
	Interval time.Duration
	Clock    Clock
	Gate     *Gate
	Task     func(ctx context.Context)
	OnSkip   func()
	Logger   *zap.Logger
}

// Run blocks until ctx is done.
func (l PeriodicLoop) Run(ctx context.Context) {
	clock := l.Clock
	if clock == nil {
		clock = RealClock()
	}
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("loop", l.Name))
	log.Info("Periodic loop started", zap.Duration("warmup", l.Warmup), zap.Duration("interval", l.Interval))

	wait := l.Warmup
	for {
		select {
		case <-ctx.Done():
			log.Info("Periodic loop stopped", zap.Error(ctx.Err()))
			return
		case <-clock.After(wait):
		}
		wait = l.Interval

		if !l.Gate.TryAcquire() {
			log.Warn("Previous run still in progress, dropping tick.")
			if l.OnSkip != nil {
				l.OnSkip()
			}
			continue
		}
		l.Task(ctx)
		l.Gate.Release()
	}
}

// Scheduler owns the process-wide sync gate. Timer ticks and manual triggers
// share it, so at most one sync run executes at a time.
type Scheduler struct {
	orchestrator *Orchestrator
	tables       []string
	enabled      bool
	warmup       time.Duration
	interval     time.Duration
	clock        Clock
	gate         Gate
	lastReport   atomic.Pointer[SyncRunReport]
	metrics      *metrics.Store
	logger       *zap.Logger
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Tables   []string
	Enabled  bool
	Warmup   time.Duration
	Interval time.Duration
	Clock    Clock
}

func SchedulerOptionsFrom(cfg *config.Config) SchedulerOptions {
	return SchedulerOptions{
		Tables:   cfg.SyncTables,
		Enabled:  cfg.AutoSyncEnabled,
		Warmup:   cfg.SyncWarmupDelay,
		Interval: cfg.SyncInterval,
	}
}

func NewScheduler(orchestrator *Orchestrator, opts SchedulerOptions, metricsStore *metrics.Store, logger *zap.Logger) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if metricsStore == nil {
		metricsStore = metrics.NewMetricsStore()
	}
	return &Scheduler{
		orchestrator: orchestrator,
		tables:       opts.Tables,
		enabled:      opts.Enabled,
		warmup:       opts.Warmup,
		interval:     opts.Interval,
		clock:        opts.Clock,
		metrics:      metricsStore,
		logger:       logger.Named("scheduler"),
	}
}

// Run drives the periodic sync until ctx is cancelled. It returns immediately
// when auto sync is disabled; manual triggers keep working.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.enabled {
		s.logger.Info("Automatic sync disabled; only manual triggers will run.")
		return
	}
	PeriodicLoop{
		Name:     "table-sync",
		Warmup:   s.warmup,
		Interval: s.interval,
		Clock:    s.clock,
		Gate:     &s.gate,
		Task: func(ctx context.Context) {
			s.runAll(ctx, TriggerScheduled)
		},
		OnSkip: func() { s.metrics.SkippedTriggersTotal.WithLabelValues("scheduled").Inc() },
		Logger: s.logger,
	}.Run(ctx)
}

// TriggerAll runs every configured table now, or returns ErrSyncInProgress.
func (s *Scheduler) TriggerAll(ctx context.Context) (SyncRunReport, error) {
	if !s.gate.TryAcquire() {
		s.metrics.SkippedTriggersTotal.WithLabelValues("manual").Inc()
		s.logger.Warn("Manual sync rejected: a run is already in progress.")
		return SyncRunReport{}, ErrSyncInProgress
	}
	defer s.gate.Release()
	return s.runAll(ctx, TriggerManual), nil
}

// TriggerTable runs a single table now, or returns ErrSyncInProgress.
func (s *Scheduler) TriggerTable(ctx context.Context, table string) (TableSyncOutcome, error) {
	if !s.gate.TryAcquire() {
		s.metrics.SkippedTriggersTotal.WithLabelValues("manual").Inc()
		s.logger.Warn("Manual table sync rejected: a run is already in progress.", zap.String("table", table))
		return TableSyncOutcome{}, ErrSyncInProgress
	}
	defer s.gate.Release()

	s.metrics.SyncRunning.Set(1)
	defer s.metrics.SyncRunning.Set(0)
	return s.orchestrator.SyncTable(ctx, table), nil
}

// Running reports whether a sync currently holds the gate.
func (s *Scheduler) Running() bool { return s.gate.Running() }

// LastReport is the report of the most recent full run, if any.
func (s *Scheduler) LastReport() *SyncRunReport { return s.lastReport.Load() }

func (s *Scheduler) runAll(ctx context.Context, trigger Trigger) SyncRunReport {
	report := s.orchestrator.Run(ctx, s.tables, trigger)
	s.lastReport.Store(&report)
	return report
}
