// Package janitor runs the scheduled maintenance jobs: releasing locks
// whose holders died and archiving result records past their retention
// window.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	provision "github.com/goliatone/go-provision"
	"github.com/goliatone/go-provision/locker"

	rcron "github.com/robfig/cron/v3"
)

// ResultArchiver flags terminal result records older than a cutoff.
type ResultArchiver interface {
	ArchiveOlderThan(cutoff time.Time) int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithLogger(l provision.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorHandler replaces the default log-and-continue error handler.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.errorHandler = fn
		}
	}
}

// Scheduler wraps robfig/cron behind the registry's register hook so
// maintenance commands schedule themselves without touching cron types.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	logger       provision.Logger
	errorHandler func(error)
	started      bool
}

// NewScheduler builds an idle scheduler; call Start after registration.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = provision.NormalizeLogger(s.logger)
	if s.errorHandler == nil {
		s.errorHandler = func(err error) {
			s.logger.Error("scheduled job failed: %v", err)
		}
	}
	s.cron = rcron.New(rcron.WithLocation(s.location))
	return s
}

// Register satisfies the registry's cron hook. Handlers may be
// func() error or func(context.Context) error.
func (s *Scheduler) Register(opts provision.HandlerConfig, handler any) error {
	if opts.Expression == "" {
		return errors.New("cron expression cannot be empty", errors.CategoryBadInput).
			WithTextCode("CRON_EXPRESSION_EMPTY")
	}

	run, err := coerce(handler, opts.Timeout)
	if err != nil {
		return err
	}

	job := rcron.FuncJob(func() {
		if err := run(); err != nil {
			s.errorHandler(err)
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.cron.AddJob(opts.Expression, job); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "failed to schedule job").
			WithTextCode("CRON_SCHEDULE_FAILED").
			WithMetadata(map[string]any{"expression": opts.Expression})
	}
	return nil
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop halts scheduling and waits for running jobs or ctx, whichever
// comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stopped := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryExternal, "scheduler stop deadline exceeded").
			WithTextCode("SCHEDULER_STOP_TIMEOUT")
	}
}

func coerce(handler any, timeout time.Duration) (func() error, error) {
	switch fn := handler.(type) {
	case func() error:
		return fn, nil
	case func(context.Context) error:
		return func() error {
			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return fn(ctx)
		}, nil
	default:
		return nil, errors.New("unsupported cron handler signature", errors.CategoryBadInput).
			WithTextCode("CRON_HANDLER_UNSUPPORTED")
	}
}

// LockSweep releases locks whose TTL expired, covering holders that died
// without cleanup.
type LockSweep struct {
	Locks    *locker.Manager
	Schedule string
	Logger   provision.Logger
}

func (j LockSweep) CronOptions() provision.HandlerConfig {
	return provision.HandlerConfig{Expression: j.Schedule}
}

func (j LockSweep) CronHandler() any {
	logger := provision.NormalizeLogger(j.Logger)
	return func() error {
		if j.Locks == nil {
			return nil
		}
		if released := j.Locks.SweepExpired(); released > 0 {
			logger.Info("released %d expired locks", released)
		}
		return nil
	}
}

// ResultArchive flags terminal results older than the retention window so
// listings stay lean while history remains fetchable by id.
type ResultArchive struct {
	Results   ResultArchiver
	Retention time.Duration
	Schedule  string
	Logger    provision.Logger
}

func (j ResultArchive) CronOptions() provision.HandlerConfig {
	return provision.HandlerConfig{Expression: j.Schedule}
}

func (j ResultArchive) CronHandler() any {
	logger := provision.NormalizeLogger(j.Logger)
	return func() error {
		if j.Results == nil {
			return nil
		}
		cutoff := time.Now().UTC().Add(-j.Retention)
		if archived := j.Results.ArchiveOlderThan(cutoff); archived > 0 {
			logger.Info("archived %d command results", archived)
		}
		return nil
	}
}

// Wire registers both maintenance jobs with a registry using the config's
// schedules.
func Wire(reg *provision.Registry, locks *locker.Manager, results ResultArchiver, cfg provision.Config, logger provision.Logger) error {
	if err := reg.RegisterCommand(LockSweep{Locks: locks, Schedule: cfg.SweepSchedule, Logger: logger}); err != nil {
		return err
	}
	return reg.RegisterCommand(ResultArchive{
		Results:   results,
		Retention: cfg.ResultRetention,
		Schedule:  cfg.ArchiveSchedule,
		Logger:    logger,
	})
}
