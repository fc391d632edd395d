package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	provision "github.com/goliatone/go-provision"
	"github.com/goliatone/go-provision/activity"
	"github.com/goliatone/go-provision/locker"
	"github.com/goliatone/go-provision/status"
)

// Option configures an Engine.
type Option func(*Engine)

func WithConfig(cfg provision.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

func WithLogger(l provision.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithActivityExecutor overrides the executor built from config defaults.
func WithActivityExecutor(exec *activity.Executor) Option {
	return func(e *Engine) {
		if exec != nil {
			e.exec = exec
		}
	}
}

func WithCheckpointStore(store CheckpointStore) Option {
	return func(e *Engine) {
		if store != nil {
			e.checkpoints = store
		}
	}
}

// WithExpanders wires the registry used to expand result snapshots before
// they are published on success.
func WithExpanders(reg *provision.ExpanderRegistry) Option {
	return func(e *Engine) {
		e.expanders = reg
	}
}

// Instance is the handle for one running orchestration.
type Instance struct {
	CommandID  string
	InstanceID string

	done   chan struct{}
	mu     sync.Mutex
	result *provision.CommandResult
}

// Done is closed when the orchestration reaches a terminal state.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Result returns the terminal command result, nil while still running.
func (i *Instance) Result() *provision.CommandResult {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.result
}

func (i *Instance) finish(rec *provision.CommandResult) {
	i.mu.Lock()
	i.result = rec
	i.mu.Unlock()
	close(i.done)
}

// Engine is the orchestration runtime: one instance per command, explicit
// lifecycle, no ambient state. Tests run as many isolated engines as they
// need.
type Engine struct {
	cfg         provision.Config
	locks       *locker.Manager
	results     status.Store
	checkpoints CheckpointStore
	exec        *activity.Executor
	expanders   *provision.ExpanderRegistry
	logger      provision.Logger
	recovered   func(funcName string, fields ...map[string]any)

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// New constructs an engine over the given lock manager and result store.
func New(locks *locker.Manager, results status.Store, opts ...Option) (*Engine, error) {
	if locks == nil {
		return nil, errors.New("lock manager required", errors.CategoryBadInput).
			WithTextCode("ENGINE_MISCONFIGURED")
	}
	if results == nil {
		return nil, errors.New("result store required", errors.CategoryBadInput).
			WithTextCode("ENGINE_MISCONFIGURED")
	}

	e := &Engine{
		cfg:     provision.DefaultConfig(),
		locks:   locks,
		results: results,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid engine config").
			WithTextCode(provision.ErrCodeValidation)
	}
	if e.checkpoints == nil {
		e.checkpoints = NewInMemoryCheckpointStore()
	}
	if e.exec == nil {
		e.exec = activity.NewExecutor(
			activity.WithMaxAttempts(e.cfg.ActivityMaxAttempts),
			activity.WithRetryStrategy(activity.ExponentialBackoffStrategy{
				Base:   e.cfg.ActivityBackoffBase,
				Factor: 2,
				Max:    e.cfg.ActivityBackoffMax,
				Jitter: 0.2,
			}),
			activity.WithLogger(e.logger),
		)
	}
	e.logger = provision.NormalizeLogger(e.logger)
	e.recovered = provision.MakePanicHandler(provision.PanicToLogger(e.logger))
	return e, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() provision.Config {
	return e.cfg
}

// Locks exposes the lock manager for janitor wiring.
func (e *Engine) Locks() *locker.Manager {
	return e.locks
}

// Results exposes the result store, the polling surface.
func (e *Engine) Results() status.Store {
	return e.results
}

// Start validates and launches the orchestration for cmd, returning a
// handle immediately. Validation failures reject the command before any
// state is recorded.
func (e *Engine) Start(ctx context.Context, cmd provision.Command, plan Plan) (*Instance, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil, errors.New("engine is draining", errors.CategoryConflict).
			WithTextCode("ENGINE_DRAINING")
	}
	e.wg.Add(1)
	e.mu.Unlock()

	if _, err := e.results.Create(ctx, cmd); err != nil {
		e.wg.Done()
		return nil, err
	}

	inst := &Instance{
		CommandID:  cmd.CommandID,
		InstanceID: uuid.NewString(),
		done:       make(chan struct{}),
	}

	cp := &Checkpoint{
		CommandID:  cmd.CommandID,
		InstanceID: inst.InstanceID,
		PlanName:   plan.Name,
		Status:     provision.StatusPending,
	}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		e.wg.Done()
		return nil, err
	}

	// the orchestration outlives the caller's request context
	go e.run(context.WithoutCancel(ctx), cmd, plan, inst, cp)
	return inst, nil
}

// Execute runs a command to completion, blocking until the orchestration
// terminates or ctx is canceled. Used for sub-commands and tests.
func (e *Engine) Execute(ctx context.Context, cmd provision.Command, plan Plan) (*provision.CommandResult, error) {
	inst, err := e.Start(ctx, cmd, plan)
	if err != nil {
		return nil, err
	}
	select {
	case <-inst.Done():
		return inst.Result(), nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CategoryExternal, "caller context canceled while awaiting command").
			WithTextCode("AWAIT_CANCELLED").
			WithMetadata(map[string]any{"command_id": cmd.CommandID})
	}
}

// Resume replays a command after a process restart. Steps recorded in the
// checkpoint are skipped; a fresh instance id takes over since the old
// holder's volatile locks died with it.
func (e *Engine) Resume(ctx context.Context, cmd provision.Command, plan Plan) (*Instance, error) {
	cp, err := e.checkpoints.Load(ctx, cmd.CommandID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return e.Start(ctx, cmd, plan)
	}

	rec, err := e.results.Get(ctx, cmd.CommandID)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		CommandID:  cmd.CommandID,
		InstanceID: uuid.NewString(),
		done:       make(chan struct{}),
	}
	if rec.Final() {
		inst.finish(rec)
		return inst, nil
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil, errors.New("engine is draining", errors.CategoryConflict).
			WithTextCode("ENGINE_DRAINING")
	}
	e.wg.Add(1)
	e.mu.Unlock()

	cp.InstanceID = inst.InstanceID
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		e.wg.Done()
		return nil, err
	}

	go e.run(context.WithoutCancel(ctx), cmd, plan, inst, cp)
	return inst, nil
}

// Drain stops accepting new commands and waits for in-flight
// orchestrations to finish or ctx to expire.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryExternal, "drain deadline exceeded").
			WithTextCode("DRAIN_TIMEOUT")
	}
}

func (e *Engine) run(ctx context.Context, cmd provision.Command, plan Plan, inst *Instance, cp *Checkpoint) {
	defer e.wg.Done()
	defer e.recovered("orchestrator.run", map[string]any{
		"command_id": cmd.CommandID,
		"plan":       plan.Name,
	})

	logger := provision.WithLoggerFields(e.logger, map[string]any{
		"command_id": cmd.CommandID,
		"plan":       plan.Name,
		"instance":   inst.InstanceID,
	})

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.MaximumTimeout)
	defer cancel()

	e.transition(ctx, cmd.CommandID, provision.StatusRunning)

	oc := &Context{engine: e, cmd: cmd, instanceID: inst.InstanceID}

	// cleanup phase: locks are released unconditionally, whatever path
	// the orchestration took
	defer func() {
		if released := e.locks.ReleaseAll(inst.InstanceID); released > 0 {
			logger.Debug("released %d locks", released)
		}
		rec := e.finalize(ctx, cmd.CommandID, oc)
		inst.finish(rec)
	}()

	if err := e.acquireLocks(runCtx, plan.TargetLocks(cmd), inst.InstanceID, logger); err != nil {
		e.recordFailure(ctx, cmd.CommandID, err)
		return
	}

	failed := false
	for _, stage := range plan.Stages {
		if failed {
			break
		}
		stageErrs := e.runStage(runCtx, stage, cmd, oc, cp, logger)
		for _, err := range stageErrs {
			if err == nil {
				continue
			}
			failed = true
			e.recordFailure(ctx, cmd.CommandID, e.classify(runCtx, err))
		}
	}
}

func (e *Engine) runStage(ctx context.Context, stage Stage, cmd provision.Command, oc *Context, cp *Checkpoint, logger provision.Logger) []error {
	pending := make([]Step, 0, len(stage.Steps))
	for _, step := range stage.Steps {
		if cp.Done(step.Name) {
			logger.Debug("skipping checkpointed step %s", step.Name)
			continue
		}
		pending = append(pending, step)
	}
	if len(pending) == 0 {
		return nil
	}

	if len(pending) == 1 {
		return []error{e.runStep(ctx, pending[0], cmd, oc)}
	}

	// independent steps of one stage fan out and rejoin before the next
	// stage starts
	var wg sync.WaitGroup
	errs := make([]error, len(pending))
	for i, step := range pending {
		wg.Add(1)
		go func(index int, step Step) {
			defer wg.Done()
			defer e.recovered("orchestrator.runStage", map[string]any{
				"command_id": cmd.CommandID,
				"step":       step.Name,
			})
			errs[index] = e.runStep(ctx, step, cmd, oc)
		}(i, step)
	}
	wg.Wait()
	return errs
}

func (e *Engine) runStep(ctx context.Context, step Step, cmd provision.Command, oc *Context) error {
	if step.Status != "" {
		oc.SetCustomStatus(ctx, step.Status)
	}

	err := activity.Exec(ctx, e.exec, step.Name, func(ctx context.Context) error {
		return step.Run(ctx, oc)
	}, step.Retry...)
	if err != nil {
		return err
	}

	if markErr := e.checkpoints.MarkStep(ctx, cmd.CommandID, step.Name); markErr != nil {
		// losing the cursor means a restart replays the step; the step
		// itself succeeded, so keep going
		oc.Logger().Warn("checkpoint mark failed for step %s: %v", step.Name, markErr)
	}
	return nil
}

func (e *Engine) acquireLocks(ctx context.Context, targets []LockTarget, holder string, logger provision.Logger) error {
	backoff := activity.ExponentialBackoffStrategy{
		Base:   e.cfg.LockRetryBackoff,
		Factor: 2,
		Max:    5 * time.Second,
		Jitter: 0.2,
	}

	for _, target := range targets {
		var lastErr error
		for attempt := 1; attempt <= e.cfg.LockRetries; attempt++ {
			_, err := e.locks.Acquire(ctx, target.Kind, target.EntityID, holder)
			if err == nil {
				lastErr = nil
				break
			}
			lastErr = err
			if !provision.IsLockContention(err) {
				return err
			}
			if attempt < e.cfg.LockRetries {
				logger.Debug("lock %s contended, retry %d of %d", locker.LockKey(target.Kind, target.EntityID), attempt, e.cfg.LockRetries)
				if sleepErr := sleepContext(ctx, backoff.SleepDuration(attempt-1, err)); sleepErr != nil {
					return provision.CloneError(provision.ErrTimeout, "timed out awaiting entity lock", sleepErr, map[string]any{
						"key": locker.LockKey(target.Kind, target.EntityID),
					})
				}
			}
		}
		if lastErr != nil {
			return provision.CloneError(provision.ErrLockContention,
				fmt.Sprintf("entity %s still locked after %d attempts", locker.LockKey(target.Kind, target.EntityID), e.cfg.LockRetries),
				lastErr, map[string]any{
					"key":      locker.LockKey(target.Kind, target.EntityID),
					"attempts": e.cfg.LockRetries,
				})
		}
	}
	return nil
}

// classify folds context expiry into the timeout taxonomy so callers see
// one consistent failure shape.
func (e *Engine) classify(runCtx context.Context, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || (runCtx.Err() != nil && stderrors.Is(runCtx.Err(), context.DeadlineExceeded)) {
		return provision.CloneError(provision.ErrTimeout,
			fmt.Sprintf("command exceeded maximum timeout %s", e.cfg.MaximumTimeout), err, nil)
	}
	return err
}

func (e *Engine) transition(ctx context.Context, commandID string, to provision.RuntimeStatus) {
	if _, err := e.results.Update(ctx, commandID, func(r *provision.CommandResult) {
		r.RawStatus = to
	}); err != nil {
		e.logger.Warn("status transition to %s failed for %s: %v", to, commandID, err)
	}
	if err := e.checkpoints.SetStatus(ctx, commandID, to); err != nil {
		e.logger.Warn("checkpoint status update failed for %s: %v", commandID, err)
	}
}

func (e *Engine) recordFailure(ctx context.Context, commandID string, err error) {
	if _, uerr := e.results.Update(ctx, commandID, func(r *provision.CommandResult) {
		r.AppendError(err.Error(), provision.SeverityError)
	}); uerr != nil {
		e.logger.Error("failed to record error for %s: %v (original: %v)", commandID, uerr, err)
	}
}

func (e *Engine) finalize(ctx context.Context, commandID string, oc *Context) *provision.CommandResult {
	rec, err := e.results.Get(ctx, commandID)
	if err != nil {
		e.logger.Error("finalize could not load result for %s: %v", commandID, err)
		return nil
	}

	if rec.RuntimeStatus() == provision.StatusFailed {
		e.transition(ctx, commandID, provision.StatusFailed)
		rec, _ = e.results.Get(ctx, commandID)
		return rec
	}

	snapshot := oc.stagedResult()
	if snapshot != nil && e.expanders != nil {
		expanded, expandErr := e.expanders.Expand(ctx, snapshot)
		if expandErr != nil {
			e.logger.Warn("result expansion failed for %s: %v", commandID, expandErr)
		} else {
			snapshot = expanded
		}
	}

	rec, err = e.results.Update(ctx, commandID, func(r *provision.CommandResult) {
		r.RawStatus = provision.StatusSucceeded
		r.Result = snapshot
	})
	if err != nil {
		e.logger.Error("finalize update failed for %s: %v", commandID, err)
	}
	if err := e.checkpoints.SetStatus(ctx, commandID, provision.StatusSucceeded); err != nil {
		e.logger.Warn("checkpoint status update failed for %s: %v", commandID, err)
	}
	return rec
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
