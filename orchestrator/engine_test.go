package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	provision "github.com/goliatone/go-provision"
	"github.com/goliatone/go-provision/activity"
	"github.com/goliatone/go-provision/locker"
	"github.com/goliatone/go-provision/status"
)

func testConfig() provision.Config {
	cfg := provision.DefaultConfig()
	cfg.LockRetries = 2
	cfg.LockRetryBackoff = time.Millisecond
	return cfg
}

func fastExecutor() *activity.Executor {
	return activity.NewExecutor(
		activity.WithRetryStrategy(activity.NoDelayStrategy{}),
		activity.WithMaxAttempts(1),
	)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithConfig(testConfig()),
		WithActivityExecutor(fastExecutor()),
	}
	eng, err := New(locker.NewManager(), status.NewInMemoryStore(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func projectCommand(action provision.CommandAction, projectID string) provision.Command {
	return provision.NewCommand(action, provision.User{ID: "user-1"}, provision.Project{
		ID:             projectID,
		OrganizationID: "org-1",
		DisplayName:    "Demo",
		TemplateID:     "tmpl-1",
	})
}

func TestHappyPathSucceedsWithResultSnapshot(t *testing.T) {
	eng := newTestEngine(t)
	cmd := projectCommand(provision.ActionCreate, "p-1")

	var order []string
	plan := Plan{
		Name: "project_create",
		Stages: []Stage{
			{Name: "prepare", Steps: []Step{{
				Name:   "project_add",
				Status: "creating project document",
				Run: func(ctx context.Context, oc *Context) error {
					order = append(order, "project_add")
					return nil
				},
			}}},
			{Name: "finish", Steps: []Step{{
				Name: "project_publish",
				Run: func(ctx context.Context, oc *Context) error {
					order = append(order, "project_publish")
					oc.SetResult(provision.Project{ID: "p-1", OrganizationID: "org-1", DisplayName: "Demo"})
					return nil
				},
			}}},
		},
	}

	rec, err := eng.Execute(context.Background(), cmd, plan)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if rec.RuntimeStatus() != provision.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", rec.RuntimeStatus())
	}
	if len(rec.Errors) != 0 {
		t.Fatalf("expected zero errors, got %+v", rec.Errors)
	}
	project, ok := rec.Result.(provision.Project)
	if !ok || project.ID != "p-1" {
		t.Fatalf("result snapshot missing or wrong: %+v", rec.Result)
	}
	if len(order) != 2 || order[0] != "project_add" || order[1] != "project_publish" {
		t.Fatalf("stage ordering violated: %v", order)
	}
	// all locks released after terminal state
	if eng.Locks().Len() != 0 {
		t.Fatalf("expected zero held locks, got %d", eng.Locks().Len())
	}
}

func TestParallelStepsInOneStageFanOut(t *testing.T) {
	eng := newTestEngine(t)
	cmd := projectCommand(provision.ActionCreate, "p-1")

	var concurrent, peak int32
	probe := func(ctx context.Context, oc *Context) error {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	}

	plan := Plan{
		Name: "access_checks",
		Stages: []Stage{{
			Name: "checks",
			Steps: []Step{
				{Name: "resource_group_access", Run: probe},
				{Name: "key_vault_access", Run: probe},
			},
		}},
	}

	rec, err := eng.Execute(context.Background(), cmd, plan)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if rec.RuntimeStatus() != provision.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", rec.RuntimeStatus())
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Fatalf("independent steps never overlapped, peak=%d", peak)
	}
}

func TestStepFailureFailsCommandAndSkipsLaterStages(t *testing.T) {
	eng := newTestEngine(t)
	cmd := projectCommand(provision.ActionCreate, "p-1")

	laterRan := false
	plan := Plan{
		Name: "project_create",
		Stages: []Stage{
			{Name: "first", Steps: []Step{{
				Name: "role_assignment_add",
				Run: func(ctx context.Context, oc *Context) error {
					return activity.MarkFatal(errors.New("principal not found"))
				},
			}}},
			{Name: "second", Steps: []Step{{
				Name: "project_publish",
				Run: func(ctx context.Context, oc *Context) error {
					laterRan = true
					return nil
				},
			}}},
		},
	}

	rec, err := eng.Execute(context.Background(), cmd, plan)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if rec.RuntimeStatus() != provision.StatusFailed {
		t.Fatalf("expected failed, got %s", rec.RuntimeStatus())
	}
	if len(rec.Errors) != 1 || rec.Errors[0].Severity != provision.SeverityError {
		t.Fatalf("expected one error-severity entry, got %+v", rec.Errors)
	}
	if !strings.Contains(rec.Errors[0].Message, "role_assignment_add") {
		t.Fatalf("error should name the failed activity: %s", rec.Errors[0].Message)
	}
	if laterRan {
		t.Fatal("later stage must not launch after a failure")
	}
	if eng.Locks().Len() != 0 {
		t.Fatal("locks must be released on failure")
	}
}

func TestLockContentionFailsAfterBoundedRetry(t *testing.T) {
	eng := newTestEngine(t)
	cmd := projectCommand(provision.ActionUpdate, "p-1")

	// another orchestration already owns the project
	if _, err := eng.Locks().Acquire(context.Background(), provision.KindProject, "p-1", "other-instance"); err != nil {
		t.Fatalf("seed lock failed: %v", err)
	}

	ran := false
	plan := Plan{
		Name: "project_update",
		Stages: []Stage{{Name: "main", Steps: []Step{{
			Name: "project_set",
			Run: func(ctx context.Context, oc *Context) error {
				ran = true
				return nil
			},
		}}}},
	}

	rec, err := eng.Execute(context.Background(), cmd, plan)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if rec.RuntimeStatus() != provision.StatusFailed {
		t.Fatalf("expected failed, got %s", rec.RuntimeStatus())
	}
	if len(rec.Errors) != 1 {
		t.Fatalf("expected a single contention error, got %+v", rec.Errors)
	}
	if !strings.Contains(rec.Errors[0].Message, "project:p-1") {
		t.Fatalf("contention error should name the entity: %s", rec.Errors[0].Message)
	}
	if ran {
		t.Fatal("no step may run without the lock")
	}
}

func TestContendedCommandsSerializeWhenLockFreesInTime(t *testing.T) {
	cfg := testConfig()
	cfg.LockRetries = 10
	cfg.LockRetryBackoff = 5 * time.Millisecond
	eng := newTestEngine(t, WithConfig(cfg))

	release := make(chan struct{})
	slowCmd := projectCommand(provision.ActionCreate, "p-1")
	slowPlan := Plan{
		Name: "slow_create",
		Stages: []Stage{{Name: "main", Steps: []Step{{
			Name: "slow_step",
			Run: func(ctx context.Context, oc *Context) error {
				<-release
				return nil
			},
		}}}},
	}

	first, err := eng.Start(context.Background(), slowCmd, slowPlan)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	fastCmd := projectCommand(provision.ActionUpdate, "p-1")
	fastPlan := Plan{
		Name: "fast_update",
		Stages: []Stage{{Name: "main", Steps: []Step{{
			Name: "fast_step",
			Run:  func(ctx context.Context, oc *Context) error { return nil },
		}}}},
	}

	done := make(chan *provision.CommandResult, 1)
	go func() {
		rec, execErr := eng.Execute(context.Background(), fastCmd, fastPlan)
		if execErr != nil {
			t.Errorf("second execute failed: %v", execErr)
		}
		done <- rec
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)

	<-first.Done()
	rec := <-done

	if first.Result().RuntimeStatus() != provision.StatusSucceeded {
		t.Fatalf("first command should succeed, got %s", first.Result().RuntimeStatus())
	}
	if rec.RuntimeStatus() != provision.StatusSucceeded {
		t.Fatalf("second command should serialize after the lock frees, got %s: %+v", rec.RuntimeStatus(), rec.Errors)
	}
}

func TestTimeoutForcesFailedNeverSucceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaximumTimeout = 30 * time.Millisecond
	cfg.SyncWait = time.Millisecond
	eng := newTestEngine(t, WithConfig(cfg))

	cmd := projectCommand(provision.ActionCreate, "p-1")
	plan := Plan{
		Name: "never_finishes",
		Stages: []Stage{{Name: "main", Steps: []Step{{
			Name: "glacial_step",
			Run: func(ctx context.Context, oc *Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}}}},
	}

	rec, err := eng.Execute(context.Background(), cmd, plan)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if rec.RuntimeStatus() != provision.StatusFailed {
		t.Fatalf("expected failed, got %s", rec.RuntimeStatus())
	}
	found := false
	for _, e := range rec.Errors {
		if strings.Contains(e.Message, "maximum timeout") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a timeout error entry, got %+v", rec.Errors)
	}
}

func TestRequireLockGuardsReadModifyWriteSteps(t *testing.T) {
	eng := newTestEngine(t)
	cmd := projectCommand(provision.ActionUpdate, "p-1")

	plan := Plan{
		Name: "sneaky_update",
		// plan locks nothing, so the guard must reject the mutation
		Locks: []LockTarget{{Kind: provision.KindProvider, EntityID: "azure"}},
		Stages: []Stage{{Name: "main", Steps: []Step{{
			Name: "project_set",
			Run: func(ctx context.Context, oc *Context) error {
				return oc.RequireLock(provision.KindProject, "p-1")
			},
		}}}},
	}

	rec, err := eng.Execute(context.Background(), cmd, plan)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if rec.RuntimeStatus() != provision.StatusFailed {
		t.Fatalf("expected failed, got %s", rec.RuntimeStatus())
	}
}

func TestValidationRejectsBeforeAnyStateIsRecorded(t *testing.T) {
	eng := newTestEngine(t)

	bad := provision.Command{Action: provision.ActionCreate}
	if _, err := eng.Start(context.Background(), bad, Plan{Name: "x", Stages: []Stage{{Steps: []Step{{
		Name: "noop",
		Run:  func(ctx context.Context, oc *Context) error { return nil },
	}}}}}); !provision.IsValidation(err) {
		t.Fatalf("expected validation rejection, got %v", err)
	}

	if _, err := eng.Results().Get(context.Background(), bad.CommandID); !provision.IsNotFound(err) {
		t.Fatalf("rejected command must leave no result record, got %v", err)
	}
}

func TestResumeSkipsCheckpointedSteps(t *testing.T) {
	results := status.NewInMemoryStore()
	checkpoints := NewInMemoryCheckpointStore()

	crashed, err := New(locker.NewManager(), results,
		WithConfig(testConfig()),
		WithActivityExecutor(fastExecutor()),
		WithCheckpointStore(checkpoints),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	var stepOneRuns, stepTwoRuns int32
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })

	planFor := func(stuck bool) Plan {
		return Plan{
			Name: "project_create",
			Stages: []Stage{
				{Name: "first", Steps: []Step{{
					Name: "project_add",
					Run: func(ctx context.Context, oc *Context) error {
						atomic.AddInt32(&stepOneRuns, 1)
						return nil
					},
				}}},
				{Name: "second", Steps: []Step{{
					Name: "project_publish",
					Run: func(ctx context.Context, oc *Context) error {
						if stuck {
							<-hang
							return ctx.Err()
						}
						atomic.AddInt32(&stepTwoRuns, 1)
						oc.SetResult(provision.Project{ID: "p-1", OrganizationID: "org-1"})
						return nil
					},
				}}},
			},
		}
	}

	cmd := projectCommand(provision.ActionCreate, "p-1")
	if _, err := crashed.Start(context.Background(), cmd, planFor(true)); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// wait until the first step is checkpointed
	deadline := time.Now().Add(2 * time.Second)
	for {
		cp, _ := checkpoints.Load(context.Background(), cmd.CommandID)
		if cp != nil && cp.Done("project_add") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first step never checkpointed")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// process restart: durable stores survive, volatile locks do not
	restarted, err := New(locker.NewManager(), results,
		WithConfig(testConfig()),
		WithActivityExecutor(fastExecutor()),
		WithCheckpointStore(checkpoints),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	inst, err := restarted.Resume(context.Background(), cmd, planFor(false))
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	<-inst.Done()

	rec := inst.Result()
	if rec.RuntimeStatus() != provision.StatusSucceeded {
		t.Fatalf("resumed command should succeed, got %s: %+v", rec.RuntimeStatus(), rec.Errors)
	}
	if atomic.LoadInt32(&stepOneRuns) != 1 {
		t.Fatalf("checkpointed step replayed %d times", stepOneRuns)
	}
	if atomic.LoadInt32(&stepTwoRuns) != 1 {
		t.Fatalf("pending step should run exactly once on resume, ran %d", stepTwoRuns)
	}
}

func TestChildCommandsRunThroughTheSameEngine(t *testing.T) {
	eng := newTestEngine(t)
	cmd := projectCommand(provision.ActionCreate, "p-1")

	childPlan := Plan{
		Name: "provider_register",
		Stages: []Stage{{Name: "main", Steps: []Step{{
			Name: "provider_add",
			Run: func(ctx context.Context, oc *Context) error {
				oc.SetResult(oc.Command().Payload)
				return nil
			},
		}}}},
	}

	var childID string
	plan := Plan{
		Name: "project_create",
		Stages: []Stage{{Name: "main", Steps: []Step{{
			Name: "spawn_provider",
			Run: func(ctx context.Context, oc *Context) error {
				childRec, err := oc.DispatchChild(ctx, provision.ActionCreate, provision.Provider{
					ID:             "azure",
					OrganizationID: "org-1",
					URL:            "https://provider.example.com",
				}, childPlan)
				if err != nil {
					return err
				}
				childID = childRec.CommandID
				if childRec.RuntimeStatus() != provision.StatusSucceeded {
					return errors.New("child command failed")
				}
				return nil
			},
		}}}},
	}

	rec, err := eng.Execute(context.Background(), cmd, plan)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if rec.RuntimeStatus() != provision.StatusSucceeded {
		t.Fatalf("parent should succeed, got %s: %+v", rec.RuntimeStatus(), rec.Errors)
	}

	childRec, err := eng.Results().Get(context.Background(), childID)
	if err != nil {
		t.Fatalf("child result missing: %v", err)
	}
	if childRec.RuntimeStatus() != provision.StatusSucceeded {
		t.Fatalf("child should succeed, got %s", childRec.RuntimeStatus())
	}
}

func TestDrainRejectsNewCommands(t *testing.T) {
	eng := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := eng.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	cmd := projectCommand(provision.ActionCreate, "p-1")
	plan := Plan{Name: "noop", Stages: []Stage{{Steps: []Step{{
		Name: "noop",
		Run:  func(ctx context.Context, oc *Context) error { return nil },
	}}}}}
	if _, err := eng.Start(context.Background(), cmd, plan); err == nil {
		t.Fatal("draining engine must reject new commands")
	}
}
