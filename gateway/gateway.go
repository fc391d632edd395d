package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	provision "github.com/goliatone/go-provision"
	"github.com/goliatone/go-provision/orchestrator"
)

// DispatchMode tells the caller whether the command finished inside the
// sync window or is still running.
type DispatchMode string

const (
	ModeSync  DispatchMode = "sync"
	ModeAsync DispatchMode = "async"
)

// Handle is the async continuation: the command id plus the poll location
// a caller uses to track the running orchestration.
type Handle struct {
	CommandID string `json:"command_id"`
	PollURL   string `json:"poll_url,omitempty"`
}

// DispatchResult is the outcome of a Submit. Result is set in sync mode,
// Handle in async mode.
type DispatchResult struct {
	Mode   DispatchMode             `json:"mode"`
	Result *provision.CommandResult `json:"result,omitempty"`
	Handle *Handle                  `json:"handle,omitempty"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSyncWait overrides the window Submit waits before going async. The
// window is clamped to the engine's maximum timeout.
func WithSyncWait(d time.Duration) Option {
	return func(g *Dispatcher) {
		if d > 0 {
			g.syncWait = d
		}
	}
}

// WithBaseURL sets the public base used for poll and location links.
func WithBaseURL(base string) Option {
	return func(g *Dispatcher) {
		g.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

func WithLogger(l provision.Logger) Option {
	return func(g *Dispatcher) {
		if l != nil {
			g.logger = l
		}
	}
}

// Dispatcher is the single entry point for command execution: every
// command starts asynchronously, and callers that finish inside the sync
// window get the terminal result directly.
type Dispatcher struct {
	engine   *orchestrator.Engine
	syncWait time.Duration
	baseURL  string
	logger   provision.Logger
}

// New builds a dispatcher over an engine. The sync window defaults to the
// engine config's SyncWait.
func New(engine *orchestrator.Engine, opts ...Option) (*Dispatcher, error) {
	if engine == nil {
		return nil, errors.New("engine required", errors.CategoryBadInput).
			WithTextCode("GATEWAY_MISCONFIGURED")
	}

	g := &Dispatcher{
		engine:   engine,
		syncWait: engine.Config().SyncWait,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if max := engine.Config().MaximumTimeout; g.syncWait > max {
		g.syncWait = max
	}
	g.logger = provision.NormalizeLogger(g.logger)
	return g, nil
}

// Submit starts the orchestration for cmd and races its completion against
// the sync window. Whatever the outcome of the race, the command keeps
// running; async callers poll via Status.
func (g *Dispatcher) Submit(ctx context.Context, cmd provision.Command, plan orchestrator.Plan) (*DispatchResult, error) {
	inst, err := g.engine.Start(ctx, cmd, plan)
	if err != nil {
		return nil, err
	}

	g.decorate(ctx, cmd.CommandID)

	timer := time.NewTimer(g.syncWait)
	defer timer.Stop()

	select {
	case <-inst.Done():
		rec := inst.Result()
		g.logger.Debug("command %s finished inside sync window", cmd.CommandID)
		return &DispatchResult{Mode: ModeSync, Result: rec}, nil
	case <-timer.C:
	case <-ctx.Done():
		// the caller gave up waiting; the orchestration keeps running
	}

	g.logger.Debug("command %s continues async", cmd.CommandID)
	return &DispatchResult{
		Mode: ModeAsync,
		Handle: &Handle{
			CommandID: cmd.CommandID,
			PollURL:   g.statusURL(cmd.CommandID),
		},
	}, nil
}

// Status returns the current result record for a command.
func (g *Dispatcher) Status(ctx context.Context, commandID string) (*provision.CommandResult, error) {
	return g.engine.Results().Get(ctx, commandID)
}

// decorate stamps the status link onto the stored record so every poll
// response carries it.
func (g *Dispatcher) decorate(ctx context.Context, commandID string) {
	status := g.statusURL(commandID)
	if status == "" {
		return
	}
	if _, err := g.engine.Results().Update(ctx, commandID, func(r *provision.CommandResult) {
		if r.Links == nil {
			r.Links = make(map[string]string)
		}
		r.Links["status"] = status
		if r.ProjectID != "" {
			r.Links["location"] = fmt.Sprintf("%s/orgs/%s/projects/%s", g.baseURL, r.OrganizationID, r.ProjectID)
		}
	}); err != nil {
		g.logger.Warn("link decoration failed for %s: %v", commandID, err)
	}
}

func (g *Dispatcher) statusURL(commandID string) string {
	if g.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/commands/%s/status", g.baseURL, commandID)
}
