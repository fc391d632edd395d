package orchestrator

import (
	"context"
	"sync"

	provision "github.com/goliatone/go-provision"
)

// Context is the per-instance handle passed to plan steps. It exposes the
// command under execution, lock-ownership guards, progress reporting, and
// sub-command dispatch. Safe for use from concurrent steps of one stage.
type Context struct {
	engine     *Engine
	cmd        provision.Command
	instanceID string

	mu     sync.Mutex
	result provision.Payload
}

// Command returns the immutable command under execution.
func (oc *Context) Command() provision.Command {
	return oc.cmd
}

// InstanceID returns the orchestration instance id, which doubles as the
// lock holder identity.
func (oc *Context) InstanceID() string {
	return oc.instanceID
}

// Logger returns the engine logger scoped to this instance.
func (oc *Context) Logger() provision.Logger {
	return provision.WithLoggerFields(oc.engine.logger, map[string]any{
		"command_id": oc.cmd.CommandID,
		"instance":   oc.instanceID,
	})
}

// RequireLock is the guard rail for read-modify-write steps: it fails with
// a not-authorized error unless this instance owns the entity's lock.
func (oc *Context) RequireLock(kind provision.DocumentKind, entityID string) error {
	return oc.engine.locks.RequireLock(kind, entityID, oc.instanceID)
}

// SetCustomStatus publishes free-text progress on the command result.
func (oc *Context) SetCustomStatus(ctx context.Context, text string) {
	_, err := oc.engine.results.Update(ctx, oc.cmd.CommandID, func(r *provision.CommandResult) {
		r.CustomStatus = text
	})
	if err != nil {
		oc.Logger().Warn("custom status update failed: %v", err)
	}
}

// AddWarning records a non-fatal diagnostic on the command result.
// Warnings never flip the runtime status.
func (oc *Context) AddWarning(ctx context.Context, message string) {
	_, err := oc.engine.results.Update(ctx, oc.cmd.CommandID, func(r *provision.CommandResult) {
		r.AppendError(message, provision.SeverityWarning)
	})
	if err != nil {
		oc.Logger().Warn("warning update failed: %v", err)
	}
}

// SetResult stages the final entity snapshot published on success.
func (oc *Context) SetResult(payload provision.Payload) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.result = payload
}

func (oc *Context) stagedResult() provision.Payload {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.result
}

// DispatchChild runs a sub-command through the same engine and waits for
// its terminal result. The child holds its own locks and tracks its own
// lifecycle; the parent decides what to do with a failed child.
func (oc *Context) DispatchChild(ctx context.Context, action provision.CommandAction, payload provision.Payload, plan Plan) (*provision.CommandResult, error) {
	child := oc.cmd.ChildCommand(action, payload)
	return oc.engine.Execute(ctx, child, plan)
}
