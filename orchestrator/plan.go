package orchestrator

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	provision "github.com/goliatone/go-provision"
	"github.com/goliatone/go-provision/activity"
)

// StepFunc is one unit of work in a plan. Steps run through the activity
// executor and receive the orchestration context for lock guards, status
// text, and sub-command dispatch.
type StepFunc func(ctx context.Context, oc *Context) error

// Step is a named activity invocation. Retry options override the engine's
// activity defaults for this step only.
type Step struct {
	Name   string
	Status string
	Run    StepFunc
	Retry  []activity.Option
}

// Stage is a fan-out group: every step in a stage may run concurrently;
// stages themselves run strictly in order.
type Stage struct {
	Name  string
	Steps []Step
}

// LockTarget names one entity the plan mutates and must hold a lock for.
type LockTarget struct {
	Kind     provision.DocumentKind
	EntityID string
}

// Plan is the declarative activity graph for one command: which entities
// to lock and which stages to execute.
type Plan struct {
	Name   string
	Locks  []LockTarget
	Stages []Stage
}

// Validate rejects structurally broken plans before execution starts.
func (p Plan) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("plan name required", errors.CategoryValidation).
			WithTextCode(provision.ErrCodeValidation)
	}
	if len(p.Stages) == 0 {
		return errors.New("plan requires at least one stage", errors.CategoryValidation).
			WithTextCode(provision.ErrCodeValidation).
			WithMetadata(map[string]any{"plan": p.Name})
	}

	seen := map[string]bool{}
	for si, stage := range p.Stages {
		if len(stage.Steps) == 0 {
			return errors.New("stage requires at least one step", errors.CategoryValidation).
				WithTextCode(provision.ErrCodeValidation).
				WithMetadata(map[string]any{"plan": p.Name, "stage_index": si})
		}
		for _, step := range stage.Steps {
			name := strings.TrimSpace(step.Name)
			if name == "" {
				return errors.New("step name required", errors.CategoryValidation).
					WithTextCode(provision.ErrCodeValidation).
					WithMetadata(map[string]any{"plan": p.Name, "stage_index": si})
			}
			if seen[name] {
				// the checkpoint cursor keys on step names
				return errors.New("duplicate step name", errors.CategoryValidation).
					WithTextCode(provision.ErrCodeValidation).
					WithMetadata(map[string]any{"plan": p.Name, "step": name})
			}
			seen[name] = true
			if step.Run == nil {
				return errors.New("step run func required", errors.CategoryValidation).
					WithTextCode(provision.ErrCodeValidation).
					WithMetadata(map[string]any{"plan": p.Name, "step": name})
			}
		}
	}

	for _, target := range p.Locks {
		if strings.TrimSpace(string(target.Kind)) == "" || strings.TrimSpace(target.EntityID) == "" {
			return errors.New("lock target requires kind and entity id", errors.CategoryValidation).
				WithTextCode(provision.ErrCodeValidation).
				WithMetadata(map[string]any{"plan": p.Name})
		}
	}
	return nil
}

// StepNames lists every step in declaration order.
func (p Plan) StepNames() []string {
	var names []string
	for _, stage := range p.Stages {
		for _, step := range stage.Steps {
			names = append(names, step.Name)
		}
	}
	return names
}

// TargetLocks resolves the plan's lock set, defaulting to the command's
// own target entity when the plan declares none.
func (p Plan) TargetLocks(cmd provision.Command) []LockTarget {
	if len(p.Locks) > 0 {
		return p.Locks
	}
	kind, id := cmd.Target()
	if kind == "" || id == "" {
		return nil
	}
	return []LockTarget{{Kind: kind, EntityID: id}}
}
