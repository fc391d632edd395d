package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	provision "github.com/goliatone/go-provision"
)

// Checkpoint is the durable cursor for one orchestration instance. The
// completed-step list lets a restarted engine resume after the last
// finished activity instead of replaying the whole plan.
type Checkpoint struct {
	CommandID  string
	InstanceID string
	PlanName   string
	Status     provision.RuntimeStatus
	Completed  []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Done reports whether the named step already completed.
func (c *Checkpoint) Done(stepName string) bool {
	if c == nil {
		return false
	}
	for _, name := range c.Completed {
		if name == stepName {
			return true
		}
	}
	return false
}

func (c *Checkpoint) clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Completed = append([]string(nil), c.Completed...)
	return &cp
}

// CheckpointStore persists orchestration cursors.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, commandID string) (*Checkpoint, error)
	MarkStep(ctx context.Context, commandID, stepName string) error
	SetStatus(ctx context.Context, commandID string, status provision.RuntimeStatus) error
}

// InMemoryCheckpointStore keeps checkpoints in memory.
type InMemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewInMemoryCheckpointStore constructs an empty checkpoint store.
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{
		checkpoints: make(map[string]*Checkpoint),
	}
}

func (s *InMemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	if s == nil {
		return errors.New("checkpoint store not configured", errors.CategoryBadInput).
			WithTextCode("STORE_NOT_CONFIGURED")
	}
	if cp == nil || strings.TrimSpace(cp.CommandID) == "" {
		return errors.New("checkpoint requires a command id", errors.CategoryValidation).
			WithTextCode(provision.ErrCodeValidation)
	}

	cp = cp.clone()
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.checkpoints[cp.CommandID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.checkpoints[cp.CommandID] = cp
	return nil
}

func (s *InMemoryCheckpointStore) Load(_ context.Context, commandID string) (*Checkpoint, error) {
	if s == nil {
		return nil, errors.New("checkpoint store not configured", errors.CategoryBadInput).
			WithTextCode("STORE_NOT_CONFIGURED")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[strings.TrimSpace(commandID)]
	if !ok {
		return nil, nil
	}
	return cp.clone(), nil
}

func (s *InMemoryCheckpointStore) MarkStep(_ context.Context, commandID, stepName string) error {
	if s == nil {
		return errors.New("checkpoint store not configured", errors.CategoryBadInput).
			WithTextCode("STORE_NOT_CONFIGURED")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[strings.TrimSpace(commandID)]
	if !ok {
		return provision.CloneError(provision.ErrNotFound, "checkpoint not found", nil, map[string]any{
			"command_id": commandID,
		})
	}
	if !cp.Done(stepName) {
		cp.Completed = append(cp.Completed, stepName)
	}
	cp.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryCheckpointStore) SetStatus(_ context.Context, commandID string, status provision.RuntimeStatus) error {
	if s == nil {
		return errors.New("checkpoint store not configured", errors.CategoryBadInput).
			WithTextCode("STORE_NOT_CONFIGURED")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[strings.TrimSpace(commandID)]
	if !ok {
		return provision.CloneError(provision.ErrNotFound, "checkpoint not found", nil, map[string]any{
			"command_id": commandID,
		})
	}
	cp.Status = status
	cp.UpdatedAt = time.Now().UTC()
	return nil
}
