package status

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	provision "github.com/goliatone/go-provision"
)

// Mutation applies one change to a command result under the store's write
// lock. Mutations never see aliased memory.
type Mutation func(*provision.CommandResult)

// Scope filters result listings by organization/project.
type Scope struct {
	OrganizationID  string
	ProjectID       string
	IncludeArchived bool
}

// Store durably records the lifecycle of every dispatched command. Update
// is the sole transition path; terminal records are write-once and further
// updates no-op, returning the stored terminal value.
type Store interface {
	Create(ctx context.Context, cmd provision.Command) (*provision.CommandResult, error)
	Update(ctx context.Context, commandID string, mutate Mutation) (*provision.CommandResult, error)
	Get(ctx context.Context, commandID string) (*provision.CommandResult, error)
	List(ctx context.Context, scope Scope) ([]*provision.CommandResult, error)
}

// InMemoryStore keeps command results in memory with clone-on-read.
type InMemoryStore struct {
	mu      sync.RWMutex
	results map[string]*provision.CommandResult
}

// NewInMemoryStore constructs an empty result store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		results: make(map[string]*provision.CommandResult),
	}
}

func (s *InMemoryStore) Create(_ context.Context, cmd provision.Command) (*provision.CommandResult, error) {
	if s == nil {
		return nil, errors.New("result store not configured", errors.CategoryBadInput).
			WithTextCode("STORE_NOT_CONFIGURED")
	}
	if strings.TrimSpace(cmd.CommandID) == "" {
		return nil, errors.New("command id required", errors.CategoryValidation).
			WithTextCode(provision.ErrCodeValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[cmd.CommandID]; exists {
		return nil, errors.New("command result already exists", errors.CategoryConflict).
			WithTextCode("RESULT_EXISTS").
			WithMetadata(map[string]any{"command_id": cmd.CommandID})
	}

	rec := provision.NewCommandResult(cmd)
	s.results[cmd.CommandID] = rec
	return rec.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, commandID string, mutate Mutation) (*provision.CommandResult, error) {
	if s == nil {
		return nil, errors.New("result store not configured", errors.CategoryBadInput).
			WithTextCode("STORE_NOT_CONFIGURED")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.results[strings.TrimSpace(commandID)]
	if !ok {
		return nil, notFound(commandID)
	}

	// terminal records are write-once; duplicate completion signals no-op.
	// The raw status gates writes so error aggregation can continue while
	// a failing orchestration is still draining its cleanup phase.
	if rec.RawStatus.Terminal() {
		return rec.Clone(), nil
	}

	if mutate != nil {
		mutate(rec)
	}
	rec.LastUpdated = time.Now().UTC()
	return rec.Clone(), nil
}

func (s *InMemoryStore) Get(_ context.Context, commandID string) (*provision.CommandResult, error) {
	if s == nil {
		return nil, errors.New("result store not configured", errors.CategoryBadInput).
			WithTextCode("STORE_NOT_CONFIGURED")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.results[strings.TrimSpace(commandID)]
	if !ok {
		return nil, notFound(commandID)
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) List(_ context.Context, scope Scope) ([]*provision.CommandResult, error) {
	if s == nil {
		return nil, errors.New("result store not configured", errors.CategoryBadInput).
			WithTextCode("STORE_NOT_CONFIGURED")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*provision.CommandResult, 0, len(s.results))
	for _, rec := range s.results {
		if !scopeMatches(scope, rec) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].CommandID < out[j].CommandID
		}
		return out[i].LastUpdated.Before(out[j].LastUpdated)
	})
	return out, nil
}

// ArchiveOlderThan flags terminal results last touched before the cutoff.
// Archived records stay readable; nothing is ever deleted.
func (s *InMemoryStore) ArchiveOlderThan(cutoff time.Time) int {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	archived := 0
	for _, rec := range s.results {
		if rec.Archived || !rec.RawStatus.Terminal() {
			continue
		}
		if rec.LastUpdated.Before(cutoff) {
			rec.Archived = true
			archived++
		}
	}
	return archived
}

func scopeMatches(scope Scope, rec *provision.CommandResult) bool {
	if rec == nil {
		return false
	}
	if rec.Archived && !scope.IncludeArchived {
		return false
	}
	if scope.OrganizationID != "" && scope.OrganizationID != rec.OrganizationID {
		return false
	}
	if scope.ProjectID != "" && scope.ProjectID != rec.ProjectID {
		return false
	}
	return true
}

func notFound(commandID string) error {
	return provision.CloneError(provision.ErrNotFound, "command result not found", nil, map[string]any{
		"command_id": commandID,
	})
}
