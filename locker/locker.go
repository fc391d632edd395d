package locker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	provision "github.com/goliatone/go-provision"
)

// DefaultTTL bounds how long a lock survives without release. Lock state is
// volatile; the TTL is the crash-recovery backstop that lets a sweeper
// reclaim locks whose holder died.
const DefaultTTL = 35 * time.Minute

// Handle is the proof of lock ownership returned by Acquire. Release takes
// the handle back; a handle released twice is a no-op.
type Handle struct {
	key        string
	holder     string
	acquiredAt time.Time
}

// Key returns the composite lock key, e.g. "project:1234".
func (h *Handle) Key() string { return h.key }

// Holder returns the owning orchestration instance id.
func (h *Handle) Holder() string { return h.holder }

// AcquiredAt returns when the underlying lock was first taken.
func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }

type lockEntry struct {
	holder     string
	acquiredAt time.Time
	depth      int
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the lock expiry backstop.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithLogger(l provision.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager hands out exclusive locks keyed by entity kind + id. The manager
// never queues: a held key fails fast with a contention error and the
// caller decides whether to retry. Acquire is re-entrant for the holder
// that already owns the key.
type Manager struct {
	mu     sync.Mutex
	locks  map[string]*lockEntry
	ttl    time.Duration
	logger provision.Logger
}

// NewManager constructs an empty lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks: make(map[string]*lockEntry),
		ttl:   DefaultTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = provision.NormalizeLogger(m.logger)
	return m
}

// LockKey builds the composite key for one entity.
func LockKey(kind provision.DocumentKind, entityID string) string {
	return string(kind) + ":" + strings.TrimSpace(entityID)
}

// Acquire claims the lock for (kind, entityID) on behalf of holder. A
// holder that already owns the key re-enters without delay; any other
// holder fails fast with a contention error.
func (m *Manager) Acquire(ctx context.Context, kind provision.DocumentKind, entityID, holder string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "context canceled before lock acquisition").
			WithTextCode("LOCK_CONTEXT_CANCELLED")
	}
	if strings.TrimSpace(entityID) == "" || strings.TrimSpace(string(kind)) == "" {
		return nil, errors.New("lock key requires entity kind and id", errors.CategoryBadInput).
			WithTextCode("LOCK_KEY_INVALID")
	}
	if strings.TrimSpace(holder) == "" {
		return nil, errors.New("lock holder required", errors.CategoryBadInput).
			WithTextCode("LOCK_HOLDER_INVALID")
	}

	key := LockKey(kind, entityID)
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.locks[key]
	if held && m.expired(entry, now) {
		// holder crashed without releasing; reclaim
		m.logger.Warn("reclaiming expired lock %s held by %s", key, entry.holder)
		delete(m.locks, key)
		held = false
	}

	if held {
		if entry.holder == holder {
			entry.depth++
			return &Handle{key: key, holder: holder, acquiredAt: entry.acquiredAt}, nil
		}
		return nil, provision.CloneError(provision.ErrLockContention, "", nil, map[string]any{
			"key":         key,
			"holder":      holder,
			"held_by":     entry.holder,
			"acquired_at": entry.acquiredAt,
		})
	}

	m.locks[key] = &lockEntry{holder: holder, acquiredAt: now, depth: 1}
	return &Handle{key: key, holder: holder, acquiredAt: now}, nil
}

// Release returns one acquisition of the handle's lock. Releasing an
// already-released or foreign handle is a no-op, keeping duplicate cleanup
// signals idempotent.
func (m *Manager) Release(handle *Handle) {
	if handle == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.locks[handle.key]
	if !held || entry.holder != handle.holder {
		return
	}
	entry.depth--
	if entry.depth <= 0 {
		delete(m.locks, handle.key)
	}
}

// ReleaseAll drops every lock owned by holder regardless of re-entrancy
// depth. Used in the orchestration cleanup phase.
func (m *Manager) ReleaseAll(holder string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for key, entry := range m.locks {
		if entry.holder == holder {
			delete(m.locks, key)
			released++
		}
	}
	return released
}

// IsLockedBy reports whether holder currently owns the lock for the entity.
func (m *Manager) IsLockedBy(kind provision.DocumentKind, entityID, holder string) bool {
	key := LockKey(kind, entityID)
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.locks[key]
	if !held || m.expired(entry, now) {
		return false
	}
	return entry.holder == holder
}

// RequireLock is the guard rail in front of read-modify-write activities:
// it rejects with a not-authorized error when holder does not own the
// entity's lock.
func (m *Manager) RequireLock(kind provision.DocumentKind, entityID, holder string) error {
	if m.IsLockedBy(kind, entityID, holder) {
		return nil
	}
	return provision.CloneError(provision.ErrNotAuthorized, "", nil, map[string]any{
		"key":    LockKey(kind, entityID),
		"holder": holder,
	})
}

// Holder returns the current owner of the entity's lock, if any.
func (m *Manager) Holder(kind provision.DocumentKind, entityID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.locks[LockKey(kind, entityID)]
	if !held || m.expired(entry, time.Now().UTC()) {
		return "", false
	}
	return entry.holder, true
}

// SweepExpired removes locks past their TTL, returning how many were
// reclaimed. Scheduled by the janitor.
func (m *Manager) SweepExpired() int {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	swept := 0
	for key, entry := range m.locks {
		if m.expired(entry, now) {
			m.logger.Warn("sweeping expired lock %s held by %s", key, entry.holder)
			delete(m.locks, key)
			swept++
		}
	}
	return swept
}

// Len returns the number of currently held locks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Manager) expired(entry *lockEntry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(entry.acquiredAt) > m.ttl
}
