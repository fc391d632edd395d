package locker

import (
	"context"
	"sync"
	"testing"
	"time"

	provision "github.com/goliatone/go-provision"
)

func TestAcquireIsExclusivePerKey(t *testing.T) {
	m := NewManager()

	h, err := m.Acquire(context.Background(), provision.KindProject, "p-1", "orc-a")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if h.Key() != "project:p-1" {
		t.Fatalf("unexpected lock key %s", h.Key())
	}

	if _, err := m.Acquire(context.Background(), provision.KindProject, "p-1", "orc-b"); !provision.IsLockContention(err) {
		t.Fatalf("expected lock contention error, got %v", err)
	}

	// a different entity id is a different key
	if _, err := m.Acquire(context.Background(), provision.KindProject, "p-2", "orc-b"); err != nil {
		t.Fatalf("acquire on distinct key failed: %v", err)
	}
}

func TestAcquireReentersForSameHolder(t *testing.T) {
	m := NewManager()

	outer, err := m.Acquire(context.Background(), provision.KindProject, "p-1", "orc-a")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	inner, err := m.Acquire(context.Background(), provision.KindProject, "p-1", "orc-a")
	if err != nil {
		t.Fatalf("re-entrant acquire failed: %v", err)
	}

	m.Release(inner)
	if !m.IsLockedBy(provision.KindProject, "p-1", "orc-a") {
		t.Fatal("lock should survive inner release")
	}
	m.Release(outer)
	if m.IsLockedBy(provision.KindProject, "p-1", "orc-a") {
		t.Fatal("lock should be gone after outer release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager()

	h, err := m.Acquire(context.Background(), provision.KindProvider, "azure", "orc-a")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	m.Release(h)
	m.Release(h)
	m.Release(nil)

	if _, err := m.Acquire(context.Background(), provision.KindProvider, "azure", "orc-b"); err != nil {
		t.Fatalf("key should be free after release: %v", err)
	}
}

func TestReleaseAllDropsEveryHolderLock(t *testing.T) {
	m := NewManager()

	if _, err := m.Acquire(context.Background(), provision.KindProject, "p-1", "orc-a"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	// re-enter so depth > 1; ReleaseAll must still drop it
	if _, err := m.Acquire(context.Background(), provision.KindProject, "p-1", "orc-a"); err != nil {
		t.Fatalf("re-entrant acquire failed: %v", err)
	}
	if _, err := m.Acquire(context.Background(), provision.KindProvider, "azure", "orc-a"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := m.Acquire(context.Background(), provision.KindProject, "p-2", "orc-b"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if released := m.ReleaseAll("orc-a"); released != 2 {
		t.Fatalf("expected 2 released locks, got %d", released)
	}
	if m.Len() != 1 {
		t.Fatalf("expected only orc-b lock to remain, have %d", m.Len())
	}
}

func TestRequireLockGuardsMutatingActivities(t *testing.T) {
	m := NewManager()

	if err := m.RequireLock(provision.KindProject, "p-1", "orc-a"); err == nil {
		t.Fatal("expected not-authorized error without lock")
	} else if provision.ErrorCode(err) != provision.ErrCodeNotAuthorized {
		t.Fatalf("unexpected error code %s", provision.ErrorCode(err))
	}

	if _, err := m.Acquire(context.Background(), provision.KindProject, "p-1", "orc-a"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := m.RequireLock(provision.KindProject, "p-1", "orc-a"); err != nil {
		t.Fatalf("holder should pass the guard: %v", err)
	}
	if err := m.RequireLock(provision.KindProject, "p-1", "orc-b"); err == nil {
		t.Fatal("non-holder should be rejected")
	}
}

func TestExpiredLocksAreReclaimed(t *testing.T) {
	m := NewManager(WithTTL(5 * time.Millisecond))

	if _, err := m.Acquire(context.Background(), provision.KindProject, "p-1", "orc-dead"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	// another holder can take over an expired lock without a sweep
	if _, err := m.Acquire(context.Background(), provision.KindProject, "p-1", "orc-live"); err != nil {
		t.Fatalf("expired lock should be reclaimable: %v", err)
	}
	m.ReleaseAll("orc-live")

	if _, err := m.Acquire(context.Background(), provision.KindProvider, "azure", "orc-dead"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if swept := m.SweepExpired(); swept != 1 {
		t.Fatalf("expected 1 swept lock, got %d", swept)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty manager after sweep, have %d", m.Len())
	}
}

func TestConcurrentAcquireGrantsSingleHolder(t *testing.T) {
	m := NewManager()

	const workers = 32
	var wg sync.WaitGroup
	granted := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			holder := "orc-" + string(rune('a'+n%26))
			if _, err := m.Acquire(context.Background(), provision.KindProject, "p-1", holder); err == nil {
				granted <- holder
			}
		}(i)
	}
	wg.Wait()
	close(granted)

	winners := map[string]bool{}
	for h := range granted {
		winners[h] = true
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winning holder, got %d", len(winners))
	}
}
