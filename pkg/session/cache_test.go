package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"

	"github.com/porthorian/sessionauth/pkg/identity"
	"github.com/porthorian/sessionauth/pkg/listener"
)

type event struct {
	kind      listener.Event
	id        int64
	sessionID string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) OnLogin(_ context.Context, principal identity.Principal, props identity.Properties) error {
	r.add(listener.EventLogin, principal, props)
	return nil
}

func (r *recorder) OnLogout(_ context.Context, principal identity.Principal, props identity.Properties) error {
	r.add(listener.EventLogout, principal, props)
	return nil
}

func (r *recorder) add(kind listener.Event, principal identity.Principal, props identity.Properties) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: kind, id: principal.ID, sessionID: props[identity.PropertySessionID]})
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count(kind listener.Event, id int64) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.kind == kind && e.id == id {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestCache(t *testing.T, cfg Config) (*Cache, *recorder) {
	t.Helper()
	rec := &recorder{}
	registry := listener.NewRegistry(testr.New(t))
	if err := registry.Add(rec); err != nil {
		t.Fatalf("add listener: %v", err)
	}
	cfg.Registry = registry
	cfg.Logger = testr.New(t)

	cache := New(cfg)
	t.Cleanup(cache.Close)
	return cache, rec
}

func newAuth(id int64, sessionID string) *identity.Authentication {
	return &identity.Authentication{
		SessionID:     sessionID,
		Principal:     identity.NewPrincipal(id, fmt.Sprintf("user%d", id), "", []string{"ROLE_USER"}),
		Authenticated: true,
		Method:        identity.MethodPassword,
	}
}

func TestPutNotifiesLoginAsynchronously(t *testing.T) {
	cache, rec := newTestCache(t, Config{})

	cache.Put(1, newAuth(1, "s1"), identity.Properties{identity.PropertyRemoteAddr: "10.0.0.1"})

	if !cache.Contains(1) {
		t.Fatal("expected session to be visible immediately")
	}
	waitFor(t, "login notification", func() bool { return rec.count(listener.EventLogin, 1) == 1 })

	events := rec.snapshot()
	if events[0].sessionID != "s1" {
		t.Fatalf("expected session id property, got %+v", events[0])
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	cache, rec := newTestCache(t, Config{})
	cache.Put(2, newAuth(2, "s2"), nil)

	if !cache.Remove(2, nil) {
		t.Fatal("expected first remove to report a session")
	}
	if cache.Remove(2, nil) {
		t.Fatal("expected second remove to report no session")
	}

	waitFor(t, "dispatcher idle", func() bool { return cache.Pending() == 0 })
	if got := rec.count(listener.EventLogout, 2); got != 1 {
		t.Fatalf("expected exactly one logout, got %d", got)
	}
	if cache.Contains(2) {
		t.Fatal("expected session to be gone")
	}
}

func TestReplaceFiresLoginOnly(t *testing.T) {
	cache, rec := newTestCache(t, Config{})
	cache.Put(3, newAuth(3, "old"), nil)
	cache.Put(3, newAuth(3, "new"), nil)

	waitFor(t, "two logins", func() bool { return rec.count(listener.EventLogin, 3) == 2 })
	if rec.count(listener.EventLogout, 3) != 0 {
		t.Fatal("replacement must not fire a logout")
	}

	got, ok := cache.Get(3)
	if !ok || got.SessionID != "new" {
		t.Fatalf("expected newest session, got %+v", got)
	}
}

func TestRemoveAll(t *testing.T) {
	cache, rec := newTestCache(t, Config{Shards: 3})
	for id := int64(1); id <= 10; id++ {
		cache.Put(id, newAuth(id, fmt.Sprintf("s%d", id)), nil)
	}

	if removed := cache.RemoveAll(nil); removed != 10 {
		t.Fatalf("expected 10 removed, got %d", removed)
	}
	if len(cache.Snapshot()) != 0 {
		t.Fatal("expected empty snapshot")
	}
	if cache.RemoveAll(nil) != 0 {
		t.Fatal("expected second drain to be empty")
	}

	waitFor(t, "ten logouts", func() bool {
		n := 0
		for _, e := range rec.snapshot() {
			if e.kind == listener.EventLogout {
				n++
			}
		}
		return n == 10
	})
}

func TestPerPrincipalOrdering(t *testing.T) {
	cache, rec := newTestCache(t, Config{Workers: 2})

	for i := 0; i < 200; i++ {
		cache.Put(7, newAuth(7, fmt.Sprintf("s%d", i)), nil)
		cache.Remove(7, nil)
	}

	waitFor(t, "all notifications", func() bool { return cache.Pending() == 0 && len(rec.snapshot()) == 400 })

	for i, e := range rec.snapshot() {
		want := listener.EventLogin
		if i%2 == 1 {
			want = listener.EventLogout
		}
		if e.kind != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, e.kind)
		}
		if e.sessionID != fmt.Sprintf("s%d", i/2) {
			t.Fatalf("event %d: expected session s%d, got %s", i, i/2, e.sessionID)
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	cache, _ := newTestCache(t, Config{})
	cache.Put(1, newAuth(1, "s1"), nil)
	cache.Put(2, newAuth(2, "s2"), nil)

	snapshot := cache.Snapshot()
	if len(snapshot) != 2 || snapshot[0].Principal.ID != 1 || snapshot[1].Principal.ID != 2 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	snapshot[0].Principal.Roles[0] = "ROLE_ADMIN"
	got, _ := cache.Get(1)
	if got.Principal.Roles[0] != "ROLE_USER" {
		t.Fatal("snapshot shares state with the cache")
	}

	cache.Put(3, newAuth(3, "s3"), nil)
	if len(snapshot) != 2 {
		t.Fatal("snapshot is a live view")
	}
}

func TestExpiredSessionsAreReaped(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cache, rec := newTestCache(t, Config{Now: clock})

	auth := newAuth(4, "s4")
	expiresAt := now.Add(time.Minute)
	auth.ExpiresAt = &expiresAt
	cache.Put(4, auth, nil)

	if !cache.Contains(4) {
		t.Fatal("expected live session before expiry")
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	if len(cache.Snapshot()) != 0 {
		t.Fatal("snapshot must skip expired sessions")
	}
	if cache.Contains(4) {
		t.Fatal("expected expired session to be absent")
	}
	if cache.Len() != 0 {
		t.Fatal("expected expired session to be removed")
	}
	waitFor(t, "expiry logout", func() bool { return rec.count(listener.EventLogout, 4) == 1 })
}

func TestRemoveIf(t *testing.T) {
	cache, _ := newTestCache(t, Config{})
	cache.Put(5, newAuth(5, "s5"), nil)

	if cache.RemoveIf(5, func(a identity.Authentication) bool { return a.SessionID == "other" }, nil) {
		t.Fatal("expected non-matching session to stay")
	}
	if !cache.RemoveIf(5, func(a identity.Authentication) bool { return a.SessionID == "s5" }, nil) {
		t.Fatal("expected matching session to be removed")
	}
}

func TestRefreshSwapsPrincipalWithoutNotifying(t *testing.T) {
	cache, rec := newTestCache(t, Config{})
	cache.Put(6, newAuth(6, "s6"), nil)
	waitFor(t, "login", func() bool { return rec.count(listener.EventLogin, 6) == 1 })

	updated := identity.NewPrincipal(6, "user6", "", []string{"ROLE_AUDITOR"})
	if _, ok := cache.Refresh(6, func(a identity.Authentication) bool { return a.SessionID == "other" }, updated); ok {
		t.Fatal("expected non-matching session to be left alone")
	}
	got, ok := cache.Refresh(6, func(a identity.Authentication) bool { return a.SessionID == "s6" }, updated)
	if !ok || got.SessionID != "s6" || !got.Principal.HasRole("ROLE_AUDITOR") || got.Principal.HasRole("ROLE_USER") {
		t.Fatalf("unexpected refreshed session %+v %v", got, ok)
	}
	if stored, _ := cache.Get(6); !stored.Principal.HasRole("ROLE_AUDITOR") {
		t.Fatalf("expected stored principal to be refreshed, got %+v", stored.Principal)
	}
	if _, ok := cache.Refresh(7, nil, updated); ok {
		t.Fatal("expected refresh of a missing session to fail")
	}

	cache.Close()
	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("expected only the original login, got %d events", n)
	}
}

func TestListenerFailuresAreContained(t *testing.T) {
	registry := listener.NewRegistry(testr.New(t))
	rec := &recorder{}
	panicking := &listener.Funcs{Login: func(context.Context, identity.Principal, identity.Properties) error {
		panic("listener bug")
	}}
	for _, l := range []listener.Listener{panicking, rec} {
		if err := registry.Add(l); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	cache := New(Config{Registry: registry, Logger: testr.New(t)})
	defer cache.Close()

	cache.Put(6, newAuth(6, "s6"), nil)
	cache.Put(8, newAuth(8, "s8"), nil)

	waitFor(t, "logins despite panics", func() bool {
		return rec.count(listener.EventLogin, 6) == 1 && rec.count(listener.EventLogin, 8) == 1
	})
}

func TestListenerMayCallBackIntoCache(t *testing.T) {
	registry := listener.NewRegistry(testr.New(t))
	cache := New(Config{Registry: registry, Workers: 1, Logger: testr.New(t)})
	defer cache.Close()

	seen := make(chan int, 1)
	reentrant := &listener.Funcs{Login: func(_ context.Context, principal identity.Principal, _ identity.Properties) error {
		cache.Remove(principal.ID, nil)
		seen <- len(cache.Snapshot())
		return nil
	}}
	if err := registry.Add(reentrant); err != nil {
		t.Fatalf("add: %v", err)
	}

	cache.Put(9, newAuth(9, "s9"), nil)

	select {
	case n := <-seen:
		if n != 0 {
			t.Fatalf("expected listener to observe its own removal, got %d sessions", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener deadlocked against the cache")
	}
}

func TestRemovedListenerIsNotInvokedAgain(t *testing.T) {
	registry := listener.NewRegistry(testr.New(t))
	stays := &recorder{}
	leaves := &recorder{}
	for _, l := range []listener.Listener{stays, leaves} {
		if err := registry.Add(l); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	cache := New(Config{Registry: registry, Logger: testr.New(t)})
	defer cache.Close()

	cache.Put(1, newAuth(1, "s1"), nil)
	waitFor(t, "first login", func() bool { return leaves.count(listener.EventLogin, 1) == 1 })

	if !registry.Remove(leaves) {
		t.Fatal("expected listener to be registered")
	}
	cache.Put(2, newAuth(2, "s2"), nil)
	waitFor(t, "second login", func() bool { return stays.count(listener.EventLogin, 2) == 1 })

	if leaves.count(listener.EventLogin, 2) != 0 {
		t.Fatal("removed listener received a later notification")
	}
}

func TestConcurrentMutations(t *testing.T) {
	cache, rec := newTestCache(t, Config{})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := int64(g*100 + i)
				cache.Put(id, newAuth(id, "s"), nil)
				_ = cache.Snapshot()
				cache.Contains(id)
				if i%2 == 0 {
					cache.Remove(id, nil)
				}
			}
		}(g)
	}
	wg.Wait()

	if got := len(cache.Snapshot()); got != 400 {
		t.Fatalf("expected 400 live sessions, got %d", got)
	}
	waitFor(t, "all notifications", func() bool { return cache.Pending() == 0 && len(rec.snapshot()) == 1200 })
}

func TestCloseDrainsQueue(t *testing.T) {
	registry := listener.NewRegistry(testr.New(t))
	rec := &recorder{}
	if err := registry.Add(rec); err != nil {
		t.Fatalf("add: %v", err)
	}
	cache := New(Config{Registry: registry, Logger: testr.New(t)})

	for id := int64(1); id <= 50; id++ {
		cache.Put(id, newAuth(id, "s"), nil)
	}
	cache.Close()

	if got := len(rec.snapshot()); got != 50 {
		t.Fatalf("expected close to deliver all 50 notifications, got %d", got)
	}
	if cache.Pending() != 0 {
		t.Fatalf("expected no pending notifications, got %d", cache.Pending())
	}

	cache.Put(99, newAuth(99, "s"), nil)
	if !cache.Contains(99) {
		t.Fatal("cache should keep working after close")
	}
	cache.Close()
}
