package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestGuard(store UserStore, clock *fakeClock) *Guard {
	return NewGuard(store, plainVerifier{}, nil, 5, 15*time.Minute, nil, nil, clock.Now)
}

func TestAuthenticateSuccess(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(testUser("u1", "alice", "viewer"))
	guard := newTestGuard(store, clock)

	user, err := guard.Authenticate(context.Background(), "  Alice ", "secret", "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("unexpected user: %+v", user)
	}

	saved := store.get("alice")
	if saved.LastLoginAt == nil || !saved.LastLoginAt.Equal(clock.Now().UTC()) {
		t.Fatalf("last login not recorded: %v", saved.LastLoginAt)
	}
	if saved.FailedAttempts != 0 {
		t.Fatalf("failed attempts should be zero, got %d", saved.FailedAttempts)
	}
}

func TestAuthenticateUniformFailures(t *testing.T) {
	clock := newFakeClock()
	inactive := testUser("u2", "bob")
	inactive.Active = false
	store := newMemStore(testUser("u1", "alice"), inactive)
	guard := newTestGuard(store, clock)

	cases := []struct {
		name       string
		username   string
		credential string
	}{
		{"unknown user", "mallory", "secret"},
		{"wrong credential", "alice", "nope"},
		{"inactive account", "bob", "secret"},
		{"empty username", "", "secret"},
		{"empty credential", "alice", ""},
	}
	for _, tc := range cases {
		if _, err := guard.Authenticate(context.Background(), tc.username, tc.credential, ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", tc.name, err)
		}
	}
}

func TestLockoutAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(testUser("u1", "alice"))
	guard := newTestGuard(store, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := guard.Authenticate(ctx, "alice", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	saved := store.get("alice")
	if saved.FailedAttempts != 5 {
		t.Fatalf("expected 5 failed attempts, got %d", saved.FailedAttempts)
	}
	if saved.LockoutUntil == nil {
		t.Fatal("expected lockout boundary to be set")
	}

	// Even the correct credential is refused while locked.
	if _, err := guard.Authenticate(ctx, "alice", "secret", ""); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	// After the boundary passes, one more failure re-locks immediately
	// because the counter only resets on success.
	clock.Advance(16 * time.Minute)
	if _, err := guard.Authenticate(ctx, "alice", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := guard.Authenticate(ctx, "alice", "secret", ""); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected relock, got %v", err)
	}

	clock.Advance(16 * time.Minute)
	if _, err := guard.Authenticate(ctx, "alice", "secret", ""); err != nil {
		t.Fatalf("expected success after lockout expiry, got %v", err)
	}
	saved = store.get("alice")
	if saved.FailedAttempts != 0 || saved.LockoutUntil != nil {
		t.Fatalf("expected counter reset, got attempts=%d lockout=%v", saved.FailedAttempts, saved.LockoutUntil)
	}
}

func TestAuthenticateStoreUnavailable(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(testUser("u1", "alice"))
	store.findErr = errors.New("connection refused")
	guard := newTestGuard(store, clock)

	_, err := guard.Authenticate(context.Background(), "alice", "secret", "")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAuthenticateRateLimited(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(testUser("u1", "alice"))
	ipLimits := newLimiterSet(rate.Limit(1.0/60.0), 1, clock.Now)
	guard := NewGuard(store, plainVerifier{}, nil, 5, 15*time.Minute, nil, ipLimits, clock.Now)
	ctx := context.Background()

	if _, err := guard.Authenticate(ctx, "alice", "secret", "10.0.0.1"); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if _, err := guard.Authenticate(ctx, "alice", "secret", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// A different address is not affected.
	if _, err := guard.Authenticate(ctx, "alice", "secret", "10.0.0.2"); err != nil {
		t.Fatalf("different ip: %v", err)
	}
}

func TestConcurrentFailuresSerialized(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(testUser("u1", "alice"))
	guard := NewGuard(store, plainVerifier{}, nil, 100, 15*time.Minute, nil, nil, clock.Now)

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = guard.Authenticate(context.Background(), "alice", "wrong", "")
		}()
	}
	wg.Wait()

	if got := store.get("alice").FailedAttempts; got != workers {
		t.Fatalf("expected %d failed attempts, got %d", workers, got)
	}
}
