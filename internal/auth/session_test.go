package auth

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(clock *fakeClock, maxPerUser int) (*SessionRegistry, *RevocationRegistry) {
	revoked := NewRevocationRegistry(clock.Now)
	reg := NewSessionRegistry(revoked, nil, 15*time.Minute, 12*time.Hour, maxPerUser, clock.Now)
	return reg, revoked
}

func TestSessionIdleTimeout(t *testing.T) {
	clock := newFakeClock()
	reg, _ := newTestRegistry(clock, 5)
	sess := reg.Create(testUser("u1", "alice"))

	// Activity inside the window slides it.
	clock.Advance(14 * time.Minute)
	if err := reg.Touch(sess.ID); err != nil {
		t.Fatalf("Touch inside idle window: %v", err)
	}
	clock.Advance(14 * time.Minute)
	if err := reg.Touch(sess.ID); err != nil {
		t.Fatalf("Touch after slide: %v", err)
	}

	// Silence past the boundary expires the session.
	clock.Advance(16 * time.Minute)
	if err := reg.Touch(sess.ID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	// Terminated is absorbing.
	if err := reg.Touch(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after termination, got %v", err)
	}

	got, _ := snapshotAny(reg, sess.ID)
	if got != nil {
		t.Fatalf("terminated session must not snapshot: %+v", got)
	}
}

func snapshotAny(reg *SessionRegistry, id string) (*Session, error) {
	sess, err := reg.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func TestSessionAbsoluteTimeout(t *testing.T) {
	clock := newFakeClock()
	reg, _ := newTestRegistry(clock, 5)
	sess := reg.Create(testUser("u1", "alice"))

	// Keep the session busy so only the absolute boundary can fire.
	// 51 touches 14 minutes apart stay inside the idle window and reach
	// 11h54m; the next touch crosses the 12h absolute boundary.
	for i := 0; i < 51; i++ {
		clock.Advance(14 * time.Minute)
		if err := reg.Touch(sess.ID); err != nil {
			t.Fatalf("touch %d: %v", i, err)
		}
	}
	clock.Advance(14 * time.Minute)
	if err := reg.Touch(sess.ID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected absolute expiry, got %v", err)
	}
}

func TestSessionCapEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	reg, _ := newTestRegistry(clock, 2)
	user := testUser("u1", "alice")

	first := reg.Create(user)
	clock.Advance(time.Minute)
	second := reg.Create(user)
	clock.Advance(time.Minute)
	third := reg.Create(user)

	active := reg.ListActive("u1")
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}
	for _, s := range active {
		if s.ID == first.ID {
			t.Fatal("oldest session should have been evicted")
		}
	}
	if _, err := reg.Snapshot(second.ID); err != nil {
		t.Fatalf("second session must survive: %v", err)
	}
	if _, err := reg.Snapshot(third.ID); err != nil {
		t.Fatalf("third session must survive: %v", err)
	}
}

func TestConcurrentCreateRespectsCap(t *testing.T) {
	clock := newFakeClock()
	reg, _ := newTestRegistry(clock, 1)
	user := testUser("u1", "alice")

	const workers = 16
	sessions := make(chan Session, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			sessions <- reg.Create(user)
		}()
	}
	wg.Wait()
	close(sessions)

	// Every returned copy was taken at creation time, before any
	// concurrent eviction could touch it.
	for sess := range sessions {
		if !sess.Active || sess.UserID != "u1" {
			t.Fatalf("stale session copy returned: %+v", sess)
		}
	}

	if got := reg.ListActive("u1"); len(got) != 1 {
		t.Fatalf("cap of 1 must hold under concurrent creates, got %d", len(got))
	}
}

func TestTerminateRevokesRefreshToken(t *testing.T) {
	clock := newFakeClock()
	reg, revoked := newTestRegistry(clock, 5)
	sess := reg.Create(testUser("u1", "alice"))

	refreshExp := clock.Now().Add(14 * 24 * time.Hour)
	if err := reg.UpdateRefresh(sess.ID, "jti-1", refreshExp); err != nil {
		t.Fatalf("UpdateRefresh: %v", err)
	}

	if err := reg.Terminate(sess.ID, TerminateLogout); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !revoked.IsRevoked("jti-1") {
		t.Fatal("terminating a session must revoke its refresh token")
	}
	entry, _ := revoked.Entry("jti-1")
	if entry.Reason != "session_logout" {
		t.Fatalf("unexpected revocation reason: %s", entry.Reason)
	}

	// Idempotent.
	if err := reg.Terminate(sess.ID, TerminateLogout); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
}

func TestTerminateAllForUser(t *testing.T) {
	clock := newFakeClock()
	reg, _ := newTestRegistry(clock, 5)
	user := testUser("u1", "alice")

	reg.Create(user)
	reg.Create(user)
	other := reg.Create(testUser("u2", "bob"))

	if n := reg.TerminateAllForUser("u1", TerminateForcedLogout); n != 2 {
		t.Fatalf("expected 2 terminated, got %d", n)
	}
	if len(reg.ListActive("u1")) != 0 {
		t.Fatal("alice must have no live sessions")
	}
	if _, err := reg.Snapshot(other.ID); err != nil {
		t.Fatalf("bob's session must survive: %v", err)
	}
}

func TestSessionSweep(t *testing.T) {
	clock := newFakeClock()
	reg, _ := newTestRegistry(clock, 5)
	reg.Create(testUser("u1", "alice"))
	reg.Create(testUser("u1", "alice"))

	clock.Advance(16 * time.Minute)
	if swept := reg.Sweep(); swept != 2 {
		t.Fatalf("expected 2 swept sessions, got %d", swept)
	}
	// Second pass drops the terminated records and compacts the index.
	reg.Sweep()
	if len(reg.ListActive("u1")) != 0 {
		t.Fatal("expected empty registry after sweep")
	}
}
