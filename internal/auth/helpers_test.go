package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeClock is a controllable time source shared by the tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore is an in-memory UserStore keyed by username.
type memStore struct {
	mu      sync.Mutex
	users   map[string]*User
	findErr error
	saveErr error
}

func newMemStore(users ...*User) *memStore {
	s := &memStore{users: make(map[string]*User)}
	for _, u := range users {
		s.users[u.Username] = u
	}
	return s
}

func (s *memStore) FindByUsername(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	u, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) Save(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, ok := s.users[user.Username]; !ok {
		return ErrNotFound
	}
	cp := *user
	s.users[user.Username] = &cp
	return nil
}

func (s *memStore) get(username string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.users[username]
	return &cp
}

// plainVerifier compares the credential to the stored "hash" directly so
// tests do not pay bcrypt cost.
type plainVerifier struct{}

func (plainVerifier) Verify(hash, credential string) error {
	if hash != credential {
		return errors.New("mismatch")
	}
	return nil
}

func testUser(id, username string, roles ...string) *User {
	return &User{
		ID:           id,
		Username:     username,
		PasswordHash: "secret",
		Roles:        roles,
		Active:       true,
	}
}

func mustKeyRing() *KeyRing {
	ring, err := NewKeyRing([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		panic(fmt.Sprintf("key ring: %v", err))
	}
	return ring
}
