package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper.org/internal/audit"
	"gatekeeper.org/internal/obs"
)

// Guard verifies presented credentials and enforces the failed-attempt
// lockout policy. Updates to a user's counter are serialized per username so
// two simultaneous failures cannot both observe a pre-lockout counter.
type Guard struct {
	store     UserStore
	verifier  CredentialVerifier
	sink      *audit.Sink
	now       func() time.Time
	threshold int
	lockout   time.Duration

	locks      *keyedMutex
	userLimits *limiterSet
	ipLimits   *limiterSet
}

// NewGuard constructs a guard. userLimits and ipLimits may be nil to disable
// rate limiting on that dimension.
func NewGuard(store UserStore, verifier CredentialVerifier, sink *audit.Sink, threshold int, lockout time.Duration, userLimits, ipLimits *limiterSet, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{
		store:      store,
		verifier:   verifier,
		sink:       sink,
		now:        now,
		threshold:  threshold,
		lockout:    lockout,
		locks:      newKeyedMutex(),
		userLimits: userLimits,
		ipLimits:   ipLimits,
	}
}

// Authenticate verifies the presented credential for the username. The error
// surface is uniform: unknown user, wrong credential and inactive account
// all return ErrInvalidCredentials so callers cannot enumerate accounts. The
// audit trail records the precise cause.
func (g *Guard) Authenticate(ctx context.Context, username, credential, ip string) (*User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || credential == "" {
		g.auditFailure(ctx, "", username, "empty_input")
		obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	if ip != "" && !g.ipLimits.Allow(ip) {
		g.auditRateLimited(ctx, username, "ip", ip)
		obs.LoginAttempts.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}
	if !g.userLimits.Allow(username) {
		g.auditRateLimited(ctx, username, "user", ip)
		obs.LoginAttempts.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	unlock := g.locks.Lock("user:" + username)
	defer unlock()

	user, err := g.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			g.auditFailure(ctx, "", username, "unknown_user")
			obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
			return nil, ErrInvalidCredentials
		}
		obs.LoginAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: find user: %v", ErrStoreUnavailable, err)
	}

	if !user.Active {
		g.auditFailure(ctx, user.ID, username, "user_inactive")
		obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	now := g.now().UTC()
	if user.LockoutUntil != nil && now.Before(*user.LockoutUntil) {
		g.record(ctx, audit.Event{
			Category:    audit.CategoryAuth,
			Type:        audit.TypeLoginFailed,
			UserID:      user.ID,
			Description: "account locked",
			Context:     map[string]string{"username": username, "locked_until": user.LockoutUntil.Format(time.RFC3339)},
		})
		obs.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, ErrAccountLocked
	}

	if verr := g.verifier.Verify(user.PasswordHash, credential); verr != nil {
		return nil, g.handleFailedVerification(ctx, user, username, now)
	}

	// Successful verification is the only transition that resets the
	// failed-attempt counter.
	user.FailedAttempts = 0
	user.LockoutUntil = nil
	user.LastLoginAt = &now
	if err := g.store.Save(ctx, user); err != nil {
		obs.LoginAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: save user: %v", ErrStoreUnavailable, err)
	}

	g.record(ctx, audit.Event{
		Category: audit.CategoryAuth,
		Type:     audit.TypeLoginSuccess,
		UserID:   user.ID,
		Context:  map[string]string{"username": username, "ip": ip},
	})
	obs.LoginAttempts.WithLabelValues("ok").Inc()
	return user, nil
}

func (g *Guard) handleFailedVerification(ctx context.Context, user *User, username string, now time.Time) error {
	user.FailedAttempts++
	locked := false
	if g.threshold > 0 && user.FailedAttempts >= g.threshold {
		until := now.Add(g.lockout)
		user.LockoutUntil = &until
		locked = true
	}
	if err := g.store.Save(ctx, user); err != nil {
		obs.LoginAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: save user: %v", ErrStoreUnavailable, err)
	}

	if locked {
		g.record(ctx, audit.Event{
			Category:    audit.CategoryAuth,
			Type:        audit.TypeAccountLocked,
			UserID:      user.ID,
			Description: "failed-attempt threshold reached",
			Context: map[string]string{
				"username":     username,
				"attempts":     fmt.Sprintf("%d", user.FailedAttempts),
				"locked_until": user.LockoutUntil.Format(time.RFC3339),
			},
		})
	}
	g.auditFailure(ctx, user.ID, username, "bad_credential")
	obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
	return ErrInvalidCredentials
}

func (g *Guard) auditFailure(ctx context.Context, userID, username, cause string) {
	g.record(ctx, audit.Event{
		Category:    audit.CategoryAuth,
		Type:        audit.TypeLoginFailed,
		UserID:      userID,
		Description: cause,
		Context:     map[string]string{"username": username},
	})
}

func (g *Guard) auditRateLimited(ctx context.Context, username, dimension, ip string) {
	g.record(ctx, audit.Event{
		Category:    audit.CategoryAuth,
		Type:        audit.TypeRateLimited,
		Description: "authentication rate limit exceeded",
		Context:     map[string]string{"username": username, "dimension": dimension, "ip": ip},
	})
}

func (g *Guard) record(ctx context.Context, evt audit.Event) {
	if g.sink == nil {
		return
	}
	g.sink.Record(ctx, evt)
}
