package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"gatekeeper.org/internal/audit"
	"gatekeeper.org/internal/obs"
)

const (
	defaultIssuer           = "gatekeeper"
	defaultAccessTTL        = 15 * time.Minute
	defaultRefreshTTL       = 14 * 24 * time.Hour
	defaultClockSkew        = 30 * time.Second
	defaultIdleTimeout      = 15 * time.Minute
	defaultAbsoluteTTL      = 12 * time.Hour
	defaultMaxSessions      = 5
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
	defaultSweepInterval    = time.Minute
)

// Service is the authentication facade: credential guard, token lifecycle,
// session and revocation registries, and the authorization engine, all
// writing to the audit sink.
type Service struct {
	users    UserStore
	sink     *audit.Sink
	keys     *KeyRing
	tokens   *TokenManager
	revoked  *RevocationRegistry
	sessions *SessionRegistry
	guard    *Guard
	authz    *Authorizer

	now          func() time.Time
	sessionLocks *keyedMutex

	issuer           string
	accessTTL        time.Duration
	refreshTTL       time.Duration
	clockSkew        time.Duration
	idleTimeout      time.Duration
	absoluteTTL      time.Duration
	maxSessions      int
	lockoutThreshold int
	lockoutDuration  time.Duration

	verifier  CredentialVerifier
	roles     RoleSet
	rules     map[string]string
	userLimit *limiterSet
	ipLimit   *limiterSet

	userRate  rate.Limit
	userBurst int
	ipRate    rate.Limit
	ipBurst   int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClockSkew configures the tolerance applied to token timestamps.
func WithClockSkew(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d >= 0 {
			s.clockSkew = d
		}
		return nil
	}
}

// WithIdleTimeout configures the session idle boundary.
func WithIdleTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.idleTimeout = d
		}
		return nil
	}
}

// WithAbsoluteTimeout configures the absolute session lifetime.
func WithAbsoluteTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.absoluteTTL = d
		}
		return nil
	}
}

// WithMaxSessionsPerUser caps concurrent sessions per user; the oldest
// session is evicted when the cap is exceeded.
func WithMaxSessionsPerUser(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.maxSessions = n
		}
		return nil
	}
}

// WithLockoutPolicy configures the failed-attempt threshold and lockout
// duration.
func WithLockoutPolicy(threshold int, duration time.Duration) ServiceOption {
	return func(s *Service) error {
		if threshold > 0 {
			s.lockoutThreshold = threshold
		}
		if duration > 0 {
			s.lockoutDuration = duration
		}
		return nil
	}
}

// WithUserRateLimit enables per-user token-bucket limiting of
// authentication attempts.
func WithUserRateLimit(limit rate.Limit, burst int) ServiceOption {
	return func(s *Service) error {
		s.userRate = limit
		s.userBurst = burst
		return nil
	}
}

// WithIPRateLimit enables per-IP token-bucket limiting of authentication
// attempts.
func WithIPRateLimit(limit rate.Limit, burst int) ServiceOption {
	return func(s *Service) error {
		s.ipRate = limit
		s.ipBurst = burst
		return nil
	}
}

// WithVerifier overrides the credential verifier.
func WithVerifier(v CredentialVerifier) ServiceOption {
	return func(s *Service) error {
		if v != nil {
			s.verifier = v
		}
		return nil
	}
}

// WithRoles replaces the builtin role set.
func WithRoles(roles RoleSet) ServiceOption {
	return func(s *Service) error {
		if roles != nil {
			s.roles = roles
		}
		return nil
	}
}

// WithRules replaces the builtin resource/action rule table.
func WithRules(rules map[string]string) ServiceOption {
	return func(s *Service) error {
		if rules != nil {
			s.rules = rules
		}
		return nil
	}
}

// NewService wires the subsystem together.
func NewService(users UserStore, keys *KeyRing, sink *audit.Sink, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if keys == nil {
		return nil, errors.New("auth: key ring is required")
	}
	s := &Service{
		users:            users,
		sink:             sink,
		keys:             keys,
		now:              time.Now,
		sessionLocks:     newKeyedMutex(),
		issuer:           defaultIssuer,
		accessTTL:        defaultAccessTTL,
		refreshTTL:       defaultRefreshTTL,
		clockSkew:        defaultClockSkew,
		idleTimeout:      defaultIdleTimeout,
		absoluteTTL:      defaultAbsoluteTTL,
		maxSessions:      defaultMaxSessions,
		lockoutThreshold: defaultLockoutThreshold,
		lockoutDuration:  defaultLockoutDuration,
		verifier:         BcryptVerifier{},
		roles:            DefaultRoles(),
		rules:            DefaultRules(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.userRate > 0 {
		s.userLimit = newLimiterSet(s.userRate, s.userBurst, s.now)
	}
	if s.ipRate > 0 {
		s.ipLimit = newLimiterSet(s.ipRate, s.ipBurst, s.now)
	}

	s.revoked = NewRevocationRegistry(s.now)
	s.tokens = NewTokenManager(s.keys, s.revoked, s.issuer, s.accessTTL, s.refreshTTL, s.clockSkew, s.now)
	s.sessions = NewSessionRegistry(s.revoked, s.sink, s.idleTimeout, s.absoluteTTL, s.maxSessions, s.now)
	s.guard = NewGuard(s.users, s.verifier, s.sink, s.lockoutThreshold, s.lockoutDuration, s.userLimit, s.ipLimit, s.now)
	s.authz = NewAuthorizer(s.roles, s.rules, s.sink)
	return s, nil
}

// Login authenticates the credential, creates a session bound to a fresh
// refresh token and returns the minted pair.
func (s *Service) Login(ctx context.Context, username, credential, ip string) (TokenPair, Session, error) {
	user, err := s.guard.Authenticate(ctx, username, credential, ip)
	if err != nil {
		return TokenPair{}, Session{}, err
	}

	sess := s.sessions.Create(user)
	pair, err := s.tokens.Issue(user, &sess)
	if err != nil {
		// No partial state: a session without tokens must not survive.
		_ = s.sessions.Terminate(sess.ID, TerminateAdminRevoke)
		return TokenPair{}, Session{}, err
	}
	if err := s.sessions.UpdateRefresh(sess.ID, pair.RefreshTokenID, pair.RefreshExpiresAt); err != nil {
		return TokenPair{}, Session{}, err
	}
	sess.RefreshTokenID = pair.RefreshTokenID
	sess.RefreshExpiresAt = pair.RefreshExpiresAt

	s.record(ctx, audit.Event{
		Category: audit.CategoryAuth,
		Type:     audit.TypeTokenIssued,
		UserID:   user.ID,
		Context:  map[string]string{"session_id": sess.ID},
	})
	return pair, sess, nil
}

// ValidateToken verifies the raw token and returns the principal it proves.
func (s *Service) ValidateToken(ctx context.Context, raw string, want TokenType) (Principal, error) {
	claims, err := s.tokens.Validate(raw, want)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Roles:     claims.Roles,
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair and slides the
// session's idle window. Rotation is mandatory and single-use: the old
// refresh token is revoked, and presenting it again is treated as a
// compromise signal that terminates the session.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (TokenPair, error) {
	claims, err := s.tokens.Validate(rawRefresh, TokenTypeRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) && claims != nil && claims.SessionID != "" {
			s.killReplayedSession(ctx, claims)
			return TokenPair{}, ErrTokenRevoked
		}
		obs.TokenRefreshes.WithLabelValues("rejected").Inc()
		return TokenPair{}, err
	}

	unlock := s.sessionLocks.Lock("session:" + claims.SessionID)
	defer unlock()

	sess, err := s.sessions.Snapshot(claims.SessionID)
	if err != nil {
		obs.TokenRefreshes.WithLabelValues("rejected").Inc()
		return TokenPair{}, err
	}
	if sess.RefreshTokenID != claims.ID {
		// A token that validates but is no longer the session's current
		// refresh token has escaped rotation. Same compromise signal.
		s.killReplayedSession(ctx, claims)
		return TokenPair{}, ErrTokenRevoked
	}

	user := &User{ID: sess.UserID, Roles: sess.Roles}
	pair, err := s.tokens.Issue(user, &sess)
	if err != nil {
		obs.TokenRefreshes.WithLabelValues("rejected").Inc()
		return TokenPair{}, err
	}

	oldExpiry := s.now().Add(s.refreshTTL)
	if claims.ExpiresAt != nil {
		oldExpiry = claims.ExpiresAt.Time
	}
	s.revoked.Revoke(claims.ID, "rotated", oldExpiry)
	if err := s.sessions.UpdateRefresh(sess.ID, pair.RefreshTokenID, pair.RefreshExpiresAt); err != nil {
		obs.TokenRefreshes.WithLabelValues("rejected").Inc()
		return TokenPair{}, err
	}

	s.record(ctx, audit.Event{
		Category: audit.CategoryAuth,
		Type:     audit.TypeTokenRefreshed,
		UserID:   sess.UserID,
		Context:  map[string]string{"session_id": sess.ID},
	})
	obs.TokenRefreshes.WithLabelValues("ok").Inc()
	return pair, nil
}

func (s *Service) killReplayedSession(ctx context.Context, claims *Claims) {
	_ = s.sessions.Terminate(claims.SessionID, TerminateRefreshReplay)
	s.record(ctx, audit.Event{
		Category:    audit.CategoryError,
		Type:        audit.TypeTokenRevoked,
		UserID:      claims.Subject,
		Description: "refresh token replay detected",
		Context:     map[string]string{"session_id": claims.SessionID, "token_id": claims.ID},
	})
	obs.TokenRefreshes.WithLabelValues("replay").Inc()
}

// RevokeToken pushes the token's id into the revocation registry regardless
// of its remaining natural lifetime. A refresh token additionally
// terminates the session it belongs to.
func (s *Service) RevokeToken(ctx context.Context, raw, reason string) error {
	claims, err := s.tokens.Inspect(raw)
	if err != nil {
		return err
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	} else {
		expiresAt = s.now().Add(s.refreshTTL)
	}
	s.Revoke(ctx, claims.ID, reason, expiresAt)
	if claims.TokenType == string(TokenTypeRefresh) && claims.SessionID != "" {
		_ = s.sessions.Terminate(claims.SessionID, TerminateAdminRevoke)
	}
	return nil
}

// Revoke records a revocation for a bare token id. Idempotent.
func (s *Service) Revoke(ctx context.Context, tokenID, reason string, expiresAt time.Time) {
	s.revoked.Revoke(tokenID, reason, expiresAt)
	s.record(ctx, audit.Event{
		Category:    audit.CategoryAdmin,
		Type:        audit.TypeTokenRevoked,
		Description: reason,
		Context:     map[string]string{"token_id": tokenID},
	})
}

// IsRevoked reports whether a token id is currently revoked.
func (s *Service) IsRevoked(tokenID string) bool {
	return s.revoked.IsRevoked(tokenID)
}

// Logout terminates the session and revokes its current refresh token.
// Idempotent.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Terminate(sessionID, TerminateLogout)
}

// Touch slides the session's idle window; see SessionRegistry.Touch.
func (s *Service) Touch(sessionID string) error {
	return s.sessions.Touch(sessionID)
}

// ListActiveSessions returns the user's live sessions.
func (s *Service) ListActiveSessions(userID string) []Session {
	return s.sessions.ListActive(userID)
}

// ForceLogoutAll terminates every session for a user. Used for password
// change and administrative actions.
func (s *Service) ForceLogoutAll(ctx context.Context, userID, reason string) int {
	if reason == "" {
		reason = TerminateForcedLogout
	}
	n := s.sessions.TerminateAllForUser(userID, reason)
	s.record(ctx, audit.Event{
		Category:    audit.CategoryAdmin,
		Type:        audit.TypeForcedLogout,
		UserID:      userID,
		Description: reason,
		Context:     map[string]string{"sessions": strconv.Itoa(n)},
	})
	return n
}

// Authorize checks the principal against the role/permission model.
func (s *Service) Authorize(ctx context.Context, p Principal, resource, action string) error {
	return s.authz.Authorize(ctx, p, resource, action)
}

// ValidateContext validates the bearer token attached to the context and
// returns a derived context carrying the resulting principal. A context
// without a token fails as malformed.
func (s *Service) ValidateContext(ctx context.Context, want TokenType) (context.Context, Principal, error) {
	raw, ok := TokenFromContext(ctx)
	if !ok {
		return ctx, Principal{}, ErrTokenMalformed
	}
	p, err := s.ValidateToken(ctx, raw, want)
	if err != nil {
		return ctx, Principal{}, err
	}
	return ContextWithPrincipal(ctx, p), p, nil
}

// AuthorizeContext authorizes the principal previously attached by
// ValidateContext. A context without a principal is denied.
func (s *Service) AuthorizeContext(ctx context.Context, resource, action string) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return ErrPermissionDenied
	}
	return s.authz.Authorize(ctx, p, resource, action)
}

// ReplaceRoles atomically reloads the process-wide role set.
func (s *Service) ReplaceRoles(roles RoleSet) {
	s.authz.ReplaceRoles(roles)
}

// RotateSigningKey installs new signing material; tokens under the previous
// key keep validating until they expire naturally.
func (s *Service) RotateSigningKey(secret []byte) (SigningKey, error) {
	return s.keys.Rotate(secret)
}

// Sessions exposes the session registry for wiring and tests.
func (s *Service) Sessions() *SessionRegistry { return s.sessions }

// Revocations exposes the revocation registry for wiring and tests.
func (s *Service) Revocations() *RevocationRegistry { return s.revoked }

// StartBackground launches the periodic sweeps: expired revocation entries,
// expired sessions and idle rate-limiter buckets.
func (s *Service) StartBackground(ctx context.Context) {
	s.revoked.StartSweeper(ctx, defaultSweepInterval)
	s.sessions.StartSweeper(ctx, defaultSweepInterval)
	s.userLimit.StartSweeper(ctx, defaultSweepInterval)
	s.ipLimit.StartSweeper(ctx, defaultSweepInterval)
}

func (s *Service) record(ctx context.Context, evt audit.Event) {
	if s.sink == nil {
		return
	}
	s.sink.Record(ctx, evt)
}
