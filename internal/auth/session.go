package auth

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatekeeper.org/internal/audit"
	"gatekeeper.org/internal/obs"
)

const sessionShards = 32

// Session termination reasons.
const (
	TerminateLogout          = "logout"
	TerminateIdleTimeout     = "idle_timeout"
	TerminateAbsoluteTimeout = "absolute_timeout"
	TerminateAdminRevoke     = "admin_revoke"
	TerminateSessionLimit    = "session_limit"
	TerminateRefreshReplay   = "refresh_replay"
	TerminateForcedLogout    = "forced_logout"
)

// SessionRegistry tracks one live session per successful authentication.
// Sessions are sharded by id; a separate per-user index serves the
// concurrent-session cap, ListActive and ForceLogoutAll. Expiry is checked
// lazily on access. Terminated is absorbing: no transition leaves it.
type SessionRegistry struct {
	now         func() time.Time
	idleTimeout time.Duration
	absoluteTTL time.Duration
	maxPerUser  int
	revoked     *RevocationRegistry
	sink        *audit.Sink

	shards [sessionShards]sessionShard

	// createMu serializes Create per user so cap enforcement cannot race
	// with concurrent logins for the same account.
	createMu *keyedMutex

	userMu sync.Mutex
	byUser map[string][]string
}

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry constructs a registry. Terminating a session revokes
// its current refresh token through the given revocation registry.
func NewSessionRegistry(revoked *RevocationRegistry, sink *audit.Sink, idleTimeout, absoluteTTL time.Duration, maxPerUser int, now func() time.Time) *SessionRegistry {
	if now == nil {
		now = time.Now
	}
	r := &SessionRegistry{
		now:         now,
		idleTimeout: idleTimeout,
		absoluteTTL: absoluteTTL,
		maxPerUser:  maxPerUser,
		revoked:     revoked,
		sink:        sink,
		createMu:    newKeyedMutex(),
		byUser:      make(map[string][]string),
	}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]*Session)
	}
	return r
}

// Create registers a session for the user, evicting the user's oldest
// session when the concurrent-session cap would be exceeded. Eviction takes
// the same path as logout.
func (r *SessionRegistry) Create(user *User) Session {
	unlock := r.createMu.Lock("user:" + user.ID)
	defer unlock()

	now := r.now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Roles:        append([]string(nil), user.Roles...),
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(r.absoluteTTL),
		Active:       true,
	}

	if r.maxPerUser > 0 {
		for _, id := range r.evictable(user.ID) {
			_ = r.Terminate(id, TerminateSessionLimit)
		}
	}

	// Copy while still holding the shard lock: the moment the session is
	// published another goroutine may terminate it.
	shard := r.shard(sess.ID)
	shard.mu.Lock()
	shard.sessions[sess.ID] = sess
	out := *sess
	shard.mu.Unlock()

	r.userMu.Lock()
	r.byUser[user.ID] = append(r.byUser[user.ID], out.ID)
	r.userMu.Unlock()

	obs.ActiveSessions.Inc()
	r.record(audit.Event{
		Category: audit.CategoryAuth,
		Type:     audit.TypeSessionCreated,
		UserID:   out.UserID,
		Context:  map[string]string{"session_id": out.ID},
	})
	return out
}

// Snapshot returns a liveness-checked copy of the session. An idle or
// absolute timeout discovered here terminates the session and reports
// ErrSessionExpired; unknown or terminated sessions report
// ErrSessionNotFound.
func (r *SessionRegistry) Snapshot(id string) (Session, error) {
	shard := r.shard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[id]
	if !ok || !sess.Active {
		return Session{}, ErrSessionNotFound
	}
	if reason := r.expiryReason(sess); reason != "" {
		r.terminateLocked(sess, reason)
		return Session{}, ErrSessionExpired
	}
	return *sess, nil
}

// Touch records activity on the session, sliding its idle window. A session
// past its idle or absolute boundary is terminated instead and the touch
// fails with ErrSessionExpired.
func (r *SessionRegistry) Touch(id string) error {
	shard := r.shard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[id]
	if !ok || !sess.Active {
		return ErrSessionNotFound
	}
	if reason := r.expiryReason(sess); reason != "" {
		r.terminateLocked(sess, reason)
		return ErrSessionExpired
	}
	sess.LastActivity = r.now().UTC()
	return nil
}

// UpdateRefresh binds the session to its current refresh token and slides
// the idle window. Fails with ErrSessionNotFound/ErrSessionExpired on dead
// sessions so a rotation can never resurrect one.
func (r *SessionRegistry) UpdateRefresh(id, refreshTokenID string, refreshExpiresAt time.Time) error {
	shard := r.shard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[id]
	if !ok || !sess.Active {
		return ErrSessionNotFound
	}
	if reason := r.expiryReason(sess); reason != "" {
		r.terminateLocked(sess, reason)
		return ErrSessionExpired
	}
	sess.RefreshTokenID = refreshTokenID
	sess.RefreshExpiresAt = refreshExpiresAt
	sess.LastActivity = r.now().UTC()
	return nil
}

// Terminate marks the session inactive, revokes its current refresh token
// and emits an audit event. Idempotent: terminating an unknown or already
// terminated session is a no-op.
func (r *SessionRegistry) Terminate(id, reason string) error {
	shard := r.shard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[id]
	if !ok || !sess.Active {
		return nil
	}
	r.terminateLocked(sess, reason)
	return nil
}

// ListActive returns copies of the user's live sessions.
func (r *SessionRegistry) ListActive(userID string) []Session {
	var out []Session
	for _, id := range r.sessionIDs(userID) {
		if sess, err := r.Snapshot(id); err == nil {
			out = append(out, sess)
		}
	}
	return out
}

// TerminateAllForUser ends every session for a user (password change, admin
// action) and returns the number terminated.
func (r *SessionRegistry) TerminateAllForUser(userID, reason string) int {
	terminated := 0
	for _, id := range r.sessionIDs(userID) {
		shard := r.shard(id)
		shard.mu.Lock()
		if sess, ok := shard.sessions[id]; ok && sess.Active {
			r.terminateLocked(sess, reason)
			terminated++
		}
		shard.mu.Unlock()
	}
	return terminated
}

// Sweep terminates sessions past their idle or absolute boundary and drops
// terminated sessions from the per-user index. Expiry is already enforced
// lazily; the sweep just bounds memory.
func (r *SessionRegistry) Sweep() int {
	swept := 0
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.Lock()
		for id, sess := range shard.sessions {
			if sess.Active {
				if reason := r.expiryReason(sess); reason != "" {
					r.terminateLocked(sess, reason)
					swept++
				}
				continue
			}
			delete(shard.sessions, id)
		}
		shard.mu.Unlock()
	}

	r.userMu.Lock()
	for userID, list := range r.byUser {
		live := list[:0]
		for _, id := range list {
			if r.isActive(id) {
				live = append(live, id)
			}
		}
		if len(live) == 0 {
			delete(r.byUser, userID)
			continue
		}
		r.byUser[userID] = live
	}
	r.userMu.Unlock()
	return swept
}

// StartSweeper runs Sweep on the given interval until ctx ends.
func (r *SessionRegistry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// terminateLocked finalizes the session. Caller holds the shard lock.
func (r *SessionRegistry) terminateLocked(sess *Session, reason string) {
	now := r.now().UTC()
	sess.Active = false
	sess.TerminatedAt = &now
	sess.TerminateReason = reason
	if r.revoked != nil && sess.RefreshTokenID != "" {
		r.revoked.Revoke(sess.RefreshTokenID, "session_"+reason, sess.RefreshExpiresAt)
	}
	obs.ActiveSessions.Dec()
	r.record(audit.Event{
		Category:    audit.CategoryAuth,
		Type:        audit.TypeSessionTerminated,
		UserID:      sess.UserID,
		Description: reason,
		Context:     map[string]string{"session_id": sess.ID, "reason": reason},
	})
}

func (r *SessionRegistry) expiryReason(sess *Session) string {
	now := r.now()
	if now.After(sess.ExpiresAt) {
		return TerminateAbsoluteTimeout
	}
	if r.idleTimeout > 0 && now.Sub(sess.LastActivity) > r.idleTimeout {
		return TerminateIdleTimeout
	}
	return ""
}

// evictable returns the oldest active session ids that must go so one more
// session fits under the cap.
func (r *SessionRegistry) evictable(userID string) []string {
	ids := r.sessionIDs(userID)
	var active []string
	for _, id := range ids {
		if r.isActive(id) {
			active = append(active, id)
		}
	}
	over := len(active) - r.maxPerUser + 1
	if over <= 0 {
		return nil
	}
	// byUser is append-ordered, so the front entries are oldest.
	return active[:over]
}

func (r *SessionRegistry) sessionIDs(userID string) []string {
	r.userMu.Lock()
	defer r.userMu.Unlock()
	return append([]string(nil), r.byUser[userID]...)
}

func (r *SessionRegistry) isActive(id string) bool {
	shard := r.shard(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	sess, ok := shard.sessions[id]
	return ok && sess.Active
}

func (r *SessionRegistry) record(evt audit.Event) {
	if r.sink == nil {
		return
	}
	r.sink.Record(context.Background(), evt)
}

func (r *SessionRegistry) shard(id string) *sessionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%sessionShards]
}
