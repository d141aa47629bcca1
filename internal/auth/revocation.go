package auth

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"gatekeeper.org/internal/obs"
)

const revocationShards = 32

// RevocationRegistry tracks revoked token ids. Membership checks sit on the
// validation hot path, so the registry is sharded with per-shard RWMutexes
// instead of a single global lock.
type RevocationRegistry struct {
	now    func() time.Time
	shards [revocationShards]revocationShard
}

type revocationShard struct {
	mu      sync.RWMutex
	entries map[string]RevocationEntry
}

// NewRevocationRegistry constructs an empty registry.
func NewRevocationRegistry(now func() time.Time) *RevocationRegistry {
	if now == nil {
		now = time.Now
	}
	r := &RevocationRegistry{now: now}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]RevocationEntry)
	}
	return r
}

// Revoke inserts an entry keyed by token id with the token's natural expiry
// as its garbage-collection deadline. Revoking an already-revoked or unknown
// id is idempotent and never fails.
func (r *RevocationRegistry) Revoke(tokenID, reason string, expiresAt time.Time) {
	if tokenID == "" {
		return
	}
	shard := r.shard(tokenID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, exists := shard.entries[tokenID]; exists {
		return
	}
	shard.entries[tokenID] = RevocationEntry{
		TokenID:   tokenID,
		Reason:    reason,
		RevokedAt: r.now().UTC(),
		ExpiresAt: expiresAt,
	}
	obs.Revocations.Inc()
}

// IsRevoked reports whether the token id is currently revoked. Entries past
// their natural expiry count as absent: an expired token cannot be replayed
// anyway, so there is no need to retain revocation state forever.
func (r *RevocationRegistry) IsRevoked(tokenID string) bool {
	if tokenID == "" {
		return false
	}
	shard := r.shard(tokenID)
	shard.mu.RLock()
	entry, ok := shard.entries[tokenID]
	shard.mu.RUnlock()
	if !ok {
		return false
	}
	if !entry.ExpiresAt.IsZero() && r.now().After(entry.ExpiresAt) {
		return false
	}
	return true
}

// Entry returns the revocation record for a token id, if present and live.
func (r *RevocationRegistry) Entry(tokenID string) (RevocationEntry, bool) {
	shard := r.shard(tokenID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	entry, ok := shard.entries[tokenID]
	if !ok || (!entry.ExpiresAt.IsZero() && r.now().After(entry.ExpiresAt)) {
		return RevocationEntry{}, false
	}
	return entry, true
}

// Sweep removes entries past their natural expiry and returns the count.
func (r *RevocationRegistry) Sweep() int {
	now := r.now()
	removed := 0
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.Lock()
		for id, entry := range shard.entries {
			if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
				delete(shard.entries, id)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Len reports the number of live entries. Intended for tests and metrics.
func (r *RevocationRegistry) Len() int {
	total := 0
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

// StartSweeper evicts expired entries on the given interval until ctx ends.
func (r *RevocationRegistry) StartSweeper(ctx context.Context, interval time.Duration) {
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

func (r *RevocationRegistry) shard(tokenID string) *revocationShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tokenID))
	return &r.shards[h.Sum32()%revocationShards]
}
