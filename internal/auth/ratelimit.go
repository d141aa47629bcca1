package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterTTL = 5 * time.Minute

// limiterSet keeps a token bucket per key (user name or client IP) and
// forgets buckets that have been idle longer than limiterTTL.
type limiterSet struct {
	mu      sync.Mutex
	buckets map[string]*limiterBucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type limiterBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLimiterSet(limit rate.Limit, burst int, now func() time.Time) *limiterSet {
	if now == nil {
		now = time.Now
	}
	return &limiterSet{
		buckets: make(map[string]*limiterBucket),
		limit:   limit,
		burst:   burst,
		now:     now,
	}
}

// Allow reports whether an event for key fits the bucket right now.
func (s *limiterSet) Allow(key string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = &limiterBucket{lim: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.seen = s.now()
	return b.lim.Allow()
}

// Sweep forgets idle buckets and returns the count removed.
func (s *limiterSet) Sweep() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-limiterTTL)
	removed := 0
	for key, b := range s.buckets {
		if b.seen.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// StartSweeper evicts idle buckets on the given interval until ctx ends.
func (s *limiterSet) StartSweeper(ctx context.Context, interval time.Duration) {
	if s == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
