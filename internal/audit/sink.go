package audit

import (
	"context"
	"sync"
	"time"

	"gatekeeper.org/internal/ids"
	"gatekeeper.org/internal/obs"
)

// Category classifies security events.
type Category string

const (
	CategoryAuth  Category = "auth"
	CategoryAuthz Category = "authz"
	CategoryAdmin Category = "admin"
	CategoryError Category = "error"
)

// Event type names emitted by the core.
const (
	TypeLoginSuccess      = "LOGIN_SUCCESS"
	TypeLoginFailed       = "LOGIN_FAILED"
	TypeAccountLocked     = "ACCOUNT_LOCKED"
	TypeRateLimited       = "RATE_LIMITED"
	TypeTokenIssued       = "TOKEN_ISSUED"
	TypeTokenRefreshed    = "TOKEN_REFRESHED"
	TypeTokenRevoked      = "TOKEN_REVOKED"
	TypeSessionCreated    = "SESSION_CREATED"
	TypeSessionTerminated = "SESSION_TERMINATED"
	TypePermissionGranted = "PERMISSION_GRANTED"
	TypePermissionDenied  = "PERMISSION_DENIED"
	TypeForcedLogout      = "FORCED_LOGOUT"
)

// Event is an immutable security audit record. The core appends events and
// never mutates or deletes them; retention is an external concern.
type Event struct {
	ID          string            `json:"id"`
	Category    Category          `json:"category"`
	Type        string            `json:"type"`
	UserID      string            `json:"user_id,omitempty"`
	At          time.Time         `json:"at"`
	Description string            `json:"description,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

// Publisher forwards events to an external sink (alerting pipeline, DB).
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Sink buffers security events by day, fans them out to in-process
// subscribers and forwards them to the external publisher best-effort.
// Record never fails: a publisher error must not block the security-critical
// path that produced the event.
type Sink struct {
	mu        sync.RWMutex
	byDay     map[string][]Event
	subs      map[int]chan Event
	nextSub   int
	publisher Publisher
	now       func() time.Time
	retention int // days kept in the buffer; 0 keeps everything
}

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Sink) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRetentionDays bounds the in-process day buffer: days older than n are
// dropped as new events arrive. The external publisher keeps the full trail.
func WithRetentionDays(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.retention = n
		}
	}
}

// NewSink constructs a Sink. publisher may be nil; events are then only
// buffered and fanned out locally.
func NewSink(publisher Publisher, opts ...Option) *Sink {
	s := &Sink{
		byDay:     make(map[string][]Event),
		subs:      make(map[int]chan Event),
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record stamps the event with an id and timestamp (when absent), appends it
// to the day buffer, fans it out and forwards it to the publisher.
func (s *Sink) Record(ctx context.Context, evt Event) {
	now := s.now().UTC()
	if evt.At.IsZero() {
		evt.At = now
	}
	if evt.ID == "" {
		evt.ID = ids.NewAt(evt.At)
	}
	if evt.Category == "" {
		evt.Category = CategoryAuth
	}

	day := evt.At.Format("2006-01-02")
	s.mu.Lock()
	s.byDay[day] = append(s.byDay[day], evt)
	if s.retention > 0 {
		cutoff := now.AddDate(0, 0, -s.retention).Format("2006-01-02")
		for d := range s.byDay {
			if d < cutoff {
				delete(s.byDay, d)
			}
		}
	}
	s.mu.Unlock()

	obs.AuditEvents.Inc()
	s.fanOut(evt)
	s.forward(ctx, evt)
}

// Day returns a copy of the events buffered for the given day (2006-01-02).
func (s *Sink) Day(day string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.byDay[day]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Subscribe registers a subscriber and returns a channel which receives
// every recorded event. The channel is closed when ctx ends. Slow
// subscribers drop events rather than block recording.
func (s *Sink) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 64)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

func (s *Sink) fanOut(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// forward delivers the event to the external publisher. Failures and panics
// are logged locally and swallowed.
func (s *Sink) forward(ctx context.Context, evt Event) {
	if s.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			obs.AuditPublishFailures.Inc()
			obs.LogEvent(map[string]any{
				"ts":    s.now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "audit publisher panicked",
				"event": evt.Type,
			})
		}
	}()
	if err := s.publisher.Publish(ctx, evt); err != nil {
		obs.AuditPublishFailures.Inc()
		obs.LogEvent(map[string]any{
			"ts":    s.now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "audit publish failed",
			"event": evt.Type,
			"err":   err.Error(),
		})
	}
}
