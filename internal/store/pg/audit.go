package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gatekeeper.org/internal/audit"
)

var _ audit.Publisher = (*Store)(nil)

// Publish archives a security event. Called best-effort by the audit sink;
// a failure here never blocks the operation that produced the event.
func (s *Store) Publish(ctx context.Context, evt audit.Event) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	var rawCtx []byte
	if len(evt.Context) > 0 {
		bytes, err := json.Marshal(evt.Context)
		if err != nil {
			return fmt.Errorf("marshal event context: %w", err)
		}
		rawCtx = bytes
	}
	_, err := s.db.ExecContext(ctx, `
		insert into security_events (id, category, event_type, user_id, occurred_at, description, context)
		values ($1, $2, $3, nullif($4,''), $5, nullif($6,''), $7)
	`, evt.ID, string(evt.Category), evt.Type, evt.UserID, evt.At, evt.Description, rawCtx)
	return err
}

// EventsForUser returns the archived trail for one user, newest first.
func (s *Store) EventsForUser(ctx context.Context, userID string, limit int) ([]audit.Event, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, category, event_type, coalesce(user_id,''), occurred_at, coalesce(description,''), context
		from security_events
		where user_id = $1
		order by occurred_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			evt      audit.Event
			category string
			rawCtx   []byte
		)
		if err := rows.Scan(&evt.ID, &category, &evt.Type, &evt.UserID, &evt.At, &evt.Description, &rawCtx); err != nil {
			return nil, err
		}
		evt.Category = audit.Category(category)
		if len(rawCtx) > 0 {
			if err := json.Unmarshal(rawCtx, &evt.Context); err != nil {
				return nil, fmt.Errorf("decode event context: %w", err)
			}
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
