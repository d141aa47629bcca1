package auth

import "context"

// UserStore is the persistent user registry consumed by the core. Lookups
// return ErrNotFound for unknown usernames; any other failure is treated as
// ErrStoreUnavailable by callers.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)

	// Save writes back counter/lockout/last-login mutations.
	Save(ctx context.Context, u *User) error
}
