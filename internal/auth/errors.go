package auth

import "errors"

var (
	// ErrInvalidCredentials is the uniform authentication failure. It never
	// reveals whether the username exists; the audit trail records the
	// precise cause.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrAccountLocked     = errors.New("auth: account locked")
	ErrTokenExpired      = errors.New("auth: token expired")
	ErrTokenMalformed    = errors.New("auth: token malformed")
	ErrTokenRevoked      = errors.New("auth: token revoked")
	ErrTokenTypeMismatch = errors.New("auth: token type mismatch")
	ErrSessionExpired    = errors.New("auth: session expired")
	ErrSessionNotFound   = errors.New("auth: session not found")
	ErrPermissionDenied  = errors.New("auth: permission denied")
	ErrRateLimited       = errors.New("auth: rate limited")

	// ErrStoreUnavailable wraps external store failures. It is fatal for the
	// call but must not corrupt in-memory session or revocation state.
	ErrStoreUnavailable = errors.New("auth: store unavailable")

	// ErrNotFound is returned by UserStore implementations for unknown users.
	ErrNotFound = errors.New("auth: not found")
)
