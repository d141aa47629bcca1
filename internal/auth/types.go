package auth

import "time"

// User is the identity record owned by the external user store. The core
// holds a read-only projection during a request and writes back the
// failed-attempt counter, lockout boundary and last-login timestamp.
type User struct {
	ID             string
	Username       string
	Email          string
	PasswordHash   string
	Roles          []string
	Active         bool
	FailedAttempts int
	LockoutUntil   *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Role maps a name to its permission keys. Permission keys support wildcard
// suffixes, e.g. "building:*" grants "building:read".
type Role struct {
	Name        string
	Permissions []string
}

// TokenType tags a token as access or refresh.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPair carries the freshly minted access and refresh tokens.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RefreshTokenID   string
}

// Session is the server-side record of one authenticated client. Exactly one
// exists per active login; mutations go through the SessionRegistry.
type Session struct {
	ID               string
	UserID           string
	Roles            []string
	CreatedAt        time.Time
	LastActivity     time.Time
	ExpiresAt        time.Time
	RefreshTokenID   string
	RefreshExpiresAt time.Time
	Active           bool
	TerminatedAt     *time.Time
	TerminateReason  string
}

// RevocationEntry marks a token id as rejected regardless of cryptographic
// validity. ExpiresAt equals the token's own natural expiry so entries can
// be garbage-collected once the token would have expired anyway.
type RevocationEntry struct {
	TokenID   string
	Reason    string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// Principal is the authenticated identity extracted from a validated token.
type Principal struct {
	UserID    string
	SessionID string
	Roles     []string
}

// HasRole reports whether the principal carries the given role name.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}
