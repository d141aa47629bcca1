package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatekeeper.org/internal/obs"
)

// Claims are the JWT claims carried by gatekeeper tokens.
type Claims struct {
	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"token_type"`
	SessionID string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates signed access/refresh token pairs.
// Tokens are immutable once issued; refresh supersedes rather than mutates.
type TokenManager struct {
	keys       *KeyRing
	revoked    *RevocationRegistry
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	skew       time.Duration
	now        func() time.Time
}

// NewTokenManager wires the key ring and revocation registry into a manager.
func NewTokenManager(keys *KeyRing, revoked *RevocationRegistry, issuer string, accessTTL, refreshTTL, skew time.Duration, now func() time.Time) *TokenManager {
	if now == nil {
		now = time.Now
	}
	return &TokenManager{
		keys:       keys,
		revoked:    revoked,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		skew:       skew,
		now:        now,
	}
}

// Issue mints a signed access/refresh pair for the user bound to the given
// session. Both tokens carry fresh unique ids.
func (m *TokenManager) Issue(user *User, session *Session) (TokenPair, error) {
	if user == nil || session == nil {
		return TokenPair{}, errors.New("auth: user and session are required")
	}
	now := m.now().UTC()
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	access, err := m.sign(Claims{
		Roles:     dedupeRoles(user.Roles),
		TokenType: string(TokenTypeAccess),
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshID := uuid.NewString()
	refresh, err := m.sign(Claims{
		TokenType: string(TokenTypeRefresh),
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
			ID:        refreshID,
		},
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		RefreshTokenID:   refreshID,
	}, nil
}

// Validate verifies signature and timestamps (with clock-skew leeway),
// rejects revoked ids and wrong token types. Claims are returned alongside
// ErrTokenRevoked and ErrTokenTypeMismatch so callers can inspect the token
// that was rejected (refresh-replay detection depends on this).
func (m *TokenManager) Validate(raw string, want TokenType) (*Claims, error) {
	claims, err := m.parse(raw, false)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			obs.TokenValidations.WithLabelValues("expired").Inc()
		} else {
			obs.TokenValidations.WithLabelValues("malformed").Inc()
		}
		return nil, err
	}
	if m.revoked != nil && m.revoked.IsRevoked(claims.ID) {
		obs.TokenValidations.WithLabelValues("revoked").Inc()
		return claims, ErrTokenRevoked
	}
	if claims.TokenType != string(want) {
		obs.TokenValidations.WithLabelValues("wrong_type").Inc()
		return claims, ErrTokenTypeMismatch
	}
	obs.TokenValidations.WithLabelValues("ok").Inc()
	return claims, nil
}

// Inspect verifies the signature but skips timestamp validation. Used by
// revocation, which must accept tokens that have already expired.
func (m *TokenManager) Inspect(raw string) (*Claims, error) {
	return m.parse(raw, true)
}

func (m *TokenManager) sign(claims Claims) (string, error) {
	key := m.keys.Active()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.Kid
	return token.SignedString(key.Secret)
}

func (m *TokenManager) parse(raw string, skipTimes bool) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }),
		jwt.WithLeeway(m.skew),
		jwt.WithIssuedAt(),
	}
	if skipTimes {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, m.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (m *TokenManager) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return m.keys.Active().Secret, nil
	}
	secret, ok := m.keys.Lookup(kid)
	if !ok {
		return nil, ErrTokenMalformed
	}
	return secret, nil
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
