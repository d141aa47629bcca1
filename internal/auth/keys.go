package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const minSecretLen = 32

// SigningKey is HMAC signing material with its key identifier.
type SigningKey struct {
	Kid       string
	Secret    []byte
	CreatedAt time.Time
	RetiredAt *time.Time
}

// KeyRing is the secret-facility adapter: one active signing key plus
// retired keys kept long enough to validate not-yet-expired tokens signed
// under them.
type KeyRing struct {
	mu      sync.RWMutex
	active  SigningKey
	retired map[string]SigningKey
	now     func() time.Time
}

// NewKeyRing constructs a ring with the given active secret. The secret must
// be at least 32 bytes for HS256.
func NewKeyRing(secret []byte) (*KeyRing, error) {
	if len(secret) < minSecretLen {
		return nil, errors.New("auth: signing secret must be at least 32 bytes")
	}
	k := &KeyRing{
		retired: make(map[string]SigningKey),
		now:     time.Now,
	}
	k.active = SigningKey{
		Kid:       newKid(),
		Secret:    append([]byte(nil), secret...),
		CreatedAt: k.now().UTC(),
	}
	return k, nil
}

// Active returns the current signing key.
func (k *KeyRing) Active() SigningKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Rotate installs a new active key and retires the previous one so tokens
// signed under it keep validating until they expire naturally.
func (k *KeyRing) Rotate(secret []byte) (SigningKey, error) {
	if len(secret) < minSecretLen {
		return SigningKey{}, errors.New("auth: signing secret must be at least 32 bytes")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now().UTC()
	old := k.active
	old.RetiredAt = &now
	k.retired[old.Kid] = old

	k.active = SigningKey{
		Kid:       newKid(),
		Secret:    append([]byte(nil), secret...),
		CreatedAt: now,
	}
	return k.active, nil
}

// Lookup resolves verification material by key id. The active key and every
// retired key are eligible.
func (k *KeyRing) Lookup(kid string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if kid == k.active.Kid {
		return k.active.Secret, true
	}
	if key, ok := k.retired[kid]; ok {
		return key.Secret, true
	}
	return nil, false
}

// Prune drops retired keys that have been out of service longer than maxAge.
// Returns the number of keys removed.
func (k *KeyRing) Prune(maxAge time.Duration) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	cutoff := k.now().UTC().Add(-maxAge)
	removed := 0
	for kid, key := range k.retired {
		if key.RetiredAt != nil && key.RetiredAt.Before(cutoff) {
			delete(k.retired, kid)
			removed++
		}
	}
	return removed
}

func newKid() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
