package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks a presented credential against a stored hash.
// The core treats it as opaque; hashing primitives live behind it.
type CredentialVerifier interface {
	Verify(hash, credential string) error
}

// BcryptVerifier is the default verifier.
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(hash, credential string) error {
	if hash == "" {
		return errors.New("credential hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential))
}

// HashCredential hashes a plaintext credential with bcrypt. Provided for
// provisioning and tests; the core itself only verifies.
func HashCredential(credential string) (string, error) {
	if len(credential) == 0 {
		return "", errors.New("credential is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
