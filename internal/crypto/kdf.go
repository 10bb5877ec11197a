package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeyBytes  = 32
	SaltBytes = 16

	proofRounds   = 200_000
	sessionRounds = 100_000
)

// PasswordProof derives the password proof sent (and stored) during the
// authentication handshake.
func PasswordProof(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, proofRounds, KeyBytes, sha256.New)
}

// SessionKey derives the reliable-transport session key from a password
// proof and a per-login session salt.
func SessionKey(proof, sessionSalt []byte) []byte {
	return pbkdf2.Key(proof, sessionSalt, sessionRounds, KeyBytes, sha256.New)
}

// NewSalt returns a fresh random credential or session salt.
func NewSalt() []byte {
	salt := make([]byte, SaltBytes)
	rand.Read(salt)
	return salt
}

// NewKey returns a fresh random symmetric key.
func NewKey() []byte {
	key := make([]byte, KeyBytes)
	rand.Read(key)
	return key
}

// ProofEqual compares two proofs in constant time.
func ProofEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
