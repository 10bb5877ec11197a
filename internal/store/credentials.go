package store

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/Codeblinders/Chat-App/internal/crypto"
)

// Auth handshake modes reported in auth_salt.
const (
	ModeRegister = "register"
	ModeLogin    = "login"
)

// credentialRecord is the on-disk shape of one user entry.
type credentialRecord struct {
	Salt   string  `json:"salt"`    // base64
	PwHash *string `json:"pw_hash"` // base64; nil until the first proof lands
}

// Credentials is the durable username -> {salt, password-hash} mapping.
// Records are created and mutated by authentication only and never deleted.
type Credentials struct {
	path string
	mu   sync.Mutex
}

func OpenCredentials(path string) *Credentials {
	return &Credentials{path: path}
}

// EnsureSalt returns the credential salt for username, creating a record
// with a fresh salt and no hash when none exists. registered reports
// whether a record was already present (login mode) as opposed to freshly
// created (registration mode).
func (c *Credentials) EnsureSalt(username string) (salt []byte, registered bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	db := make(map[string]credentialRecord)
	if err := readJSON(c.path, &db); err != nil {
		return nil, false, fmt.Errorf("store: read credentials: %w", err)
	}
	if rec, ok := db[username]; ok {
		salt, err := base64.StdEncoding.DecodeString(rec.Salt)
		if err != nil {
			return nil, false, fmt.Errorf("store: corrupt salt for %q: %w", username, err)
		}
		return salt, true, nil
	}

	salt = crypto.NewSalt()
	db[username] = credentialRecord{Salt: base64.StdEncoding.EncodeToString(salt)}
	if err := writeJSON(c.path, db, 0o600); err != nil {
		return nil, false, fmt.Errorf("store: write credentials: %w", err)
	}
	return salt, false, nil
}

// Verify checks a password proof against the stored record.
//
// Trust-on-first-use: when the record exists but holds no hash yet, the
// proof is accepted and becomes the permanent credential. This is the
// deliberate registration policy, not a reconciliation fallback.
//
// found is false when no record exists at all, in which case the caller
// should have the client restart the handshake.
func (c *Credentials) Verify(username string, proof []byte) (ok, found bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	db := make(map[string]credentialRecord)
	if err := readJSON(c.path, &db); err != nil {
		return false, false, fmt.Errorf("store: read credentials: %w", err)
	}
	rec, exists := db[username]
	if !exists {
		return false, false, nil
	}

	if rec.PwHash == nil {
		h := base64.StdEncoding.EncodeToString(proof)
		rec.PwHash = &h
		db[username] = rec
		if err := writeJSON(c.path, db, 0o600); err != nil {
			return false, true, fmt.Errorf("store: write credentials: %w", err)
		}
		return true, true, nil
	}

	stored, err := base64.StdEncoding.DecodeString(*rec.PwHash)
	if err != nil {
		return false, true, fmt.Errorf("store: corrupt hash for %q: %w", username, err)
	}
	return crypto.ProofEqual(stored, proof), true, nil
}
