package store

import (
	"encoding/base64"
	"fmt"
	"sync"
)

// UDPKeys is the shared unordered-transport key store. The reliable server
// writes a fresh key per login; the relay process looks keys up on first
// contact. Because the two servers are independent processes, every Get
// re-reads the file rather than caching.
type UDPKeys struct {
	path string
	mu   sync.Mutex
}

func OpenUDPKeys(path string) *UDPKeys {
	return &UDPKeys{path: path}
}

// Set persists key for username, replacing any previous one.
func (k *UDPKeys) Set(username string, key []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	db := make(map[string]string)
	if err := readJSON(k.path, &db); err != nil {
		return fmt.Errorf("store: read udp keys: %w", err)
	}
	db[username] = base64.StdEncoding.EncodeToString(key)
	if err := writeJSON(k.path, db, 0o600); err != nil {
		return fmt.Errorf("store: write udp keys: %w", err)
	}
	return nil
}

// Get returns the current key for username. ok is false when the user has
// not authenticated over the reliable transport yet.
func (k *UDPKeys) Get(username string) (key []byte, ok bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	db := make(map[string]string)
	if err := readJSON(k.path, &db); err != nil {
		return nil, false, fmt.Errorf("store: read udp keys: %w", err)
	}
	b64, exists := db[username]
	if !exists {
		return nil, false, nil
	}
	key, err = base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, false, fmt.Errorf("store: corrupt udp key for %q: %w", username, err)
	}
	return key, true, nil
}
