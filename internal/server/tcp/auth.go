package tcp

import (
	"encoding/base64"

	"gopkg.in/op/go-logging.v1"

	"github.com/Codeblinders/Chat-App/internal/config"
	"github.com/Codeblinders/Chat-App/internal/crypto"
	"github.com/Codeblinders/Chat-App/internal/store"
	"github.com/Codeblinders/Chat-App/internal/wire"
)

// authenticator runs the per-connection handshake:
//
//	UNAUTHENTICATED --auth_begin--> SALT_SENT --auth_proof--> AUTHENTICATED
//
// A failed proof replies auth_error and leaves the connection in SALT_SENT;
// the client decides whether to retry or hang up. All handshake frames
// travel plaintext: the client cannot decrypt auth_ok before it has the
// session salt auth_ok carries.
type authenticator struct {
	log     *logging.Logger
	cfg     *config.Config
	creds   *store.Credentials
	udpKeys *store.UDPKeys
	reg     *registry
}

func (a *authenticator) begin(c *conn, m *wire.Message) {
	username := m.Username
	if username == "" {
		username = "anon"
	}
	salt, registered, err := a.creds.EnsureSalt(username)
	if err != nil {
		a.log.Errorf("conn %s: credential lookup for %q: %v", c.id, username, err)
		_ = c.sendPlain(&wire.Message{Type: wire.TypeAuthError, Text: "Server credential error."})
		return
	}
	mode := store.ModeRegister
	if registered {
		mode = store.ModeLogin
	}
	_ = c.sendPlain(&wire.Message{
		Type: wire.TypeAuthSalt,
		Mode: mode,
		Salt: base64.StdEncoding.EncodeToString(salt),
	})
}

// proof validates the password proof and, on success, derives the
// reliable-transport session key, mints and persists a fresh
// unordered-transport key, and binds the connection. It reports whether the
// connection became authenticated.
func (a *authenticator) proof(c *conn, m *wire.Message) bool {
	username := m.Username
	if username == "" {
		username = "anon"
	}
	proof, err := base64.StdEncoding.DecodeString(m.PwHash)
	if err != nil || len(proof) == 0 {
		_ = c.sendPlain(&wire.Message{Type: wire.TypeAuthError, Text: "Malformed proof."})
		return false
	}

	ok, found, err := a.creds.Verify(username, proof)
	if err != nil {
		a.log.Errorf("conn %s: verify %q: %v", c.id, username, err)
		_ = c.sendPlain(&wire.Message{Type: wire.TypeAuthError, Text: "Server credential error."})
		return false
	}
	if !found {
		_ = c.sendPlain(&wire.Message{Type: wire.TypeAuthError, Text: "User record missing; please register or retry."})
		return false
	}
	if !ok {
		a.log.Noticef("conn %s: invalid password for %q", c.id, username)
		_ = c.sendPlain(&wire.Message{Type: wire.TypeAuthError, Text: "Invalid credentials — please try again."})
		return false
	}

	sessionSalt := crypto.NewSalt()
	sessionKey := crypto.SessionKey(proof, sessionSalt)

	udpKey := crypto.NewKey()
	if err := a.udpKeys.Set(username, udpKey); err != nil {
		a.log.Errorf("conn %s: persist udp key for %q: %v", c.id, username, err)
		_ = c.sendPlain(&wire.Message{Type: wire.TypeAuthError, Text: "Server key generation error."})
		return false
	}

	// auth_ok must leave before the key is bound so it goes out plaintext.
	if err := c.sendPlain(&wire.Message{
		Type:        wire.TypeAuthOK,
		SessionSalt: base64.StdEncoding.EncodeToString(sessionSalt),
		UDPKey:      base64.StdEncoding.EncodeToString(udpKey),
		UDPPort:     a.cfg.Server.UDPPort,
	}); err != nil {
		return false
	}
	a.reg.authenticate(c, username, sessionKey)
	a.log.Noticef("conn %s: %q authenticated", c.id, username)
	return true
}
