// Package crypto exposes the key-derivation primitives used by Chat-App.
//
// Contents
//
//   - Password proof derivation: PBKDF2-HMAC-SHA256 over the per-user
//     credential salt (PasswordProof)
//   - Per-login session key derivation: an independent PBKDF2 step over the
//     proof and a fresh session salt (SessionKey)
//   - Random salt and key generation (NewSalt, NewKey)
//   - Constant-time proof comparison (ProofEqual)
//
// # Notes
//
// Deriving the reliable-transport session key from the proof rather than
// the password avoids re-running the full password derivation on every
// login. The unordered-transport key is generated independently, so the two
// transports stay cryptographically unlinked if one key leaks.
package crypto
