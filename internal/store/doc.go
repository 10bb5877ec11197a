// Package store provides file-based persistence for Chat-App's durable
// state.
//
// Two JSON files live under the server's data directory, each an object
// keyed by username and written via a temp file plus atomic rename:
//
//   - users.json — credential records: {salt, pw_hash|null}. A null hash
//     means the first successful proof registers the password
//     (trust-on-first-use).
//   - udp_keys.json — per-user unordered-transport keys, written by the
//     reliable-transport server at login and read by the unordered relay.
//
// The key store is the only state shared between the two server processes,
// so it is re-read from disk on every lookup. All methods are
// concurrency-safe via internal locking.
package store
