// Package tcp implements the reliable-transport server: the authenticated
// connection registry with roster broadcast, the challenge/response
// authentication handshake, and the file-offer/acknowledge/stream transfer
// coordinator with caching and TTL expiry.
//
// Each accepted connection gets a reader goroutine and a writer goroutine
// draining an outbound frame queue; the shared tables (connections, roster,
// offers, active streams) are owned by single controller objects guarded by
// their own mutex. A connection that fails a send is closed, and its reader
// performs the one cleanup pass: registry removal, departure broadcast, and
// release of any transfer state it held. Cleanup is idempotent, so a bye
// followed by a socket error is harmless.
package tcp
