// Package wire implements the envelope codec shared by every endpoint.
//
// A frame on the reliable transport is a 4-byte big-endian length prefix
// followed by a UTF-8 JSON body. The body is either a plaintext Message
// (permitted for the authentication handshake only) or an Envelope holding
// a ChaCha20-Poly1305 sealed Message. Datagrams on the unordered transport
// carry a Packet: the sender's username in the clear plus the same envelope
// fields, so the relay can look up a key before decrypting.
//
// Decode is partial-read safe: it reports "no frame yet" until a complete
// frame has been buffered, and callers retry after appending more bytes.
package wire
