// Package udp implements the unordered-transport relay: a stateless
// per-packet protocol over a per-username session table.
//
// Every datagram carries the sender's username in the clear so the relay
// can find a key before decrypting. First contact from a user looks the key
// up in the store the reliable-transport server writes at login; no key
// means the user has not authenticated yet and the packet is rejected with
// a plaintext system error. The session's address is overwritten on every
// packet, so a roaming client keeps its session across NAT rebinds without
// re-authenticating. Relayed messages are re-encrypted per destination key
// and never echoed back to the sender.
package udp
