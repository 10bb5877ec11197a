// Package commands wires the chatapp CLI: a line-oriented terminal front
// end over the protocol engines in internal/client. The tcp subcommand
// chats over the reliable transport with full file transfer; the udp
// subcommand authenticates over the reliable transport to obtain its
// session key, then chats over the unordered one.
package commands
