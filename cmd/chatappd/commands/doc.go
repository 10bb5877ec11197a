// Package commands wires the chatappd CLI. Each transport runs as its own
// subcommand so the reliable server and the unordered relay can be deployed
// as separate processes sharing one data directory.
package commands
