// Package config holds the TOML configuration shared by the two server
// processes and the defaults for every protocol tunable.
package config
