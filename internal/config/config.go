package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultTCPBind = "0.0.0.0:5000"
	defaultUDPBind = "0.0.0.0:20001"
	defaultUDPPort = 20001

	credentialsFile = "users.json"
	udpKeysFile     = "udp_keys.json"
)

// Server configures listeners and on-disk locations.
type Server struct {
	// TCPBind is the reliable-transport listen address.
	TCPBind string

	// UDPBind is the unordered-transport listen address.
	UDPBind string

	// UDPPort is the unordered-transport port advertised to clients in
	// auth_ok. It must match the port the relay process binds.
	UDPPort int

	// DataDir holds users.json and udp_keys.json.
	DataDir string

	// CacheDir holds file-offer cache files.
	CacheDir string
}

// Limits configures the protocol tunables. Durations are in seconds.
type Limits struct {
	MaxFileBytes    int64 // largest file a client may offer
	InlineLimit     int64 // inline-payload threshold on the reliable transport
	UDPInlineLimit  int64 // whole-file-in-one-packet threshold on the unordered transport
	ChunkSize       int   // streaming chunk size
	ProgressChunks  int   // emit progress every N chunks
	OfferTTLSec     int   // offer lifetime from creation
	OfferSweepSec   int   // offer expiry sweep interval
	SessionTimeout  int   // unordered-session inactivity eviction, seconds
	SessionSweepSec int   // unordered-session sweep interval
	KeepaliveSec    int   // client unordered-transport ping interval
}

// Logging configures the process log backend.
type Logging struct {
	Disable bool
	File    string // empty = stderr
	Level   string
}

// Config is the top-level configuration for both server processes.
type Config struct {
	Server  Server
	Limits  Limits
	Logging Logging
}

// Default returns a Config with every field at its default.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// Load parses a TOML config file, or returns defaults when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FixupAndValidate applies defaults to unset fields and sanity-checks the
// rest.
func (c *Config) FixupAndValidate() error {
	if c.Server.TCPBind == "" {
		c.Server.TCPBind = defaultTCPBind
	}
	if c.Server.UDPBind == "" {
		c.Server.UDPBind = defaultUDPBind
	}
	if c.Server.UDPPort == 0 {
		c.Server.UDPPort = defaultUDPPort
	}
	if c.Server.DataDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("config: getwd: %w", err)
		}
		c.Server.DataDir = wd
	}
	if c.Server.CacheDir == "" {
		c.Server.CacheDir = filepath.Join(c.Server.DataDir, "cache")
	}

	l := &c.Limits
	if l.MaxFileBytes == 0 {
		l.MaxFileBytes = 50 << 20
	}
	if l.InlineLimit == 0 {
		l.InlineLimit = 1 << 20
	}
	if l.UDPInlineLimit == 0 {
		l.UDPInlineLimit = 48 << 10
	}
	if l.ChunkSize == 0 {
		l.ChunkSize = 64 << 10
	}
	if l.ProgressChunks == 0 {
		l.ProgressChunks = 4
	}
	if l.OfferTTLSec == 0 {
		l.OfferTTLSec = 15 * 60
	}
	if l.OfferSweepSec == 0 {
		l.OfferSweepSec = 30
	}
	if l.SessionTimeout == 0 {
		l.SessionTimeout = 5 * 60
	}
	if l.SessionSweepSec == 0 {
		l.SessionSweepSec = 60
	}
	if l.KeepaliveSec == 0 {
		l.KeepaliveSec = 20
	}
	if l.InlineLimit > l.MaxFileBytes {
		return fmt.Errorf("config: InlineLimit %d exceeds MaxFileBytes %d", l.InlineLimit, l.MaxFileBytes)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "NOTICE"
	}
	return nil
}

// CredentialsPath returns the credential store location.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.Server.DataDir, credentialsFile)
}

// UDPKeysPath returns the shared unordered-key store location.
func (c *Config) UDPKeysPath() string {
	return filepath.Join(c.Server.DataDir, udpKeysFile)
}

// OfferTTL returns the offer lifetime as a duration.
func (l *Limits) OfferTTL() time.Duration { return time.Duration(l.OfferTTLSec) * time.Second }

// OfferSweep returns the offer sweep interval.
func (l *Limits) OfferSweep() time.Duration { return time.Duration(l.OfferSweepSec) * time.Second }

// SessionTTL returns the unordered-session inactivity timeout.
func (l *Limits) SessionTTL() time.Duration { return time.Duration(l.SessionTimeout) * time.Second }

// SessionSweep returns the unordered-session sweep interval.
func (l *Limits) SessionSweep() time.Duration {
	return time.Duration(l.SessionSweepSec) * time.Second
}

// Keepalive returns the client ping interval.
func (l *Limits) Keepalive() time.Duration { return time.Duration(l.KeepaliveSec) * time.Second }
