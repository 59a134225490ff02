// Package config holds the node's on-disk configuration: defaults, TOML
// marshaling, and the directory layout under a node's home directory
// (grounded on the teacher's config/config.go).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/I-luk-I/Warthog/internal/eventloop"
	"github.com/I-luk-I/Warthog/internal/log"
)

const (
	// DefaultWarthogDir is the default directory name under $HOME that
	// holds a node's config and data.
	DefaultWarthogDir = ".warthog"

	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"
)

var (
	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config is the top-level node configuration, serialized to config.toml.
type Config struct {
	BaseConfig

	Log       LogConfig       `toml:"log"`
	Transport TransportConfig `toml:"transport"`
	Eventloop EventloopConfig `toml:"eventloop"`
}

// BaseConfig holds the node-identity and directory-layout options, mirroring
// the teacher's own top-level BaseConfig fields. It's embedded anonymously
// so its fields sit at the top level of config.toml, not under a
// "[baseconfig]" table.
type BaseConfig struct {
	// RootDir is the root directory for all node data. Other paths are
	// relative to this one unless they're absolute. Not persisted to
	// config.toml: it's always set from --home at load time.
	RootDir string `toml:"-"`

	// Moniker is this node's human-readable name, gossiped in Init.
	Moniker string `toml:"moniker"`
}

// LogConfig configures internal/log's zerolog-backed logger.
type LogConfig struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// TransportConfig configures the websocket listener/dialer
// (internal/transport/ws).
type TransportConfig struct {
	ListenAddress  string `toml:"listen_address"`
	MaxConnections int    `toml:"max_connections"`
	MaxFrameBytes  int    `toml:"max_frame_bytes"`
}

// Duration is time.Duration with text (un)marshaling, so it decodes from
// and encodes to TOML's "10s"-style duration strings. The BurntSushi/toml
// decoder (like encoding/json) only calls UnmarshalText for types that
// implement encoding.TextUnmarshaler; time.Duration itself doesn't, so a
// config field of that type would fail to parse a TOML string.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// EventloopConfig exposes the production tunables spec.md §4.5 documents as
// constants (max_requests, ping_timeout, ping_sleep).
type EventloopConfig struct {
	MaxRequests int      `toml:"max_requests"`
	PingTimeout Duration `toml:"ping_timeout"`
	PingSleep   Duration `toml:"ping_sleep"`
}

// DefaultConfig returns a Config with every field set to its production
// default (spec.md §4.5 production figures, plus this rewrite's transport
// and logging defaults).
func DefaultConfig() *Config {
	return &Config{
		BaseConfig: BaseConfig{
			Moniker: defaultMoniker(),
		},
		Log: LogConfig{
			Format: log.LogFormatPlain,
			Level:  log.LogLevelInfo,
		},
		Transport: TransportConfig{
			ListenAddress:  "0.0.0.0:8901",
			MaxConnections: 256,
			MaxFrameBytes:  8 << 20,
		},
		Eventloop: EventloopConfig{
			MaxRequests: 10,
			PingTimeout: Duration(10 * time.Minute),
			PingSleep:   Duration(10 * time.Second),
		},
	}
}

// ToEventloopConfig adapts the TOML-facing config into the type
// internal/eventloop.New expects.
func (c EventloopConfig) ToEventloopConfig() eventloop.Config {
	return eventloop.Config{
		MaxRequests: c.MaxRequests,
		PingTimeout: time.Duration(c.PingTimeout),
		PingSleep:   time.Duration(c.PingSleep),
	}
}

func defaultMoniker() string {
	name, err := os.Hostname()
	if err != nil {
		return "anonymous"
	}
	return name
}

// ConfigFile returns the path of the config.toml under rootDir.
func ConfigFile(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// DataDir returns the path of the node's data directory under rootDir.
func DataDir(rootDir string) string {
	return filepath.Join(rootDir, defaultDataDir)
}

// Validate checks the fields a malformed or hand-edited config.toml could
// break the node with (spec.md ambient-stack expansion: "config validates
// before the node starts").
func (c *Config) Validate() error {
	if c.Eventloop.MaxRequests <= 0 {
		return errors.New("eventloop.max_requests must be positive")
	}
	if c.Eventloop.PingTimeout <= 0 {
		return errors.New("eventloop.ping_timeout must be positive")
	}
	if c.Eventloop.PingSleep <= 0 {
		return errors.New("eventloop.ping_sleep must be positive")
	}
	if c.Transport.MaxFrameBytes <= 0 {
		return errors.New("transport.max_frame_bytes must be positive")
	}
	if c.Transport.ListenAddress == "" {
		return errors.New("transport.listen_address must not be empty")
	}
	switch c.Log.Format {
	case log.LogFormatPlain, log.LogFormatJSON, "":
	default:
		return errors.Errorf("log.format %q is neither %q nor %q", c.Log.Format, log.LogFormatPlain, log.LogFormatJSON)
	}
	return nil
}

// SetRoot sets RootDir and every path field under it, mirroring the
// teacher's Config.SetRoot.
func (c *Config) SetRoot(root string) *Config {
	c.RootDir = root
	return c
}

func ensureDir(dir string, mode os.FileMode) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, mode); err != nil {
			return fmt.Errorf("could not create directory %q: %w", dir, err)
		}
	}
	return nil
}
