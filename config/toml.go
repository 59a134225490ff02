package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"text/template"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnsureRoot creates rootDir and its config/data subdirectories if they
// don't already exist (grounded on the teacher's config/toml.go
// EnsureRoot; the teacher delegates the mkdir to its own libs/os package,
// which this module doesn't carry, so this uses os.MkdirAll directly).
func EnsureRoot(rootDir string) error {
	if err := ensureDir(rootDir, 0700); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(rootDir, defaultConfigDir), 0700); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(rootDir, defaultDataDir), 0700); err != nil {
		return err
	}
	configPath := ConfigFile(rootDir)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return WriteConfigFile(configPath, DefaultConfig())
	}
	return nil
}

// WriteConfigFile renders cfg through configTemplate and writes it to path
// (grounded on the teacher's WriteConfigFile).
func WriteConfigFile(path string, cfg *Config) error {
	var buf bytes.Buffer
	if err := RenderConfig(&buf, cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// RenderConfig writes cfg's TOML rendering to w, letting callers like
// show-config print it without going through a file.
func RenderConfig(w io.Writer, cfg *Config) error {
	if err := configTemplate.Execute(w, cfg); err != nil {
		return errors.Wrap(err, "rendering config template")
	}
	return nil
}

// LoadConfigFile decodes path into a Config with BurntSushi/toml, starting
// from DefaultConfig so unset fields keep their defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding config file %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// BindFlags prepares a viper instance for the well-known config keys: it
// sets the WARTHOG environment prefix, enables automatic environment
// lookup, and registers each key's default. It binds no command-line flags.
func BindFlags(v *viper.Viper) {
	v.SetEnvPrefix("WARTHOG")
	v.AutomaticEnv()
	v.SetDefault("moniker", defaultMoniker())
	v.SetDefault("log.format", "plain")
	v.SetDefault("log.level", "info")
	v.SetDefault("transport.listen_address", "0.0.0.0:8901")
	v.SetDefault("transport.max_connections", 256)
	v.SetDefault("transport.max_frame_bytes", 8<<20)
	v.SetDefault("eventloop.max_requests", 10)
	v.SetDefault("eventloop.ping_timeout", "10m")
	v.SetDefault("eventloop.ping_sleep", "10s")
}

// configTemplate renders a Config into a commented config.toml, the same
// text/template approach as the teacher's config/toml.go (trimmed to the
// fields this rewrite actually exposes).
var configTemplate *template.Template

func init() {
	var err error
	configTemplate, err = template.New("configFileTemplate").Parse(defaultConfigTemplate)
	if err != nil {
		panic(err)
	}
}

const defaultConfigTemplate = `# This is a TOML config file for a warthog node.
# Any relative paths are resolved relative to the directory this file is in.

moniker = "{{ .Moniker }}"

[log]
# Output format: "plain" or "json"
format = "{{ .Log.Format }}"
# Minimum level: "debug", "info", "error", or "none"
level = "{{ .Log.Level }}"

[transport]
listen_address = "{{ .Transport.ListenAddress }}"
max_connections = {{ .Transport.MaxConnections }}
max_frame_bytes = {{ .Transport.MaxFrameBytes }}

[eventloop]
max_requests = {{ .Eventloop.MaxRequests }}
ping_timeout = "{{ .Eventloop.PingTimeout }}"
ping_sleep = "{{ .Eventloop.PingSleep }}"
`
