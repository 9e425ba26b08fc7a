// Package config loads the daemon configuration file.
//
// The file is TOML:
//
//	[journal]
//	options = "commit=5:65536,overflow=drop"
//
//	[control]
//	socket_dir = "/run/shallfs"
//	socket_mode = "0600"
//
//	[metrics]
//	address = "127.0.0.1:9108"
//
//	[log]
//	level = "info"
//	format = "text"
//
// Every key is optional. Command line flags override the file.
package config

import (
	"os"
	"strconv"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dendrascience/shallfs/journal"
	"github.com/dendrascience/shallfs/util"
)

// DefaultPath is read when no --config flag is given. A missing file there
// is not an error.
const DefaultPath = "/etc/shallfs/shallfs.toml"

type Config struct {
	Journal JournalConfig `toml:"journal"`
	Control ControlConfig `toml:"control"`
	Metrics MetricsConfig `toml:"metrics"`
	Log     LogConfig     `toml:"log"`
}

type JournalConfig struct {
	// Options is a mount option string applied before the -o flag.
	Options string `toml:"options"`
}

type ControlConfig struct {
	SocketDir  string `toml:"socket_dir"`
	SocketMode string `toml:"socket_mode"`
}

type MetricsConfig struct {
	// Address is host:port for the /metrics endpoint. Empty disables it.
	Address string `toml:"address"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Control: ControlConfig{SocketDir: util.DefaultRunDir, SocketMode: "0600"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var file Config
	if err := toml.Unmarshal(data, &file); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	c := Default().merge(file)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads path. When path is DefaultPath and does not exist the defaults
// are returned.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return Default(), nil
		}
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrap(err, path)
	}
	return c, nil
}

// merge returns c with every non-empty value of o applied.
func (c Config) merge(o Config) Config {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Journal.Options, o.Journal.Options)
	set(&c.Control.SocketDir, o.Control.SocketDir)
	set(&c.Control.SocketMode, o.Control.SocketMode)
	set(&c.Metrics.Address, o.Metrics.Address)
	set(&c.Log.Level, o.Log.Level)
	set(&c.Log.Format, o.Log.Format)
	return c
}

// Validate checks every value that can be checked without mounting.
func (c Config) Validate() error {
	if _, err := journal.ParseOptions(c.Journal.Options, journal.DefaultOptions()); err != nil {
		return errors.Wrap(err, "journal.options")
	}
	if _, err := c.Control.Mode(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// Mode returns the socket permission bits.
func (c ControlConfig) Mode() (os.FileMode, error) {
	if c.SocketMode == "" {
		return 0o600, nil
	}
	m, err := strconv.ParseUint(c.SocketMode, 8, 32)
	if err != nil || m > 0o777 {
		return 0, errors.Errorf("control.socket_mode: invalid mode %q", c.SocketMode)
	}
	return os.FileMode(m), nil
}

// MountOptions layers the -o flag over the file's journal options.
func (c Config) MountOptions(flag string) (journal.Options, error) {
	base, err := journal.ParseOptions(c.Journal.Options, journal.DefaultOptions())
	if err != nil {
		return journal.Options{}, err
	}
	return journal.ParseOptions(flag, base)
}
