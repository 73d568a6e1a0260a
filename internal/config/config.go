// Package config loads labctl-server's startup configuration: command
// line flags for the values an operator tunes per-invocation, optionally
// overlaid with a YAML file for the values that stay fixed per deployment
// (simulated fleet composition, session cadences).
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/multiverse-labs/labctl/internal/session"
)

// SimulatedDevice describes one simdriver instrument to instantiate at
// startup, for running the server without physical hardware attached.
type SimulatedDevice struct {
	ID           string  `yaml:"id"`
	Kind         string  `yaml:"kind"` // "psu", "load", or "scope"
	Manufacturer string  `yaml:"manufacturer"`
	Model        string  `yaml:"model"`
	FailRate     float64 `yaml:"failRate"`
}

// File is the optional YAML overlay. Every field here can be left
// zero-valued; unset session cadences keep their defaults and an empty
// fleet means no simulated devices.
type File struct {
	ProfileDir       string            `yaml:"profileDir"`
	SimulatedDevices []SimulatedDevice `yaml:"simulatedDevices"`
	Session          struct {
		PollIntervalMs     int `yaml:"pollIntervalMs"`
		DebounceIntervalMs int `yaml:"debounceIntervalMs"`
		ErrorThreshold     int `yaml:"errorThreshold"`
		HistoryMinutes     int `yaml:"historyMinutes"`
	} `yaml:"session"`
}

// LoadFile reads and parses a YAML config file. An empty path is not an
// error and returns a zero-valued File (flags/defaults still apply); a
// non-empty path that cannot be read or parsed is an error.
func LoadFile(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return f, nil
}

// Flags is the command-line surface for labctl-server.
type Flags struct {
	ListenAddr   string
	DBPath       string
	ProfileDir   string
	ConfigPath   string
	RedisAddr    string
	RedisChannel string
	Instance     string
}

// ParseFlags parses os.Args[1:] into Flags. Separated from flag.Parse's
// package-level state so tests can construct a Flags value directly.
func ParseFlags(args []string) Flags {
	fs := flag.NewFlagSet("labctl-server", flag.ExitOnError)
	var f Flags
	fs.StringVar(&f.ListenAddr, "listen", ":8420", "HTTP listen address")
	fs.StringVar(&f.DBPath, "db", "labctl.db", "SQLite database path")
	fs.StringVar(&f.ProfileDir, "profiles", "", "device capability profile directory")
	fs.StringVar(&f.ConfigPath, "config", "", "optional YAML config overlay")
	fs.StringVar(&f.RedisAddr, "redis", "", "Redis address for cross-process event relay (disabled if empty)")
	fs.StringVar(&f.RedisChannel, "redis-channel", "labctl:broadcast", "Redis Pub/Sub channel for the event relay")
	fs.StringVar(&f.Instance, "instance", "labctl-01", "this server's instance id, for relay self-filtering")
	fs.Parse(args)
	return f
}

// SessionConfig merges a YAML overlay's session cadences onto
// session.DefaultConfig, leaving any unset (zero) field at its default.
func SessionConfig(f File) session.Config {
	cfg := session.DefaultConfig()
	if f.Session.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(f.Session.PollIntervalMs) * time.Millisecond
	}
	if f.Session.DebounceIntervalMs > 0 {
		cfg.DebounceInterval = time.Duration(f.Session.DebounceIntervalMs) * time.Millisecond
	}
	if f.Session.ErrorThreshold > 0 {
		cfg.ErrorThreshold = f.Session.ErrorThreshold
	}
	if f.Session.HistoryMinutes > 0 {
		cfg.HistoryRetention = time.Duration(f.Session.HistoryMinutes) * time.Minute
	}
	return cfg
}
