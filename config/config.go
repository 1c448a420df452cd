// Package config loads netguardd's ambient service configuration: data
// directory, control socket path, frame/timeout/rate-limit tuning, and log
// level/format. The policy document itself is never configured here — it
// stays strict JSON per its own wire format; this is TOML because it is
// config meant for a human operator to hand-edit, the same split the
// teacher's bundle (JSON, OCI-mandated) vs CLI flags (plain text) draws.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigPath is where netguardd looks for its configuration file
// absent a --config override.
const DefaultConfigPath = "/etc/netguardd/config.toml"

// Config is the full set of ambient daemon tunables.
type Config struct {
	// DataDir holds the LKG envelope and audit journal.
	DataDir string `toml:"data_dir"`
	// SocketPath is the control-plane Unix domain socket.
	SocketPath string `toml:"socket_path"`
	// MaxFrameBytes bounds a single IPC request/reply frame.
	MaxFrameBytes int `toml:"max_frame_bytes"`
	// MutatorLockTimeout bounds how long a serialized operation waits to
	// acquire the mutator lock before failing Busy.
	MutatorLockTimeout Duration `toml:"mutator_lock_timeout"`
	// RateLimitBucketSize is the token bucket capacity per caller identity.
	RateLimitBucketSize int `toml:"rate_limit_bucket_size"`
	// RateLimitRefillPerSec is how many tokens are returned to a caller's
	// bucket each second.
	RateLimitRefillPerSec float64 `toml:"rate_limit_refill_per_sec"`
	// HotReloadDebounce is the quiet period the watcher waits after the
	// last file-change event before applying.
	HotReloadDebounce Duration `toml:"hot_reload_debounce"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format"`
}

// Duration wraps time.Duration so it can be read from TOML as a plain
// string ("250ms", "30s") instead of an integer nanosecond count.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for BurntSushi/toml.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration used when no config file is
// present or specified.
func Default() Config {
	return Config{
		DataDir:               "/var/lib/netguardd",
		SocketPath:            "/run/netguardd/control.sock",
		MaxFrameBytes:         16 << 20, // 16 MiB
		MutatorLockTimeout:    Duration{30 * time.Second},
		RateLimitBucketSize:   20,
		RateLimitRefillPerSec: 2,
		HotReloadDebounce:     Duration{500 * time.Millisecond},
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load reads and decodes a TOML configuration file at path, starting from
// Default() so any field the file omits keeps its built-in value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
