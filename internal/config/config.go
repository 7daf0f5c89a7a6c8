// Package config loads snugom's runtime configuration from a TOML file
// (with environment-variable expansion) and optionally watches it for
// hot-reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is snugom's runtime configuration, per SPEC_FULL.md §I.
type Config struct {
	RedisURL              string
	Prefix                string
	Service               string
	DefaultIdempotencyTTL time.Duration
	MaxCascadeDepth       int
	SlowScriptThreshold   time.Duration
}

// rawConfig is the TOML-decoded shape. Duration fields are plain strings
// here (e.g. "250ms", "24h") because time.Duration has no UnmarshalText in
// the standard library for BurntSushi/toml's encoding.TextUnmarshaler hook
// to call into; Load/reload parse them with time.ParseDuration afterward.
type rawConfig struct {
	RedisURL              string `toml:"redis_url"`
	Prefix                string `toml:"prefix"`
	Service               string `toml:"service"`
	DefaultIdempotencyTTL string `toml:"default_idempotency_ttl"`
	MaxCascadeDepth       int    `toml:"max_cascade_depth"`
	SlowScriptThreshold   string `toml:"slow_script_threshold"`
}

// DefaultMaxCascadeDepth mirrors the script engine's MAX_CASCADE_DEPTH.
// Raising it past this value is explicitly discouraged per SPEC_FULL.md §9:
// Load silently clamps an out-of-range value rather than erroring, since a
// config file written before this limit existed should still load.
const DefaultMaxCascadeDepth = 8

// DefaultSlowScriptThreshold mirrors the teacher's own slow-query default.
const DefaultSlowScriptThreshold = 100 * time.Millisecond

// DefaultIdempotencyTTL is applied when a config omits the field.
const DefaultIdempotencyTTL = 24 * time.Hour

func defaults() Config {
	return Config{
		MaxCascadeDepth:       DefaultMaxCascadeDepth,
		SlowScriptThreshold:   DefaultSlowScriptThreshold,
		DefaultIdempotencyTTL: DefaultIdempotencyTTL,
	}
}

// resolve merges raw's parsed fields onto a defaults()-seeded Config,
// leaving any field raw left blank at its default/current value.
func resolve(cfg *Config, raw rawConfig) error {
	if raw.RedisURL != "" {
		cfg.RedisURL = raw.RedisURL
	}
	if raw.Prefix != "" {
		cfg.Prefix = raw.Prefix
	}
	if raw.Service != "" {
		cfg.Service = raw.Service
	}
	if raw.MaxCascadeDepth != 0 {
		cfg.MaxCascadeDepth = raw.MaxCascadeDepth
	}
	if raw.DefaultIdempotencyTTL != "" {
		d, err := time.ParseDuration(raw.DefaultIdempotencyTTL)
		if err != nil {
			return fmt.Errorf("default_idempotency_ttl: %w", err)
		}
		cfg.DefaultIdempotencyTTL = d
	}
	if raw.SlowScriptThreshold != "" {
		d, err := time.ParseDuration(raw.SlowScriptThreshold)
		if err != nil {
			return fmt.Errorf("slow_script_threshold: %w", err)
		}
		cfg.SlowScriptThreshold = d
	}
	return nil
}

// candidatePaths returns the config search order: an explicit path if
// given, else ./snugom.toml, else $SNUGOM_CONFIG.
func candidatePaths(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	var out []string
	out = append(out, "snugom.toml")
	if env := os.Getenv("SNUGOM_CONFIG"); env != "" {
		out = append(out, env)
	}
	return out
}

// Load reads and decodes the TOML config at path (or the default search
// path when path is empty), expanding ${VAR} references against the
// process environment before decoding, then applies environment variable
// overrides for the connection fields.
func Load(path string) (*Config, error) {
	cfg := defaults()

	var data []byte
	var loadedFrom string
	var readErr error
	for _, candidate := range candidatePaths(path) {
		data, readErr = os.ReadFile(candidate)
		if readErr == nil {
			loadedFrom = candidate
			break
		}
	}
	if readErr != nil && path != "" {
		return nil, fmt.Errorf("config: read %s: %w", path, readErr)
	}

	if loadedFrom != "" {
		expanded := os.Expand(string(data), envLookup)
		var raw rawConfig
		if _, err := toml.Decode(expanded, &raw); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", loadedFrom, err)
		}
		if err := resolve(&cfg, raw); err != nil {
			return nil, fmt.Errorf("config: %s: %w", loadedFrom, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.MaxCascadeDepth <= 0 || cfg.MaxCascadeDepth > DefaultMaxCascadeDepth {
		cfg.MaxCascadeDepth = DefaultMaxCascadeDepth
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("config: redis_url is required (set it in the config file or REDIS_URL/SNUGOM_REDIS_URL)")
	}
	if cfg.Service == "" {
		return nil, fmt.Errorf("config: service is required")
	}

	return &cfg, nil
}

// envLookup backs os.Expand for ${VAR} substitution; an unset variable
// expands to the empty string rather than erroring, matching os.Expand's
// own convention for os.Getenv.
func envLookup(name string) string { return os.Getenv(name) }

func applyEnvOverrides(cfg *Config) {
	if v := firstNonEmpty(os.Getenv("SNUGOM_REDIS_URL"), os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("SNUGOM_PREFIX"); v != "" {
		cfg.Prefix = v
	}
	if v := os.Getenv("SNUGOM_SERVICE"); v != "" {
		cfg.Service = v
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Watcher hot-reloads the config file via viper's fsnotify-backed
// OnConfigChange, re-decoding changed content with the same BurntSushi/toml
// + ${VAR}-expansion path Load uses, and publishing successfully-reloaded
// versions on its channel. Construction failures (a bad path) are returned
// immediately; decode failures during a later reload are logged to stderr
// and simply skipped, since a transient editor save (e.g. a half-written
// file) should not crash a long-running process watching it.
type Watcher struct {
	v   *viper.Viper
	out chan Config
}

// Watch starts watching path for changes and returns a Watcher whose
// Changes channel receives each successfully reloaded Config. Callers that
// don't care about hot-reload may ignore the channel entirely.
func Watch(path string) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config: Watch requires an explicit path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: initial read %s: %w", path, err)
	}

	w := &Watcher{v: v, out: make(chan Config, 1)}
	v.OnConfigChange(func(in fsnotify.Event) { w.reload() })
	v.WatchConfig()
	return w, nil
}

// Changes returns the channel of successfully reloaded configs.
func (w *Watcher) Changes() <-chan Config { return w.out }

// reload re-reads and decodes the watched file, publishing on success.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.v.ConfigFileUsed())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: reload %s: %v\n", w.v.ConfigFileUsed(), err)
		return
	}
	cfg := defaults()
	expanded := os.Expand(string(data), envLookup)
	var raw rawConfig
	if _, err := toml.Decode(expanded, &raw); err != nil {
		fmt.Fprintf(os.Stderr, "config: reload decode %s: %v\n", w.v.ConfigFileUsed(), err)
		return
	}
	if err := resolve(&cfg, raw); err != nil {
		fmt.Fprintf(os.Stderr, "config: reload %s: %v\n", w.v.ConfigFileUsed(), err)
		return
	}
	applyEnvOverrides(&cfg)
	select {
	case w.out <- cfg:
	default:
		// Drop if the previous version hasn't been consumed yet; the
		// channel only ever needs to hold the latest config.
		<-w.out
		w.out <- cfg
	}
}
