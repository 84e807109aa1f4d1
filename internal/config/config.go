// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

// Package config loads service configuration from defaults, an optional
// YAML file, STREAMWARD_* environment variables, and command-line flags,
// in that order of increasing precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/streamward/streamward/internal/xdg"
)

// Config holds all service settings.
type Config struct {
	// ModulesDir is the directory scanned for module artifacts.
	ModulesDir string `koanf:"modules_dir"`
	// OpsAddr is the listen address for the operational HTTP API.
	OpsAddr string `koanf:"ops_addr"`
	// MetricsAddr is the listen address for metrics and health probes.
	MetricsAddr string `koanf:"metrics_addr"`

	LogFormat string `koanf:"log_format"`
	LogLevel  string `koanf:"log_level"`

	// DispatchTimeout bounds how long a dispatch waits on a handler.
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`
	// FaultThreshold is the fault count at which a module is
	// automatically unloaded. Zero disables escalation.
	FaultThreshold int `koanf:"fault_threshold"`
	// DrainWarnAfter is how long a drain may run before a warning.
	DrainWarnAfter time.Duration `koanf:"drain_warn_after"`

	// Ignore lists glob patterns for directory names to skip during
	// module discovery.
	Ignore []string `koanf:"ignore"`

	// DirectoryRetries and DirectoryBackoff tune the retry on
	// transient user-directory misses.
	DirectoryRetries int           `koanf:"directory_retries"`
	DirectoryBackoff time.Duration `koanf:"directory_backoff"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ModulesDir:       xdg.ModulesDir(),
		OpsAddr:          "127.0.0.1:8080",
		MetricsAddr:      "127.0.0.1:9100",
		LogFormat:        "json",
		LogLevel:         "info",
		DispatchTimeout:  10 * time.Second,
		FaultThreshold:   5,
		DrainWarnAfter:   30 * time.Second,
		DirectoryRetries: 3,
		DirectoryBackoff: 100 * time.Millisecond,
	}
}

// Load builds a Config by layering, lowest precedence first: defaults,
// the YAML file at path (skipped when path is empty or missing), the
// STREAMWARD_ environment, and flags changed on fs. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, oops.In("config").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, oops.In("config").With("path", path).Wrap(err)
			}
		}
	}

	// STREAMWARD_MODULES_DIR -> modules_dir
	err := k.Load(env.Provider("STREAMWARD_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "STREAMWARD_"))
	}), nil)
	if err != nil {
		return Config{}, oops.In("config").Wrap(err)
	}

	if fs != nil {
		// --modules-dir sets modules_dir
		flagProvider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
		})
		if err := k.Load(flagProvider, nil); err != nil {
			return Config{}, oops.In("config").Wrap(err)
		}
	}

	var cfg Config
	err = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return Config{}, oops.In("config").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that layering cannot express.
func (c Config) Validate() error {
	errb := oops.In("config")
	if c.ModulesDir == "" {
		return errb.Code("INVALID_CONFIG").Errorf("modules_dir cannot be empty")
	}
	if c.OpsAddr == "" {
		return errb.Code("INVALID_CONFIG").Errorf("ops_addr cannot be empty")
	}
	if c.DispatchTimeout <= 0 {
		return errb.Code("INVALID_CONFIG").
			With("dispatch_timeout", c.DispatchTimeout.String()).
			Errorf("dispatch_timeout must be positive")
	}
	if c.FaultThreshold < 0 {
		return errb.Code("INVALID_CONFIG").
			With("fault_threshold", c.FaultThreshold).
			Errorf("fault_threshold cannot be negative")
	}
	if c.DirectoryRetries < 1 {
		return errb.Code("INVALID_CONFIG").
			With("directory_retries", c.DirectoryRetries).
			Errorf("directory_retries must be at least 1")
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return errb.Code("INVALID_CONFIG").
			With("log_format", c.LogFormat).
			Errorf("log_format must be json or text")
	}
	return nil
}
