// Package xdg provides XDG Base Directory paths for Streamward.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "streamward"

// ConfigDir returns the XDG config directory for streamward.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path, used when no explicit
// --config flag is given. The file is optional.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "streamward.yaml")
}

// DataDir returns the XDG data directory for streamward.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(base, appName)
}

// ModulesDir returns the default modules directory under DataDir, used
// when no explicit modules-dir is configured.
func ModulesDir() string {
	return filepath.Join(DataDir(), "modules")
}
