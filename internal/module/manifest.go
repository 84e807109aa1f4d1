// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

// Package module provides loading, lifecycle control, and fault
// containment for command modules.
package module

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/streamward/streamward/pkg/modulesdk"
)

// ManifestFilename is the per-module manifest file name.
const ManifestFilename = "module.yaml"

// Manifest represents a module.yaml file describing one module artifact.
type Manifest struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	APIVersion  string `yaml:"api-version" json:"api-version"`
	Executable  string `yaml:"executable" json:"executable"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// maxNameLength is the maximum allowed length for module names.
const maxNameLength = 64

// namePattern validates module names: lowercase letter first, then
// lowercase letters, digits, or hyphens, not ending with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// apiConstraint is the range of module API versions this host accepts:
// same major as the SDK's APIVersion.
var apiConstraint = mustConstraint("^" + modulesdk.APIVersion)

func mustConstraint(expr string) *semver.Constraints {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		panic(fmt.Sprintf("module: invalid api constraint %q: %v", expr, err))
	}
	return c
}

// ParseManifest parses and validates a module.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
	}

	if m.APIVersion == "" {
		return fmt.Errorf("api-version is required")
	}
	if err := CheckAPIVersion(m.APIVersion); err != nil {
		return err
	}

	if m.Executable == "" {
		return fmt.Errorf("executable is required")
	}
	if filepath.IsAbs(m.Executable) || m.Executable != filepath.Clean(m.Executable) ||
		m.Executable == ".." || len(m.Executable) >= 3 && m.Executable[:3] == "../" {
		return fmt.Errorf("executable %q must be a clean path relative to the module directory", m.Executable)
	}

	return nil
}

// CheckAPIVersion verifies that a module API version is within the range
// this host supports. An incompatible module is rejected at load time and
// never partially registered.
func CheckAPIVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("api-version %q is not valid semver: %w", version, err)
	}
	if !apiConstraint.Check(v) {
		return fmt.Errorf("api-version %s is not supported by this host (requires %s)", version, apiConstraint)
	}
	return nil
}
