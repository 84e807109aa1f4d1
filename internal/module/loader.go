// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Candidate is a discovered module artifact: a validated manifest, its
// directory, and a fingerprint of the artifact files on disk.
type Candidate struct {
	Manifest    *Manifest
	Dir         string
	Fingerprint string
}

// Failure records one artifact that could not be discovered or loaded.
type Failure struct {
	Dir    string `json:"dir"`
	Name   string `json:"name,omitempty"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason"`
}

// RejectedCommand records one command that a loaded module declared but
// that could not be registered.
type RejectedCommand struct {
	Module  string `json:"module"`
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

// Report summarizes one scan-and-load pass. Loading is independent per
// artifact: one module's failure never aborts the others.
type Report struct {
	ScannedAt  time.Time         `json:"scanned_at"`
	Loaded     []string          `json:"loaded,omitempty"`
	Unchanged  []string          `json:"unchanged,omitempty"`
	Replaced   []string          `json:"replaced,omitempty"`
	Failed     []Failure         `json:"failed,omitempty"`
	Registered []string          `json:"registered,omitempty"`
	Rejected   []RejectedCommand `json:"rejected,omitempty"`
}

// Loader discovers module artifacts in a configured directory and opens
// handles on them. Each artifact is a subdirectory containing a
// module.yaml manifest and the module executable it names.
type Loader struct {
	dir     string
	factory ClientFactory
	ignore  []glob.Glob
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader) error

// WithIgnorePatterns skips directory entries matching any of the given
// glob patterns (e.g. "*.disabled", "_*").
func WithIgnorePatterns(patterns []string) LoaderOption {
	return func(l *Loader) error {
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid ignore pattern %q: %w", p, err)
			}
			l.ignore = append(l.ignore, g)
		}
		return nil
	}
}

// NewLoader creates a loader over the given modules directory.
// Panics if factory is nil.
func NewLoader(dir string, factory ClientFactory, opts ...LoaderOption) (*Loader, error) {
	if factory == nil {
		panic("module: factory cannot be nil")
	}
	l := &Loader{dir: dir, factory: factory}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Dir returns the modules directory this loader scans.
func (l *Loader) Dir() string {
	return l.dir
}

// EnsureDir creates the modules directory if it does not exist.
func (l *Loader) EnsureDir() error {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create modules directory: %w", err)
	}
	return nil
}

// Discover enumerates module artifacts. Entries without a manifest are
// skipped with a warning; entries with an invalid manifest are reported
// as failures. Discovery never opens a module process.
func (l *Loader) Discover(_ context.Context) ([]*Candidate, []Failure, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil // No modules directory
		}
		return nil, nil, fmt.Errorf("failed to read modules directory: %w", err)
	}

	var candidates []*Candidate
	var failures []Failure
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if l.ignored(entry.Name()) {
			slog.Debug("skipping ignored entry", "dir", entry.Name())
			continue
		}

		candidate, err := l.Examine(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Warn("skipping entry without manifest",
					"dir", entry.Name(),
					"error", err)
				continue
			}
			failures = append(failures, failureFromError(entry.Name(), "", err))
			continue
		}
		candidates = append(candidates, candidate)
	}

	return candidates, failures, nil
}

// Examine reads and validates a single artifact directory without
// starting its process. Used by Discover and by single-module reloads.
func (l *Loader) Examine(dir string) (*Candidate, error) {
	manifestPath := filepath.Join(dir, ManifestFilename)

	data, err := os.ReadFile(manifestPath) //nolint:gosec // path comes from the modules directory
	if err != nil {
		return nil, oops.Code(CodeLoadError).
			With("dir", dir).
			Wrapf(err, "cannot read manifest")
	}

	if err := ValidateSchema(data); err != nil {
		return nil, oops.Code(CodeLoadError).
			With("dir", dir).
			Wrapf(err, "invalid manifest")
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, oops.Code(CodeLoadError).
			With("dir", dir).
			Wrapf(err, "invalid manifest")
	}

	fp, err := fingerprint(manifestPath, filepath.Join(dir, manifest.Executable))
	if err != nil {
		return nil, oops.Code(CodeLoadError).
			With("dir", dir).
			With("module", manifest.Name).
			Wrap(err)
	}

	return &Candidate{
		Manifest:    manifest,
		Dir:         dir,
		Fingerprint: fp,
	}, nil
}

// Open starts the candidate's module process and validates its contract.
func (l *Loader) Open(c *Candidate) (*Handle, error) {
	return openHandle(l.factory, c.Manifest, c.Dir)
}

func (l *Loader) ignored(name string) bool {
	for _, g := range l.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// fingerprint derives a change marker from the size and mtime of the
// artifact files. A changed fingerprint means the artifact must be
// replaced (unload-then-load); an unchanged one is skipped on rescan.
func fingerprint(paths ...string) (string, error) {
	fp := ""
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("cannot stat artifact file %s: %w", p, err)
		}
		fp += fmt.Sprintf("%s:%d:%d;", filepath.Base(p), st.Size(), st.ModTime().UnixNano())
	}
	return fp, nil
}

// failureFromError converts a load error into a report Failure.
func failureFromError(dir, name string, err error) Failure {
	f := Failure{Dir: dir, Name: name, Reason: err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			f.Code = code
		}
	}
	return f
}
