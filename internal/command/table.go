// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package command

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Table is the authoritative mapping from command identifier (including
// aliases, each a distinct key) to its Descriptor.
//
// Reads resolve against an immutable snapshot swapped atomically on every
// mutation, so a concurrent register or remove-all never exposes a
// half-updated table to a dispatch in progress.
type Table struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[map[string]Descriptor]
}

// NewTable creates an empty descriptor table.
func NewTable() *Table {
	t := &Table{}
	empty := make(map[string]Descriptor)
	t.snap.Store(&empty)
	return t
}

// Normalize lowercases a command identifier for exact-match lookup.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a descriptor under its canonical name and every alias.
// Registration is atomic per descriptor: if the name or any alias
// collides with an existing key, nothing is registered and a
// REGISTRATION_CONFLICT error identifies the colliding key and its owner.
func (t *Table) Register(d Descriptor) error {
	if err := ValidateCommandName(d.Name); err != nil {
		return err
	}
	for _, alias := range d.Aliases {
		if err := ValidateCommandName(alias); err != nil {
			return err
		}
	}

	d.Name = Normalize(d.Name)
	keys := make([]string, 0, len(d.Aliases)+1)
	keys = append(keys, d.Name)
	seen := map[string]bool{d.Name: true}
	normalized := make([]string, 0, len(d.Aliases))
	for _, alias := range d.Aliases {
		a := Normalize(alias)
		if seen[a] {
			return ErrConflict(a, d.Module, d.Module)
		}
		seen[a] = true
		keys = append(keys, a)
		normalized = append(normalized, a)
	}
	d.Aliases = normalized

	t.mu.Lock()
	defer t.mu.Unlock()

	current := *t.snap.Load()
	for _, key := range keys {
		if existing, ok := current[key]; ok {
			return ErrConflict(key, d.Module, existing.Module)
		}
	}

	next := make(map[string]Descriptor, len(current)+len(keys))
	for k, v := range current {
		next[k] = v
	}
	for _, key := range keys {
		next[key] = d
	}
	t.snap.Store(&next)
	return nil
}

// Resolve looks up a descriptor by identifier or alias. Lookup is
// exact-match on the normalized identifier; no prefix or fuzzy matching.
func (t *Table) Resolve(name string) (Descriptor, bool) {
	d, ok := (*t.snap.Load())[Normalize(name)]
	return d, ok
}

// RemoveModule atomically drops every descriptor owned by the given
// module, canonical names and aliases alike.
func (t *Table) RemoveModule(module string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := *t.snap.Load()
	next := make(map[string]Descriptor, len(current))
	for k, v := range current {
		if v.Module != module {
			next[k] = v
		}
	}
	t.snap.Store(&next)
}

// Commands returns every registered descriptor once (aliases excluded),
// sorted by canonical name.
func (t *Table) Commands() []Descriptor {
	current := *t.snap.Load()
	out := make([]Descriptor, 0, len(current))
	for key, d := range current {
		if key == d.Name {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of distinct keys (names plus aliases).
func (t *Table) Len() int {
	return len(*t.snap.Load())
}
