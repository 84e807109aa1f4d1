// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package command

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamward/streamward/pkg/errutil"
	"github.com/streamward/streamward/pkg/modulesdk"
)

func TestTable_RegisterAndResolve(t *testing.T) {
	table := NewTable()

	err := table.Register(Descriptor{
		Name:       "Roll",
		Aliases:    []string{"r", "dice"},
		Module:     "dice",
		Permission: modulesdk.LevelEveryone,
	})
	require.NoError(t, err)

	d, ok := table.Resolve("roll")
	require.True(t, ok)
	assert.Equal(t, "roll", d.Name, "canonical name is normalized")
	assert.Equal(t, "dice", d.Module)

	// Aliases resolve to the same descriptor
	for _, alias := range []string{"r", "DICE", "  dice  "} {
		got, ok := table.Resolve(alias)
		require.True(t, ok, "alias %q should resolve", alias)
		assert.Equal(t, "roll", got.Name)
	}

	assert.Equal(t, 3, table.Len())
}

func TestTable_ResolveUnknown(t *testing.T) {
	table := NewTable()
	_, ok := table.Resolve("nope")
	assert.False(t, ok)
}

func TestTable_ResolveIsExactMatch(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(Descriptor{Name: "uptime", Module: "ping"}))

	_, ok := table.Resolve("up")
	assert.False(t, ok, "no prefix matching")
	_, ok = table.Resolve("uptimes")
	assert.False(t, ok)
}

func TestTable_ConflictOnName(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(Descriptor{Name: "roll", Module: "dice"}))

	err := table.Register(Descriptor{Name: "ROLL", Module: "other"})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeRegistrationConflict)
	errutil.AssertErrorContext(t, err, "existing_module", "dice")
}

func TestTable_ConflictOnAliasIsAtomic(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(Descriptor{Name: "roll", Module: "dice"}))

	// Name is free but an alias collides; nothing must be registered.
	err := table.Register(Descriptor{
		Name:    "gamble",
		Aliases: []string{"bet", "roll"},
		Module:  "casino",
	})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeRegistrationConflict)

	_, ok := table.Resolve("gamble")
	assert.False(t, ok, "canonical name must not be registered after alias conflict")
	_, ok = table.Resolve("bet")
	assert.False(t, ok, "non-colliding alias must not be registered either")

	d, _ := table.Resolve("roll")
	assert.Equal(t, "dice", d.Module, "first registration wins")
}

func TestTable_ConflictWithinOneDescriptor(t *testing.T) {
	table := NewTable()
	err := table.Register(Descriptor{
		Name:    "roll",
		Aliases: []string{"Roll"},
		Module:  "dice",
	})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeRegistrationConflict)
}

func TestTable_InvalidNames(t *testing.T) {
	table := NewTable()

	for _, name := range []string{"", "  ", "9ball", "has space", "héllo"} {
		err := table.Register(Descriptor{Name: name, Module: "m"})
		require.Error(t, err, "name %q should be rejected", name)
		errutil.AssertErrorCode(t, err, CodeInvalidName)
	}

	err := table.Register(Descriptor{Name: "ok", Aliases: []string{"bad alias"}, Module: "m"})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalidName)
}

func TestTable_RemoveModule(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(Descriptor{Name: "roll", Aliases: []string{"r"}, Module: "dice"}))
	require.NoError(t, table.Register(Descriptor{Name: "ping", Module: "ping"}))

	table.RemoveModule("dice")

	_, ok := table.Resolve("roll")
	assert.False(t, ok)
	_, ok = table.Resolve("r")
	assert.False(t, ok, "aliases are dropped with the module")
	_, ok = table.Resolve("ping")
	assert.True(t, ok, "other modules are untouched")
}

func TestTable_Commands(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(Descriptor{Name: "zeta", Module: "m"}))
	require.NoError(t, table.Register(Descriptor{Name: "alpha", Aliases: []string{"a"}, Module: "m"}))

	cmds := table.Commands()
	require.Len(t, cmds, 2, "aliases are excluded from listings")
	assert.Equal(t, "alpha", cmds[0].Name, "sorted by canonical name")
	assert.Equal(t, "zeta", cmds[1].Name)
}

func TestTable_ConcurrentResolveDuringMutation(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(Descriptor{Name: "stable", Module: "keeper"}))

	stop := make(chan struct{})
	mutatorDone := make(chan struct{})
	go func() {
		defer close(mutatorDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			mod := fmt.Sprintf("mod%d", i%4)
			_ = table.Register(Descriptor{Name: fmt.Sprintf("cmd%d", i%8), Module: mod})
			table.RemoveModule(mod)
		}
	}()

	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < 10000; j++ {
				d, ok := table.Resolve("stable")
				if !ok || d.Module != "keeper" {
					t.Error("stable descriptor disappeared during concurrent mutation")
					return
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-mutatorDone
}
