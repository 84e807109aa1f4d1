// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package module

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/streamward/streamward/internal/command"
	"github.com/streamward/streamward/pkg/modulesdk"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestManager builds a manager over a temp modules tree populated with
// the given artifacts, each served by an in-process stub module.
func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *command.Table, string, *fakeFactory) {
	t.Helper()
	root := t.TempDir()
	factory := newFakeFactory()

	loader, err := NewLoader(root, factory)
	require.NoError(t, err)

	table := command.NewTable()
	mgr := NewManager(loader, table, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return mgr, table, root, factory
}

func addDiceArtifact(t *testing.T, root string, factory *fakeFactory, mod *stubModule) {
	t.Helper()
	writeArtifact(t, root, "dice", diceManifestYAML())
	factory.add("dice", clientFor(mod))
}

func TestManager_LoadAllRegistersCommands(t *testing.T) {
	mgr, table, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})

	report, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"dice"}, report.Loaded)
	assert.Equal(t, []string{"roll"}, report.Registered)
	assert.Empty(t, report.Failed)

	d, ok := table.Resolve("roll")
	require.True(t, ok)
	assert.Equal(t, "dice", d.Module)
	_, ok = table.Resolve("r")
	assert.True(t, ok, "aliases are registered too")

	statuses := mgr.Modules()
	require.Len(t, statuses, 1)
	assert.Equal(t, "dice", statuses[0].Name)
	assert.Equal(t, StateActive, statuses[0].State)
	assert.Equal(t, "1.0.0", statuses[0].Version)

	assert.Equal(t, report.Registered, mgr.LastReport().Registered)
}

func TestManager_LoadAllSkipsUnchanged(t *testing.T) {
	mgr, _, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})

	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	report, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dice"}, report.Unchanged)
	assert.Empty(t, report.Loaded)
	assert.Empty(t, report.Replaced)
}

func TestManager_LoadAllReplacesChanged(t *testing.T) {
	mgr, table, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})

	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	// Change the artifact on disk.
	require.NoError(t, os.WriteFile(filepath.Join(root, "dice", "dice"),
		[]byte("#!/bin/true\n# updated build\n"), 0o700))

	report, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dice"}, report.Replaced)

	_, ok := table.Resolve("roll")
	assert.True(t, ok, "commands survive a replace")
}

func TestManager_LoadAllTracksMovedArtifact(t *testing.T) {
	mgr, _, root, factory := newTestManager(t)
	writeArtifact(t, root, "alpha", `name: dice
version: 1.0.0
api-version: 1.0.0
executable: alpha
`)
	factory.add("alpha", clientFor(&stubModule{info: diceInfo()}))

	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "alpha"), mgr.Modules()[0].Dir)

	// The artifact moves to a new directory between scans.
	require.NoError(t, os.RemoveAll(filepath.Join(root, "alpha")))
	betaDir := writeArtifact(t, root, "beta", `name: dice
version: 1.0.0
api-version: 1.0.0
executable: beta
`)
	factory.add("beta", clientFor(&stubModule{info: diceInfo()}))

	report, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dice"}, report.Replaced)
	assert.Equal(t, betaDir, mgr.Modules()[0].Dir)

	// A reload examines the new location, not the stale one.
	require.NoError(t, mgr.Reload(context.Background(), "dice"))
	assert.Equal(t, StateActive, mgr.Modules()[0].State)
}

func TestManager_LoadAllRecordsFailures(t *testing.T) {
	mgr, table, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})

	// A module whose process refuses to start.
	writeArtifact(t, root, "broken", `name: broken
version: 1.0.0
api-version: 1.0.0
executable: broken
`)
	factory.add("broken", &fakeClient{clientErr: errors.New("handshake refused")})

	report, err := mgr.LoadAll(context.Background())
	require.NoError(t, err, "one module's failure never aborts the scan")

	assert.Equal(t, []string{"dice"}, report.Loaded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "broken", report.Failed[0].Name)
	assert.Equal(t, CodeLoadError, report.Failed[0].Code)

	_, ok := table.Resolve("roll")
	assert.True(t, ok)

	var brokenStatus *Status
	for _, s := range mgr.Modules() {
		if s.Name == "broken" {
			v := s
			brokenStatus = &v
		}
	}
	require.NotNil(t, brokenStatus)
	assert.Equal(t, StateFailed, brokenStatus.State)
}

func TestManager_LoadAllRejectsDuplicateNames(t *testing.T) {
	mgr, _, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})

	// Second artifact dir claiming the same module name.
	writeArtifact(t, root, "dice-copy", `name: dice
version: 1.0.0
api-version: 1.0.0
executable: dice-copy
`)
	factory.add("dice-copy", clientFor(&stubModule{info: diceInfo()}))

	report, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"dice"}, report.Loaded)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Reason, "duplicate module name")
}

func TestManager_LoadAllRejectsConflictingCommands(t *testing.T) {
	mgr, table, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})

	casinoInfo := modulesdk.ModuleInfo{
		Name:       "casino",
		Version:    "1.0.0",
		APIVersion: "1.0.0",
		Commands: []modulesdk.CommandSpec{
			{Name: "roll", Permission: modulesdk.LevelEveryone}, // collides with dice
			{Name: "slots", Permission: modulesdk.LevelEveryone},
		},
	}
	writeArtifact(t, root, "casino", `name: casino
version: 1.0.0
api-version: 1.0.0
executable: casino
`)
	factory.add("casino", clientFor(&stubModule{info: casinoInfo}))

	report, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	// Scan order is lexicographic: casino loads first and wins "roll".
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "dice", report.Rejected[0].Module)
	assert.Equal(t, "roll", report.Rejected[0].Command)

	d, ok := table.Resolve("roll")
	require.True(t, ok)
	assert.Equal(t, "casino", d.Module, "first registration wins")
	_, ok = table.Resolve("slots")
	assert.True(t, ok, "the conflicting module's other commands still register")
}

func TestManager_AcquireInvokeRelease(t *testing.T) {
	mgr, _, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{
		info: diceInfo(),
		invoke: func(modulesdk.InvokeRequest) (modulesdk.InvokeResult, error) {
			return modulesdk.InvokeResult{Reply: "rolled"}, nil
		},
	})
	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	inv, err := mgr.Acquire("dice")
	require.NoError(t, err)

	res, err := inv.Invoke(modulesdk.InvokeRequest{Command: "roll"})
	require.NoError(t, err)
	assert.Equal(t, "rolled", res.Reply)

	assert.Equal(t, 1, mgr.Modules()[0].InFlight)
	inv.Release()
	inv.Release() // release is idempotent
	assert.Equal(t, 0, mgr.Modules()[0].InFlight)
}

func TestManager_AcquireNotActive(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	_, err := mgr.Acquire("ghost")
	assert.ErrorIs(t, err, command.ErrNotActive)
}

func TestManager_UnloadRemovesCommands(t *testing.T) {
	mgr, table, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})
	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	require.NoError(t, mgr.Unload(context.Background(), "dice"))

	_, ok := table.Resolve("roll")
	assert.False(t, ok, "descriptors drop with the module")
	assert.Empty(t, mgr.Modules())

	_, err = mgr.Acquire("dice")
	assert.ErrorIs(t, err, command.ErrNotActive)

	err = mgr.Unload(context.Background(), "dice")
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestManager_ReloadWaitsForInFlight(t *testing.T) {
	mgr, table, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})
	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	inv, err := mgr.Acquire("dice")
	require.NoError(t, err)

	reloadDone := make(chan error, 1)
	go func() {
		reloadDone <- mgr.Reload(context.Background(), "dice")
	}()

	// The reload must block behind the in-flight invocation.
	select {
	case <-reloadDone:
		t.Fatal("reload completed while an invocation was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// While draining, the commands stay resolvable but the module
	// rejects new acquisitions.
	_, ok := table.Resolve("roll")
	assert.True(t, ok, "descriptors stay in the table through the drain")
	_, err = mgr.Acquire("dice")
	assert.ErrorIs(t, err, command.ErrNotActive)

	// A second reload does not queue behind the first.
	err = mgr.Reload(context.Background(), "dice")
	assert.ErrorIs(t, err, ErrReloadInProgress)

	inv.Release()

	select {
	case err := <-reloadDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not complete after the invocation was released")
	}

	// Back to normal service.
	inv2, err := mgr.Acquire("dice")
	require.NoError(t, err)
	inv2.Release()
}

func TestManager_ReloadUnknownModule(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	err := mgr.Reload(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestManager_FailedReloadDropsCommands(t *testing.T) {
	mgr, table, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})
	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	// Corrupt the artifact so the reload fails.
	manifestPath := filepath.Join(root, "dice", ManifestFilename)
	require.NoError(t, os.WriteFile(manifestPath, []byte("name: [broken"), 0o600))

	err = mgr.Reload(context.Background(), "dice")
	require.Error(t, err)

	_, ok := table.Resolve("roll")
	assert.False(t, ok, "a failed reload leaves no stale descriptors")

	statuses := mgr.Modules()
	require.Len(t, statuses, 1)
	assert.Equal(t, StateFailed, statuses[0].State)

	_, err = mgr.Acquire("dice")
	assert.ErrorIs(t, err, command.ErrNotActive)

	// Repairing the artifact allows a retry from the failed state.
	require.NoError(t, os.WriteFile(manifestPath, []byte(diceManifestYAML()), 0o600))
	require.NoError(t, mgr.Reload(context.Background(), "dice"))

	_, ok = table.Resolve("roll")
	assert.True(t, ok)
	assert.Equal(t, StateActive, mgr.Modules()[0].State)
}

func TestManager_ReloadRejectsRenamedArtifact(t *testing.T) {
	mgr, _, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})
	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	// The artifact now claims a different module name.
	require.NoError(t, os.WriteFile(filepath.Join(root, "dice", ManifestFilename),
		[]byte("name: cards\nversion: 1.0.0\napi-version: 1.0.0\nexecutable: dice\n"), 0o600))

	err = mgr.Reload(context.Background(), "dice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cards")
}

func TestManager_FaultThresholdUnloads(t *testing.T) {
	mgr, table, root, factory := newTestManager(t, WithFaultThreshold(2))
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})
	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	inv, err := mgr.Acquire("dice")
	require.NoError(t, err)
	inv.RecordFault()
	inv.Release()

	// Below the threshold the module keeps serving.
	_, ok := table.Resolve("roll")
	assert.True(t, ok)

	inv, err = mgr.Acquire("dice")
	require.NoError(t, err)
	inv.RecordFault()
	inv.Release()

	// The second fault crosses the threshold and triggers an automatic
	// drain-and-unload in the background.
	assert.Eventually(t, func() bool {
		_, ok := table.Resolve("roll")
		return !ok && len(mgr.Modules()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManager_FaultCountResetsOnReload(t *testing.T) {
	mgr, _, root, factory := newTestManager(t, WithFaultThreshold(5))
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})
	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	inv, err := mgr.Acquire("dice")
	require.NoError(t, err)
	inv.RecordFault()
	inv.RecordFault()
	inv.Release()
	assert.Equal(t, 2, mgr.Modules()[0].Faults)

	require.NoError(t, mgr.Reload(context.Background(), "dice"))
	assert.Equal(t, 0, mgr.Modules()[0].Faults, "a reloaded module starts with a clean slate")
}

func TestManager_Close(t *testing.T) {
	mgr, table, root, factory := newTestManager(t)
	addDiceArtifact(t, root, factory, &stubModule{info: diceInfo()})
	_, err := mgr.LoadAll(context.Background())
	require.NoError(t, err)

	require.NoError(t, mgr.Close(context.Background()))
	assert.Empty(t, mgr.Modules())
	_, ok := table.Resolve("roll")
	assert.False(t, ok)

	_, err = mgr.LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrManagerClosed)
	err = mgr.Reload(context.Background(), "dice")
	assert.ErrorIs(t, err, ErrManagerClosed)

	assert.NoError(t, mgr.Close(context.Background()), "close is idempotent")
}
