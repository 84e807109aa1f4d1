// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package module

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/streamward/streamward/pkg/modulesdk"
)

// Load-time error codes, surfaced through load reports and the
// operational API.
const (
	// CodeLoadError marks an artifact that could not be started or
	// handshaken: missing executable, wrong platform, wrong protocol.
	CodeLoadError = "LOAD_ERROR"
	// CodeSymbolError marks a module that started but does not satisfy
	// the exported contract: Describe failed, or the returned ModuleInfo
	// is invalid.
	CodeSymbolError = "SYMBOL_ERROR"
)

// ErrHandleExpired is returned by Invoke after the handle's underlying
// module process has been released.
var ErrHandleExpired = errors.New("module handle expired")

// PluginClient wraps a go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the module process.
	Kill()
}

// ClientFactory creates plugin clients for module executables.
type ClientFactory interface {
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a go-plugin client for the given executable path.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig: modulesdk.Handshake,
		Plugins: map[string]hashiplug.Plugin{
			modulesdk.PluginName: &modulesdk.ModulePlugin{},
		},
		Cmd: exec.Command(execPath), // #nosec G204 -- execPath resolved from a validated manifest
	})
}

// Handle owns one loaded module process and its resolved contract.
// A Handle is either fully loaded (described, contract-checked) or not
// created at all; partial loads release the process before returning.
type Handle struct {
	manifest *Manifest
	dir      string
	client   PluginClient
	mod      modulesdk.Module
	info     modulesdk.ModuleInfo
	closed   atomic.Bool
}

// openHandle starts the module executable and eagerly validates its
// exported contract. On any failure the process is killed and no handle
// exists, so the caller never observes partial state.
func openHandle(factory ClientFactory, manifest *Manifest, dir string) (*Handle, error) {
	execPath := filepath.Join(dir, manifest.Executable)
	if _, err := os.Stat(execPath); err != nil {
		return nil, oops.Code(CodeLoadError).
			With("module", manifest.Name).
			With("executable", execPath).
			Wrapf(err, "module executable not found")
	}

	client := factory.NewClient(execPath)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, oops.Code(CodeLoadError).
			With("module", manifest.Name).
			Wrapf(err, "failed to start module %s", manifest.Name)
	}

	raw, err := rpcClient.Dispense(modulesdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, oops.Code(CodeLoadError).
			With("module", manifest.Name).
			Wrapf(err, "failed to dispense module %s", manifest.Name)
	}

	mod, ok := raw.(modulesdk.Module)
	if !ok {
		client.Kill()
		return nil, oops.Code(CodeSymbolError).
			With("module", manifest.Name).
			Errorf("module %s does not implement the module contract", manifest.Name)
	}

	info, err := mod.Describe()
	if err != nil {
		client.Kill()
		return nil, oops.Code(CodeSymbolError).
			With("module", manifest.Name).
			Wrapf(err, "module %s failed to describe itself", manifest.Name)
	}

	if err := checkInfo(manifest, info); err != nil {
		client.Kill()
		return nil, err
	}

	return &Handle{
		manifest: manifest,
		dir:      dir,
		client:   client,
		mod:      mod,
		info:     info,
	}, nil
}

// checkInfo validates a module's self-description against its manifest
// and the host's supported API range.
func checkInfo(manifest *Manifest, info modulesdk.ModuleInfo) error {
	symbolErr := func(format string, args ...any) error {
		return oops.Code(CodeSymbolError).
			With("module", manifest.Name).
			Errorf(format, args...)
	}

	if info.Name == "" {
		return symbolErr("module %s reported an empty name", manifest.Name)
	}
	if info.Name != manifest.Name {
		return symbolErr("module name mismatch: manifest says %q, module says %q", manifest.Name, info.Name)
	}
	if info.Version != manifest.Version {
		return symbolErr("module version mismatch: manifest says %q, module says %q", manifest.Version, info.Version)
	}
	if err := CheckAPIVersion(info.APIVersion); err != nil {
		return oops.Code(CodeSymbolError).
			With("module", manifest.Name).
			Wrapf(err, "module %s is built against an incompatible API", manifest.Name)
	}
	if len(info.Commands) == 0 {
		return symbolErr("module %s declares no commands", manifest.Name)
	}
	return nil
}

// Info returns the module's validated self-description.
func (h *Handle) Info() modulesdk.ModuleInfo {
	return h.info
}

// Name returns the module's declared name.
func (h *Handle) Name() string {
	return h.info.Name
}

// Dir returns the artifact directory this handle was loaded from.
func (h *Handle) Dir() string {
	return h.dir
}

// Invoke calls the module's entry point. It fails with ErrHandleExpired
// once the handle has been closed.
func (h *Handle) Invoke(req modulesdk.InvokeRequest) (modulesdk.InvokeResult, error) {
	if h.closed.Load() {
		return modulesdk.InvokeResult{}, fmt.Errorf("module %s: %w", h.info.Name, ErrHandleExpired)
	}
	return h.mod.Invoke(req)
}

// Close releases the underlying module process. Close is idempotent; the
// process is killed at most once per successful load.
func (h *Handle) Close() {
	if h.closed.CompareAndSwap(false, true) {
		h.client.Kill()
	}
}
