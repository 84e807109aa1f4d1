// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/streamward/streamward/internal/command"
	"github.com/streamward/streamward/pkg/modulesdk"
)

// State is a module's lifecycle state.
type State string

// Lifecycle states. The normal path is Unloaded -> Loading -> Active ->
// Draining -> Unloaded; Loading -> Failed is the alternate terminal path.
const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateActive   State = "active"
	StateDraining State = "draining"
	StateFailed   State = "failed"
)

// Defaults for lifecycle tuning knobs.
const (
	DefaultFaultThreshold = 5
	DefaultDrainWarnAfter = 30 * time.Second
)

// Sentinel errors for programmatic checks.
var (
	// ErrUnknownModule is returned when operating on a module the
	// manager has never loaded.
	ErrUnknownModule = errors.New("unknown module")
	// ErrReloadInProgress is returned when a reload is requested while
	// another lifecycle operation is still running.
	ErrReloadInProgress = errors.New("reload already in progress")
	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("manager is closed")
)

// Status describes one managed module for operational queries.
type Status struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	State       State  `json:"state"`
	Dir         string `json:"dir"`
	InFlight    int    `json:"in_flight"`
	Faults      int    `json:"faults"`
}

// managed holds the lifecycle state of one module.
type managed struct {
	name        string
	dir         string
	fingerprint string
	manifest    *Manifest
	handle      *Handle
	state       State
	inflight    int
	faults      int
	disabling   bool
	// drainDone is non-nil while draining with invocations in flight;
	// closed by the release that brings the count to zero.
	drainDone chan struct{}
}

// Manager orchestrates module lifecycle: load at startup, on-demand
// reload, drain-gated unload, and fault-threshold escalation. It is the
// exclusive owner of module handles; the descriptor table only holds
// module names.
type Manager struct {
	loader *Loader
	table  *command.Table

	faultThreshold int
	drainWarnAfter time.Duration

	// opMu serializes the compound lifecycle operations (LoadAll,
	// Reload, Unload, Close). mu guards the modules map and per-module
	// state and is never held across a foreign call or a drain wait.
	opMu    sync.Mutex
	mu      sync.Mutex
	modules map[string]*managed
	report  Report
	closed  bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFaultThreshold sets how many faults a module may accumulate before
// it is automatically drained and unloaded. Zero disables escalation.
func WithFaultThreshold(n int) ManagerOption {
	return func(m *Manager) {
		m.faultThreshold = n
	}
}

// WithDrainWarnAfter sets how long a drain may run before a slow-drain
// warning is logged. The wait itself is unbounded: a module is never
// unloaded out from under a running invocation.
func WithDrainWarnAfter(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.drainWarnAfter = d
		}
	}
}

// NewManager creates a lifecycle manager. Panics if loader or table is nil.
func NewManager(loader *Loader, table *command.Table, opts ...ManagerOption) *Manager {
	if loader == nil {
		panic("module: loader cannot be nil")
	}
	if table == nil {
		panic("module: table cannot be nil")
	}
	m := &Manager{
		loader:         loader,
		table:          table,
		faultThreshold: DefaultFaultThreshold,
		drainWarnAfter: DefaultDrainWarnAfter,
		modules:        make(map[string]*managed),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadAll scans the modules directory and loads every artifact. Loading
// is independent per artifact; failures are recorded in the returned
// report and never abort the rest of the scan. Unchanged already-loaded
// artifacts are skipped; changed ones are replaced.
func (mgr *Manager) LoadAll(ctx context.Context) (*Report, error) {
	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()

	if mgr.isClosed() {
		return nil, ErrManagerClosed
	}

	candidates, failures, err := mgr.loader.Discover(ctx)
	if err != nil {
		return nil, err
	}

	report := Report{ScannedAt: time.Now().UTC(), Failed: failures}

	seen := make(map[string]string, len(candidates))
	for _, c := range candidates {
		name := c.Manifest.Name
		if firstDir, dup := seen[name]; dup {
			report.Failed = append(report.Failed, Failure{
				Dir:    c.Dir,
				Name:   name,
				Code:   CodeLoadError,
				Reason: fmt.Sprintf("duplicate module name: already provided by %s", firstDir),
			})
			continue
		}
		seen[name] = c.Dir

		mgr.mu.Lock()
		existing := mgr.modules[name]
		mgr.mu.Unlock()

		switch {
		case existing != nil && existing.state == StateActive && existing.fingerprint == c.Fingerprint:
			report.Unchanged = append(report.Unchanged, name)
			continue
		case existing != nil && existing.state == StateActive:
			// Changed on disk: replace as unload-old-then-load-new.
			if err := mgr.replace(existing, c, &report); err != nil {
				report.Failed = append(report.Failed, failureFromError(c.Dir, name, err))
				continue
			}
			report.Replaced = append(report.Replaced, name)
		default:
			if err := mgr.load(c, &report); err != nil {
				report.Failed = append(report.Failed, failureFromError(c.Dir, name, err))
				continue
			}
			report.Loaded = append(report.Loaded, name)
		}
	}

	mgr.mu.Lock()
	mgr.report = report
	ActiveModules.Set(float64(mgr.countActive()))
	mgr.mu.Unlock()

	slog.Info("module scan complete",
		"loaded", len(report.Loaded),
		"unchanged", len(report.Unchanged),
		"replaced", len(report.Replaced),
		"failed", len(report.Failed),
		"registered", len(report.Registered),
		"rejected", len(report.Rejected))

	return &report, nil
}

// load loads a fresh module and registers its commands.
// A module failing any load-time check is never registered: the table
// only sees fully loaded modules.
func (mgr *Manager) load(c *Candidate, report *Report) error {
	name := c.Manifest.Name

	m := &managed{
		name:        name,
		dir:         c.Dir,
		fingerprint: c.Fingerprint,
		manifest:    c.Manifest,
		state:       StateLoading,
	}
	mgr.mu.Lock()
	mgr.modules[name] = m
	mgr.mu.Unlock()

	handle, err := mgr.loader.Open(c)
	if err != nil {
		mgr.mu.Lock()
		m.state = StateFailed
		mgr.mu.Unlock()
		Loads.WithLabelValues(name, "failure").Inc()
		return err
	}

	mgr.mu.Lock()
	m.handle = handle
	m.state = StateActive
	m.faults = 0
	mgr.mu.Unlock()

	registered, rejected := mgr.registerCommands(name, handle.Info())
	report.Registered = append(report.Registered, registered...)
	report.Rejected = append(report.Rejected, rejected...)
	Loads.WithLabelValues(name, "success").Inc()

	slog.Info("loaded module",
		"module", name,
		"version", c.Manifest.Version,
		"commands", len(registered))
	return nil
}

// replace performs the unload-old-then-load-new half of a rescan when an
// artifact changed on disk. The module's descriptors stay in the table
// through the drain so concurrent dispatches see ModuleUnavailable, not
// CommandNotFound.
func (mgr *Manager) replace(m *managed, c *Candidate, report *Report) error {
	mgr.drain(m)
	m.handle.Close()

	mgr.mu.Lock()
	m.state = StateLoading
	mgr.mu.Unlock()

	handle, err := mgr.loader.Open(c)
	if err != nil {
		mgr.mu.Lock()
		m.state = StateFailed
		m.handle = nil
		// Track the new location so a retry examines the right artifact.
		m.dir = c.Dir
		mgr.mu.Unlock()
		mgr.table.RemoveModule(m.name)
		Loads.WithLabelValues(m.name, "failure").Inc()
		return err
	}

	mgr.mu.Lock()
	m.handle = handle
	m.state = StateActive
	m.faults = 0
	m.disabling = false
	m.dir = c.Dir
	m.fingerprint = c.Fingerprint
	m.manifest = c.Manifest
	mgr.mu.Unlock()

	// Rebuild this module's slice of the table wholesale.
	mgr.table.RemoveModule(m.name)
	registered, rejected := mgr.registerCommands(m.name, handle.Info())
	report.Registered = append(report.Registered, registered...)
	report.Rejected = append(report.Rejected, rejected...)
	Loads.WithLabelValues(m.name, "success").Inc()
	return nil
}

// Reload re-runs the artifact's load on demand as one orchestrated
// unload-then-load. In-flight invocations complete first; dispatches
// arriving during the reload are rejected as ModuleUnavailable. Reload
// never queues behind another lifecycle operation: callers get
// ErrReloadInProgress immediately and can retry.
func (mgr *Manager) Reload(_ context.Context, name string) error {
	if !mgr.opMu.TryLock() {
		return fmt.Errorf("%w: %s", ErrReloadInProgress, name)
	}
	defer mgr.opMu.Unlock()

	if mgr.isClosed() {
		return ErrManagerClosed
	}

	mgr.mu.Lock()
	m, ok := mgr.modules[name]
	if !ok {
		mgr.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	state := m.state
	mgr.mu.Unlock()

	switch state {
	case StateActive:
		mgr.drain(m)
		m.handle.Close()
	case StateFailed:
		// Nothing to drain; retry the load.
	default:
		return fmt.Errorf("%w: %s is %s", ErrReloadInProgress, name, state)
	}

	mgr.mu.Lock()
	m.state = StateLoading
	mgr.mu.Unlock()

	var report Report
	c, err := mgr.loader.Examine(m.dir)
	if err == nil && c.Manifest.Name != name {
		err = fmt.Errorf("artifact at %s now declares module %q, expected %q", m.dir, c.Manifest.Name, name)
	}
	if err != nil {
		mgr.failReload(m, err)
		return err
	}

	handle, err := mgr.loader.Open(c)
	if err != nil {
		mgr.failReload(m, err)
		return err
	}

	mgr.mu.Lock()
	m.handle = handle
	m.state = StateActive
	m.faults = 0
	m.disabling = false
	m.fingerprint = c.Fingerprint
	m.manifest = c.Manifest
	ActiveModules.Set(float64(mgr.countActive()))
	mgr.mu.Unlock()

	mgr.table.RemoveModule(name)
	registered, rejected := mgr.registerCommands(name, handle.Info())
	report.ScannedAt = time.Now().UTC()
	report.Replaced = []string{name}
	report.Registered = registered
	report.Rejected = rejected

	mgr.mu.Lock()
	mgr.report = report
	mgr.mu.Unlock()

	Loads.WithLabelValues(name, "success").Inc()
	slog.Info("reloaded module", "module", name, "commands", len(registered))
	return nil
}

func (mgr *Manager) failReload(m *managed, err error) {
	mgr.mu.Lock()
	m.state = StateFailed
	m.handle = nil
	ActiveModules.Set(float64(mgr.countActive()))
	mgr.mu.Unlock()
	mgr.table.RemoveModule(m.name)
	Loads.WithLabelValues(m.name, "failure").Inc()
	slog.Error("module reload failed", "module", m.name, "error", err)
}

// Unload drains and releases a module and atomically drops its
// descriptors. Subsequent dispatches to its commands see CommandNotFound.
func (mgr *Manager) Unload(_ context.Context, name string) error {
	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()
	return mgr.unloadLocked(name)
}

func (mgr *Manager) unloadLocked(name string) error {
	mgr.mu.Lock()
	m, ok := mgr.modules[name]
	if !ok {
		mgr.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	state := m.state
	mgr.mu.Unlock()

	if state == StateActive {
		mgr.drain(m)
		m.handle.Close()
	}

	mgr.table.RemoveModule(name)

	mgr.mu.Lock()
	m.state = StateUnloaded
	m.handle = nil
	delete(mgr.modules, name)
	ActiveModules.Set(float64(mgr.countActive()))
	mgr.mu.Unlock()

	slog.Info("unloaded module", "module", name)
	return nil
}

// drain moves an Active module to Draining and blocks until its in-flight
// count reaches zero. New acquisitions are rejected as soon as the state
// flips; the wait is unbounded because a foreign call cannot be safely
// preempted, but a slow drain is logged.
func (mgr *Manager) drain(m *managed) {
	mgr.mu.Lock()
	if m.state != StateActive {
		mgr.mu.Unlock()
		return
	}
	m.state = StateDraining
	var done chan struct{}
	if m.inflight > 0 {
		done = make(chan struct{})
		m.drainDone = done
	}
	mgr.mu.Unlock()

	if done == nil {
		return
	}

	warn := time.NewTimer(mgr.drainWarnAfter)
	defer warn.Stop()
	select {
	case <-done:
	case <-warn.C:
		slog.Warn("module drain is slow; waiting for in-flight invocations",
			"module", m.name)
		<-done
	}
}

// Acquire reserves an in-flight invocation slot on the named module.
// Implements command.ModuleRuntime.
func (mgr *Manager) Acquire(name string) (command.Invocation, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	m, ok := mgr.modules[name]
	if !ok || m.state != StateActive {
		return nil, fmt.Errorf("%s: %w", name, command.ErrNotActive)
	}
	m.inflight++
	InFlight.WithLabelValues(name).Inc()
	return &lease{mgr: mgr, m: m, handle: m.handle}, nil
}

// lease is one acquired invocation slot. The handle reference is captured
// at acquire time; the drain protocol guarantees it outlives the call.
type lease struct {
	mgr    *Manager
	m      *managed
	handle *Handle
	once   sync.Once
}

func (l *lease) Invoke(req modulesdk.InvokeRequest) (modulesdk.InvokeResult, error) {
	return l.handle.Invoke(req)
}

func (l *lease) Release() {
	l.once.Do(func() {
		mgr, m := l.mgr, l.m
		mgr.mu.Lock()
		m.inflight--
		InFlight.WithLabelValues(m.name).Dec()
		if m.inflight == 0 && m.drainDone != nil {
			close(m.drainDone)
			m.drainDone = nil
		}
		mgr.mu.Unlock()
	})
}

func (l *lease) RecordFault() {
	l.mgr.recordFault(l.m)
}

// recordFault counts one abnormal termination against the module. Past
// the threshold the module is automatically drained and unloaded to
// protect overall service health; the escalation is an operational
// event, not a service failure.
func (mgr *Manager) recordFault(m *managed) {
	mgr.mu.Lock()
	m.faults++
	Faults.WithLabelValues(m.name).Inc()
	escalate := mgr.faultThreshold > 0 &&
		m.faults >= mgr.faultThreshold &&
		m.state == StateActive &&
		!m.disabling
	if escalate {
		m.disabling = true
	}
	faults := m.faults
	mgr.mu.Unlock()

	if !escalate {
		return
	}

	slog.Warn("module exceeded fault threshold, unloading",
		"module", m.name,
		"faults", faults,
		"threshold", mgr.faultThreshold)

	go func() {
		mgr.opMu.Lock()
		defer mgr.opMu.Unlock()
		if err := mgr.unloadLocked(m.name); err != nil {
			slog.Error("failed to unload faulting module",
				"module", m.name,
				"error", err)
		}
	}()
}

// registerCommands registers a loaded module's declared commands.
// Conflicting or invalid commands are rejected individually; the
// module's other commands still register.
func (mgr *Manager) registerCommands(name string, info modulesdk.ModuleInfo) ([]string, []RejectedCommand) {
	var registered []string
	var rejected []RejectedCommand

	for _, spec := range info.Commands {
		perm := spec.Permission
		if perm == "" {
			perm = modulesdk.LevelEveryone
		}
		if !perm.Valid() {
			rejected = append(rejected, RejectedCommand{
				Module:  name,
				Command: spec.Name,
				Reason:  fmt.Sprintf("unknown permission level %q", spec.Permission),
			})
			continue
		}
		if err := command.ValidateArgSpecs(spec.Args); err != nil {
			rejected = append(rejected, RejectedCommand{
				Module:  name,
				Command: spec.Name,
				Reason:  err.Error(),
			})
			continue
		}

		desc := command.Descriptor{
			Name:       spec.Name,
			Aliases:    spec.Aliases,
			Module:     name,
			Args:       spec.Args,
			Permission: perm,
			Help:       spec.Help,
		}
		if err := mgr.table.Register(desc); err != nil {
			rejected = append(rejected, RejectedCommand{
				Module:  name,
				Command: spec.Name,
				Reason:  err.Error(),
			})
			slog.Warn("rejected command registration",
				"module", name,
				"command", spec.Name,
				"error", err)
			continue
		}
		registered = append(registered, command.Normalize(spec.Name))
	}

	return registered, rejected
}

// Modules returns the status of every managed module, sorted by name.
func (mgr *Manager) Modules() []Status {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	out := make([]Status, 0, len(mgr.modules))
	for _, m := range mgr.modules {
		s := Status{
			Name:     m.name,
			State:    m.state,
			Dir:      m.dir,
			InFlight: m.inflight,
			Faults:   m.faults,
		}
		if m.manifest != nil {
			s.Version = m.manifest.Version
			s.Description = m.manifest.Description
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LastReport returns the most recent load report.
func (mgr *Manager) LastReport() Report {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.report
}

// Close drains and releases every module. The manager is unusable
// afterwards.
func (mgr *Manager) Close(_ context.Context) error {
	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()

	mgr.mu.Lock()
	if mgr.closed {
		mgr.mu.Unlock()
		return nil
	}
	mgr.closed = true
	names := make([]string, 0, len(mgr.modules))
	for name := range mgr.modules {
		names = append(names, name)
	}
	mgr.mu.Unlock()

	for _, name := range names {
		if err := mgr.unloadLocked(name); err != nil {
			slog.Warn("failed to unload module during shutdown",
				"module", name,
				"error", err)
		}
	}
	return nil
}

func (mgr *Manager) isClosed() bool {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.closed
}

// countActive is called with mu held.
func (mgr *Manager) countActive() int {
	n := 0
	for _, m := range mgr.modules {
		if m.state == StateActive {
			n++
		}
	}
	return n
}
