// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

// Package command provides the descriptor table, argument parser, and
// dispatch engine that route chat commands to their owning modules.
package command

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/streamward/streamward/internal/chat"
	"github.com/streamward/streamward/pkg/modulesdk"
)

// Descriptor maps one command identifier to its owning module and
// declared metadata. Descriptors are values; the table hands out copies
// and modules never receive a reference into it.
type Descriptor struct {
	// Name is the canonical, case-normalized command identifier.
	Name    string
	Aliases []string
	// Module is the owning module's name, a non-owning lookup key into
	// the lifecycle manager. The descriptor never extends the module
	// handle's lifetime.
	Module     string
	Args       []modulesdk.ArgSpec
	Permission modulesdk.Level
	Help       string
}

// Request is an inbound command request as delivered by the transport
// layer, with the identifier already separated from the argument text.
type Request struct {
	Command   string
	RawArgs   string
	MessageID string
	UserID    string
	// Text is the full message text. When empty and MessageID is set,
	// the dispatcher fetches it from the message source.
	Text string
}

// InvocationContext is the immutable per-request bundle passed to a
// module's entry point. Constructed fresh per request, never shared.
type InvocationContext struct {
	ID        ulid.ULID
	Command   string
	InvokedAs string
	RawArgs   string
	Args      []modulesdk.ArgValue
	Message   *chat.Message
	User      chat.UserProfile
	Timestamp time.Time
}

// Response is the translated result of a successful dispatch. A non-empty
// ErrorCode is a module-declared failure passed through verbatim;
// dispatch-time failures are returned as errors instead.
type Response struct {
	InvocationID string            `json:"invocation_id"`
	Command      string            `json:"command"`
	Module       string            `json:"module"`
	Reply        string            `json:"reply,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// OK reports whether the module declared success.
func (r *Response) OK() bool {
	return r.ErrorCode == ""
}

// Invocation is a single acquired right to invoke a module's entry point.
// Release must be called exactly once, when the foreign call has actually
// returned; the owning module cannot be unloaded before that.
type Invocation interface {
	Invoke(req modulesdk.InvokeRequest) (modulesdk.InvokeResult, error)
	Release()
	// RecordFault counts an abnormal termination against the module's
	// fault threshold.
	RecordFault()
}

// ErrNotActive is returned by ModuleRuntime.Acquire when the target
// module is not in the Active state.
var ErrNotActive = errors.New("module not active")

// ModuleRuntime is the dispatcher's view of the lifecycle manager.
type ModuleRuntime interface {
	// Acquire reserves an in-flight invocation slot on the named module.
	// It fails with ErrNotActive when the module is not in the Active
	// state (draining, reloading, or gone).
	Acquire(module string) (Invocation, error)
}
