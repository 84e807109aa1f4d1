// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

// Package modulesdk provides the SDK for building Streamward command modules.
//
// Command modules are standalone executables that communicate with the
// Streamward host via HashiCorp's go-plugin framework. A module declares
// the commands it provides (with aliases, argument schemas, and required
// permission levels) through Describe, and executes them through Invoke.
//
// Example usage:
//
//	package main
//
//	import "github.com/streamward/streamward/pkg/modulesdk"
//
//	type Greeter struct{}
//
//	func (Greeter) Describe() (modulesdk.ModuleInfo, error) {
//		return modulesdk.ModuleInfo{
//			Name:       "greeter",
//			Version:    "1.0.0",
//			APIVersion: modulesdk.APIVersion,
//			Commands: []modulesdk.CommandSpec{
//				{Name: "hello", Permission: modulesdk.LevelEveryone},
//			},
//		}, nil
//	}
//
//	func (Greeter) Invoke(req modulesdk.InvokeRequest) (modulesdk.InvokeResult, error) {
//		return modulesdk.InvokeResult{Reply: "hello, " + req.User.DisplayName}, nil
//	}
//
//	func main() {
//		modulesdk.Serve(&modulesdk.ServeConfig{Module: Greeter{}})
//	}
package modulesdk

import (
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
)

// APIVersion is the module API version spoken by this host release.
// Modules report the API version they were built against in ModuleInfo;
// the host rejects modules outside its supported range at load time.
const APIVersion = "1.0.0"

// ArgType identifies the declared type of a command argument.
type ArgType string

// Argument types supported by command schemas.
const (
	ArgString ArgType = "string"
	ArgInt    ArgType = "int"
	ArgFloat  ArgType = "float"
	ArgBool   ArgType = "bool"
	// ArgRest consumes the remainder of the raw argument text, preserving
	// internal whitespace. It may only appear as the final argument.
	ArgRest ArgType = "rest"
)

// Valid reports whether t is a known argument type.
func (t ArgType) Valid() bool {
	switch t {
	case ArgString, ArgInt, ArgFloat, ArgBool, ArgRest:
		return true
	}
	return false
}

// Level is a chat permission level. Levels are ordered: everyone <
// subscriber < moderator < owner.
type Level string

// Permission levels, lowest to highest.
const (
	LevelEveryone   Level = "everyone"
	LevelSubscriber Level = "subscriber"
	LevelModerator  Level = "moderator"
	LevelOwner      Level = "owner"
)

var levelRanks = map[Level]int{
	LevelEveryone:   0,
	LevelSubscriber: 1,
	LevelModerator:  2,
	LevelOwner:      3,
}

// Valid reports whether l is a known permission level.
func (l Level) Valid() bool {
	_, ok := levelRanks[l]
	return ok
}

// AtLeast reports whether l meets or exceeds the required level.
// Unknown levels never satisfy any requirement.
func (l Level) AtLeast(required Level) bool {
	lr, ok := levelRanks[l]
	if !ok {
		return false
	}
	rr, ok := levelRanks[required]
	if !ok {
		return false
	}
	return lr >= rr
}

// ArgSpec declares one typed positional argument of a command.
// The json tags shape the operational API's command listings; the
// plugin wire encoding ignores them.
type ArgSpec struct {
	Name     string  `json:"name"`
	Type     ArgType `json:"type"`
	Optional bool    `json:"optional,omitempty"`
	Help     string  `json:"help,omitempty"`
}

// CommandSpec declares one command a module provides.
type CommandSpec struct {
	// Name is the canonical command identifier. Identifiers are
	// case-normalized by the host; "Ping" and "ping" are the same command.
	Name    string
	Aliases []string
	Args    []ArgSpec
	// Permission is the minimum level required to invoke the command.
	Permission Level
	Help       string
}

// ModuleInfo is the module's self-description returned by Describe.
type ModuleInfo struct {
	Name       string
	Version    string
	APIVersion string
	Commands   []CommandSpec
}

// ArgValue is one parsed and validated argument, typed per its ArgSpec.
// Exactly one of the value fields is meaningful, selected by Type.
type ArgValue struct {
	Name  string
	Type  ArgType
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

// User is the resolved profile of the user issuing a command.
type User struct {
	ID          string
	DisplayName string
	Level       Level
	Subscriber  bool
}

// InvokeRequest carries one validated command invocation into a module.
// The request is a value copy; modules cannot mutate host state through it.
type InvokeRequest struct {
	// Command is the canonical command name. InvokedAs is the identifier
	// the user actually typed, which may be an alias.
	Command   string
	InvokedAs string
	Args      []ArgValue
	RawArgs   string

	MessageID string
	ChannelID string
	Text      string
	User      User
	Timestamp time.Time

	// InvocationID uniquely identifies this invocation for log correlation.
	InvocationID string
}

// InvokeResult is the discriminated result of a command invocation.
// A non-empty ErrorCode marks a module-declared failure; the host reports
// it to the caller verbatim without treating the module as faulted.
type InvokeResult struct {
	Reply     string
	Data      map[string]string
	ErrorCode string
	// ErrorMessage is the human-readable companion to ErrorCode.
	ErrorMessage string
}

// Module is the contract every command module must implement.
type Module interface {
	// Describe returns the module's name, version, API version, and the
	// commands it provides. Called once at load time.
	Describe() (ModuleInfo, error)

	// Invoke executes a command with validated arguments and a read-only
	// invocation context. Returning an error marks the invocation as a
	// module fault; declared failures belong in InvokeResult.ErrorCode.
	Invoke(req InvokeRequest) (InvokeResult, error)
}

// Handshake is the go-plugin handshake configuration. Host and modules
// must use identical values or the load is rejected before any RPC.
var Handshake = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "STREAMWARD_MODULE",
	MagicCookieValue: "streamward-module-v1",
}

// PluginName is the dispense key for the module plugin.
const PluginName = "module"

// ServeConfig configures the module server.
type ServeConfig struct {
	// Module is the command module implementation.
	// Required; Serve panics if nil.
	Module Module
}

// Serve starts the module server. Call from main(); it blocks and never
// returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("modulesdk: config cannot be nil")
	}
	if config.Module == nil {
		panic("modulesdk: config.Module cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &ModulePlugin{Impl: config.Module},
		},
	})
}
