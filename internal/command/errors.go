// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package command

import (
	"github.com/samber/oops"
)

// Stable machine-readable codes for dispatch and registration failures.
const (
	CodeCommandNotFound      = "COMMAND_NOT_FOUND"
	CodeArgumentError        = "ARGUMENT_ERROR"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodeModuleUnavailable    = "MODULE_UNAVAILABLE"
	CodeModuleFault          = "MODULE_FAULT"
	CodeTimeout              = "TIMEOUT"
	CodeCancelled            = "CANCELLED"
	CodeRegistrationConflict = "REGISTRATION_CONFLICT"
	CodeInvalidName          = "INVALID_NAME"
	CodeEmptyCommand         = "EMPTY_COMMAND"
)

// ErrCommandNotFound creates an error for an unknown command identifier.
func ErrCommandNotFound(cmd string) error {
	return oops.Code(CodeCommandNotFound).
		With("command", cmd).
		Errorf("command not found: %s", cmd)
}

// ErrArgument creates an error for malformed arguments. detail is the
// specific validation failure; it is safe to show to users.
func ErrArgument(cmd, detail string) error {
	return oops.Code(CodeArgumentError).
		With("command", cmd).
		With("detail", detail).
		Errorf("invalid arguments for %s: %s", cmd, detail)
}

// ErrPermissionDenied creates an error for an insufficient permission level.
func ErrPermissionDenied(cmd string, required, actual string) error {
	return oops.Code(CodePermissionDenied).
		With("command", cmd).
		With("required_level", required).
		With("actual_level", actual).
		Errorf("permission denied for command %s", cmd)
}

// ErrModuleUnavailable creates an error for a command whose owning module
// is draining or reloading.
func ErrModuleUnavailable(cmd, module string) error {
	return oops.Code(CodeModuleUnavailable).
		With("command", cmd).
		With("module", module).
		Errorf("module %s is unavailable", module)
}

// ErrModuleFault creates an error for an abnormal termination inside a
// module's entry point. The cause is logged, never surfaced to callers.
func ErrModuleFault(cmd, module string, cause error) error {
	builder := oops.Code(CodeModuleFault).
		With("command", cmd).
		With("module", module)
	if cause != nil {
		return builder.Wrapf(cause, "module %s faulted executing %s", module, cmd)
	}
	return builder.Errorf("module %s faulted executing %s", module, cmd)
}

// ErrTimeout creates an error for an invocation exceeding its deadline.
func ErrTimeout(cmd, module string, timeoutMs int64) error {
	return oops.Code(CodeTimeout).
		With("command", cmd).
		With("module", module).
		With("timeout_ms", timeoutMs).
		Errorf("command %s timed out", cmd)
}

// ErrCancelled creates an error for an invocation abandoned because the
// caller's context was cancelled before the deadline.
func ErrCancelled(cmd, module string) error {
	return oops.Code(CodeCancelled).
		With("command", cmd).
		With("module", module).
		Errorf("command %s was cancelled", cmd)
}

// ErrConflict creates a load-time error for a duplicate command identifier.
func ErrConflict(key, module, existingModule string) error {
	return oops.Code(CodeRegistrationConflict).
		With("identifier", key).
		With("module", module).
		With("existing_module", existingModule).
		Errorf("command identifier %q already registered by module %s", key, existingModule)
}

// ErrEmptyCommand creates an error for a request with no command identifier.
func ErrEmptyCommand() error {
	return oops.Code(CodeEmptyCommand).Errorf("no command provided")
}

// Code extracts the stable error code from err, or empty if err carries none.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// UserMessage maps a dispatch error to a message safe to show to the
// issuing user. Internal details never leak through this mapping.
func UserMessage(err error) string {
	const fallback = "Something went wrong. Try again."
	if err == nil {
		return fallback
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return fallback
	}

	switch oopsErr.Code() {
	case CodeCommandNotFound:
		return "Unknown command."
	case CodeArgumentError:
		if detail, ok := oopsErr.Context()["detail"].(string); ok && detail != "" {
			return "Invalid arguments: " + detail
		}
		return "Invalid arguments."
	case CodePermissionDenied:
		return "You don't have permission to use that command."
	case CodeModuleUnavailable:
		return "That command is temporarily unavailable. Try again shortly."
	case CodeModuleFault:
		return "That command failed. The problem has been reported."
	case CodeTimeout:
		return "That command took too long and was abandoned."
	case CodeCancelled:
		return "That command was cancelled."
	case CodeEmptyCommand:
		return "No command provided."
	default:
		return fallback
	}
}
