// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/oops"

	"github.com/streamward/streamward/pkg/modulesdk"
)

// MaxNameLength is the maximum length for command and alias identifiers.
const MaxNameLength = 32

// namePattern validates command identifiers: a letter followed by
// letters, digits, or _-!? . Identifiers are matched case-insensitively.
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-!?]*$`)

// ValidateCommandName validates a command or alias identifier.
func ValidateCommandName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return oops.Code(CodeInvalidName).
			Errorf("command name cannot be empty")
	}
	if len(trimmed) > MaxNameLength {
		return oops.Code(CodeInvalidName).
			With("name", trimmed).
			With("max", MaxNameLength).
			Errorf("command name exceeds maximum length of %d", MaxNameLength)
	}
	if !namePattern.MatchString(trimmed) {
		return oops.Code(CodeInvalidName).
			With("name", trimmed).
			Errorf("command name must start with a letter and contain only letters, digits, or _-!?")
	}
	return nil
}

// ValidateArgSpecs validates a declared argument schema: known types,
// non-empty names, required arguments before optional ones, and a rest
// argument only in final position.
func ValidateArgSpecs(specs []modulesdk.ArgSpec) error {
	sawOptional := false
	for i, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" {
			return oops.Code(CodeInvalidName).
				With("position", i).
				Errorf("argument %d has no name", i)
		}
		if !spec.Type.Valid() {
			return oops.Code(CodeInvalidName).
				With("argument", spec.Name).
				With("type", string(spec.Type)).
				Errorf("argument %s has unknown type %q", spec.Name, spec.Type)
		}
		if spec.Type == modulesdk.ArgRest && i != len(specs)-1 {
			return oops.Code(CodeInvalidName).
				With("argument", spec.Name).
				Errorf("rest argument %s must be last", spec.Name)
		}
		if spec.Optional {
			sawOptional = true
		} else if sawOptional {
			return oops.Code(CodeInvalidName).
				With("argument", spec.Name).
				Errorf("required argument %s follows an optional argument", spec.Name)
		}
	}
	return nil
}

// Usage renders a one-line usage string from a descriptor, e.g.
// "uptime [unit]" or "ban <user> [reason...]".
func Usage(d Descriptor) string {
	var b strings.Builder
	b.WriteString(d.Name)
	for _, arg := range d.Args {
		name := arg.Name
		if arg.Type == modulesdk.ArgRest {
			name += "..."
		}
		if arg.Optional {
			fmt.Fprintf(&b, " [%s]", name)
		} else {
			fmt.Fprintf(&b, " <%s>", name)
		}
	}
	return b.String()
}
