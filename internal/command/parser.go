// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package command

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/streamward/streamward/pkg/modulesdk"
)

// token is one argument token plus its byte offset into the raw text, so
// a rest argument can recover the remainder with whitespace intact.
type token struct {
	text   string
	offset int
}

// tokenize splits raw argument text on whitespace. Double quotes group a
// token containing spaces; the quotes themselves are stripped. An
// unterminated quote extends to the end of input.
func tokenize(raw string) []token {
	var tokens []token
	i := 0
	for i < len(raw) {
		for i < len(raw) && unicode.IsSpace(rune(raw[i])) {
			i++
		}
		if i >= len(raw) {
			break
		}
		start := i
		if raw[i] == '"' {
			i++
			j := i
			for j < len(raw) && raw[j] != '"' {
				j++
			}
			tokens = append(tokens, token{text: raw[i:j], offset: start})
			i = j
			if i < len(raw) {
				i++ // closing quote
			}
			continue
		}
		j := i
		for j < len(raw) && !unicode.IsSpace(rune(raw[j])) {
			j++
		}
		tokens = append(tokens, token{text: raw[i:j], offset: start})
		i = j
	}
	return tokens
}

// ParseArgs validates raw argument text against a declared schema and
// returns the typed values, in schema order. It never invokes foreign
// code; every failure is an ARGUMENT_ERROR attributable to the input.
func ParseArgs(cmd, raw string, specs []modulesdk.ArgSpec) ([]modulesdk.ArgValue, error) {
	tokens := tokenize(raw)
	values := make([]modulesdk.ArgValue, 0, len(specs))

	ti := 0
	for _, spec := range specs {
		if spec.Type == modulesdk.ArgRest {
			// Rest takes the raw remainder from the current token on,
			// preserving internal whitespace.
			rest := ""
			if ti < len(tokens) {
				rest = strings.TrimRight(raw[tokens[ti].offset:], " \t")
			}
			if rest == "" && !spec.Optional {
				return nil, ErrArgument(cmd, fmt.Sprintf("missing required argument %q", spec.Name))
			}
			values = append(values, modulesdk.ArgValue{
				Name: spec.Name,
				Type: modulesdk.ArgRest,
				Str:  rest,
			})
			ti = len(tokens)
			break
		}

		if ti >= len(tokens) {
			if spec.Optional {
				continue
			}
			return nil, ErrArgument(cmd, fmt.Sprintf("missing required argument %q", spec.Name))
		}

		value, err := coerce(cmd, spec, tokens[ti].text)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
		ti++
	}

	if ti < len(tokens) {
		return nil, ErrArgument(cmd, fmt.Sprintf("too many arguments: expected at most %d", len(specs)))
	}
	return values, nil
}

// coerce converts one token to a typed ArgValue per its spec.
func coerce(cmd string, spec modulesdk.ArgSpec, text string) (modulesdk.ArgValue, error) {
	value := modulesdk.ArgValue{Name: spec.Name, Type: spec.Type}
	switch spec.Type {
	case modulesdk.ArgString:
		value.Str = text
	case modulesdk.ArgInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return value, ErrArgument(cmd, fmt.Sprintf("argument %q must be an integer, got %q", spec.Name, text))
		}
		value.Int = n
	case modulesdk.ArgFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return value, ErrArgument(cmd, fmt.Sprintf("argument %q must be a number, got %q", spec.Name, text))
		}
		value.Float = f
	case modulesdk.ArgBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return value, ErrArgument(cmd, fmt.Sprintf("argument %q must be true or false, got %q", spec.Name, text))
		}
		value.Bool = b
	default:
		return value, ErrArgument(cmd, fmt.Sprintf("argument %q has unsupported type %q", spec.Name, spec.Type))
	}
	return value, nil
}
