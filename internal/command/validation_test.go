// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamward/streamward/pkg/modulesdk"
)

func TestValidateCommandName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"simple", "roll", true},
		{"mixed case", "RollDice", true},
		{"digits and punctuation", "d20_x2-now!?", true},
		{"leading digit", "8ball", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"internal space", "my cmd", false},
		{"unicode", "café", false},
		{"max length", strings.Repeat("a", MaxNameLength), true},
		{"over max length", strings.Repeat("a", MaxNameLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommandName(tt.in)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateArgSpecs(t *testing.T) {
	tests := []struct {
		name  string
		specs []modulesdk.ArgSpec
		ok    bool
	}{
		{"empty schema", nil, true},
		{
			"required then optional",
			[]modulesdk.ArgSpec{
				{Name: "user", Type: modulesdk.ArgString},
				{Name: "reason", Type: modulesdk.ArgString, Optional: true},
			},
			true,
		},
		{
			"required after optional",
			[]modulesdk.ArgSpec{
				{Name: "reason", Type: modulesdk.ArgString, Optional: true},
				{Name: "user", Type: modulesdk.ArgString},
			},
			false,
		},
		{
			"rest in final position",
			[]modulesdk.ArgSpec{
				{Name: "user", Type: modulesdk.ArgString},
				{Name: "message", Type: modulesdk.ArgRest, Optional: true},
			},
			true,
		},
		{
			"rest not last",
			[]modulesdk.ArgSpec{
				{Name: "message", Type: modulesdk.ArgRest},
				{Name: "user", Type: modulesdk.ArgString},
			},
			false,
		},
		{
			"unknown type",
			[]modulesdk.ArgSpec{{Name: "x", Type: "decimal"}},
			false,
		},
		{
			"unnamed argument",
			[]modulesdk.ArgSpec{{Name: " ", Type: modulesdk.ArgInt}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgSpecs(tt.specs)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestUsage(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
		want string
	}{
		{"no args", Descriptor{Name: "ping"}, "ping"},
		{
			"required and optional",
			Descriptor{Name: "ban", Args: []modulesdk.ArgSpec{
				{Name: "user", Type: modulesdk.ArgString},
				{Name: "reason", Type: modulesdk.ArgRest, Optional: true},
			}},
			"ban <user> [reason...]",
		},
		{
			"required rest",
			Descriptor{Name: "say", Args: []modulesdk.ArgSpec{
				{Name: "message", Type: modulesdk.ArgRest},
			}},
			"say <message...>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Usage(tt.desc))
		})
	}
}
