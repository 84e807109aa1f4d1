// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

// Package main implements the ping example module. It provides two
// commands: "ping", which anyone can use, and "uptime", restricted to
// moderators, which reports how long the module process has been up.
//
// Build and install:
//
//	go build -o modules/ping/ping ./plugins/ping
//
// with a modules/ping/module.yaml of:
//
//	name: ping
//	version: 1.0.0
//	api-version: 1.0.0
//	executable: ping
package main

import (
	"fmt"
	"time"

	"github.com/streamward/streamward/pkg/modulesdk"
)

type pingModule struct {
	started time.Time
}

func (m *pingModule) Describe() (modulesdk.ModuleInfo, error) {
	return modulesdk.ModuleInfo{
		Name:       "ping",
		Version:    "1.0.0",
		APIVersion: modulesdk.APIVersion,
		Commands: []modulesdk.CommandSpec{
			{
				Name:       "ping",
				Aliases:    []string{"pong"},
				Permission: modulesdk.LevelEveryone,
				Help:       "Check that the bot is responding.",
			},
			{
				Name: "uptime",
				Args: []modulesdk.ArgSpec{
					{Name: "unit", Type: modulesdk.ArgString, Optional: true, Help: "seconds, minutes, or hours"},
				},
				Permission: modulesdk.LevelModerator,
				Help:       "Report how long the ping module has been running.",
			},
		},
	}, nil
}

func (m *pingModule) Invoke(req modulesdk.InvokeRequest) (modulesdk.InvokeResult, error) {
	switch req.Command {
	case "ping":
		return modulesdk.InvokeResult{Reply: "pong"}, nil
	case "uptime":
		return m.uptime(req), nil
	default:
		return modulesdk.InvokeResult{}, fmt.Errorf("unexpected command %q", req.Command)
	}
}

func (m *pingModule) uptime(req modulesdk.InvokeRequest) modulesdk.InvokeResult {
	elapsed := time.Since(m.started)

	unit := "seconds"
	for _, arg := range req.Args {
		if arg.Name == "unit" {
			unit = arg.Str
		}
	}

	var value float64
	switch unit {
	case "seconds":
		value = elapsed.Seconds()
	case "minutes":
		value = elapsed.Minutes()
	case "hours":
		value = elapsed.Hours()
	default:
		return modulesdk.InvokeResult{
			ErrorCode:    "UNKNOWN_UNIT",
			ErrorMessage: fmt.Sprintf("unknown unit %q: want seconds, minutes, or hours", unit),
		}
	}

	return modulesdk.InvokeResult{
		Reply: fmt.Sprintf("up %.1f %s", value, unit),
		Data:  map[string]string{"uptime_ms": fmt.Sprintf("%d", elapsed.Milliseconds())},
	}
}

func main() {
	modulesdk.Serve(&modulesdk.ServeConfig{
		Module: &pingModule{started: time.Now()},
	})
}
