// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package command

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status label values for dispatch metrics.
const (
	StatusSuccess          = "success"
	StatusModuleError      = "module_error"
	StatusNotFound         = "not_found"
	StatusArgumentError    = "argument_error"
	StatusPermissionDenied = "permission_denied"
	StatusUnavailable      = "unavailable"
	StatusFault            = "fault"
	StatusTimeout          = "timeout"
	StatusCancelled        = "cancelled"
)

// Dispatches counts command dispatches by command, module, and status.
// Use RegisterMetrics to register this with a Prometheus registry.
var Dispatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "streamward_dispatches_total",
		Help: "Total number of command dispatches",
	},
	[]string{"command", "module", "status"},
)

// DispatchDuration observes end-to-end dispatch latency.
// Use RegisterMetrics to register this with a Prometheus registry.
var DispatchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "streamward_dispatch_duration_seconds",
		Help:    "Command dispatch duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"command", "module"},
)

// RegisterMetrics registers command package metrics with the given
// Prometheus registry. Call once at startup; panics on duplicate
// registration (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Dispatches)
	reg.MustRegister(DispatchDuration)
}

func statusForError(err error) string {
	switch Code(err) {
	case CodeCommandNotFound, CodeEmptyCommand:
		return StatusNotFound
	case CodeArgumentError:
		return StatusArgumentError
	case CodePermissionDenied:
		return StatusPermissionDenied
	case CodeModuleUnavailable:
		return StatusUnavailable
	case CodeModuleFault:
		return StatusFault
	case CodeTimeout:
		return StatusTimeout
	case CodeCancelled:
		return StatusCancelled
	default:
		return "error"
	}
}
