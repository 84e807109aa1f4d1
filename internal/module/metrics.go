// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package module

import "github.com/prometheus/client_golang/prometheus"

// Lifecycle metrics. Registered onto the serving registry at startup;
// tests leave them unregistered so parallel suites do not collide.
var (
	Loads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamward",
			Subsystem: "modules",
			Name:      "loads_total",
			Help:      "Module load attempts by outcome.",
		},
		[]string{"module", "outcome"},
	)

	Faults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamward",
			Subsystem: "modules",
			Name:      "faults_total",
			Help:      "Abnormal handler terminations recorded per module.",
		},
		[]string{"module"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "streamward",
			Subsystem: "modules",
			Name:      "inflight_invocations",
			Help:      "Invocations currently executing inside each module.",
		},
		[]string{"module"},
	)

	ActiveModules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamward",
			Subsystem: "modules",
			Name:      "active",
			Help:      "Number of modules in the active state.",
		},
	)
)

// RegisterMetrics registers the lifecycle metrics on reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Loads, Faults, InFlight, ActiveModules)
}
