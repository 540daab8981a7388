// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the control plane.
//
// Metrics are exposed via the /metrics endpoint. All metric operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "aleutian"

// Subsystem for control-plane metrics.
const stacksSubsystem = "stacks"

// StackMetrics holds all Prometheus metrics for the control plane.
//
// Initialize once at startup via InitMetrics(); promauto registers the
// collectors with the default registry, so a second instance would panic.
type StackMetrics struct {
	// ConnectedViewers gauges currently attached websocket viewers.
	ConnectedViewers prometheus.Gauge

	// ViewerEventsDropped counts events lost to viewer queue overflow.
	ViewerEventsDropped prometheus.Counter

	// CommandsTotal counts lifecycle command executions.
	// Labels: action (up, down), status (success, error, busy)
	CommandsTotal *prometheus.CounterVec

	// PollErrorsTotal counts per-stack status query failures.
	PollErrorsTotal prometheus.Counter

	// SamplesTotal counts metric snapshots produced.
	SamplesTotal prometheus.Counter

	// BrokerProbeFailures counts queue-broker probes that came back offline.
	BrokerProbeFailures prometheus.Counter

	// HistoryEvictions counts snapshots evicted past the retention window.
	HistoryEvictions prometheus.Counter
}

// DefaultMetrics is the singleton instance, nil until InitMetrics runs.
// Callers must nil-check:
//
//	if m := observability.DefaultMetrics; m != nil {
//	    m.SamplesTotal.Inc()
//	}
var DefaultMetrics *StackMetrics

// InitMetrics creates and registers all control-plane metrics. Call once
// from main before serving traffic; tests that don't care about metrics
// simply never call it.
func InitMetrics() *StackMetrics {
	DefaultMetrics = &StackMetrics{
		ConnectedViewers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: stacksSubsystem,
			Name:      "connected_viewers",
			Help:      "Number of currently attached websocket viewers.",
		}),
		ViewerEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: stacksSubsystem,
			Name:      "viewer_events_dropped_total",
			Help:      "Events lost because a viewer's outbound queue overflowed.",
		}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: stacksSubsystem,
			Name:      "commands_total",
			Help:      "Lifecycle command executions by action and outcome.",
		}, []string{"action", "status"}),
		PollErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: stacksSubsystem,
			Name:      "poll_errors_total",
			Help:      "Per-stack status query failures.",
		}),
		SamplesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: stacksSubsystem,
			Name:      "samples_total",
			Help:      "Metric snapshots produced by the sampler.",
		}),
		BrokerProbeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: stacksSubsystem,
			Name:      "broker_probe_failures_total",
			Help:      "Queue-broker management probes that reported offline.",
		}),
		HistoryEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: stacksSubsystem,
			Name:      "history_evictions_total",
			Help:      "Snapshots evicted from history past the retention window.",
		}),
	}
	return DefaultMetrics
}
