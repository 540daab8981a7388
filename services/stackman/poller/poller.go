// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package poller tracks each stack's running state.
//
// A single long-lived loop re-derives the status of every known stack on
// a fixed interval and publishes a status_update only when something
// changed (edge-triggered). One stack's query failing leaves its last
// known value in place and never blocks the others.
package poller

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianStacks/services/stackman/compose"
	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
	"github.com/AleutianAI/AleutianStacks/services/stackman/hub"
	"github.com/AleutianAI/AleutianStacks/services/stackman/observability"
	"github.com/AleutianAI/AleutianStacks/services/stackman/registry"
)

// Publisher is the slice of the hub the poller needs.
type Publisher interface {
	Publish(evt hub.Event)
}

// DefaultInterval is the poll interval when none is configured.
const DefaultInterval = 4 * time.Second

// queryTimeout bounds each per-stack status query, independent of the
// sampler's timeouts: a stalled docker daemon must not stall metrics.
const queryTimeout = 5 * time.Second

// Poller owns the last-broadcast status map. Nothing else mutates it; the
// editor and handlers read it through Running/Snapshot.
type Poller struct {
	registry *registry.Registry
	runner   compose.Runner
	pub      Publisher
	interval time.Duration

	mu   sync.Mutex
	last map[string]bool // status key -> running
}

// New returns a poller. interval <= 0 selects DefaultInterval.
func New(reg *registry.Registry, runner compose.Runner, pub Publisher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		registry: reg,
		runner:   runner,
		pub:      pub,
		interval: interval,
		last:     make(map[string]bool),
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately so
// viewers attaching at startup see real state, not a blank map.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("status poller stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll re-derives every known stack's status and publishes a status_update
// (plus the current container list) if anything changed since the last
// broadcast. Removed stacks drop out of the map in the same tick.
func (p *Poller) Poll(ctx context.Context) {
	stacks := p.registry.Discover()

	current := make(map[string]bool, len(stacks))
	for _, stack := range stacks {
		key := stack.StatusKey()
		queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		running, err := p.runner.Running(queryCtx, stack.Dir)
		cancel()
		if err != nil {
			// Keep the last known value; a fresh stack defaults to stopped.
			p.mu.Lock()
			running = p.last[key]
			p.mu.Unlock()
			if m := observability.DefaultMetrics; m != nil {
				m.PollErrorsTotal.Inc()
			}
			slog.Warn("status query failed, keeping last known value",
				"stack", key, "error", err)
		}
		current[key] = running
	}

	p.mu.Lock()
	changed := !maps.Equal(current, p.last)
	if changed {
		p.last = current
	}
	p.mu.Unlock()
	if !changed {
		return
	}

	p.pub.Publish(hub.Event{Event: hub.EventStatusUpdate, Data: statusPayload(current)})

	listCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	containers, err := p.runner.Containers(listCtx)
	cancel()
	if err != nil {
		slog.Warn("container list query failed", "error", err)
		return
	}
	if containers == nil {
		containers = []datatypes.ContainerInfo{}
	}
	p.pub.Publish(hub.Event{Event: hub.EventContainerList, Data: containers})
}

// Running reports the last-broadcast status for a stack key. Unknown keys
// are reported as not running.
func (p *Poller) Running(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[key]
}

// Snapshot returns the last-broadcast status map in wire form.
func (p *Poller) Snapshot() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return statusPayload(p.last)
}

// statusPayload renders a status map in the wire format.
func statusPayload(status map[string]bool) map[string]string {
	payload := make(map[string]string, len(status))
	for key, running := range status {
		if running {
			payload[key] = "running"
		} else {
			payload[key] = "stopped"
		}
	}
	return payload
}
