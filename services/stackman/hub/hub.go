// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package hub fans events out to connected viewers.
//
// Producers (poller, sampler, executor) publish typed events to the hub;
// each attached viewer owns one bounded outbound queue fed under the hub's
// lock, which gives every viewer the same event sequence in the same
// order. A viewer that stops draining its queue is disconnected rather
// than back-pressured onto producers: a silently-lossy viewer would render
// stale status, and a reconnect gets a fresh state sync anyway.
package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
	"github.com/AleutianAI/AleutianStacks/services/stackman/observability"
)

// Event kinds pushed server -> viewer.
const (
	EventSystemStats     = "system_stats"
	EventStatusUpdate    = "status_update"
	EventContainerList   = "container_list"
	EventCommandOutput   = "command_output"
	EventKnownConnectors = "known_connectors"
	EventConnection      = "connection_update"
)

// viewerQueueSize bounds each viewer's outbound queue. Generous enough to
// absorb a burst of command output; a viewer this far behind is gone.
const viewerQueueSize = 256

// Event is one message on a viewer's stream.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// CommandLine is the payload of a command_output event.
type CommandLine struct {
	Line string `json:"line"`
}

// ConnectionInfo is the payload of a connection_update event.
type ConnectionInfo struct {
	Viewers int `json:"viewers"`
}

// Viewer is one attached client. Its Events channel is closed when the
// viewer is detached (by the owner or by queue overflow); the owner must
// stop reading then.
type Viewer struct {
	ID     string
	events chan Event
}

// Events is the viewer's ordered outbound stream.
func (v *Viewer) Events() <-chan Event {
	return v.events
}

// Hub is the single fan-out point between producers and viewers.
//
// The mutex serializes queue writes and retained-state updates only; no
// I/O happens under it. That serialization is what guarantees all viewers
// observe the same event sequence.
type Hub struct {
	mu      sync.Mutex
	viewers map[string]*Viewer

	// Retained state replayed to new viewers on attach.
	lastStats      *datatypes.MetricSnapshot
	lastStatus     map[string]string
	lastContainers []datatypes.ContainerInfo
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{viewers: make(map[string]*Viewer)}
}

// Attach registers a new viewer. The viewer's queue is primed with the
// latest known status set, metric snapshot, and container list before it
// is added to the broadcast set, so the state sync is always delivered
// ahead of subsequent live events.
func (h *Hub) Attach() *Viewer {
	v := &Viewer{
		ID:     uuid.New().String(),
		events: make(chan Event, viewerQueueSize),
	}

	h.mu.Lock()
	if h.lastStatus != nil {
		v.events <- Event{Event: EventStatusUpdate, Data: h.lastStatus}
	}
	if h.lastStats != nil {
		v.events <- Event{Event: EventSystemStats, Data: h.lastStats}
	}
	if h.lastContainers != nil {
		v.events <- Event{Event: EventContainerList, Data: h.lastContainers}
	}
	h.viewers[v.ID] = v
	count := len(h.viewers)
	h.broadcastLocked(Event{Event: EventConnection, Data: ConnectionInfo{Viewers: count}})
	h.mu.Unlock()

	if m := observability.DefaultMetrics; m != nil {
		m.ConnectedViewers.Set(float64(count))
	}
	slog.Info("viewer attached", "viewer", v.ID, "viewers", count)
	return v
}

// Detach removes a viewer and closes its stream. Safe to call more than
// once and safe concurrently with Publish.
func (h *Hub) Detach(v *Viewer) {
	h.mu.Lock()
	if _, ok := h.viewers[v.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.viewers, v.ID)
	close(v.events)
	count := len(h.viewers)
	h.broadcastLocked(Event{Event: EventConnection, Data: ConnectionInfo{Viewers: count}})
	h.mu.Unlock()

	if m := observability.DefaultMetrics; m != nil {
		m.ConnectedViewers.Set(float64(count))
	}
	slog.Info("viewer detached", "viewer", v.ID, "viewers", count)
}

// Publish delivers an event to every attached viewer and retains the
// kinds replayed on attach. Never blocks on a slow viewer: an overflowing
// queue disconnects that viewer instead.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	h.retainLocked(evt)
	overflowed := h.broadcastLocked(evt)
	for _, v := range overflowed {
		delete(h.viewers, v.ID)
		close(v.events)
	}
	count := len(h.viewers)
	if len(overflowed) > 0 {
		h.broadcastLocked(Event{Event: EventConnection, Data: ConnectionInfo{Viewers: count}})
	}
	h.mu.Unlock()

	if len(overflowed) > 0 {
		if m := observability.DefaultMetrics; m != nil {
			m.ConnectedViewers.Set(float64(count))
			m.ViewerEventsDropped.Add(float64(len(overflowed)))
		}
		for _, v := range overflowed {
			slog.Warn("viewer queue overflow, disconnecting", "viewer", v.ID)
		}
	}
}

// SendTo queues an event for a single viewer (request/response traffic
// like known_connectors and rejection messages). Same overflow policy as
// Publish.
func (h *Hub) SendTo(v *Viewer, evt Event) {
	h.mu.Lock()
	if _, ok := h.viewers[v.ID]; !ok {
		h.mu.Unlock()
		return
	}
	select {
	case v.events <- evt:
		h.mu.Unlock()
	default:
		delete(h.viewers, v.ID)
		close(v.events)
		h.mu.Unlock()
		if m := observability.DefaultMetrics; m != nil {
			m.ViewerEventsDropped.Inc()
		}
		slog.Warn("viewer queue overflow on direct send, disconnecting", "viewer", v.ID)
	}
}

// ViewerCount reports how many viewers are attached.
func (h *Hub) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// LastStatus returns a copy of the most recently published status map.
func (h *Hub) LastStatus() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastStatus == nil {
		return nil
	}
	out := make(map[string]string, len(h.lastStatus))
	for k, v := range h.lastStatus {
		out[k] = v
	}
	return out
}

// broadcastLocked queues evt for every viewer, returning the viewers whose
// queues were full. Callers hold h.mu.
func (h *Hub) broadcastLocked(evt Event) []*Viewer {
	var overflowed []*Viewer
	for _, v := range h.viewers {
		select {
		case v.events <- evt:
		default:
			overflowed = append(overflowed, v)
		}
	}
	return overflowed
}

// retainLocked stores the kinds of state a fresh viewer needs on attach.
// Callers hold h.mu.
func (h *Hub) retainLocked(evt Event) {
	switch evt.Event {
	case EventSystemStats:
		if snap, ok := evt.Data.(*datatypes.MetricSnapshot); ok {
			h.lastStats = snap
		} else if snap, ok := evt.Data.(datatypes.MetricSnapshot); ok {
			h.lastStats = &snap
		}
	case EventStatusUpdate:
		if status, ok := evt.Data.(map[string]string); ok {
			copied := make(map[string]string, len(status))
			for k, v := range status {
				copied[k] = v
			}
			h.lastStatus = copied
		}
	case EventContainerList:
		if containers, ok := evt.Data.([]datatypes.ContainerInfo); ok {
			h.lastContainers = containers
		}
	}
}
