// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// StackKind distinguishes the single core platform stack from the
// connector stacks discovered under the connectors directory.
type StackKind string

const (
	StackKindCore      StackKind = "core"
	StackKindConnector StackKind = "connector"
)

// Stack is one deployable unit defined by a compose manifest on disk.
// The registry owns these; every other component refers to a stack by
// name only and resolves paths through the registry at the time of use.
type Stack struct {
	Name         string    `json:"name"`
	Kind         StackKind `json:"kind"`
	ManifestPath string    `json:"manifest_path"`
	HasManifest  bool      `json:"has_manifest"`

	// Dir is the stack's directory, used as the working directory for
	// lifecycle-tool invocations. Not part of the wire format.
	Dir string `json:"-"`
}

// StatusKey is the wire identifier for a stack in status_update payloads:
// "core" for the core stack, "connector_<name>" for connectors.
func (s Stack) StatusKey() string {
	if s.Kind == StackKindCore {
		return "core"
	}
	return "connector_" + s.Name
}

// ConnectorInfo is one entry of a known_connectors payload.
type ConnectorInfo struct {
	Name      string `json:"name"`
	HasConfig bool   `json:"has_config"`
}

// ContainerInfo describes one currently running container, pushed in
// container_list payloads alongside status updates.
type ContainerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// DockerActionRequest is a viewer's request to run a lifecycle action.
type DockerActionRequest struct {
	Type       string `json:"type"`   // "core" | "connector"
	Action     string `json:"action"` // "up" | "down"
	TargetName string `json:"target_name,omitempty"`
}
