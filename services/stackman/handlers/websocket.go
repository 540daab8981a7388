// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianStacks/services/stackman/compose"
	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
	"github.com/AleutianAI/AleutianStacks/services/stackman/executor"
	"github.com/AleutianAI/AleutianStacks/services/stackman/hub"
	"github.com/AleutianAI/AleutianStacks/services/stackman/registry"
)

// WSRequest is one client -> server message.
type WSRequest struct {
	Action string                        `json:"action"` // docker_action | request_connectors
	Data   datatypes.DockerActionRequest `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// StackDeps carries the shared components the websocket handler drives.
type StackDeps struct {
	Hub      *hub.Hub
	Registry *registry.Registry
	Executor *executor.Executor

	// Refresh forces a status re-poll. Called after each lifecycle action
	// terminates so viewers see the new state without waiting a tick.
	Refresh func()
}

// HandleStacksWebSocket upgrades the connection, attaches the viewer to
// the hub (which replays the latest known state first), and then routes
// client requests until the socket drops.
func HandleStacksWebSocket(deps StackDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		viewer := deps.Hub.Attach()
		defer deps.Hub.Detach(viewer)

		// The connectors list goes out immediately so the UI can render
		// its controls before the first user request.
		deps.Hub.SendTo(viewer, hub.Event{
			Event: hub.EventKnownConnectors,
			Data:  deps.Registry.Connectors(),
		})

		// Writer: the viewer's queue is the only source of outbound
		// frames. The channel closes when the hub detaches the viewer.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for evt := range viewer.Events() {
				if err := ws.WriteJSON(evt); err != nil {
					slog.Info("websocket write failed, dropping viewer",
						"viewer", viewer.ID, "error", err)
					return
				}
			}
		}()

		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("websocket viewer disconnected", "viewer", viewer.ID)
				break
			}

			switch req.Action {
			case "docker_action":
				handleDockerAction(deps, viewer, req.Data)
			case "request_connectors":
				deps.Hub.SendTo(viewer, hub.Event{
					Event: hub.EventKnownConnectors,
					Data:  deps.Registry.Connectors(),
				})
			default:
				deps.Hub.SendTo(viewer, commandLine(fmt.Sprintf("ERROR: Unknown action %q", req.Action)))
			}
		}

		deps.Hub.Detach(viewer)
		<-done
	}
}

// handleDockerAction resolves the target, starts the lifecycle action, and
// streams its output to all viewers. Rejections go back to the requester
// only; output of an accepted command is shared state and is broadcast.
func handleDockerAction(deps StackDeps, viewer *hub.Viewer, req datatypes.DockerActionRequest) {
	action := compose.Action(req.Action)
	if !action.Valid() {
		deps.Hub.SendTo(viewer, commandLine(fmt.Sprintf("ERROR: Invalid action %q", req.Action)))
		return
	}

	var (
		stack datatypes.Stack
		err   error
	)
	switch req.Type {
	case "core":
		stack, err = deps.Registry.Core()
	case "connector":
		stack, err = deps.Registry.Connector(req.TargetName)
	default:
		deps.Hub.SendTo(viewer, commandLine(fmt.Sprintf("ERROR: Unknown target type %q", req.Type)))
		return
	}
	if err != nil {
		deps.Hub.SendTo(viewer, commandLine(fmt.Sprintf("ERROR: %v", err)))
		return
	}

	exec, err := deps.Executor.Execute(context.Background(), stack, action)
	if err != nil {
		deps.Hub.SendTo(viewer, commandLine(fmt.Sprintf("ERROR: %v", err)))
		return
	}

	go func() {
		for evt := range exec.Events {
			if evt.Terminal {
				continue
			}
			deps.Hub.Publish(hub.Event{
				Event: hub.EventCommandOutput,
				Data:  hub.CommandLine{Line: evt.Line},
			})
		}
		if deps.Refresh != nil {
			deps.Refresh()
		}
	}()
}

func commandLine(line string) hub.Event {
	return hub.Event{Event: hub.EventCommandOutput, Data: hub.CommandLine{Line: line}}
}
