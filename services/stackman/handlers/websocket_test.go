// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStacks/services/stackman/compose"
	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
	"github.com/AleutianAI/AleutianStacks/services/stackman/executor"
	"github.com/AleutianAI/AleutianStacks/services/stackman/hub"
	"github.com/AleutianAI/AleutianStacks/services/stackman/registry"
)

// wsEvent decodes frames generically so each test can pick apart the data
// shape it cares about.
type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// echoRunner streams one fixed line and exits cleanly for every action.
type echoRunner struct {
	mu     sync.Mutex
	starts []string // dirs actions were started in
}

func (r *echoRunner) Running(context.Context, string) (bool, error) { return false, nil }

func (r *echoRunner) Containers(context.Context) ([]datatypes.ContainerInfo, error) {
	return nil, nil
}

func (r *echoRunner) Start(_ context.Context, dir string, action compose.Action) (*compose.Proc, error) {
	r.mu.Lock()
	r.starts = append(r.starts, dir)
	r.mu.Unlock()

	lines := make(chan string, 1)
	lines <- "doing the thing"
	close(lines)
	return compose.NewProc(lines, []string{"docker", "compose", string(action)},
		func() (int, error) { return 0, nil }), nil
}

// newWSClient spins up the full handler behind an httptest server and
// dials it.
func newWSClient(t *testing.T, runner compose.Runner) (*websocket.Conn, *hub.Hub) {
	t.Helper()

	root := t.TempDir()
	connectorsDir := filepath.Join(root, "connectors")
	require.NoError(t, os.MkdirAll(filepath.Join(connectorsDir, "misp"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(connectorsDir, "misp", "docker-compose.yml"), []byte("services: {}\n"), 0o644))
	reg := registry.New(filepath.Join(root, "core"), connectorsDir)

	broadcast := hub.New()
	router := gin.New()
	router.GET("/v1/stacks/ws", HandleStacksWebSocket(StackDeps{
		Hub:      broadcast,
		Registry: reg,
		Executor: executor.New(runner),
	}))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stacks/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, broadcast
}

// readUntil reads frames until one of the wanted kind arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) wsEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var evt wsEvent
		require.NoError(t, conn.ReadJSON(&evt), "waiting for %s", kind)
		if evt.Event == kind {
			return evt
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, req WSRequest) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
}

func TestWebSocket_ConnectorsSentOnConnect(t *testing.T) {
	conn, _ := newWSClient(t, &echoRunner{})

	evt := readUntil(t, conn, hub.EventKnownConnectors)
	var connectors []datatypes.ConnectorInfo
	require.NoError(t, json.Unmarshal(evt.Data, &connectors))
	require.Len(t, connectors, 1)
	assert.Equal(t, "misp", connectors[0].Name)
	assert.True(t, connectors[0].HasConfig)
}

func TestWebSocket_RequestConnectors(t *testing.T) {
	conn, _ := newWSClient(t, &echoRunner{})
	readUntil(t, conn, hub.EventKnownConnectors) // initial push

	send(t, conn, WSRequest{Action: "request_connectors"})
	evt := readUntil(t, conn, hub.EventKnownConnectors)
	var connectors []datatypes.ConnectorInfo
	require.NoError(t, json.Unmarshal(evt.Data, &connectors))
	assert.Len(t, connectors, 1)
}

func TestWebSocket_DockerActionStreamsOutput(t *testing.T) {
	runner := &echoRunner{}
	conn, _ := newWSClient(t, runner)
	readUntil(t, conn, hub.EventKnownConnectors)

	send(t, conn, WSRequest{
		Action: "docker_action",
		Data:   datatypes.DockerActionRequest{Type: "connector", Action: "up", TargetName: "misp"},
	})

	var lines []string
	for len(lines) < 3 {
		evt := readUntil(t, conn, hub.EventCommandOutput)
		var cl hub.CommandLine
		require.NoError(t, json.Unmarshal(evt.Data, &cl))
		lines = append(lines, cl.Line)
	}
	assert.Contains(t, lines[0], "Executing: docker compose up")
	assert.Equal(t, "doing the thing", lines[1])
	assert.Equal(t, "SUCCESS: Command completed successfully.", lines[2])
}

func TestWebSocket_InvalidActionRejected(t *testing.T) {
	runner := &echoRunner{}
	conn, _ := newWSClient(t, runner)
	readUntil(t, conn, hub.EventKnownConnectors)

	send(t, conn, WSRequest{
		Action: "docker_action",
		Data:   datatypes.DockerActionRequest{Type: "connector", Action: "restart", TargetName: "misp"},
	})

	evt := readUntil(t, conn, hub.EventCommandOutput)
	var cl hub.CommandLine
	require.NoError(t, json.Unmarshal(evt.Data, &cl))
	assert.Contains(t, cl.Line, "ERROR: Invalid action")

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Empty(t, runner.starts)
}

func TestWebSocket_UnknownTargetRejected(t *testing.T) {
	conn, _ := newWSClient(t, &echoRunner{})
	readUntil(t, conn, hub.EventKnownConnectors)

	send(t, conn, WSRequest{
		Action: "docker_action",
		Data:   datatypes.DockerActionRequest{Type: "connector", Action: "up", TargetName: "ghost"},
	})

	evt := readUntil(t, conn, hub.EventCommandOutput)
	var cl hub.CommandLine
	require.NoError(t, json.Unmarshal(evt.Data, &cl))
	assert.Contains(t, cl.Line, "ERROR:")
}

func TestWebSocket_TraversalTargetRejected(t *testing.T) {
	runner := &echoRunner{}
	conn, _ := newWSClient(t, runner)
	readUntil(t, conn, hub.EventKnownConnectors)

	send(t, conn, WSRequest{
		Action: "docker_action",
		Data:   datatypes.DockerActionRequest{Type: "connector", Action: "up", TargetName: "../../etc"},
	})

	evt := readUntil(t, conn, hub.EventCommandOutput)
	var cl hub.CommandLine
	require.NoError(t, json.Unmarshal(evt.Data, &cl))
	assert.Contains(t, cl.Line, "ERROR:")

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Empty(t, runner.starts)
}

func TestWebSocket_UnknownRequestAction(t *testing.T) {
	conn, _ := newWSClient(t, &echoRunner{})
	readUntil(t, conn, hub.EventKnownConnectors)

	send(t, conn, WSRequest{Action: "reboot_host"})
	evt := readUntil(t, conn, hub.EventCommandOutput)
	var cl hub.CommandLine
	require.NoError(t, json.Unmarshal(evt.Data, &cl))
	assert.Contains(t, cl.Line, "Unknown action")
}

func TestWebSocket_ViewerDetachedOnDisconnect(t *testing.T) {
	conn, broadcast := newWSClient(t, &echoRunner{})
	readUntil(t, conn, hub.EventKnownConnectors)
	require.Equal(t, 1, broadcast.ViewerCount())

	conn.Close()
	assert.Eventually(t, func() bool { return broadcast.ViewerCount() == 0 },
		2*time.Second, 20*time.Millisecond)
}
