// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStacks/pkg/extensions"
	"github.com/AleutianAI/AleutianStacks/services/stackman/editor"
	"github.com/AleutianAI/AleutianStacks/services/stackman/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticStatus struct {
	running map[string]bool
}

func (s *staticStatus) Running(key string) bool { return s.running[key] }

// newConfigRouter wires the config endpoints over a temp layout with one
// connector ("misp") that has a manifest.
func newConfigRouter(t *testing.T) (*gin.Engine, *staticStatus, string) {
	t.Helper()
	root := t.TempDir()
	connectorsDir := filepath.Join(root, "connectors")
	dir := filepath.Join(connectorsDir, "misp")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(manifest, []byte("services:\n  misp: {}\n"), 0o644))

	reg := registry.New(filepath.Join(root, "core"), connectorsDir)
	auth, err := extensions.NewStaticCredentialProvider("hunter2")
	require.NoError(t, err)
	status := &staticStatus{running: map[string]bool{}}
	ed := editor.New(auth, reg, status, 0)

	router := gin.New()
	router.POST("/api/auth/unlock", UnlockEditing(ed))
	router.GET("/api/connector/:name/config", GetConnectorConfig(ed))
	router.POST("/api/connector/:name/config", SaveConnectorConfig(ed))
	return router, status, manifest
}

func doJSON(router *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func unlockToken(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(router, "POST", "/api/auth/unlock", `{"credential": "hunter2"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.Positive(t, resp.ExpiresIn)
	return resp.Token
}

func TestUnlock_WrongCredential(t *testing.T) {
	router, _, _ := newConfigRouter(t)
	w := doJSON(router, "POST", "/api/auth/unlock", `{"credential": "wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnlock_MissingCredential(t *testing.T) {
	router, _, _ := newConfigRouter(t)
	w := doJSON(router, "POST", "/api/auth/unlock", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetConfig_ReturnsContent(t *testing.T) {
	router, _, _ := newConfigRouter(t)
	w := doJSON(router, "GET", "/api/connector/misp/config", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "misp", resp.Name)
	assert.Equal(t, "services:\n  misp: {}\n", resp.Content)
}

func TestGetConfig_UnknownConnector(t *testing.T) {
	router, _, _ := newConfigRouter(t)
	w := doJSON(router, "GET", "/api/connector/ghost/config", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetConfig_InvalidName(t *testing.T) {
	router, _, _ := newConfigRouter(t)
	w := doJSON(router, "GET", "/api/connector/.hidden/config", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSaveConfig_WithoutTokenRejected(t *testing.T) {
	router, _, manifest := newConfigRouter(t)
	w := doJSON(router, "POST", "/api/connector/misp/config", `{"content": "services: {}\n"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	content, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Equal(t, "services:\n  misp: {}\n", string(content))
}

func TestSaveConfig_HappyPath(t *testing.T) {
	router, _, manifest := newConfigRouter(t)
	token := unlockToken(t, router)

	w := doJSON(router, "POST", "/api/connector/misp/config",
		`{"content": "services:\n  misp:\n    image: v2\n"}`, token)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string `json:"status"`
		Backup string `json:"backup"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Contains(t, resp.Backup, ".bak-")

	content, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Equal(t, "services:\n  misp:\n    image: v2\n", string(content))
}

func TestSaveConfig_RunningStackConflicts(t *testing.T) {
	router, status, _ := newConfigRouter(t)
	token := unlockToken(t, router)

	// The stack came up between unlock and save.
	status.running["connector_misp"] = true
	w := doJSON(router, "POST", "/api/connector/misp/config", `{"content": "services: {}\n"}`, token)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSaveConfig_TokenConsumedAfterSave(t *testing.T) {
	router, _, _ := newConfigRouter(t)
	token := unlockToken(t, router)

	w := doJSON(router, "POST", "/api/connector/misp/config", `{"content": "a: b\n"}`, token)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/connector/misp/config", `{"content": "c: d\n"}`, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSaveConfig_MissingBody(t *testing.T) {
	router, _, _ := newConfigRouter(t)
	token := unlockToken(t, router)
	w := doJSON(router, "POST", "/api/connector/misp/config", `{}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
