// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianStacks/pkg/extensions"
	"github.com/AleutianAI/AleutianStacks/services/stackman/editor"
	"github.com/AleutianAI/AleutianStacks/services/stackman/middleware"
	"github.com/AleutianAI/AleutianStacks/services/stackman/registry"
)

// UnlockRequest is the POST /api/auth/unlock body.
type UnlockRequest struct {
	Credential string `json:"credential" binding:"required"`
}

// SaveConfigRequest is the POST config body.
type SaveConfigRequest struct {
	Content string `json:"content" binding:"required"`
}

// UnlockEditing exchanges the edit credential for a short-lived token.
func UnlockEditing(ed *editor.Editor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UnlockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "credential is required"})
			return
		}

		token, err := ed.Unlock(c.Request.Context(), req.Credential)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unlock failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(editor.DefaultTokenTTL.Seconds()),
		})
	}
}

// GetConnectorConfig returns a connector's manifest verbatim. Reads are
// not gated: the manifest is the operator's own file.
func GetConnectorConfig(ed *editor.Editor) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		content, err := ed.Read(name)
		if err != nil {
			configError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": name, "content": content})
	}
}

// SaveConnectorConfig replaces a connector's manifest. The edit token
// travels as a bearer token; the editor re-checks the token, the stack's
// running state, and performs the backed-up atomic write.
func SaveConnectorConfig(ed *editor.Editor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SaveConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}

		name := c.Param("name")
		token := middleware.ExtractBearerToken(c)
		backup, err := ed.Write(token, name, req.Content)
		if err != nil {
			configError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "backup": backup})
	}
}

// configError maps editor and registry sentinel errors to HTTP statuses.
func configError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, editor.ErrLocked):
		errorJSON(c, http.StatusUnauthorized, "editing is locked; unlock first")
	case errors.Is(err, editor.ErrRunning):
		errorJSON(c, http.StatusConflict, "stack is running; stop it before editing")
	case errors.Is(err, editor.ErrNoManifest):
		errorJSON(c, http.StatusNotFound, "connector has no manifest")
	case errors.Is(err, registry.ErrInvalidName):
		errorJSON(c, http.StatusBadRequest, "invalid connector name")
	case errors.Is(err, registry.ErrNotFound):
		errorJSON(c, http.StatusNotFound, "connector not found")
	default:
		errorJSON(c, http.StatusInternalServerError, err.Error())
	}
}

func errorJSON(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"status": "error", "error": msg})
}
