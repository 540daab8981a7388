// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianStacks/services/stackman/editor"
	"github.com/AleutianAI/AleutianStacks/services/stackman/handlers"
	"github.com/AleutianAI/AleutianStacks/services/stackman/history"
	"github.com/AleutianAI/AleutianStacks/services/stackman/middleware"
)

// Deps carries everything the route table wires together.
type Deps struct {
	Stacks  handlers.StackDeps
	Editor  *editor.Editor
	History *history.Store

	// UIDir is the static UI root. Empty disables the /ui mount.
	UIDir string
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.UIDir != "" {
		router.StaticFS("/ui", http.Dir(deps.UIDir))
		router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, "/ui/index.html")
		})
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/stacks/ws", handlers.HandleStacksWebSocket(deps.Stacks))
	}

	api := router.Group("/api")
	{
		api.GET("/stats/history", handlers.GetStatsHistory(deps.History))
		api.POST("/auth/unlock", handlers.UnlockEditing(deps.Editor))

		connector := api.Group("/connector/:name")
		{
			connector.GET("/config", handlers.GetConnectorConfig(deps.Editor))
			connector.POST("/config",
				middleware.RequireEditToken(deps.Editor),
				handlers.SaveConnectorConfig(deps.Editor))
		}
	}
}
