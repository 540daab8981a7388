// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
	"github.com/AleutianAI/AleutianStacks/services/stackman/history"
)

// GetStatsHistory serves the persisted metric history, oldest first.
// The optional since parameter is a Unix timestamp in seconds; omitted or
// zero returns the full retained window.
func GetStatsHistory(store *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var since time.Time
		if raw := c.Query("since"); raw != "" {
			secs, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a unix timestamp in seconds"})
				return
			}
			since = time.Unix(secs, 0)
		}

		snapshots, err := store.Query(since)
		if err != nil {
			slog.Error("querying metric history", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
			return
		}
		if snapshots == nil {
			snapshots = []datatypes.MetricSnapshot{}
		}
		c.JSON(http.StatusOK, gin.H{"data": snapshots})
	}
}
