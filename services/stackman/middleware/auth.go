// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the stack management
// service.
//
// The edit token issued by POST /api/auth/unlock travels as a standard
// bearer token:
//
//	Authorization: Bearer <token>
//
// ExtractBearerToken pulls it out of the request; the editor decides
// whether it is live. RequireEditToken is a convenience guard for routes
// that must never reach their handler without a live token.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenValidator answers whether an edit token is currently live.
type TokenValidator interface {
	ValidToken(token string) bool
}

// ExtractBearerToken extracts the token from the Authorization header.
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func ExtractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireEditToken rejects requests whose bearer token is not a live edit
// token. Handlers behind it still pass the token through to the editor,
// which re-validates and consumes it at write time.
func RequireEditToken(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !validator.ValidToken(ExtractBearerToken(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "editing is locked; unlock first",
			})
			return
		}
		c.Next()
	}
}
