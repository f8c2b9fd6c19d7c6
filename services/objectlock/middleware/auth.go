// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware contains the gin middleware of the lockd HTTP surface.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/objectlock/pkg/extensions"
	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the gin context key for the authenticated identity.
const authInfoKey = "objectlock_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated identity in the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated identity, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// Principal returns the caller as an objectlock.Principal.
//
// Returns an untyped nil for anonymous callers so that permission models
// can compare against nil.
func Principal(c *gin.Context) objectlock.Principal {
	if info := GetAuthInfo(c); info != nil {
		return info
	}
	return nil
}

// =============================================================================
// Middleware
// =============================================================================

// AuthMiddleware validates the bearer token and stores the identity.
//
// # Description
//
// Extracts the token from "Authorization: Bearer <token>", validates it
// with provider and aborts with 401 on failure.
//
// # Inputs
//
//   - provider: Token validator. NopAuthProvider accepts everything.
//   - logger: Receives provider failures. Nil means slog.Default().
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware to install on protected groups.
func AuthMiddleware(provider extensions.AuthProvider, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"detail": "Authentication credentials were not provided or are invalid.",
					"code":   "not_authenticated",
				})
				return
			}
			logger.ErrorContext(c.Request.Context(), "auth provider failed", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Authentication failed.",
				"code":   "authentication_failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken returns the bearer token, or "" when absent or
// malformed.
func extractBearerToken(c *gin.Context) string {
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
