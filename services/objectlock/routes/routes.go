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

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/gin-gonic/gin"
)

// Registrar mounts the routes of one kind.
type Registrar interface {
	RegisterAPI(g *gin.RouterGroup)
	RegisterAdmin(g *gin.RouterGroup)
}

// Mount binds a Registrar to the kind name used in its paths.
type Mount struct {
	Kind      string
	Registrar Registrar
}

// Deps are the collaborators of SetupRoutes.
type Deps struct {
	// Registry is reported by /health. Required.
	Registry *objectlock.Registry

	// Metrics serves /metrics when non-nil.
	Metrics http.Handler

	// Auth protects /v1 and /admin when non-nil.
	Auth gin.HandlerFunc

	// Mounts are the exposed kinds.
	Mounts []Mount
}

// KindStatus is one entry of the health report.
type KindStatus struct {
	Name     string `json:"name"`
	Settable bool   `json:"settable"`
	Upstream string `json:"upstream,omitempty"`
}

// SetupRoutes registers health, metrics and every mounted kind.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", healthCheck(deps.Registry))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := router.Group("/v1")
	admin := router.Group("/admin")
	if deps.Auth != nil {
		v1.Use(deps.Auth)
		admin.Use(deps.Auth)
	}
	for _, m := range deps.Mounts {
		m.Registrar.RegisterAPI(v1.Group("/" + m.Kind))
		m.Registrar.RegisterAdmin(admin.Group("/" + m.Kind))
	}
}

// healthCheck reports 503 when the kind registry does not validate.
func healthCheck(registry *objectlock.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		kinds := make([]KindStatus, 0)
		for _, name := range registry.Names() {
			if k, ok := registry.Lookup(name); ok {
				kinds = append(kinds, KindStatus{Name: name, Settable: k.Settable(), Upstream: k.Upstream()})
			}
		}
		if err := registry.Validate(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "misconfigured",
				"error":  err.Error(),
				"kinds":  kinds,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "kinds": kinds})
	}
}
