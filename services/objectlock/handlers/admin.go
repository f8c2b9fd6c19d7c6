// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/AleutianAI/objectlock/services/objectlock/middleware"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Response Types
// =============================================================================

// Row is one resource as presented by the management surface.
type Row struct {
	ID        objectlock.ID         `json:"id"`
	Resource  any                   `json:"resource"`
	Locked    bool                  `json:"locked"`
	CanChange bool                  `json:"can_change"`
	CanDelete bool                  `json:"can_delete"`
	Indicator *objectlock.Indicator `json:"locked_icon,omitempty"`
}

// Changelist is the management listing of a kind.
type Changelist struct {
	Kind    string   `json:"kind"`
	Count   int      `json:"count"`
	Actions []string `json:"actions"`
	Rows    []Row    `json:"rows"`
}

// CommitResponse is returned after a confirmed bulk lock or unlock.
type CommitResponse struct {
	CommittedCount int               `json:"committed_count"`
	Message        string            `json:"message"`
	Skipped        []objectlock.Skip `json:"skipped,omitempty"`
}

// PreviewResponse is returned by an unconfirmed bulk lock or unlock.
type PreviewResponse struct {
	*objectlock.Preview

	// Rows are the requested resources that still exist, in request order.
	Rows []Row `json:"rows"`

	// Confirm tells the operator how to commit the preview.
	Confirm string `json:"confirm"`
}

// confirmRequest is the body of a bulk commit.
type confirmRequest struct {
	Post string `form:"post" json:"post"`
	IDs  string `form:"ids" json:"ids"`
}

// =============================================================================
// Management Surface
// =============================================================================

// RegisterAdmin registers the management surface of the kind on g.
//
// # Routes
//
//	GET    /           changelist with per-row controls
//	GET    /:id        change view
//	PUT    /:id        save (403 when the gate denies)
//	DELETE /:id        delete (403 when the gate denies)
//	GET    /lock       bulk lock preview         (Actions only)
//	POST   /lock       bulk lock, commit on post=yes
//	GET    /unlock     bulk unlock preview       (Actions only)
//	POST   /unlock     bulk unlock, commit on post=yes
func (e *Endpoints[T]) RegisterAdmin(g *gin.RouterGroup) {
	g.GET("", e.handleChangelist)
	if e.Actions {
		for _, dir := range []objectlock.Direction{objectlock.DirectionLock, objectlock.DirectionUnlock} {
			g.GET("/"+string(dir), e.handleBulk(dir))
			post := append(append([]gin.HandlerFunc{}, e.CommitMiddleware...), e.handleBulk(dir))
			g.POST("/"+string(dir), post...)
		}
	}
	g.GET("/:id", e.handleChangeView)
	g.PUT("/:id", e.handleAdminSave)
	g.DELETE("/:id", e.handleAdminDelete)
}

func (e *Endpoints[T]) actions() []string {
	if !e.Actions {
		return []string{}
	}
	return []string{string(objectlock.DirectionLock), string(objectlock.DirectionUnlock)}
}

// row evaluates lock state and gate decisions for r.
func (e *Endpoints[T]) row(c *gin.Context, r T) (Row, error) {
	ctx := c.Request.Context()
	principal := middleware.Principal(c)

	ind, err := e.Kind.Gate.Indicator(ctx, r)
	if err != nil {
		return Row{}, err
	}
	canChange, err := e.Kind.Gate.CanChange(ctx, principal, r)
	if err != nil {
		return Row{}, err
	}
	canDelete, err := e.Kind.Gate.CanDelete(ctx, principal, r)
	if err != nil {
		return Row{}, err
	}
	row := Row{
		ID:        r.GetID(),
		Resource:  r,
		Locked:    !ind.IsZero(),
		CanChange: canChange,
		CanDelete: canDelete,
	}
	if row.Locked {
		row.Indicator = &ind
	}
	return row, nil
}

func (e *Endpoints[T]) rows(c *gin.Context, items []T) ([]Row, error) {
	rows := make([]Row, 0, len(items))
	for _, r := range items {
		row, err := e.row(c, r)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Endpoints[T]) handleChangelist(c *gin.Context) {
	logger := e.logger(c, "changelist")

	items, err := e.list(c)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	rows, err := e.rows(c, items)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, Changelist{
		Kind:    e.Kind.Name(),
		Count:   len(rows),
		Actions: e.actions(),
		Rows:    rows,
	})
}

func (e *Endpoints[T]) handleChangeView(c *gin.Context) {
	logger := e.logger(c, "change_view")

	l, err := e.Kind.Enforcer.Load(c.Request.Context(), objectlock.ID(c.Param("id")))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	row, err := e.row(c, l.Resource)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// handleAdminSave saves a change made through the management surface.
//
// The Gate decides first; a denied change is 403 and nothing is written.
// The Enforcer still guards the write itself.
func (e *Endpoints[T]) handleAdminSave(c *gin.Context) {
	logger := e.logger(c, "admin_save")
	ctx := c.Request.Context()

	l, err := e.Kind.Enforcer.Load(ctx, objectlock.ID(c.Param("id")))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	ok, err := e.Kind.Gate.CanChange(ctx, middleware.Principal(c), l.Resource)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if !ok {
		forbid(c, "You do not have permission to change this object.")
		return
	}

	src, err := e.bindFull(c)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	e.Apply(l.Resource, src)
	if err := e.Kind.Enforcer.Save(ctx, l); err != nil {
		writeError(c, logger, err)
		return
	}
	row, err := e.row(c, l.Resource)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (e *Endpoints[T]) handleAdminDelete(c *gin.Context) {
	logger := e.logger(c, "admin_delete")
	ctx := c.Request.Context()

	l, err := e.Kind.Enforcer.Load(ctx, objectlock.ID(c.Param("id")))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	ok, err := e.Kind.Gate.CanDelete(ctx, middleware.Principal(c), l.Resource)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if !ok {
		forbid(c, "You do not have permission to delete this object.")
		return
	}
	if err := e.Kind.Enforcer.Delete(ctx, l); err != nil {
		writeError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleBulk serves the confirmation flow of a bulk action.
//
// # Description
//
// GET, and POST without post=yes, propose and return the preview. POST with
// post=yes commits. Identifiers come from the ids query parameter, or from
// the body when the query has none.
func (e *Endpoints[T]) handleBulk(dir objectlock.Direction) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := e.logger(c, "bulk_"+string(dir))
		ctx := c.Request.Context()

		var body confirmRequest
		if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
			if err := c.ShouldBind(&body); err != nil {
				writeError(c, logger, fmt.Errorf("%w: %v", errBadRequest, err))
				return
			}
		}
		raw := c.Query("ids")
		if raw == "" {
			raw = body.IDs
		}
		ids := objectlock.ParseIDs(raw)

		if c.Request.Method == http.MethodPost && body.Post == "yes" {
			if !e.permitted(c, false) {
				return
			}
			out, err := e.Kind.Bulk.Commit(ctx, dir, ids)
			if err != nil {
				status, resp := errorResponse(logger, err)
				if out != nil {
					resp.CommittedCount = &out.CommittedCount
				}
				c.JSON(status, resp)
				return
			}
			logger.Info("bulk action committed", slog.Int("committed", out.CommittedCount))
			c.JSON(http.StatusOK, CommitResponse{
				CommittedCount: out.CommittedCount,
				Message:        commitMessage(dir, out.CommittedCount),
				Skipped:        out.Skipped,
			})
			return
		}

		preview, err := e.Kind.Bulk.Propose(ctx, dir, ids)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		var existing []T
		for _, id := range preview.RequestedIDs {
			r, err := e.Kind.Store().Get(ctx, id)
			if errors.Is(err, objectlock.ErrNotFound) {
				continue
			}
			if err != nil {
				writeError(c, logger, err)
				return
			}
			existing = append(existing, r)
		}
		rows, err := e.rows(c, existing)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, PreviewResponse{
			Preview: preview,
			Rows:    rows,
			Confirm: fmt.Sprintf("POST %s?ids=%s with post=yes", c.Request.URL.Path, objectlock.JoinIDs(preview.RequestedIDs)),
		})
	}
}

func commitMessage(dir objectlock.Direction, n int) string {
	noun := "objects"
	if n == 1 {
		noun = "object"
	}
	return fmt.Sprintf("Successfully %s %d %s.", dir.Past(), n, noun)
}

func forbid(c *gin.Context, detail string) {
	c.JSON(http.StatusForbidden, gin.H{
		"error": detail,
		"code":  CodePermissionDenied,
	})
}
