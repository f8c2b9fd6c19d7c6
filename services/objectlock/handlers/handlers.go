// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes lockable resource kinds over HTTP.
//
// # Description
//
// Endpoints[T] registers two surfaces for one kind:
//
//   - The remote API (/v1/<kind>) goes through the kind's ConflictPolicy and
//     reports lock violations as 409 with a machine-readable code.
//   - The management surface (/admin/<kind>) asks the Gate which controls
//     to offer, refuses gated edits with 403 and drives the two-phase bulk
//     lock and unlock workflow.
//
// # Thread Safety
//
// Handlers are safe for concurrent use.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/AleutianAI/objectlock/services/objectlock/middleware"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Endpoints describes how one kind is exposed over HTTP.
type Endpoints[T objectlock.Resource] struct {
	// Kind is the lockable kind. Required.
	Kind *objectlock.Kind[T]

	// New returns an empty resource to bind request bodies into. Required.
	New func() T

	// Apply copies the editable fields of src onto dst. Identifier and
	// lock state are never editable through the body. Required.
	Apply func(dst, src T)

	// Compare orders listings. Nil keeps store order.
	Compare func(a, b T) int

	// Actions enables the bulk lock and unlock admin endpoints.
	Actions bool

	// CommitMiddleware runs before bulk commits, e.g. rate limiting.
	CommitMiddleware []gin.HandlerFunc

	// Logger receives handler logs. Nil means slog.Default().
	Logger *slog.Logger
}

func (e *Endpoints[T]) logger(c *gin.Context, handler string) *slog.Logger {
	l := e.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(
		slog.String("request_id", middleware.GetRequestID(c)),
		slog.String("kind", e.Kind.Name()),
		slog.String("handler", handler),
	)
}

// list returns every resource of the kind in listing order.
func (e *Endpoints[T]) list(c *gin.Context) ([]T, error) {
	items, err := e.Kind.List(c.Request.Context())
	if err != nil {
		return nil, err
	}
	if e.Compare != nil {
		slices.SortStableFunc(items, e.Compare)
	}
	return items, nil
}

// bindFull binds a complete representation into a fresh resource.
func (e *Endpoints[T]) bindFull(c *gin.Context) (T, error) {
	src := e.New()
	if err := c.ShouldBindJSON(src); err != nil {
		return src, bindError(err)
	}
	return src, nil
}

// bindPartial overlays the request body on a copy of current and validates
// the result.
func (e *Endpoints[T]) bindPartial(c *gin.Context, current T) (T, error) {
	src := e.New()
	raw, err := json.Marshal(current)
	if err != nil {
		return src, err
	}
	if err := json.Unmarshal(raw, src); err != nil {
		return src, err
	}
	if err := json.NewDecoder(c.Request.Body).Decode(src); err != nil {
		return src, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := binding.Validator.ValidateStruct(src); err != nil {
		return src, bindError(err)
	}
	return src, nil
}

// bindError keeps validation errors intact and marks everything else as a
// malformed body.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

// permitted checks the base permission of the caller on the kind and
// answers 403 when it is missing. Locking and unlocking count as changes.
func (e *Endpoints[T]) permitted(c *gin.Context, del bool) bool {
	ctx := c.Request.Context()
	p := middleware.Principal(c)
	if del {
		if e.Kind.Gate.MayDelete(ctx, p) {
			return true
		}
		forbid(c, "You do not have permission to delete this object.")
		return false
	}
	if e.Kind.Gate.MayChange(ctx, p) {
		return true
	}
	forbid(c, "You do not have permission to change this object.")
	return false
}

// =============================================================================
// Remote API
// =============================================================================

// RegisterAPI registers the remote API of the kind on g.
//
// # Routes
//
//	GET    /            list
//	POST   /            create
//	GET    /:id         retrieve
//	PUT    /:id         update (409 object_locked)
//	PATCH  /:id         partial update (409 object_locked)
//	DELETE /:id         destroy (409 object_locked)
//	POST   /:id/lock    lock (409 object_already_locked)
//	POST   /:id/unlock  unlock (409 object_not_locked)
//
// Update, destroy, lock and unlock answer 403 permission_denied when the
// caller lacks the base permission of the kind.
func (e *Endpoints[T]) RegisterAPI(g *gin.RouterGroup) {
	g.GET("", e.handleList)
	g.POST("", e.handleCreate)
	g.GET("/:id", e.handleRetrieve)
	g.PUT("/:id", e.handleUpdate(false))
	g.PATCH("/:id", e.handleUpdate(true))
	g.DELETE("/:id", e.handleDestroy)
	g.POST("/:id/lock", e.handleTransition(objectlock.DirectionLock))
	g.POST("/:id/unlock", e.handleTransition(objectlock.DirectionUnlock))
}

func (e *Endpoints[T]) handleList(c *gin.Context) {
	items, err := e.list(c)
	if err != nil {
		writeError(c, e.logger(c, "list"), err)
		return
	}
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, items)
}

func (e *Endpoints[T]) handleCreate(c *gin.Context) {
	logger := e.logger(c, "create")

	src, err := e.bindFull(c)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	r := e.New()
	e.Apply(r, src)

	created, err := e.Kind.API.Create(c.Request.Context(), r)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("resource created", slog.String("id", created.GetID().String()))
	c.JSON(http.StatusCreated, created)
}

func (e *Endpoints[T]) handleRetrieve(c *gin.Context) {
	r, err := e.Kind.API.Get(c.Request.Context(), objectlock.ID(c.Param("id")))
	if err != nil {
		writeError(c, e.logger(c, "retrieve"), err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (e *Endpoints[T]) handleUpdate(partial bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := e.logger(c, "update")
		if !e.permitted(c, false) {
			return
		}

		// The body is bound inside apply so a locked resource is always
		// reported as locked, whatever the body contains.
		updated, err := e.Kind.API.Update(c.Request.Context(), objectlock.ID(c.Param("id")), func(dst T) error {
			var (
				src T
				err error
			)
			if partial {
				src, err = e.bindPartial(c, dst)
			} else {
				src, err = e.bindFull(c)
			}
			if err != nil {
				return err
			}
			e.Apply(dst, src)
			return nil
		})
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func (e *Endpoints[T]) handleDestroy(c *gin.Context) {
	if !e.permitted(c, true) {
		return
	}
	if err := e.Kind.API.Destroy(c.Request.Context(), objectlock.ID(c.Param("id"))); err != nil {
		writeError(c, e.logger(c, "destroy"), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (e *Endpoints[T]) handleTransition(dir objectlock.Direction) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !e.permitted(c, false) {
			return
		}
		id := objectlock.ID(c.Param("id"))
		var (
			r   T
			err error
		)
		if dir.Locked() {
			r, err = e.Kind.API.Lock(c.Request.Context(), id)
		} else {
			r, err = e.Kind.API.Unlock(c.Request.Context(), id)
		}
		if err != nil {
			writeError(c, e.logger(c, string(dir)), err)
			return
		}
		c.JSON(http.StatusOK, r)
	}
}
