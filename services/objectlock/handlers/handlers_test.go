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
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/AleutianAI/objectlock/pkg/extensions"
	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/AleutianAI/objectlock/services/objectlock/middleware"
	"github.com/AleutianAI/objectlock/services/objectlock/storage/badger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type doc struct {
	ID     objectlock.ID `json:"id"`
	Title  string        `json:"title" binding:"required,max=200"`
	Locked bool          `json:"is_locked_flag"`
}

func (d *doc) GetID() objectlock.ID      { return d.ID }
func (d *doc) SetID(id objectlock.ID)    { d.ID = id }
func (d *doc) IsLockedFlag() bool        { return d.Locked }
func (d *doc) SetLockedFlag(locked bool) { d.Locked = locked }

type harness struct {
	router *gin.Engine
	store  *badger.Store[*doc]
}

func newHarness(t *testing.T, perms objectlock.Permissions, auth extensions.AuthProvider) *harness {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	store, err := badger.NewStore(db, "docs", func() *doc { return &doc{} }, badger.IDSequence)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kind := objectlock.NewKind[*doc]("docs", store, objectlock.FlagLock[*doc](), objectlock.Options{
		Logger:      logger,
		Permissions: perms,
	})
	ep := &Endpoints[*doc]{
		Kind:    kind,
		New:     func() *doc { return &doc{} },
		Apply:   func(dst, src *doc) { dst.Title = src.Title },
		Actions: true,
		Logger:  logger,
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	if auth != nil {
		r.Use(middleware.AuthMiddleware(auth, logger))
	}
	ep.RegisterAPI(r.Group("/v1/docs"))
	ep.RegisterAdmin(r.Group("/admin/docs"))
	return &harness{router: r, store: store}
}

func (h *harness) seed(t *testing.T, title string, locked bool) *doc {
	t.Helper()
	d := &doc{Title: title, Locked: locked}
	require.NoError(t, h.store.Save(context.Background(), d))
	return d
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[V any](t *testing.T, w *httptest.ResponseRecorder) V {
	t.Helper()
	var v V
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

// =============================================================================
// Remote API
// =============================================================================

func TestAPI_UpdateLockedReturnsConflict(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "Original", true)
	before, err := h.store.Raw(context.Background(), d.ID)
	require.NoError(t, err)

	w := h.do(http.MethodPut, "/v1/docs/"+d.ID.String(), `{"title":"Changed"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, "object_locked", body.Code)
	assert.Equal(t, "This object is locked and cannot be edited.", body.Detail)

	after, err := h.store.Raw(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAPI_DestroyLockedReturnsConflict(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "Original", true)

	w := h.do(http.MethodDelete, "/v1/docs/"+d.ID.String(), "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "object_locked", decode[ErrorResponse](t, w).Code)
}

func TestAPI_UpdateAndDestroyUnlocked(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "Original", false)

	w := h.do(http.MethodPut, "/v1/docs/"+d.ID.String(), `{"title":"Changed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Changed", decode[doc](t, w).Title)

	w = h.do(http.MethodDelete, "/v1/docs/"+d.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(http.MethodGet, "/v1/docs/"+d.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorResponse{Detail: "Not found.", Code: "not_found"}, decode[ErrorResponse](t, w))
}

func TestAPI_PatchKeepsOmittedFields(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "Original", false)

	w := h.do(http.MethodPatch, "/v1/docs/"+d.ID.String(), `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Original", decode[doc](t, w).Title)
}

func TestAPI_BodyCannotChangeLockState(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "Original", false)

	w := h.do(http.MethodPut, "/v1/docs/"+d.ID.String(), `{"title":"Changed","is_locked_flag":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[doc](t, w).Locked)
}

func TestAPI_ValidationError(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(http.MethodPost, "/v1/docs", `{"title":""}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, CodeInvalid, body.Code)
	assert.Equal(t, "required", body.Fields["title"])
}

func TestAPI_MalformedBody(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(http.MethodPost, "/v1/docs", `{`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_CreateAndList(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(http.MethodPost, "/v1/docs", `{"title":"New","is_locked_flag":true}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[doc](t, w)
	assert.Equal(t, objectlock.ID("1"), created.ID)
	assert.False(t, created.Locked)

	w = h.do(http.MethodGet, "/v1/docs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]doc](t, w), 1)
}

func TestAPI_LockAndUnlock(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "Original", false)
	path := "/v1/docs/" + d.ID.String()

	w := h.do(http.MethodPost, path+"/lock", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[doc](t, w).Locked)

	w = h.do(http.MethodPost, path+"/lock", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, "object_already_locked", body.Code)
	assert.Equal(t, "This object has already been locked.", body.Detail)

	w = h.do(http.MethodPost, path+"/unlock", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[doc](t, w).Locked)

	w = h.do(http.MethodPost, path+"/unlock", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	body = decode[ErrorResponse](t, w)
	assert.Equal(t, "object_not_locked", body.Code)
	assert.Equal(t, "This object is not locked.", body.Detail)
}

func TestAPI_LockMissing(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(http.MethodPost, "/v1/docs/42/lock", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Management Surface
// =============================================================================

func TestAdmin_ChangelistRows(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.seed(t, "open", false)
	h.seed(t, "closed", true)

	w := h.do(http.MethodGet, "/admin/docs", "")
	require.Equal(t, http.StatusOK, w.Code)
	cl := decode[Changelist](t, w)

	assert.Equal(t, 2, cl.Count)
	assert.Equal(t, []string{"lock", "unlock"}, cl.Actions)
	require.Len(t, cl.Rows, 2)

	assert.False(t, cl.Rows[0].Locked)
	assert.True(t, cl.Rows[0].CanChange)
	assert.Nil(t, cl.Rows[0].Indicator)

	assert.True(t, cl.Rows[1].Locked)
	assert.False(t, cl.Rows[1].CanChange)
	assert.False(t, cl.Rows[1].CanDelete)
	require.NotNil(t, cl.Rows[1].Indicator)
	assert.Equal(t, objectlock.DefaultLockedIconURL, cl.Rows[1].Indicator.IconURL)
	assert.Equal(t, "Locked", cl.Rows[1].Indicator.Label)
}

func TestAdmin_SaveLockedForbidden(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "closed", true)

	w := h.do(http.MethodPut, "/admin/docs/"+d.ID.String(), `{"title":"x"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodDelete, "/admin/docs/"+d.ID.String(), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_SaveUnlocked(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "open", false)

	w := h.do(http.MethodPut, "/admin/docs/"+d.ID.String(), `{"title":"edited"}`)
	require.Equal(t, http.StatusOK, w.Code)
	row := decode[Row](t, w)
	assert.True(t, row.CanChange)
}

func TestAdmin_RolePermissions(t *testing.T) {
	auth := extensions.NewStaticTokenProvider(map[string]extensions.AuthInfo{
		"viewer": {UserID: "v", Roles: []string{"viewer"}},
	})
	h := newHarness(t, objectlock.DefaultRolePermissions(), auth)
	d := h.seed(t, "open", false)

	req := httptest.NewRequest(http.MethodDelete, "/admin/docs/"+d.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer viewer")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_BulkPreviewThenCommit(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := h.seed(t, "a", false)
	b := h.seed(t, "b", true)
	c := h.seed(t, "c", false)
	ids := objectlock.JoinIDs([]objectlock.ID{a.ID, b.ID, c.ID})

	w := h.do(http.MethodGet, "/admin/docs/lock?ids="+ids, "")
	require.Equal(t, http.StatusOK, w.Code)
	var preview struct {
		Count        int             `json:"count"`
		EffectiveIDs []objectlock.ID `json:"effective_ids"`
		Rows         []Row           `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preview))
	assert.Equal(t, 2, preview.Count)
	assert.Equal(t, []objectlock.ID{a.ID, c.ID}, preview.EffectiveIDs)
	assert.Len(t, preview.Rows, 3)

	// POST without confirmation is still a preview.
	w = h.do(http.MethodPost, "/admin/docs/lock?ids="+ids, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "effective_ids")

	form := url.Values{"post": {"yes"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/docs/lock?ids="+ids, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[CommitResponse](t, w)
	assert.Equal(t, 2, out.CommittedCount)
	assert.Equal(t, "Successfully locked 2 objects.", out.Message)

	w = h.do(http.MethodPost, "/admin/docs/lock", `{"post":"yes","ids":"`+ids+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[CommitResponse](t, w).CommittedCount)
}

func TestAdmin_NoActionsNoBulkRoutes(t *testing.T) {
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	store, err := badger.NewStore(db, "docs", func() *doc { return &doc{} }, badger.IDSequence)
	require.NoError(t, err)
	defer store.Close()

	ep := &Endpoints[*doc]{
		Kind:  objectlock.NewKind[*doc]("docs", store, objectlock.FlagLock[*doc](), objectlock.Options{}),
		New:   func() *doc { return &doc{} },
		Apply: func(dst, src *doc) { dst.Title = src.Title },
	}
	r := gin.New()
	ep.RegisterAdmin(r.Group("/admin/docs"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/docs/lock?ids=1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCommitMessage(t *testing.T) {
	assert.Equal(t, "Successfully unlocked 1 object.", commitMessage(objectlock.DirectionUnlock, 1))
	assert.Equal(t, "Successfully locked 0 objects.", commitMessage(objectlock.DirectionLock, 0))
}


// =============================================================================
// Lock Before Body, Permissions, Partial Commits
// =============================================================================

func (h *harness) doAs(token, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestAPI_LockedWinsOverInvalidBody(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "frozen", true)
	path := "/v1/docs/" + d.ID.String()

	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		w := h.do(method, path, `{"title":""}`)
		assert.Equal(t, http.StatusConflict, w.Code, method)
		assert.Equal(t, objectlock.CodeObjectLocked, decode[ErrorResponse](t, w).Code, method)
	}
}

func TestAPI_InvalidBodyOnUnlocked(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.seed(t, "open", false)

	w := h.do(http.MethodPut, "/v1/docs/"+d.ID.String(), `{"title":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "required", decode[ErrorResponse](t, w).Fields["title"])
}

func roleHarness(t *testing.T) *harness {
	t.Helper()
	auth := extensions.NewStaticTokenProvider(map[string]extensions.AuthInfo{
		"viewer": {UserID: "v", Roles: []string{"viewer"}},
		"editor": {UserID: "e", Roles: []string{"editor"}},
	})
	return newHarness(t, objectlock.DefaultRolePermissions(), auth)
}

func TestAPI_ViewerIsRefusedEveryChange(t *testing.T) {
	h := roleHarness(t)
	d := h.seed(t, "open", false)
	path := "/v1/docs/" + d.ID.String()

	tests := []struct {
		method, target, body string
	}{
		{http.MethodPut, path, `{"title":"x"}`},
		{http.MethodPatch, path, `{"title":"x"}`},
		{http.MethodDelete, path, ""},
		{http.MethodPost, path + "/lock", ""},
		{http.MethodPost, path + "/unlock", ""},
		{http.MethodPost, "/admin/docs/lock", `{"post":"yes","ids":"` + d.ID.String() + `"}`},
	}
	for _, tt := range tests {
		w := h.doAs("viewer", tt.method, tt.target, tt.body)
		assert.Equal(t, http.StatusForbidden, w.Code, "%s %s", tt.method, tt.target)
		assert.Contains(t, w.Body.String(), CodePermissionDenied)
	}

	stored, err := h.store.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.False(t, stored.Locked)
	assert.Equal(t, "open", stored.Title)

	// Reading and previewing stay open.
	assert.Equal(t, http.StatusOK, h.doAs("viewer", http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusOK, h.doAs("viewer", http.MethodGet, "/admin/docs/lock?ids="+d.ID.String(), "").Code)
}

func TestAPI_EditorMayChangeAndLock(t *testing.T) {
	h := roleHarness(t)
	d := h.seed(t, "open", false)
	path := "/v1/docs/" + d.ID.String()

	assert.Equal(t, http.StatusOK, h.doAs("editor", http.MethodPut, path, `{"title":"edited"}`).Code)
	assert.Equal(t, http.StatusOK, h.doAs("editor", http.MethodPost, path+"/lock", "").Code)
	assert.Equal(t, http.StatusConflict, h.doAs("editor", http.MethodDelete, path, "").Code)
}

type failingSaves struct {
	objectlock.Store[*doc]
	allowed int
}

func (f *failingSaves) Save(ctx context.Context, d *doc) error {
	if f.allowed == 0 {
		return errors.New("disk full")
	}
	f.allowed--
	return f.Store.Save(ctx, d)
}

func TestAdmin_PartialCommitReportsCount(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := h.seed(t, "a", false)
	b := h.seed(t, "b", false)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &failingSaves{Store: h.store, allowed: 1}
	ep := &Endpoints[*doc]{
		Kind:    objectlock.NewKind[*doc]("docs", store, objectlock.FlagLock[*doc](), objectlock.Options{Logger: logger}),
		New:     func() *doc { return &doc{} },
		Apply:   func(dst, src *doc) { dst.Title = src.Title },
		Actions: true,
		Logger:  logger,
	}
	r := gin.New()
	ep.RegisterAdmin(r.Group("/admin/docs"))

	ids := objectlock.JoinIDs([]objectlock.ID{a.ID, b.ID})
	req := httptest.NewRequest(http.MethodPost, "/admin/docs/lock",
		strings.NewReader(`{"post":"yes","ids":"`+ids+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, CodeInternal, resp.Code)
	require.NotNil(t, resp.CommittedCount)
	assert.Equal(t, 1, *resp.CommittedCount)
}

func TestWriteError_OmitsCommittedCount(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(http.MethodGet, "/v1/docs/404", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "committed_count")
}
