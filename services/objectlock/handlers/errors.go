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
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Error codes that are not lock conflicts.
const (
	CodeNotFound         = "not_found"
	CodeInvalid          = "invalid"
	CodeUnsupported      = "unsupported_operation"
	CodeNotImplemented   = "not_implemented"
	CodePermissionDenied = "permission_denied"
	CodeInternal         = "error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Detail is the human-readable message.
	Detail string `json:"detail"`

	// Code is the machine-readable error code.
	Code string `json:"code"`

	// Fields maps invalid request fields to the failed rule.
	Fields map[string]string `json:"fields,omitempty"`

	// CommittedCount is set when a bulk commit stopped part way.
	CommittedCount *int `json:"committed_count,omitempty"`
}

// writeError maps err to a status and body.
//
// # Description
//
// Lock violations become 409 with the conflict's code and detail. Missing
// identifiers become 404. Integration defects become 422 (derived lock
// state) or 500 (no lock condition) and are logged at error level; lock
// violations are not logged here because the lock components already
// logged them at debug level.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, resp := errorResponse(logger, err)
	c.JSON(status, resp)
}

// errorResponse is the status and body writeError sends for err.
func errorResponse(logger *slog.Logger, err error) (int, ErrorResponse) {
	if conflict, ok := objectlock.ConflictFor(err); ok {
		return conflict.Status, ErrorResponse{Detail: conflict.Detail, Code: conflict.Code}
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, objectlock.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Detail: "Not found.", Code: CodeNotFound}
	case errors.As(err, &verrs):
		return http.StatusBadRequest, ErrorResponse{
			Detail: "Invalid request body.",
			Code:   CodeInvalid,
			Fields: fieldErrors(verrs),
		}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, ErrorResponse{Detail: err.Error(), Code: CodeInvalid}
	case errors.Is(err, objectlock.ErrUnsupportedOperation):
		logger.Error("unsupported lock operation", slog.String("error", err.Error()))
		return http.StatusUnprocessableEntity, ErrorResponse{
			Detail: "The lock state of this object is derived and cannot be set directly.",
			Code:   CodeUnsupported,
		}
	case errors.Is(err, objectlock.ErrNotImplemented):
		logger.Error("lock condition not implemented", slog.String("error", err.Error()))
		return http.StatusInternalServerError, ErrorResponse{
			Detail: "Locking is not configured for this object type.",
			Code:   CodeNotImplemented,
		}
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		return http.StatusInternalServerError, ErrorResponse{Detail: "Internal error.", Code: CodeInternal}
	}
}

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("malformed request body")

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return out
}
