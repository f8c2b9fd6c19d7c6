// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package objectlock

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrResourceLocked is returned when a save or delete targets a resource
	// that was locked when it was read for the current operation.
	ErrResourceLocked = errors.New("resource is locked")

	// ErrAlreadyLocked is returned by an explicit lock of a locked resource.
	ErrAlreadyLocked = errors.New("resource is already locked")

	// ErrAlreadyUnlocked is returned by an explicit unlock of an unlocked resource.
	ErrAlreadyUnlocked = errors.New("resource is already unlocked")

	// ErrUnsupportedOperation is returned when the lock state of a resource
	// is derived and therefore cannot be assigned directly.
	ErrUnsupportedOperation = errors.New("lock state is derived and cannot be set directly")

	// ErrNotImplemented marks an integration defect: the resource kind
	// declares no lock condition and no override.
	ErrNotImplemented = errors.New("lock condition not implemented")

	// ErrNotFound is returned when an identifier does not resolve.
	ErrNotFound = errors.New("resource not found")

	// ErrCyclicDerivation is returned by Registry.Validate when lock state
	// derivation between kinds forms a cycle.
	ErrCyclicDerivation = errors.New("cyclic lock derivation")
)

// kindError wraps err with the kind and identifier it concerns.
func kindError(kind string, id ID, err error) error {
	if id == "" {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}

// IsExpected reports whether err is one of the conditions a caller is
// expected to handle (locked, already locked, already unlocked, not found).
// Expected conditions are never logged as system errors.
func IsExpected(err error) bool {
	return errors.Is(err, ErrResourceLocked) ||
		errors.Is(err, ErrAlreadyLocked) ||
		errors.Is(err, ErrAlreadyUnlocked) ||
		errors.Is(err, ErrNotFound)
}

// IsMisconfiguration reports whether err indicates an integration defect.
func IsMisconfiguration(err error) bool {
	return errors.Is(err, ErrNotImplemented) ||
		errors.Is(err, ErrUnsupportedOperation) ||
		errors.Is(err, ErrCyclicDerivation)
}

// =============================================================================
// Conflict Mapping
// =============================================================================

// Machine-readable conflict codes returned to remote API callers.
const (
	CodeConflict            = "conflict"
	CodeObjectLocked        = "object_locked"
	CodeObjectAlreadyLocked = "object_already_locked"
	CodeObjectNotLocked     = "object_not_locked"
)

// Conflict is the transport-neutral form of a lock state violation.
type Conflict struct {
	Status int    `json:"-"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Error implements error.
func (c Conflict) Error() string {
	return c.Code + ": " + c.Detail
}

var (
	conflictLocked = Conflict{
		Status: http.StatusConflict,
		Code:   CodeObjectLocked,
		Detail: "This object is locked and cannot be edited.",
	}
	conflictAlreadyLocked = Conflict{
		Status: http.StatusConflict,
		Code:   CodeObjectAlreadyLocked,
		Detail: "This object has already been locked.",
	}
	conflictNotLocked = Conflict{
		Status: http.StatusConflict,
		Code:   CodeObjectNotLocked,
		Detail: "This object is not locked.",
	}
)

// ConflictFor maps a lock state violation to its conflict response.
//
// # Description
//
// All three lock violations share the Conflict status; they differ by code
// and detail. Any other error yields ok == false.
//
// # Inputs
//
//   - err: Error returned by a ConflictPolicy or Enforcer operation.
//
// # Outputs
//
//   - Conflict: The response to send.
//   - bool: False when err is not a lock violation.
func ConflictFor(err error) (Conflict, bool) {
	switch {
	case err == nil:
		return Conflict{}, false
	case errors.Is(err, ErrAlreadyLocked):
		return conflictAlreadyLocked, true
	case errors.Is(err, ErrAlreadyUnlocked):
		return conflictNotLocked, true
	case errors.Is(err, ErrResourceLocked):
		return conflictLocked, true
	}
	return Conflict{}, false
}
