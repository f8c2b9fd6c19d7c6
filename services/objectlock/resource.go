// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package objectlock prevents mutation of persisted resources that are
// marked as locked.
//
// # Description
//
// A resource kind is registered with a lock Condition. The condition is
// either a stored boolean flag on the resource (StoredFlagLock) or a
// predicate derived from the resource's own state or from a related
// resource (DerivedLock). Every entry point that can mutate a resource goes
// through the same components:
//
//	caller ──► Kind ──► Condition.IsLocked
//	             │
//	             ├─► Gate            (UI: may edit/delete controls be offered?)
//	             ├─► ConflictPolicy  (API: 409 object_locked / already_locked / not_locked)
//	             ├─► BulkWorkflow    (admin: propose ─► commit)
//	             └─► Enforcer        (save/delete guard at persistence time)
//
// # Consistency Model
//
// Lock state is re-read from the Store at every checkpoint (load, save,
// delete, propose, commit). No in-memory locks are held across requests.
// The guarantee is that no mutation is committed against a resource that
// was locked when it was read for the same operation; two concurrent writers
// of an unlocked resource are not serialized here.
package objectlock

import (
	"context"
	"reflect"
)

// ID is the opaque identifier assigned to a resource by its Store.
type ID string

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Resource is any persisted entity whose mutation may be gated by a lock.
//
// Implementations are pointer types so that conditions can assign stored
// flags in place.
type Resource interface {
	GetID() ID
	SetID(id ID)
}

// Lockable is a Resource carrying its own stored lock flag.
type Lockable interface {
	Resource
	IsLockedFlag() bool
	SetLockedFlag(locked bool)
}

// Predicate selects resources of one kind.
type Predicate[T any] func(T) bool

// Store is the persistence collaborator. Get and Delete report ErrNotFound
// (possibly wrapped) when the identifier does not resolve. Save assigns an
// identifier to resources that have none.
type Store[T Resource] interface {
	Get(ctx context.Context, id ID) (T, error)
	Filter(ctx context.Context, pred Predicate[T]) ([]T, error)
	Save(ctx context.Context, r T) error
	Delete(ctx context.Context, id ID) error
}

// isNil reports whether v is nil or a nil pointer.
func isNil[T any](v T) bool {
	rv := reflect.ValueOf(any(v))
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return rv.IsNil()
	}
	return false
}
