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
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// Capabilities
// =============================================================================

// Condition decides whether a resource instance is currently locked.
//
// IsLocked must not have side effects. A nil resource is never locked.
type Condition[T Resource] interface {
	IsLocked(ctx context.Context, r T) (bool, error)
}

// Setter is implemented by conditions whose lock state may be assigned.
//
// Settable reports whether SetLocked can succeed. Conditions that expose
// SetLocked only to reject it return false.
type Setter[T Resource] interface {
	Settable() bool
	SetLocked(r T, locked bool) error
}

// Selector is implemented by conditions that can express "all locked" or
// "all unlocked" as a set predicate. SelectByLockState returns
// ErrUnsupportedOperation when the capability is absent for this instance
// of the condition.
type Selector[T Resource] interface {
	SelectByLockState(ctx context.Context, locked bool) (Predicate[T], error)
}

// upstreamer is implemented by conditions that derive lock state from
// another registered kind.
type upstreamer interface {
	Upstream() string
}

// CanSet reports whether cond supports direct assignment of lock state.
func CanSet[T Resource](cond Condition[T]) bool {
	s, ok := cond.(Setter[T])
	return ok && s.Settable()
}

// FilterByLockState returns every resource of store whose lock state
// equals locked.
//
// # Description
//
// Uses the condition's Selector when available so the store can filter
// without evaluating the condition per instance. Falls back to loading
// every resource and calling IsLocked on each.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - store: Store holding the resources.
//   - cond: Lock condition. Must not be nil.
//   - locked: Wanted lock state.
//
// # Outputs
//
//   - []T: Matching resources in store order.
//   - error: Non-nil if the store or condition fails.
func FilterByLockState[T Resource](ctx context.Context, store Store[T], cond Condition[T], locked bool) ([]T, error) {
	if cond == nil {
		return nil, ErrNotImplemented
	}
	if sel, ok := cond.(Selector[T]); ok {
		pred, err := sel.SelectByLockState(ctx, locked)
		switch {
		case err == nil:
			return store.Filter(ctx, pred)
		case !errors.Is(err, ErrUnsupportedOperation):
			return nil, err
		}
	}

	all, err := store.Filter(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, r := range all {
		isLocked, err := cond.IsLocked(ctx, r)
		if err != nil {
			return nil, err
		}
		if isLocked == locked {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// StoredFlagLock
// =============================================================================

// StoredFlagLock reads and writes a boolean attribute held by the resource.
type StoredFlagLock[T Resource] struct {
	get func(T) bool
	set func(T, bool)
}

// NewStoredFlagLock builds a stored condition from flag accessors.
func NewStoredFlagLock[T Resource](get func(T) bool, set func(T, bool)) *StoredFlagLock[T] {
	return &StoredFlagLock[T]{get: get, set: set}
}

// FlagLock builds the stored condition of a Lockable resource type.
func FlagLock[T Lockable]() *StoredFlagLock[T] {
	return NewStoredFlagLock(
		func(r T) bool { return r.IsLockedFlag() },
		func(r T, v bool) { r.SetLockedFlag(v) },
	)
}

// IsLocked returns the stored flag.
func (s *StoredFlagLock[T]) IsLocked(_ context.Context, r T) (bool, error) {
	if isNil(r) {
		return false, nil
	}
	return s.get(r), nil
}

// Settable is always true for stored flags.
func (s *StoredFlagLock[T]) Settable() bool { return true }

// SetLocked assigns the stored flag in memory. Persisting it is the
// Enforcer's job.
func (s *StoredFlagLock[T]) SetLocked(r T, locked bool) error {
	if isNil(r) {
		return ErrNotFound
	}
	s.set(r, locked)
	return nil
}

// SelectByLockState compares the flag directly.
func (s *StoredFlagLock[T]) SelectByLockState(_ context.Context, locked bool) (Predicate[T], error) {
	return func(r T) bool { return s.get(r) == locked }, nil
}

// =============================================================================
// DerivedLock
// =============================================================================

// DerivedLock computes lock state and never stores it. SetLocked always
// fails with ErrUnsupportedOperation; the only way to change a derived lock
// is to change whatever it is derived from.
type DerivedLock[T Resource] struct {
	upstream string
	eval     func(ctx context.Context, r T) (bool, error)
	sel      func(ctx context.Context, locked bool) (Predicate[T], error)
}

// DerivedFromState derives lock state from the resource's own fields.
func DerivedFromState[T Resource](fn func(T) bool) *DerivedLock[T] {
	return &DerivedLock[T]{
		eval: func(_ context.Context, r T) (bool, error) { return fn(r), nil },
		sel: func(_ context.Context, locked bool) (Predicate[T], error) {
			return func(r T) bool { return fn(r) == locked }, nil
		},
	}
}

// DerivedFromParent derives lock state from exactly one related resource.
//
// # Description
//
// A resource is locked iff its parent is locked under parentCond. A
// resource without a parent reference is unlocked. The selector asks the
// parent store for all locked parents once and then filters children by
// parent identifier.
//
// # Inputs
//
//   - parentKind: Registered kind name of the parent. Used for cycle checks.
//   - parentOf: Returns the parent identifier of a resource.
//   - parents: Store holding the parent resources.
//   - parentCond: The parent's lock condition.
//
// # Outputs
//
//   - *DerivedLock[T]: Read-only condition.
func DerivedFromParent[T Resource, P Resource](
	parentKind string,
	parentOf func(T) ID,
	parents Store[P],
	parentCond Condition[P],
) *DerivedLock[T] {
	return &DerivedLock[T]{
		upstream: parentKind,
		eval: func(ctx context.Context, r T) (bool, error) {
			pid := parentOf(r)
			if pid == "" {
				return false, nil
			}
			if parentCond == nil {
				return false, kindError(parentKind, "", ErrNotImplemented)
			}
			p, err := parents.Get(ctx, pid)
			if err != nil {
				return false, fmt.Errorf("resolve parent: %w", err)
			}
			return parentCond.IsLocked(ctx, p)
		},
		sel: func(ctx context.Context, locked bool) (Predicate[T], error) {
			lockedParents, err := FilterByLockState(ctx, parents, parentCond, true)
			if err != nil {
				return nil, fmt.Errorf("select locked parents: %w", err)
			}
			set := make(map[ID]struct{}, len(lockedParents))
			for _, p := range lockedParents {
				set[p.GetID()] = struct{}{}
			}
			return func(r T) bool {
				_, in := set[parentOf(r)]
				return in == locked
			}, nil
		},
	}
}

// IsLocked evaluates the derivation.
func (d *DerivedLock[T]) IsLocked(ctx context.Context, r T) (bool, error) {
	if isNil(r) {
		return false, nil
	}
	return d.eval(ctx, r)
}

// Settable is always false for derived locks.
func (d *DerivedLock[T]) Settable() bool { return false }

// SetLocked always fails.
func (d *DerivedLock[T]) SetLocked(T, bool) error {
	return ErrUnsupportedOperation
}

// SelectByLockState returns the set predicate when the derivation has one.
func (d *DerivedLock[T]) SelectByLockState(ctx context.Context, locked bool) (Predicate[T], error) {
	if d.sel == nil {
		return nil, ErrUnsupportedOperation
	}
	return d.sel(ctx, locked)
}

// Upstream names the kind this lock derives from, or "" for none.
func (d *DerivedLock[T]) Upstream() string { return d.upstream }

// =============================================================================
// ConditionFuncs
// =============================================================================

// ConditionFuncs lets an integration supply lock behaviour for a resource
// type that carries no lock semantics of its own.
//
// Locked is required; without it every evaluation fails with
// ErrNotImplemented. Set is optional; without it the lock state is
// read-only. Select is optional.
type ConditionFuncs[T Resource] struct {
	Locked func(ctx context.Context, r T) (bool, error)
	Set    func(r T, locked bool) error
	Select func(ctx context.Context, locked bool) (Predicate[T], error)
}

// IsLocked calls Locked.
func (f ConditionFuncs[T]) IsLocked(ctx context.Context, r T) (bool, error) {
	if f.Locked == nil {
		return false, ErrNotImplemented
	}
	if isNil(r) {
		return false, nil
	}
	return f.Locked(ctx, r)
}

// Settable reports whether Set was supplied.
func (f ConditionFuncs[T]) Settable() bool { return f.Set != nil }

// SetLocked calls Set.
func (f ConditionFuncs[T]) SetLocked(r T, locked bool) error {
	if f.Set == nil {
		return ErrUnsupportedOperation
	}
	return f.Set(r, locked)
}

// SelectByLockState calls Select.
func (f ConditionFuncs[T]) SelectByLockState(ctx context.Context, locked bool) (Predicate[T], error) {
	if f.Select == nil {
		return nil, ErrUnsupportedOperation
	}
	return f.Select(ctx, locked)
}

// Compile-time capability checks.
var (
	_ Setter[Lockable]   = (*StoredFlagLock[Lockable])(nil)
	_ Selector[Lockable] = (*StoredFlagLock[Lockable])(nil)
	_ Setter[Resource]   = (*DerivedLock[Resource])(nil)
	_ Selector[Resource] = (*DerivedLock[Resource])(nil)
	_ Setter[Resource]   = ConditionFuncs[Resource]{}
	_ upstreamer         = (*DerivedLock[Resource])(nil)
)
