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
	"log/slog"
)

// Kind binds a resource type to its store and lock condition and holds the
// components built on top of them.
//
// # Description
//
// The condition variant is fixed when the Kind is constructed. A Kind with
// a nil condition is allowed to exist so that the defect surfaces at first
// use as ErrNotImplemented, where it is logged loudly.
//
// # Thread Safety
//
// A Kind and its components are safe for concurrent use when the Store is.
type Kind[T Resource] struct {
	name     string
	store    Store[T]
	cond     Condition[T]
	cfg      Config
	logger   *slog.Logger
	recorder Recorder

	Enforcer *Enforcer[T]
	Gate     *Gate[T]
	Bulk     *BulkWorkflow[T]
	API      *ConflictPolicy[T]
}

// NewKind creates a Kind and its Enforcer, Gate, BulkWorkflow and
// ConflictPolicy.
//
// # Inputs
//
//   - name: Kind name, unique within a Registry (e.g. "articles").
//   - store: Persistence collaborator. Must not be nil.
//   - cond: Lock condition. Nil is a configuration defect reported on use.
//   - opts: Shared collaborators.
//
// # Outputs
//
//   - *Kind[T]: Ready to use.
func NewKind[T Resource](name string, store Store[T], cond Condition[T], opts Options) *Kind[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	perms := opts.Permissions
	if perms == nil {
		perms = AllowAll{}
	}

	k := &Kind[T]{
		name:     name,
		store:    store,
		cond:     cond,
		cfg:      opts.Config.withDefaults(),
		logger:   logger.With(slog.String("kind", name)),
		recorder: recorder,
	}
	k.Enforcer = &Enforcer[T]{kind: k}
	k.Gate = &Gate[T]{kind: k, perms: perms}
	k.Bulk = &BulkWorkflow[T]{kind: k}
	k.API = &ConflictPolicy[T]{kind: k}
	return k
}

// Name returns the kind name.
func (k *Kind[T]) Name() string { return k.name }

// Store returns the persistence collaborator.
func (k *Kind[T]) Store() Store[T] { return k.store }

// Condition returns the lock condition, which may be nil.
func (k *Kind[T]) Condition() Condition[T] { return k.cond }

// Config returns the effective configuration.
func (k *Kind[T]) Config() Config { return k.cfg }

// Declared reports whether the kind has a lock condition.
func (k *Kind[T]) Declared() bool { return k.cond != nil }

// Upstream names the kind this kind derives its lock state from.
func (k *Kind[T]) Upstream() string {
	if u, ok := k.cond.(upstreamer); ok {
		return u.Upstream()
	}
	return ""
}

// Settable reports whether lock state of this kind can be assigned.
func (k *Kind[T]) Settable() bool {
	return k.cond != nil && CanSet(k.cond)
}

// IsLocked evaluates the kind's condition for r.
func (k *Kind[T]) IsLocked(ctx context.Context, r T) (bool, error) {
	if k.cond == nil {
		err := kindError(k.name, "", ErrNotImplemented)
		k.logger.ErrorContext(ctx, "no lock condition declared", slog.String("error", err.Error()))
		return false, err
	}
	return k.cond.IsLocked(ctx, r)
}

// setLocked assigns lock state through the condition's Setter.
func (k *Kind[T]) setLocked(r T, locked bool) error {
	if k.cond == nil {
		return kindError(k.name, r.GetID(), ErrNotImplemented)
	}
	s, ok := k.cond.(Setter[T])
	if !ok || !s.Settable() {
		return kindError(k.name, r.GetID(), ErrUnsupportedOperation)
	}
	if err := s.SetLocked(r, locked); err != nil {
		return kindError(k.name, r.GetID(), err)
	}
	return nil
}

// List returns every resource of the kind.
func (k *Kind[T]) List(ctx context.Context) ([]T, error) {
	return k.store.Filter(ctx, nil)
}

// SelectByLockState returns every resource whose lock state equals locked.
func (k *Kind[T]) SelectByLockState(ctx context.Context, locked bool) ([]T, error) {
	if k.cond == nil {
		return nil, kindError(k.name, "", ErrNotImplemented)
	}
	return FilterByLockState(ctx, k.store, k.cond, locked)
}

// Counts returns the number of locked and unlocked resources.
func (k *Kind[T]) Counts(ctx context.Context) (locked, unlocked int, err error) {
	l, err := k.SelectByLockState(ctx, true)
	if err != nil {
		return 0, 0, err
	}
	u, err := k.SelectByLockState(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	return len(l), len(u), nil
}

// Workflow returns the kind's bulk workflow behind the non-generic interface.
func (k *Kind[T]) Workflow() BulkRunner { return k.Bulk }
