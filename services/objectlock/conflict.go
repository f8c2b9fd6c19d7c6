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

// ConflictPolicy is the single-resource mutation surface used by remote API
// handlers. Unlike BulkWorkflow it reports no-op transitions eagerly as
// ErrAlreadyLocked or ErrAlreadyUnlocked; ConflictFor maps every failure it
// returns to a response.
type ConflictPolicy[T Resource] struct {
	kind *Kind[T]
}

// Get loads a resource without mutating it.
func (p *ConflictPolicy[T]) Get(ctx context.Context, id ID) (T, error) {
	l, err := p.kind.Enforcer.Load(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return l.Resource, nil
}

// Create saves a new resource. Creation is never blocked by locks.
func (p *ConflictPolicy[T]) Create(ctx context.Context, r T) (T, error) {
	l := p.kind.Enforcer.New(r)
	if err := p.kind.Enforcer.Save(ctx, l); err != nil {
		var zero T
		return zero, err
	}
	return l.Resource, nil
}

// Update applies a change to a resource unless it is locked.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - id: Resource identifier.
//   - apply: Copies the requested change onto the loaded resource. An error
//     from apply is returned unchanged and nothing is saved.
//
// # Outputs
//
//   - T: The saved resource.
//   - error: ErrResourceLocked, ErrNotFound, or a store or apply error.
func (p *ConflictPolicy[T]) Update(ctx context.Context, id ID, apply func(T) error) (T, error) {
	var zero T
	l, err := p.kind.Enforcer.Load(ctx, id)
	if err != nil {
		return zero, err
	}
	if l.WasLockedOnLoad() {
		return zero, p.reject(ctx, "update", id, ErrResourceLocked)
	}
	if err := apply(l.Resource); err != nil {
		return zero, err
	}
	if err := p.kind.Enforcer.Save(ctx, l); err != nil {
		return zero, err
	}
	return l.Resource, nil
}

// Destroy deletes a resource unless it is locked.
func (p *ConflictPolicy[T]) Destroy(ctx context.Context, id ID) error {
	l, err := p.kind.Enforcer.Load(ctx, id)
	if err != nil {
		return err
	}
	if l.WasLockedOnLoad() {
		return p.reject(ctx, "destroy", id, ErrResourceLocked)
	}
	return p.kind.Enforcer.Delete(ctx, l)
}

// Lock locks an unlocked resource and returns its new representation.
func (p *ConflictPolicy[T]) Lock(ctx context.Context, id ID) (T, error) {
	return p.transition(ctx, id, DirectionLock)
}

// Unlock unlocks a locked resource and returns its new representation.
func (p *ConflictPolicy[T]) Unlock(ctx context.Context, id ID) (T, error) {
	return p.transition(ctx, id, DirectionUnlock)
}

func (p *ConflictPolicy[T]) transition(ctx context.Context, id ID, dir Direction) (T, error) {
	var zero T
	l, err := p.kind.Enforcer.Load(ctx, id)
	if err != nil {
		return zero, err
	}
	if l.WasLockedOnLoad() == dir.Locked() {
		noop := ErrAlreadyUnlocked
		if dir.Locked() {
			noop = ErrAlreadyLocked
		}
		return zero, p.reject(ctx, string(dir), id, noop)
	}
	if err := p.kind.Enforcer.SetLocked(ctx, l, dir.Locked()); err != nil {
		return zero, err
	}
	if err := p.kind.Enforcer.Save(ctx, l); err != nil {
		return zero, err
	}
	p.kind.logger.InfoContext(ctx, "resource "+dir.Past(), slog.String("id", id.String()))
	return l.Resource, nil
}

func (p *ConflictPolicy[T]) reject(ctx context.Context, op string, id ID, cause error) error {
	err := kindError(p.kind.name, id, cause)
	p.kind.recorder.ObserveDecision(p.kind.name, op, outcomeOf(err))
	logFailure(ctx, p.kind.logger, op+" rejected", err, slog.String("id", id.String()))
	return err
}
