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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Loaded is a resource together with the lock state captured when it was
// read from the store.
//
// The snapshot lives here rather than on the entity. A Loaded value belongs
// to a single operation and must not be shared between requests.
type Loaded[T Resource] struct {
	Resource T

	wasLocked       bool
	persisted       bool
	unlockRequested bool
}

// WasLockedOnLoad returns the captured lock state.
func (l *Loaded[T]) WasLockedOnLoad() bool { return l.wasLocked }

// Persisted reports whether the resource exists in the store.
func (l *Loaded[T]) Persisted() bool { return l.persisted }

// Enforcer guards the mutation path of a kind.
//
// # Description
//
// Save is rejected with ErrResourceLocked when the resource was locked at
// load time, unless the same operation explicitly unlocked it through
// SetLocked. Assigning the flag field directly does not count: the check
// uses the snapshot, not the in-flight value. Delete re-reads the current
// lock state from the store.
//
// # Thread Safety
//
// Safe for concurrent use. Loaded values are not.
type Enforcer[T Resource] struct {
	kind *Kind[T]
}

// New wraps a resource that has never been persisted. It carries no
// snapshot and its first save is never blocked.
func (e *Enforcer[T]) New(r T) *Loaded[T] {
	return &Loaded[T]{Resource: r}
}

// Load reads a resource and captures its lock state.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - id: Resource identifier.
//
// # Outputs
//
//   - *Loaded[T]: The resource and its snapshot.
//   - error: ErrNotFound (wrapped) if id does not resolve; ErrNotImplemented
//     if the kind has no condition.
func (e *Enforcer[T]) Load(ctx context.Context, id ID) (*Loaded[T], error) {
	ctx, span := e.start(ctx, "objectlock.Load", id)
	defer span.End()

	r, err := e.kind.store.Get(ctx, id)
	if err != nil {
		return nil, e.fail(ctx, span, "load", id, err)
	}
	locked, err := e.kind.IsLocked(ctx, r)
	if err != nil {
		return nil, e.fail(ctx, span, "load", id, err)
	}
	span.SetAttributes(attribute.Bool("objectlock.locked", locked))
	return &Loaded[T]{Resource: r, wasLocked: locked, persisted: true}, nil
}

// wrap builds a Loaded value from a resource that the caller has just read
// and evaluated.
func (e *Enforcer[T]) wrap(r T, locked bool) *Loaded[T] {
	return &Loaded[T]{Resource: r, wasLocked: locked, persisted: true}
}

// SetLocked assigns the lock state of a loaded resource in memory.
//
// # Description
//
// Goes through the condition's Setter. Unlocking a resource that was
// locked on load exempts the next Save of the same Loaded value from the
// lock check, so "unlock and edit" succeeds as one operation.
//
// # Outputs
//
//   - error: ErrUnsupportedOperation for derived conditions,
//     ErrNotImplemented when the kind has no condition.
func (e *Enforcer[T]) SetLocked(ctx context.Context, l *Loaded[T], locked bool) error {
	if err := e.kind.setLocked(l.Resource, locked); err != nil {
		logFailure(ctx, e.kind.logger, "set lock state", err, slog.String("id", l.Resource.GetID().String()))
		return err
	}
	l.unlockRequested = !locked
	return nil
}

// Save persists a loaded resource.
//
// # Description
//
// Checks the load-time snapshot before any write, so a rejected save leaves
// the stored record untouched. After a successful write the snapshot is
// refreshed from the now-persisted state.
//
// # Outputs
//
//   - error: ErrResourceLocked (wrapped) when the snapshot was locked.
func (e *Enforcer[T]) Save(ctx context.Context, l *Loaded[T]) error {
	id := l.Resource.GetID()
	ctx, span := e.start(ctx, "objectlock.Save", id)
	defer span.End()

	if l.wasLocked && !l.unlockRequested {
		return e.fail(ctx, span, "save", id, kindError(e.kind.name, id, ErrResourceLocked))
	}
	if err := e.kind.store.Save(ctx, l.Resource); err != nil {
		return e.fail(ctx, span, "save", id, err)
	}

	locked, err := e.kind.IsLocked(ctx, l.Resource)
	if err != nil {
		return e.fail(ctx, span, "save", l.Resource.GetID(), err)
	}
	l.wasLocked = locked
	l.persisted = true
	l.unlockRequested = false

	e.kind.recorder.ObserveDecision(e.kind.name, "save", OutcomeAllowed)
	return nil
}

// Delete removes a loaded resource unless it is currently locked.
//
// # Description
//
// The current lock state is read from the store at the moment of the call,
// not taken from the snapshot.
//
// # Outputs
//
//   - error: ErrResourceLocked (wrapped) when locked, ErrNotFound when the
//     resource was never persisted or no longer exists.
func (e *Enforcer[T]) Delete(ctx context.Context, l *Loaded[T]) error {
	id := l.Resource.GetID()
	ctx, span := e.start(ctx, "objectlock.Delete", id)
	defer span.End()

	if !l.persisted || id == "" {
		return e.fail(ctx, span, "delete", id, kindError(e.kind.name, id, ErrNotFound))
	}
	current, err := e.kind.store.Get(ctx, id)
	if err != nil {
		return e.fail(ctx, span, "delete", id, err)
	}
	locked, err := e.kind.IsLocked(ctx, current)
	if err != nil {
		return e.fail(ctx, span, "delete", id, err)
	}
	if locked {
		return e.fail(ctx, span, "delete", id, kindError(e.kind.name, id, ErrResourceLocked))
	}
	if err := e.kind.store.Delete(ctx, id); err != nil {
		return e.fail(ctx, span, "delete", id, err)
	}
	l.persisted = false

	e.kind.recorder.ObserveDecision(e.kind.name, "delete", OutcomeAllowed)
	return nil
}

func (e *Enforcer[T]) start(ctx context.Context, name string, id ID) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("objectlock.kind", e.kind.name),
		attribute.String("objectlock.id", id.String()),
	))
}

// fail records, logs and returns err.
func (e *Enforcer[T]) fail(ctx context.Context, span trace.Span, op string, id ID, err error) error {
	if !IsExpected(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.kind.recorder.ObserveDecision(e.kind.name, op, outcomeOf(err))
	logFailure(ctx, e.kind.logger, op+" rejected", err, slog.String("id", id.String()))
	return err
}
