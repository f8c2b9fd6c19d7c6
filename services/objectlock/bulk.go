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
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Direction is the target state of a bulk workflow.
type Direction string

const (
	DirectionLock   Direction = "lock"
	DirectionUnlock Direction = "unlock"
)

// Locked returns the lock state the direction moves resources to.
func (d Direction) Locked() bool { return d == DirectionLock }

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool { return d == DirectionLock || d == DirectionUnlock }

// Past returns the participle used in operator messages.
func (d Direction) Past() string {
	if d == DirectionLock {
		return "locked"
	}
	return "unlocked"
}

// ParseDirection parses "lock" or "unlock".
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// ParseIDs parses a comma-separated identifier list. Blank entries are
// dropped and surrounding whitespace is trimmed.
func ParseIDs(s string) []ID {
	var ids []ID
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, ID(part))
		}
	}
	return ids
}

// JoinIDs is the inverse of ParseIDs.
func JoinIDs(ids []ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

// Skip is a requested identifier excluded from the effective set for a
// reason the operator should see.
type Skip struct {
	ID     ID     `json:"id"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Preview is the result of the propose phase.
type Preview struct {
	Kind         string    `json:"kind"`
	Direction    Direction `json:"direction"`
	RequestedIDs []ID      `json:"requested_ids"`
	EffectiveIDs []ID      `json:"effective_ids"`
	Count        int       `json:"count"`
	Skipped      []Skip    `json:"skipped,omitempty"`
}

// Outcome is the result of the commit phase.
type Outcome struct {
	Kind           string    `json:"kind"`
	Direction      Direction `json:"direction"`
	CommittedCount int       `json:"committed_count"`
	Skipped        []Skip    `json:"skipped,omitempty"`
}

// BulkRunner is the kind-independent surface of a BulkWorkflow.
type BulkRunner interface {
	Propose(ctx context.Context, dir Direction, ids []ID) (*Preview, error)
	Commit(ctx context.Context, dir Direction, ids []ID) (*Outcome, error)
}

// BulkWorkflow locks or unlocks a set of resources in two phases.
//
// # Description
//
// Propose resolves the identifiers and returns the effective set without
// changing anything. Commit resolves and filters again, because state may
// have changed since the preview, then applies the change per resource.
// There is no abort state; not committing leaves the system unchanged.
//
// Resources already in the target state are silently excluded. Identifiers
// that do not resolve are dropped and reported. Resources whose lock state
// cannot be set are reported with ErrUnsupportedOperation and never passed
// to SetLocked.
//
// # Thread Safety
//
// Safe for concurrent use.
type BulkWorkflow[T Resource] struct {
	kind *Kind[T]
}

type resolved[T Resource] struct {
	id     ID
	res    T
	locked bool
	err    error
}

// plan resolves ids and splits them into the effective set and skips.
func (w *BulkWorkflow[T]) plan(ctx context.Context, dir Direction, ids []ID) ([]resolved[T], []Skip, error) {
	if !dir.Valid() {
		return nil, nil, fmt.Errorf("unknown direction %q", dir)
	}
	if !w.kind.Declared() {
		err := kindError(w.kind.name, "", ErrNotImplemented)
		w.kind.logger.ErrorContext(ctx, "bulk workflow on kind without lock condition", slog.String("error", err.Error()))
		return nil, nil, err
	}

	ids = dedupe(ids)
	items := make([]resolved[T], len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.kind.cfg.BulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			items[i].id = id
			r, err := w.kind.store.Get(gctx, id)
			if errors.Is(err, ErrNotFound) {
				items[i].err = err
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolve %s: %w", id, err)
			}
			locked, err := w.kind.IsLocked(gctx, r)
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", id, err)
			}
			items[i].res, items[i].locked = r, locked
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	settable := w.kind.Settable()
	var effective []resolved[T]
	var skipped []Skip
	unsupported := 0
	for _, it := range items {
		switch {
		case it.err != nil:
			skipped = append(skipped, Skip{ID: it.id, Reason: "not found", Err: ErrNotFound})
		case it.locked == dir.Locked():
			// already in the target state
		case !settable:
			unsupported++
			skipped = append(skipped, Skip{
				ID:     it.id,
				Reason: "lock state is derived and cannot be set directly",
				Err:    ErrUnsupportedOperation,
			})
		default:
			effective = append(effective, it)
		}
	}
	if unsupported > 0 {
		w.kind.logger.ErrorContext(ctx, "bulk workflow on kind whose lock state cannot be set",
			slog.String("direction", string(dir)), slog.Int("unsupported", unsupported))
		w.kind.recorder.ObserveDecision(w.kind.name, string(dir), OutcomeUnsupported)
	}
	return effective, skipped, nil
}

// Propose returns the preview of a bulk lock or unlock. It changes nothing.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - dir: DirectionLock or DirectionUnlock.
//   - ids: Requested identifiers, in operator order. Duplicates are removed.
//
// # Outputs
//
//   - *Preview: Effective set, its count and the requested identifiers.
//   - error: ErrNotImplemented when the kind has no condition, or a store error.
func (w *BulkWorkflow[T]) Propose(ctx context.Context, dir Direction, ids []ID) (*Preview, error) {
	ctx, span := w.start(ctx, "objectlock.Propose", dir, len(ids))
	defer span.End()

	effective, skipped, err := w.plan(ctx, dir, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	p := &Preview{
		Kind:         w.kind.name,
		Direction:    dir,
		RequestedIDs: dedupe(ids),
		EffectiveIDs: make([]ID, 0, len(effective)),
		Count:        len(effective),
		Skipped:      skipped,
	}
	for _, it := range effective {
		p.EffectiveIDs = append(p.EffectiveIDs, it.id)
	}
	w.kind.recorder.ObserveBulk(w.kind.name, dir, "propose", p.Count)
	return p, nil
}

// Commit applies a bulk lock or unlock.
//
// # Description
//
// Re-resolves and re-filters ids, then for each effective resource sets
// the lock state and saves it through the Enforcer. A failure stops the
// commit; the returned Outcome reports what was applied before it.
//
// # Outputs
//
//   - *Outcome: Number of resources actually changed and skips. Non-nil
//     whenever planning succeeded.
//   - error: Planning or per-resource failure.
func (w *BulkWorkflow[T]) Commit(ctx context.Context, dir Direction, ids []ID) (*Outcome, error) {
	ctx, span := w.start(ctx, "objectlock.Commit", dir, len(ids))
	defer span.End()

	effective, skipped, err := w.plan(ctx, dir, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &Outcome{Kind: w.kind.name, Direction: dir, Skipped: skipped}
	for _, it := range effective {
		l := w.kind.Enforcer.wrap(it.res, it.locked)
		if err := w.kind.Enforcer.SetLocked(ctx, l, dir.Locked()); err != nil {
			return w.abort(ctx, span, out, err)
		}
		if err := w.kind.Enforcer.Save(ctx, l); err != nil {
			return w.abort(ctx, span, out, err)
		}
		out.CommittedCount++
	}

	span.SetAttributes(attribute.Int("objectlock.committed", out.CommittedCount))
	w.kind.recorder.ObserveBulk(w.kind.name, dir, "commit", out.CommittedCount)
	w.kind.logger.InfoContext(ctx, "bulk "+string(dir)+" committed",
		slog.Int("committed", out.CommittedCount), slog.Int("skipped", len(out.Skipped)))
	return out, nil
}

func (w *BulkWorkflow[T]) abort(ctx context.Context, span trace.Span, out *Outcome, err error) (*Outcome, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	w.kind.recorder.ObserveBulk(w.kind.name, out.Direction, "commit", out.CommittedCount)
	w.kind.logger.ErrorContext(ctx, "bulk commit stopped",
		slog.Int("committed", out.CommittedCount), slog.String("error", err.Error()))
	return out, err
}

func (w *BulkWorkflow[T]) start(ctx context.Context, name string, dir Direction, n int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("objectlock.kind", w.kind.name),
		attribute.String("objectlock.direction", string(dir)),
		attribute.Int("objectlock.requested", n),
	))
}

func dedupe(ids []ID) []ID {
	seen := make(map[ID]struct{}, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

var _ BulkRunner = (*BulkWorkflow[Resource])(nil)
