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
	"slices"
)

// =============================================================================
// Base Permission Model
// =============================================================================

// Principal is the authenticated caller as seen by the base permission
// model. A nil Principal is anonymous.
type Principal interface {
	HasRole(role string) bool
}

// Permissions is the permission model the Gate combines with lock state.
type Permissions interface {
	CanChange(ctx context.Context, p Principal, kind string) bool
	CanDelete(ctx context.Context, p Principal, kind string) bool
}

// AllowAll permits every change and delete.
type AllowAll struct{}

func (AllowAll) CanChange(context.Context, Principal, string) bool { return true }
func (AllowAll) CanDelete(context.Context, Principal, string) bool { return true }

// RolePermissions grants change and delete to principals holding any of
// the listed roles. Anonymous principals are denied.
type RolePermissions struct {
	ChangeRoles []string
	DeleteRoles []string
}

// DefaultRolePermissions lets admins and editors change and delete.
func DefaultRolePermissions() RolePermissions {
	return RolePermissions{
		ChangeRoles: []string{"admin", "editor"},
		DeleteRoles: []string{"admin", "editor"},
	}
}

func (r RolePermissions) CanChange(_ context.Context, p Principal, _ string) bool {
	return hasAnyRole(p, r.ChangeRoles)
}

func (r RolePermissions) CanDelete(_ context.Context, p Principal, _ string) bool {
	return hasAnyRole(p, r.DeleteRoles)
}

func hasAnyRole(p Principal, roles []string) bool {
	if isNil(p) {
		return false
	}
	return slices.ContainsFunc(roles, p.HasRole)
}

// =============================================================================
// Gate
// =============================================================================

// Indicator is the locked badge shown next to a locked resource. The zero
// value means "no badge".
type Indicator struct {
	IconURL string `json:"icon_url,omitempty"`
	Label   string `json:"label,omitempty"`
}

// IsZero reports whether the indicator is empty.
func (i Indicator) IsZero() bool { return i == Indicator{} }

// Gate answers whether edit and delete controls may be offered for a
// resource. It never reports a lock as an error; errors are reserved for
// store failures and misconfiguration.
type Gate[T Resource] struct {
	kind  *Kind[T]
	perms Permissions
}

// CanChange reports r != nil AND not locked AND base permission.
func (g *Gate[T]) CanChange(ctx context.Context, p Principal, r T) (bool, error) {
	ok, err := g.unlocked(ctx, r)
	if err != nil || !ok {
		return false, err
	}
	return g.perms.CanChange(ctx, p, g.kind.name), nil
}

// CanDelete reports r != nil AND not locked AND base permission.
func (g *Gate[T]) CanDelete(ctx context.Context, p Principal, r T) (bool, error) {
	ok, err := g.unlocked(ctx, r)
	if err != nil || !ok {
		return false, err
	}
	return g.perms.CanDelete(ctx, p, g.kind.name), nil
}

// MayChange reports the base change permission of p on the kind, whatever
// the lock state of any resource.
func (g *Gate[T]) MayChange(ctx context.Context, p Principal) bool {
	return g.perms.CanChange(ctx, p, g.kind.name)
}

// MayDelete reports the base delete permission of p on the kind.
func (g *Gate[T]) MayDelete(ctx context.Context, p Principal) bool {
	return g.perms.CanDelete(ctx, p, g.kind.name)
}

func (g *Gate[T]) unlocked(ctx context.Context, r T) (bool, error) {
	if isNil(r) {
		return false, nil
	}
	locked, err := g.kind.IsLocked(ctx, r)
	if err != nil {
		return false, err
	}
	return !locked, nil
}

// Indicator returns the locked badge for r, or the zero Indicator.
func (g *Gate[T]) Indicator(ctx context.Context, r T) (Indicator, error) {
	if isNil(r) {
		return Indicator{}, nil
	}
	locked, err := g.kind.IsLocked(ctx, r)
	if err != nil || !locked {
		return Indicator{}, err
	}
	return Indicator{IconURL: g.kind.cfg.LockedIconURL, Label: g.kind.cfg.LockedLabel}, nil
}

// Indicators returns badges for the locked resources among rs, keyed by
// identifier. Two values with the same identifier are the same resource.
func (g *Gate[T]) Indicators(ctx context.Context, rs []T) (map[ID]Indicator, error) {
	out := make(map[ID]Indicator)
	for _, r := range rs {
		ind, err := g.Indicator(ctx, r)
		if err != nil {
			return nil, err
		}
		if !ind.IsZero() {
			out[r.GetID()] = ind
		}
	}
	return out, nil
}
