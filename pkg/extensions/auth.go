// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the identity extension point of lockd.
//
// The open source build authenticates every caller as a local admin
// (NopAuthProvider) or against a static token table (StaticTokenProvider).
// Deployments behind an identity provider implement AuthProvider.
package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
)

// ErrUnauthorized is returned when a token is missing or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the authenticated identity of a caller.
//
// AuthInfo satisfies objectlock.Principal, so the lock Gate can combine
// lock state with the caller's roles.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string `yaml:"user_id" validate:"required"`

	// Email is the user's email address. May be empty.
	Email string `yaml:"email"`

	// Roles contains the user's role memberships.
	// Recognised roles: "admin", "editor", "viewer".
	Roles []string `yaml:"roles"`
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates a bearer token and returns the caller's identity.
type AuthProvider interface {
	// Validate returns ErrUnauthorized (or wrapped) for invalid tokens and
	// other errors for provider failures.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as a local admin.
type NopAuthProvider struct{}

// Validate always succeeds.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

// StaticTokenProvider authenticates against a fixed token table.
//
// # Description
//
// Tokens are compared in constant time. An empty token is always rejected.
// Intended for single-host deployments where tokens live in the config
// file.
//
// # Thread Safety
//
// Safe for concurrent use; the table is never mutated after construction.
type StaticTokenProvider struct {
	tokens map[string]AuthInfo
}

// NewStaticTokenProvider creates a provider from a token table.
func NewStaticTokenProvider(tokens map[string]AuthInfo) *StaticTokenProvider {
	copied := make(map[string]AuthInfo, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticTokenProvider{tokens: copied}
}

// Validate looks up token.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	for known, info := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			out := info
			out.Roles = slices.Clone(info.Roles)
			return &out, nil
		}
	}
	return nil, ErrUnauthorized
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenProvider)(nil)
)
