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
	"fmt"
	"strings"
	"sync"
)

// Registration is the kind-independent view of a Kind held by a Registry.
type Registration interface {
	Name() string
	Declared() bool
	Settable() bool
	Upstream() string
	Counts(ctx context.Context) (locked, unlocked int, err error)
	Workflow() BulkRunner
}

var _ Registration = (*Kind[Resource])(nil)

// Registry holds the kinds of an application and validates how their lock
// states derive from one another.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Registration
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Registration)}
}

// Register adds a kind. Names must be unique.
func (r *Registry) Register(k Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[k.Name()]; exists {
		return fmt.Errorf("kind %q already registered", k.Name())
	}
	r.kinds[k.Name()] = k
	r.order = append(r.order, k.Name())
	return nil
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// Names returns kind names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Validate checks every derivation chain.
//
// # Description
//
// Walks from each kind to the kind its lock derives from until a kind with
// no upstream is reached. Fails when a chain revisits a kind, names an
// unregistered kind, reaches a kind without a lock condition, or ends at a
// kind whose lock state is not stored.
//
// # Outputs
//
//   - error: ErrCyclicDerivation or ErrNotImplemented (wrapped), nil if valid.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		path := []string{name}
		seen := map[string]bool{name: true}
		current := r.kinds[name]
		for {
			if !current.Declared() {
				return fmt.Errorf("kind %q: %w", current.Name(), ErrNotImplemented)
			}
			up := current.Upstream()
			if up == "" {
				if len(path) > 1 && !current.Settable() {
					return fmt.Errorf("%s: chain ends at kind %q without a stored lock: %w",
						strings.Join(path, " -> "), current.Name(), ErrNotImplemented)
				}
				break
			}
			path = append(path, up)
			if seen[up] {
				return fmt.Errorf("%s: %w", strings.Join(path, " -> "), ErrCyclicDerivation)
			}
			seen[up] = true
			next, ok := r.kinds[up]
			if !ok {
				return fmt.Errorf("kind %q derives from unregistered kind %q: %w", current.Name(), up, ErrNotImplemented)
			}
			current = next
		}
	}
	return nil
}
