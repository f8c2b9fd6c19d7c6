// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// IDStrategy selects how Save assigns identifiers to new resources.
type IDStrategy string

const (
	// IDSequence assigns "1", "2", ... from a per-kind badger sequence.
	IDSequence IDStrategy = "sequence"

	// IDUUID assigns random UUIDs.
	IDUUID IDStrategy = "uuid"
)

// sequenceBandwidth is how many identifiers a sequence leases at a time.
// Unused leased identifiers are skipped after a restart.
const sequenceBandwidth = 100

// Store is a objectlock.Store backed by BadgerDB.
//
// # Description
//
// Each resource is a JSON document under "<kind>/<id>". Filter scans the
// kind prefix in key order and applies the predicate in the scan, so
// callers never load records they did not ask for.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store[T objectlock.Resource] struct {
	db     *DB
	kind   string
	prefix []byte
	newT   func() T
	ids    IDStrategy
	seq    *badger.Sequence
}

var _ objectlock.Store[objectlock.Resource] = (*Store[objectlock.Resource])(nil)

// NewStore creates the store of one resource kind.
//
// # Inputs
//
//   - db: Open database. Must not be nil.
//   - kind: Key prefix, usually the kind name.
//   - newT: Returns an empty resource to decode into.
//   - ids: Identifier strategy. Empty means IDSequence.
//
// # Outputs
//
//   - *Store[T]: Call Close to release the identifier sequence.
//   - error: Non-nil if the sequence cannot be acquired.
func NewStore[T objectlock.Resource](db *DB, kind string, newT func() T, ids IDStrategy) (*Store[T], error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if ids == "" {
		ids = IDSequence
	}
	s := &Store[T]{
		db:     db,
		kind:   kind,
		prefix: []byte(kind + "/"),
		newT:   newT,
		ids:    ids,
	}
	switch ids {
	case IDSequence:
		seq, err := db.GetSequence([]byte("_seq/"+kind), sequenceBandwidth)
		if err != nil {
			return nil, fmt.Errorf("acquire %s id sequence: %w", kind, err)
		}
		s.seq = seq
	case IDUUID:
	default:
		return nil, fmt.Errorf("unknown id strategy %q", ids)
	}
	return s, nil
}

// Close releases the identifier sequence.
func (s *Store[T]) Close() error {
	if s.seq == nil {
		return nil
	}
	return s.seq.Release()
}

func (s *Store[T]) key(id objectlock.ID) []byte {
	return append(append([]byte(nil), s.prefix...), id...)
}

func (s *Store[T]) notFound(id objectlock.ID) error {
	return fmt.Errorf("%s %s: %w", s.kind, id, objectlock.ErrNotFound)
}

func (s *Store[T]) decode(val []byte) (T, error) {
	r := s.newT()
	if err := json.Unmarshal(val, r); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", s.kind, err)
	}
	return r, nil
}

// Get loads one resource.
func (s *Store[T]) Get(ctx context.Context, id objectlock.ID) (T, error) {
	var out T
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return s.notFound(id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out, err = s.decode(val)
			return err
		})
	})
	return out, err
}

// Raw returns the stored document of id byte for byte.
func (s *Store[T]) Raw(ctx context.Context, id objectlock.ID) ([]byte, error) {
	var out []byte
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return s.notFound(id)
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Filter returns resources matching pred in key order. A nil pred matches
// everything.
func (s *Store[T]) Filter(ctx context.Context, pred objectlock.Predicate[T]) ([]T, error) {
	var out []T
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r T
			err := it.Item().Value(func(val []byte) error {
				var err error
				r, err = s.decode(val)
				return err
			})
			if err != nil {
				return err
			}
			if pred == nil || pred(r) {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

// Save writes a resource, assigning an identifier when it has none.
func (s *Store[T]) Save(ctx context.Context, r T) error {
	if r.GetID() == "" {
		id, err := s.nextID()
		if err != nil {
			return err
		}
		r.SetID(id)
	}
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.kind, err)
	}
	return s.db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(s.key(r.GetID()), val)
	})
}

// Delete removes a resource.
func (s *Store[T]) Delete(ctx context.Context, id objectlock.ID) error {
	return s.db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(s.key(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return s.notFound(id)
		} else if err != nil {
			return err
		}
		return txn.Delete(s.key(id))
	})
}

func (s *Store[T]) nextID() (objectlock.ID, error) {
	if s.ids == IDUUID {
		return objectlock.ID(uuid.NewString()), nil
	}
	n, err := s.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next %s id: %w", s.kind, err)
	}
	// Sequences start at zero; identifiers start at one.
	return objectlock.ID(strconv.FormatUint(n+1, 10)), nil
}
