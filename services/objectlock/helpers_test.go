// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package objectlock_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test resources
// =============================================================================

type post struct {
	ID     objectlock.ID `json:"id"`
	Title  string        `json:"title"`
	Locked bool          `json:"is_locked_flag"`
}

func (p *post) GetID() objectlock.ID      { return p.ID }
func (p *post) SetID(id objectlock.ID)    { p.ID = id }
func (p *post) IsLockedFlag() bool        { return p.Locked }
func (p *post) SetLockedFlag(locked bool) { p.Locked = locked }

type comment struct {
	ID     objectlock.ID `json:"id"`
	PostID objectlock.ID `json:"post_id"`
	Body   string        `json:"body"`
}

func (c *comment) GetID() objectlock.ID   { return c.ID }
func (c *comment) SetID(id objectlock.ID) { c.ID = id }

// =============================================================================
// memStore
// =============================================================================

// memStore keeps JSON copies so that in-memory mutation of a loaded value
// never reaches the store without Save.
type memStore[T objectlock.Resource] struct {
	mu   sync.Mutex
	newT func() T
	docs map[objectlock.ID][]byte
	next int
}

func newMemStore[T objectlock.Resource](newT func() T) *memStore[T] {
	return &memStore[T]{newT: newT, docs: make(map[objectlock.ID][]byte)}
}

func (s *memStore[T]) Get(_ context.Context, id objectlock.ID) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("get %s: %w", id, objectlock.ErrNotFound)
	}
	r := s.newT()
	if err := json.Unmarshal(raw, r); err != nil {
		var zero T
		return zero, err
	}
	return r, nil
}

func (s *memStore[T]) Filter(ctx context.Context, pred objectlock.Predicate[T]) ([]T, error) {
	s.mu.Lock()
	ids := make([]objectlock.ID, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(string(ids[i]))
		b, _ := strconv.Atoi(string(ids[j]))
		return a < b
	})

	var out []T
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore[T]) Save(_ context.Context, r T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.GetID() == "" {
		s.next++
		r.SetID(objectlock.ID(strconv.Itoa(s.next)))
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.docs[r.GetID()] = raw
	return nil
}

func (s *memStore[T]) Delete(_ context.Context, id objectlock.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, objectlock.ErrNotFound)
	}
	delete(s.docs, id)
	return nil
}

func (s *memStore[T]) raw(id objectlock.ID) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.docs[id]...)
}

func (s *memStore[T]) has(id objectlock.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[id]
	return ok
}

// =============================================================================
// Recorder spy
// =============================================================================

type decision struct {
	kind, op, outcome string
}

type spyRecorder struct {
	mu        sync.Mutex
	decisions []decision
	bulk      map[string]int
}

func newSpyRecorder() *spyRecorder {
	return &spyRecorder{bulk: make(map[string]int)}
}

func (s *spyRecorder) ObserveDecision(kind, op, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, decision{kind, op, outcome})
}

func (s *spyRecorder) ObserveBulk(kind string, dir objectlock.Direction, phase string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk[kind+"/"+string(dir)+"/"+phase] += n
}

func (s *spyRecorder) has(op, outcome string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.decisions {
		if d.op == op && d.outcome == outcome {
			return true
		}
	}
	return false
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	posts    *memStore[*post]
	comments *memStore[*comment]
	postKind *objectlock.Kind[*post]
	comKind  *objectlock.Kind[*comment]
	recorder *spyRecorder
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		posts:    newMemStore(func() *post { return &post{} }),
		comments: newMemStore(func() *comment { return &comment{} }),
		recorder: newSpyRecorder(),
	}
	opts := objectlock.Options{Logger: quietLogger(), Recorder: f.recorder}

	postCond := objectlock.FlagLock[*post]()
	f.postKind = objectlock.NewKind[*post]("posts", f.posts, postCond, opts)
	f.comKind = objectlock.NewKind[*comment]("comments", f.comments,
		objectlock.DerivedFromParent[*comment, *post](
			"posts",
			func(c *comment) objectlock.ID { return c.PostID },
			f.posts,
			postCond,
		), opts)
	return f
}

func (f *fixture) seedPost(t *testing.T, title string, locked bool) *post {
	t.Helper()
	p := &post{Title: title, Locked: locked}
	require.NoError(t, f.posts.Save(context.Background(), p))
	return p
}

func (f *fixture) seedComment(t *testing.T, postID objectlock.ID, body string) *comment {
	t.Helper()
	c := &comment{PostID: postID, Body: body}
	require.NoError(t, f.comments.Save(context.Background(), c))
	return c
}
