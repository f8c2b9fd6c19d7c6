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
	"testing"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDs(t *testing.T) {
	assert.Equal(t, []objectlock.ID{"1", "2", "3"}, objectlock.ParseIDs(" 1, 2,,3 "))
	assert.Empty(t, objectlock.ParseIDs(""))
	assert.Equal(t, "1,2", objectlock.JoinIDs([]objectlock.ID{"1", "2"}))
}

func TestParseDirection(t *testing.T) {
	d, err := objectlock.ParseDirection("Lock")
	require.NoError(t, err)
	assert.Equal(t, objectlock.DirectionLock, d)
	assert.True(t, d.Locked())

	_, err = objectlock.ParseDirection("freeze")
	assert.Error(t, err)
}

func TestBulk_ProposeExcludesAlreadyLocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedPost(t, "a", false)
	b := f.seedPost(t, "b", true)
	c := f.seedPost(t, "c", false)

	p, err := f.postKind.Bulk.Propose(ctx, objectlock.DirectionLock, []objectlock.ID{a.ID, b.ID, c.ID})
	require.NoError(t, err)

	assert.Equal(t, []objectlock.ID{a.ID, c.ID}, p.EffectiveIDs)
	assert.Equal(t, 2, p.Count)
	assert.Equal(t, []objectlock.ID{a.ID, b.ID, c.ID}, p.RequestedIDs)
	assert.Empty(t, p.Skipped)
}

func TestBulk_ProposeChangesNothingAndIsRepeatable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedPost(t, "a", false)
	b := f.seedPost(t, "b", false)
	before := f.posts.raw(a.ID)
	ids := []objectlock.ID{a.ID, b.ID}

	first, err := f.postKind.Bulk.Propose(ctx, objectlock.DirectionLock, ids)
	require.NoError(t, err)
	second, err := f.postKind.Bulk.Propose(ctx, objectlock.DirectionLock, ids)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, f.posts.raw(a.ID))
}

func TestBulk_CommitAppliesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedPost(t, "a", false)
	b := f.seedPost(t, "b", true)
	c := f.seedPost(t, "c", false)
	ids := []objectlock.ID{a.ID, b.ID, c.ID}

	out, err := f.postKind.Bulk.Commit(ctx, objectlock.DirectionLock, ids)
	require.NoError(t, err)
	assert.Equal(t, 2, out.CommittedCount)

	for _, id := range ids {
		got, err := f.posts.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Locked, id)
	}

	out, err = f.postKind.Bulk.Commit(ctx, objectlock.DirectionLock, ids)
	require.NoError(t, err)
	assert.Equal(t, 0, out.CommittedCount)

	assert.Equal(t, 2, f.recorder.bulk["posts/lock/commit"])
}

func TestBulk_CommitUnlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedPost(t, "a", true)
	b := f.seedPost(t, "b", false)

	out, err := f.postKind.Bulk.Commit(ctx, objectlock.DirectionUnlock, []objectlock.ID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, out.CommittedCount)

	got, err := f.posts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Locked)
}

func TestBulk_CommitRefiltersAfterPropose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedPost(t, "a", false)
	b := f.seedPost(t, "b", false)
	ids := []objectlock.ID{a.ID, b.ID}

	p, err := f.postKind.Bulk.Propose(ctx, objectlock.DirectionLock, ids)
	require.NoError(t, err)
	require.Equal(t, 2, p.Count)

	// b is locked by someone else between preview and confirmation.
	b.Locked = true
	require.NoError(t, f.posts.Save(ctx, b))

	out, err := f.postKind.Bulk.Commit(ctx, objectlock.DirectionLock, ids)
	require.NoError(t, err)
	assert.Equal(t, 1, out.CommittedCount)
}

func TestBulk_UnknownIDsAreSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedPost(t, "a", false)

	p, err := f.postKind.Bulk.Propose(ctx, objectlock.DirectionLock, []objectlock.ID{a.ID, "404", a.ID})
	require.NoError(t, err)

	assert.Equal(t, []objectlock.ID{a.ID}, p.EffectiveIDs)
	assert.Equal(t, []objectlock.ID{a.ID, "404"}, p.RequestedIDs)
	require.Len(t, p.Skipped, 1)
	assert.Equal(t, objectlock.ID("404"), p.Skipped[0].ID)
	assert.ErrorIs(t, p.Skipped[0].Err, objectlock.ErrNotFound)
}

func TestBulk_EmptyRequest(t *testing.T) {
	f := newFixture(t)

	out, err := f.postKind.Bulk.Commit(context.Background(), objectlock.DirectionLock, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.CommittedCount)
}

func TestBulk_DerivedKindReportsUnsupported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPost(t, "parent", false)
	c := f.seedComment(t, p.ID, "child")

	out, err := f.comKind.Bulk.Commit(ctx, objectlock.DirectionLock, []objectlock.ID{c.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, out.CommittedCount)
	require.Len(t, out.Skipped, 1)
	assert.ErrorIs(t, out.Skipped[0].Err, objectlock.ErrUnsupportedOperation)
	assert.True(t, f.recorder.has("lock", objectlock.OutcomeUnsupported))
}

func TestBulk_NilConditionNotImplemented(t *testing.T) {
	store := newMemStore(func() *post { return &post{} })
	k := objectlock.NewKind[*post]("bare", store, nil, objectlock.Options{Logger: quietLogger()})

	_, err := k.Bulk.Propose(context.Background(), objectlock.DirectionLock, []objectlock.ID{"1"})
	assert.ErrorIs(t, err, objectlock.ErrNotImplemented)
}

func TestBulk_InvalidDirection(t *testing.T) {
	f := newFixture(t)

	_, err := f.postKind.Bulk.Propose(context.Background(), objectlock.Direction("freeze"), nil)
	assert.Error(t, err)
}
