// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package articles

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/AleutianAI/objectlock/services/objectlock/storage/badger"
)

// Kind names.
const (
	KindArticles    = "articles"
	KindSections    = "sections"
	KindNonLockable = "nonlockable-articles"
)

// byID orders resources by identifier.
func byID[T objectlock.Resource](a, b T) int { return compareIDs(a.GetID(), b.GetID()) }

// compareIDs orders sequence identifiers numerically, so "2" precedes "10".
// Non-numeric identifiers such as UUIDs sort after them as strings.
func compareIDs(a, b objectlock.ID) int {
	x, errA := strconv.ParseUint(string(a), 10, 64)
	y, errB := strconv.ParseUint(string(b), 10, 64)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(x, y)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return cmp.Compare(a, b)
}

// =============================================================================
// Article
// =============================================================================

// Article carries its own lock flag.
type Article struct {
	ID     objectlock.ID `json:"id"`
	Title  string        `json:"title" binding:"required,max=120"`
	Locked bool          `json:"is_locked_flag"`
}

func (a *Article) GetID() objectlock.ID      { return a.ID }
func (a *Article) SetID(id objectlock.ID)    { a.ID = id }
func (a *Article) IsLockedFlag() bool        { return a.Locked }
func (a *Article) SetLockedFlag(locked bool) { a.Locked = locked }

func applyArticle(dst, src *Article) { dst.Title = src.Title }

// =============================================================================
// Section
// =============================================================================

// Section is locked iff its parent article is locked.
type Section struct {
	ID       objectlock.ID `json:"id"`
	ParentID objectlock.ID `json:"parent_id" binding:"required"`
	Heading  string        `json:"heading" binding:"required,max=120"`
	Content  string        `json:"content" binding:"required"`
	Order    int           `json:"order"`
}

func (s *Section) GetID() objectlock.ID   { return s.ID }
func (s *Section) SetID(id objectlock.ID) { s.ID = id }

func applySection(dst, src *Section) {
	dst.ParentID = src.ParentID
	dst.Heading = src.Heading
	dst.Content = src.Content
	dst.Order = src.Order
}

func bySectionOrder(a, b *Section) int {
	return cmp.Or(cmp.Compare(a.Order, b.Order), compareIDs(a.ID, b.ID))
}

// =============================================================================
// NonLockableArticle
// =============================================================================

// NonLockableArticle has no lock semantics of its own. Its lock behaviour
// is supplied by nonLockableCondition.
type NonLockableArticle struct {
	ID         objectlock.ID `json:"id"`
	Title      string        `json:"title" binding:"required,max=120"`
	LockedFlag bool          `json:"is_locked_flag"`
}

func (a *NonLockableArticle) GetID() objectlock.ID   { return a.ID }
func (a *NonLockableArticle) SetID(id objectlock.ID) { a.ID = id }

func applyNonLockable(dst, src *NonLockableArticle) { dst.Title = src.Title }

func nonLockableCondition() objectlock.ConditionFuncs[*NonLockableArticle] {
	return objectlock.ConditionFuncs[*NonLockableArticle]{
		Locked: func(_ context.Context, a *NonLockableArticle) (bool, error) {
			return a.LockedFlag, nil
		},
		Set: func(a *NonLockableArticle, locked bool) error {
			a.LockedFlag = locked
			return nil
		},
		Select: func(_ context.Context, locked bool) (objectlock.Predicate[*NonLockableArticle], error) {
			return func(a *NonLockableArticle) bool { return a.LockedFlag == locked }, nil
		},
	}
}

// =============================================================================
// Cascading article store
// =============================================================================

// articleStore deletes the sections of an article together with it.
type articleStore struct {
	*badger.Store[*Article]
	sections *badger.Store[*Section]
}

// Delete removes the article's sections, then the article.
func (s *articleStore) Delete(ctx context.Context, id objectlock.ID) error {
	if _, err := s.Store.Get(ctx, id); err != nil {
		return err
	}
	children, err := s.sections.Filter(ctx, func(sec *Section) bool { return sec.ParentID == id })
	if err != nil {
		return fmt.Errorf("list sections of article %s: %w", id, err)
	}
	for _, sec := range children {
		if err := s.sections.Delete(ctx, sec.ID); err != nil && !errors.Is(err, objectlock.ErrNotFound) {
			return fmt.Errorf("delete section %s: %w", sec.ID, err)
		}
	}
	return s.Store.Delete(ctx, id)
}

var _ objectlock.Store[*Article] = (*articleStore)(nil)

// sectionStore refuses sections whose parent article does not exist.
type sectionStore struct {
	*badger.Store[*Section]
	articles *badger.Store[*Article]
}

// Save checks the parent article before writing.
func (s *sectionStore) Save(ctx context.Context, sec *Section) error {
	if _, err := s.articles.Get(ctx, sec.ParentID); err != nil {
		return fmt.Errorf("parent of section: %w", err)
	}
	return s.Store.Save(ctx, sec)
}

var _ objectlock.Store[*Section] = (*sectionStore)(nil)
