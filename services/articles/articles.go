// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package articles is the reference integration of objectlock: articles
// that carry a lock flag, sections that inherit the lock of their
// article, and an article kind whose lock behaviour is supplied entirely
// by overrides.
package articles

import (
	"cmp"
	"errors"
	"fmt"
	"net/http"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/AleutianAI/objectlock/services/objectlock/handlers"
	"github.com/AleutianAI/objectlock/services/objectlock/routes"
	"github.com/AleutianAI/objectlock/services/objectlock/storage/badger"
	"github.com/gin-gonic/gin"
)

// SectionLockedIconURL is the default locked indicator of sections.
const SectionLockedIconURL = "/static/articles/images/section-locked.svg"

// Options configure an App.
type Options struct {
	// Lock is shared by every kind.
	Lock objectlock.Options

	// SectionIconURL replaces the locked icon of sections.
	// Default: SectionLockedIconURL
	SectionIconURL string

	// IDs is the identifier strategy of every store. Empty means sequence.
	IDs badger.IDStrategy

	// CommitMiddleware runs before bulk commits.
	CommitMiddleware []gin.HandlerFunc

	// Metrics serves /metrics when non-nil.
	Metrics http.Handler

	// Auth protects /v1 and /admin when non-nil.
	Auth gin.HandlerFunc
}

// App holds the three kinds and their registry.
type App struct {
	Registry    *objectlock.Registry
	Articles    *objectlock.Kind[*Article]
	Sections    *objectlock.Kind[*Section]
	NonLockable *objectlock.Kind[*NonLockableArticle]

	mounts []routes.Mount
	stores []interface{ Close() error }
}

// New builds the kinds on db and validates the registry.
//
// # Outputs
//
//   - *App: Call Close to release the stores. The db stays open.
//   - error: Non-nil when a store cannot be opened or the registry does
//     not validate.
func New(db *badger.DB, opts Options) (*App, error) {
	app := &App{Registry: objectlock.NewRegistry()}

	articles, err := badger.NewStore(db, KindArticles, func() *Article { return &Article{} }, opts.IDs)
	if err != nil {
		return nil, err
	}
	app.stores = append(app.stores, articles)

	sections, err := badger.NewStore(db, KindSections, func() *Section { return &Section{} }, opts.IDs)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.stores = append(app.stores, sections)

	nonLockable, err := badger.NewStore(db, KindNonLockable, func() *NonLockableArticle { return &NonLockableArticle{} }, opts.IDs)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.stores = append(app.stores, nonLockable)

	sectionLock := opts.Lock
	sectionLock.Config.LockedIconURL = cmp.Or(opts.SectionIconURL, SectionLockedIconURL)

	articleCond := objectlock.FlagLock[*Article]()
	app.Articles = objectlock.NewKind[*Article](KindArticles,
		&articleStore{Store: articles, sections: sections}, articleCond, opts.Lock)
	app.Sections = objectlock.NewKind[*Section](KindSections,
		&sectionStore{Store: sections, articles: articles},
		objectlock.DerivedFromParent[*Section, *Article](KindArticles,
			func(s *Section) objectlock.ID { return s.ParentID }, articles, articleCond),
		opts.Lock)
	app.NonLockable = objectlock.NewKind[*NonLockableArticle](KindNonLockable,
		nonLockable, nonLockableCondition(), opts.Lock)

	for _, k := range []objectlock.Registration{app.Articles, app.Sections, app.NonLockable} {
		if err := app.Registry.Register(k); err != nil {
			app.Close()
			return nil, err
		}
	}
	if err := app.Registry.Validate(); err != nil {
		app.Close()
		return nil, fmt.Errorf("kind registry: %w", err)
	}

	logger := opts.Lock.Logger
	app.mounts = []routes.Mount{
		{Kind: KindArticles, Registrar: &handlers.Endpoints[*Article]{
			Kind:             app.Articles,
			New:              func() *Article { return &Article{} },
			Apply:            applyArticle,
			Compare:          byID[*Article],
			Actions:          true,
			CommitMiddleware: opts.CommitMiddleware,
			Logger:           logger,
		}},
		{Kind: KindSections, Registrar: &handlers.Endpoints[*Section]{
			Kind:    app.Sections,
			New:     func() *Section { return &Section{} },
			Apply:   applySection,
			Compare: bySectionOrder,
			Logger:  logger,
		}},
		{Kind: KindNonLockable, Registrar: &handlers.Endpoints[*NonLockableArticle]{
			Kind:             app.NonLockable,
			New:              func() *NonLockableArticle { return &NonLockableArticle{} },
			Apply:            applyNonLockable,
			Compare:          byID[*NonLockableArticle],
			Actions:          true,
			CommitMiddleware: opts.CommitMiddleware,
			Logger:           logger,
		}},
	}
	return app, nil
}

// Register builds an App on db and mounts it on router.
func Register(router *gin.Engine, db *badger.DB, opts Options) (*App, error) {
	app, err := New(db, opts)
	if err != nil {
		return nil, err
	}
	app.Mount(router, opts.Metrics, opts.Auth)
	return app, nil
}

// Mount registers health, metrics and the three kinds on router. metrics
// and auth may be nil.
func (a *App) Mount(router *gin.Engine, metrics http.Handler, auth gin.HandlerFunc) {
	routes.SetupRoutes(router, routes.Deps{
		Registry: a.Registry,
		Metrics:  metrics,
		Auth:     auth,
		Mounts:   a.mounts,
	})
}

// Mounts returns the route mounts of the three kinds.
func (a *App) Mounts() []routes.Mount { return a.mounts }

// Workflow returns the bulk workflow of the named kind.
func (a *App) Workflow(kind string) (objectlock.BulkRunner, error) {
	k, ok := a.Registry.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	return k.Workflow(), nil
}

// Close releases the stores.
func (a *App) Close() error {
	var errs []error
	for _, s := range a.stores {
		errs = append(errs, s.Close())
	}
	a.stores = nil
	return errors.Join(errs...)
}
