// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/objectlock/pkg/extensions"
	"github.com/AleutianAI/objectlock/services/articles"
	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/AleutianAI/objectlock/services/objectlock/middleware"
	"github.com/AleutianAI/objectlock/services/objectlock/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const shutdownTimeout = 10 * time.Second

func runServeCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Close()
	logger := e.logger.Slog()
	slog.SetDefault(logger)

	shutdownTracing, err := initTracing(e.cfg.Tracing.Enabled, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("flush spans", "error", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	app, closeApp, err := e.buildServer(router, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer closeApp()

	srv := &http.Server{
		Addr:              e.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("lockd listening",
			slog.String("addr", srv.Addr),
			slog.Any("kinds", app.Registry.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildServer mounts every kind, metrics and middleware on router.
//
// # Outputs
//
//   - *articles.App: The mounted kinds.
//   - func(): Closes stores and database.
//   - error: Database or registry failure.
func (e *env) buildServer(router *gin.Engine, reg *prometheus.Registry) (*articles.App, func(), error) {
	logger := e.logger.Slog()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewLockMetrics(reg)

	var provider extensions.AuthProvider = &extensions.NopAuthProvider{}
	if len(e.cfg.Auth.Tokens) > 0 {
		provider = extensions.NewStaticTokenProvider(e.cfg.Auth.TokenTable())
	} else {
		logger.Warn("no auth tokens configured, every caller is the local admin")
	}

	var commit []gin.HandlerFunc
	if e.cfg.Server.CommitRate > 0 {
		commit = append(commit, middleware.RateLimit(e.cfg.Server.CommitRate, e.cfg.Server.CommitBurst))
	}

	router.Use(
		gin.Recovery(),
		otelgin.Middleware("lockd"),
		middleware.RequestID(),
		metrics.Middleware(),
	)

	app, closeApp, err := e.openApp(articles.Options{
		Lock: objectlock.Options{
			Logger:      logger,
			Recorder:    metrics,
			Permissions: objectlock.DefaultRolePermissions(),
		},
		CommitMiddleware: commit,
	})
	if err != nil {
		return nil, nil, err
	}
	app.Mount(router, observability.Handler(reg), middleware.AuthMiddleware(provider, logger))
	reg.MustRegister(observability.NewStateCollector(app.Registry, logger))
	return app, closeApp, nil
}
