// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lockd serves lockable articles over HTTP and runs bulk lock
// actions from the terminal.
//
// Usage:
//
//	lockd serve
//	lockd status
//	lockd lock articles 1,2,3
//	lockd unlock nonlockable-articles 4 --yes
//
// The configuration lives at ~/.lockd/lockd.yaml and is created with
// defaults on first run. LOCKD_ADDR and LOCKD_DB_PATH override the listen
// address and database path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/objectlock/cmd/lockd/config"
	"github.com/AleutianAI/objectlock/pkg/logging"
	"github.com/AleutianAI/objectlock/services/articles"
	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/AleutianAI/objectlock/services/objectlock/storage/badger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	assumeYes  bool

	rootCmd = &cobra.Command{
		Use:           "lockd",
		Short:         "Serve and administer lockable articles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and management surface",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show locked and unlocked counts per kind",
		Args:  cobra.NoArgs,
		RunE:  runStatusCmd,
	}

	lockCmd = &cobra.Command{
		Use:   "lock <kind> <ids>...",
		Short: "Lock resources after previewing the change",
		Args:  cobra.MinimumNArgs(2),
		RunE:  bulkCmd(objectlock.DirectionLock),
	}

	unlockCmd = &cobra.Command{
		Use:   "unlock <kind> <ids>...",
		Short: "Unlock resources after previewing the change",
		Args:  cobra.MinimumNArgs(2),
		RunE:  bulkCmd(objectlock.DirectionUnlock),
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.lockd/lockd.yaml)")
	for _, c := range []*cobra.Command{lockCmd, unlockCmd} {
		c.Flags().BoolVarP(&assumeYes, "yes", "y", false, "commit without asking for confirmation")
	}
	rootCmd.AddCommand(serveCmd, statusCmd, lockCmd, unlockCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// env is what every command needs: validated config and a logger.
type env struct {
	cfg    config.LockdConfig
	logger *logging.Logger
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, created, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "lockd",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	if created {
		logger.Slog().Info("first run, wrote default config", "path", configPathOrDefault())
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func configPathOrDefault() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// openApp opens the database and builds the kinds on it.
func (e *env) openApp(opts articles.Options) (*articles.App, func(), error) {
	storage := e.cfg.Storage.Config
	storage.Logger = e.logger.Slog()
	db, err := badger.Open(storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	opts.IDs = e.cfg.Storage.IDs
	opts.Lock.Config = e.cfg.Lock
	if opts.Lock.Logger == nil {
		opts.Lock.Logger = e.logger.Slog()
	}
	app, err := articles.New(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := app.Close(); err != nil {
			e.logger.Slog().Warn("close stores", "error", err)
		}
		if err := db.Close(); err != nil {
			e.logger.Slog().Warn("close database", "error", err)
		}
	}
	return app, closeFn, nil
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Close()

	app, closeApp, err := e.openApp(articles.Options{})
	if err != nil {
		return err
	}
	defer closeApp()
	return renderStatus(cmd.Context(), cmd.OutOrStdout(), app.Registry)
}

func bulkCmd(dir objectlock.Direction) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.logger.Close()

		app, closeApp, err := e.openApp(articles.Options{})
		if err != nil {
			return err
		}
		defer closeApp()

		wf, err := app.Workflow(args[0])
		if err != nil {
			return err
		}
		confirm := terminalConfirm
		if assumeYes {
			confirm = func(string) (bool, error) { return true, nil }
		}
		return runBulk(cmd.Context(), cmd.OutOrStdout(), wf, args[0], dir, parseArgs(args[1:]), confirm)
	}
}
