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
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
)

// Default configuration values.
const (
	DefaultLockedIconURL   = "/static/objectlock/images/locked.svg"
	DefaultLockedLabel     = "Locked"
	DefaultBulkConcurrency = 8
)

// tracer is shared by all lock components.
var tracer = otel.Tracer("aleutian.objectlock")

// Config holds the presentation and workflow settings of a Kind.
//
// A zero-value field is replaced by its default.
type Config struct {
	// LockedIconURL is the icon reference of the locked indicator.
	// Default: DefaultLockedIconURL
	LockedIconURL string `yaml:"locked_icon_url"`

	// LockedLabel is the accessible label of the locked indicator.
	// Default: DefaultLockedLabel
	LockedLabel string `yaml:"locked_label"`

	// BulkConcurrency bounds concurrent identifier resolution in Propose.
	// Default: DefaultBulkConcurrency
	BulkConcurrency int `yaml:"bulk_concurrency" validate:"gte=0,lte=256"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		LockedIconURL:   DefaultLockedIconURL,
		LockedLabel:     DefaultLockedLabel,
		BulkConcurrency: DefaultBulkConcurrency,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LockedIconURL == "" {
		c.LockedIconURL = d.LockedIconURL
	}
	if c.LockedLabel == "" {
		c.LockedLabel = d.LockedLabel
	}
	if c.BulkConcurrency <= 0 {
		c.BulkConcurrency = d.BulkConcurrency
	}
	return c
}

// Options are the collaborators shared by the components of a Kind.
type Options struct {
	Config Config

	// Logger receives component logs. Nil means slog.Default().
	Logger *slog.Logger

	// Recorder receives lock decisions. Nil disables recording.
	Recorder Recorder

	// Permissions is the base permission model consulted by the Gate.
	// Nil allows everything.
	Permissions Permissions
}

// =============================================================================
// Recording
// =============================================================================

// Decision outcomes passed to Recorder.ObserveDecision.
const (
	OutcomeAllowed     = "allowed"
	OutcomeLocked      = "locked"
	OutcomeNoop        = "noop"
	OutcomeNotFound    = "not_found"
	OutcomeUnsupported = "unsupported"
	OutcomeError       = "error"
)

// Recorder observes lock decisions. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveDecision(kind, operation, outcome string)
	ObserveBulk(kind string, dir Direction, phase string, n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(string, string, string) {}
func (nopRecorder) ObserveBulk(string, Direction, string, int) {}

// outcomeOf classifies err for recording.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeAllowed
	case errors.Is(err, ErrAlreadyLocked), errors.Is(err, ErrAlreadyUnlocked):
		return OutcomeNoop
	case errors.Is(err, ErrResourceLocked):
		return OutcomeLocked
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case IsMisconfiguration(err):
		return OutcomeUnsupported
	}
	return OutcomeError
}

// logFailure logs err at a level matching its class. Expected conditions go
// to debug; integration defects are loud.
func logFailure(ctx context.Context, logger *slog.Logger, msg string, err error, args ...any) {
	args = append(args, slog.String("error", err.Error()))
	switch {
	case IsExpected(err):
		logger.DebugContext(ctx, msg, args...)
	case IsMisconfiguration(err):
		logger.ErrorContext(ctx, msg+": integration misconfigured", args...)
	default:
		logger.ErrorContext(ctx, msg, args...)
	}
}
