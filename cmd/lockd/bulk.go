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
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// errNotConfirmed is returned when a commit needs confirmation that
// cannot be asked for.
var errNotConfirmed = errors.New("stdin is not a terminal; pass --yes to commit")

// confirmFunc asks the operator to approve a commit.
type confirmFunc func(question string) (bool, error)

// terminalConfirm asks with a huh prompt when stdin is a terminal.
func terminalConfirm(question string) (bool, error) {
	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return false, errNotConfirmed
	}
	var ok bool
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Yes, I'm sure").
		Negative("No, take me back").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// parseArgs accepts identifiers as separate arguments, comma lists, or both.
func parseArgs(args []string) []objectlock.ID {
	return objectlock.ParseIDs(strings.Join(args, ","))
}

// runBulk previews a bulk action, asks for confirmation and commits.
//
// # Description
//
// Nothing is committed when the effective set is empty or the operator
// declines. The commit re-resolves the identifiers, so the committed count
// may be smaller than the previewed one.
func runBulk(
	ctx context.Context,
	w io.Writer,
	wf objectlock.BulkRunner,
	kind string,
	dir objectlock.Direction,
	ids []objectlock.ID,
	confirm confirmFunc,
) error {
	if len(ids) == 0 {
		return errors.New("no identifiers given")
	}
	preview, err := wf.Propose(ctx, dir, ids)
	if err != nil {
		return fmt.Errorf("preview %s: %w", dir, err)
	}
	fmt.Fprintln(w, renderPreview(preview))

	if preview.Count == 0 {
		fmt.Fprintln(w, styles.Muted.Render("Nothing to "+string(dir)+"."))
		return nil
	}

	ok, err := confirm(fmt.Sprintf("%s %d %s?", titleCase(string(dir)), preview.Count, kind))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, styles.Muted.Render("Cancelled. Nothing was changed."))
		return nil
	}

	out, err := wf.Commit(ctx, dir, ids)
	if out != nil && out.CommittedCount > 0 {
		fmt.Fprintln(w, styles.Success.Render(commitSummary(out)))
	}
	if err != nil {
		return fmt.Errorf("commit %s: %w", dir, err)
	}
	if out.CommittedCount == 0 {
		fmt.Fprintln(w, styles.Muted.Render("Nothing changed since the preview."))
	}
	return nil
}

func commitSummary(out *objectlock.Outcome) string {
	noun := "objects"
	if out.CommittedCount == 1 {
		noun = "object"
	}
	return fmt.Sprintf("Successfully %s %d %s.", out.Direction.Past(), out.CommittedCount, noun)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
