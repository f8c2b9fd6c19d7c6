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
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette
var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorDeep    = lipgloss.Color("#16858E")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
	Header  lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(colorSlate),
	Success: lipgloss.NewStyle().Foreground(colorTeal),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorDeep).
		Padding(0, 1),
	Header: lipgloss.NewStyle().Bold(true).Foreground(colorTeal).Padding(0, 1),
}

// renderPreview renders the effective set and the skipped identifiers.
func renderPreview(p *objectlock.Preview) string {
	var b strings.Builder
	b.WriteString(styles.Title.Render(fmt.Sprintf("%s %s", titleCase(string(p.Direction)), p.Kind)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Requested: %s\n", joinOrDash(p.RequestedIDs))
	fmt.Fprintf(&b, "Will be %s: %s (%d)\n", p.Direction.Past(), styles.Bold.Render(joinOrDash(p.EffectiveIDs)), p.Count)
	for _, s := range p.Skipped {
		b.WriteString(styles.Warning.Render(fmt.Sprintf("Skipped %s: %s", s.ID, s.Reason)))
		b.WriteString("\n")
	}
	return styles.Box.Render(strings.TrimRight(b.String(), "\n"))
}

func joinOrDash(ids []objectlock.ID) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.ReplaceAll(objectlock.JoinIDs(ids), ",", ", ")
}

// renderStatus writes a table of lock counts per registered kind.
func renderStatus(ctx context.Context, w io.Writer, registry *objectlock.Registry) error {
	rows := make([][]string, 0)
	for _, name := range registry.Names() {
		k, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		locked, unlocked, err := k.Counts(ctx)
		if err != nil {
			return fmt.Errorf("count %s: %w", name, err)
		}
		source := "stored"
		if up := k.Upstream(); up != "" {
			source = "from " + up
		}
		rows = append(rows, []string{name, source, strconv.Itoa(locked), strconv.Itoa(unlocked)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDeep)).
		Headers("KIND", "LOCK", "LOCKED", "UNLOCKED").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Fprintln(w, t.Render())

	if err := registry.Validate(); err != nil {
		fmt.Fprintln(w, styles.Error.Render("Misconfigured: "+err.Error()))
	}
	return nil
}
