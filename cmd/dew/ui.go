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
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ideal-world/dew-baas/services/action/build"
)

var (
	colorOK    = lipgloss.Color("#8BC34A")
	colorWarn  = lipgloss.Color("#FFC107")
	colorError = lipgloss.Color("#e53935")
	colorMuted = lipgloss.Color("#7a8597")

	styleTitle = lipgloss.NewStyle().Bold(true)
	styleOK    = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(colorWarn)
	styleError = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleMuted = lipgloss.NewStyle().Foreground(colorMuted)
	styleBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

// renderBuild writes the summary of one build.
func renderBuild(w io.Writer, result *build.Result, err error) {
	var b strings.Builder

	status := styleOK.Render("ok")
	switch {
	case err == nil:
	case isPartial(err):
		status = styleWarn.Render("partial")
	default:
		status = styleError.Render("failed")
	}
	fmt.Fprintf(&b, "%s %s build %s\n", styleTitle.Render("dew"), result.Target, status)
	fmt.Fprintf(&b, "%s %s\n", styleMuted.Render("id      "), result.BuildID)
	fmt.Fprintf(&b, "%s %s\n", styleMuted.Render("base    "), result.BaseDir)
	fmt.Fprintf(&b, "%s %s\n", styleMuted.Render("duration"), result.Duration.Round(time.Millisecond))
	if result.Artifact != nil {
		fmt.Fprintf(&b, "%s %d bytes, sha256 %s\n", styleMuted.Render("bundle  "), len(result.Artifact.Code), shortHash(result.Artifact.SHA256))
	}
	if result.Location != "" {
		fmt.Fprintf(&b, "%s %s\n", styleMuted.Render("shipped "), result.Location)
	}

	if len(result.Files) > 0 {
		b.WriteString("\n")
	}
	for _, f := range result.Files {
		switch {
		case f.Skipped:
			fmt.Fprintf(&b, "  %s %s\n", styleMuted.Render("="), f.RelPath)
		case len(f.Stubs) > 0 || f.Deleted > 0:
			fmt.Fprintf(&b, "  %s %s %s\n", styleOK.Render("~"), f.RelPath,
				styleMuted.Render(fmt.Sprintf("(%d stubs, %d deleted)", len(f.Stubs), f.Deleted)))
		default:
			fmt.Fprintf(&b, "  %s %s\n", styleOK.Render("+"), f.RelPath)
		}
	}

	fmt.Fprintln(w, styleBox.Render(strings.TrimRight(b.String(), "\n")))
	if err != nil {
		fmt.Fprintln(w, styleError.Render(err.Error()))
	}
}

// renderRecords writes a build history listing.
func renderRecords(w io.Writer, records []*build.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, styleMuted.Render("no builds recorded"))
		return
	}
	for _, r := range records {
		status := styleOK.Render(r.Status)
		switch r.Status {
		case build.StatusPartial:
			status = styleWarn.Render(r.Status)
		case build.StatusFailed:
			status = styleError.Render(r.Status)
		}
		started := time.UnixMilli(r.StartedAtMilli).Format(time.DateTime)
		fmt.Fprintf(w, "%s  %s  %-4s %-7s %3d modules  %s\n",
			r.BuildID, styleMuted.Render(started), r.Target, status, r.Modules, r.BaseDir)
	}
}

// renderRecord writes the detail of one journaled build.
func renderRecord(w io.Writer, r *build.Record, d *build.Detail) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s, %s)\n", styleTitle.Render("build"), r.BuildID, r.Target, r.Status)
	fmt.Fprintf(&b, "%s %s\n", styleMuted.Render("base    "), r.BaseDir)
	fmt.Fprintf(&b, "%s %s\n", styleMuted.Render("env     "), r.Env)
	fmt.Fprintf(&b, "%s %s\n", styleMuted.Render("started "), time.UnixMilli(r.StartedAtMilli).Format(time.DateTime))
	if r.BundleSHA256 != "" {
		fmt.Fprintf(&b, "%s %d bytes, sha256 %s\n", styleMuted.Render("bundle  "), r.BundleBytes, shortHash(r.BundleSHA256))
	}
	if r.Destination != "" {
		fmt.Fprintf(&b, "%s %s\n", styleMuted.Render("shipped "), r.Destination)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", styleMuted.Render("error   "), styleError.Render(r.Error))
	}
	for _, f := range d.Files {
		fmt.Fprintf(&b, "\n%s", f.RelPath)
		if f.Skipped {
			b.WriteString(styleMuted.Render(" (unchanged)"))
		}
		for _, s := range f.Stubs {
			fmt.Fprintf(&b, "\n  stub    %s", s)
		}
		for _, fn := range f.DeletedFunctions {
			fmt.Fprintf(&b, "\n  deleted %s", fn)
		}
	}
	if d.Bundle != nil && len(d.Bundle.Inputs) > 0 {
		b.WriteString("\n\n" + styleTitle.Render("bundle inputs"))
		for _, in := range d.Bundle.Inputs {
			fmt.Fprintf(&b, "\n  %8d  %s", in.BytesInOutput, in.Path)
		}
	}
	fmt.Fprintln(w, styleBox.Render(b.String()))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
