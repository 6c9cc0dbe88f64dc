// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the lo1 CLI.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// lo1 color palette - signal greens and graphite
var (
	// Primary palette (brightest to darkest)
	ColorGreenBright  = lipgloss.Color("#4AE3A5") // Bright green - highlights, success
	ColorGreenPrimary = lipgloss.Color("#2FC98C") // Primary green - main brand color
	ColorGreenDeep    = lipgloss.Color("#1FA573") // Deep green - borders, accents

	// Dark palette (for muted elements)
	ColorGraphite = lipgloss.Color("#3A4450") // Graphite - muted text, borders
	ColorSteel    = lipgloss.Color("#5C6773") // Steel - secondary text

	// Semantic colors (standard conventions for clarity)
	ColorSuccess = lipgloss.Color("#4AE3A5") // Bright green for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
	ColorMuted   = lipgloss.Color("#5C6773") // Steel for muted text
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Service log prefixes
	ServiceName lipgloss.Style
	StderrLine  lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorGreenBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorGreenPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorGreenBright).Bold(true),

	ServiceName: lipgloss.NewStyle().Foreground(ColorGreenPrimary).Bold(true),
	StderrLine:  lipgloss.NewStyle().Foreground(ColorSteel),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// colorEnabled reports whether styled output should be produced.
// Honors NO_COLOR and falls back to plain text when stdout is not a TTY.
func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// out is the destination for all print helpers. Tests may swap it.
var out io.Writer = os.Stdout

// SetOutput redirects print helpers to w. Intended for tests.
func SetOutput(w io.Writer) {
	if w == nil {
		out = os.Stdout
		return
	}
	out = w
}

// render applies the style only when color output is enabled.
func render(style lipgloss.Style, text string) string {
	if !colorEnabled() {
		return text
	}
	return style.Render(text)
}

// Title prints a styled title line.
func Title(text string) {
	fmt.Fprintln(out, render(Styles.Title, text))
}

// Phase prints an orchestration phase transition.
func Phase(text string) {
	fmt.Fprintf(out, "%s %s\n", render(Styles.Subtitle, string(IconArrow)), render(Styles.Bold, text))
}

// Success prints a success line with a check mark.
func Success(text string) {
	fmt.Fprintf(out, "%s %s\n", IconSuccess.Render(), text)
}

// Warning prints a warning line.
func Warning(text string) {
	fmt.Fprintf(out, "%s %s\n", IconWarning.Render(), render(Styles.Warning, text))
}

// Error prints an error line.
func Error(text string) {
	fmt.Fprintf(out, "%s %s\n", IconError.Render(), render(Styles.Error, text))
}

// Info prints a neutral informational line.
func Info(text string) {
	fmt.Fprintf(out, "%s %s\n", render(Styles.Muted, string(IconBullet)), text)
}

// ServiceLine prints one line of service output, prefixed with the
// service name. Stderr lines are dimmed.
func ServiceLine(service, stream, text string) {
	prefix := render(Styles.ServiceName, service)
	if stream == "stderr" {
		fmt.Fprintf(out, "%s | %s\n", prefix, render(Styles.StderrLine, text))
		return
	}
	fmt.Fprintf(out, "%s | %s\n", prefix, text)
}
