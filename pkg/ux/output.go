// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders helm's terminal output: styled messages, tables and
// confirmations, degrading to plain tab-separated text for scripts.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
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

// =============================================================================
// Printer
// =============================================================================

// Printer writes leveled messages. Warnings and errors go to Err at
// LevelMachine so stdout stays parseable.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Level Level
}

// NewPrinter returns a printer on stdout/stderr at level.
func NewPrinter(level Level) *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Level: level}
}

// style renders s with st only at LevelRich.
func (p *Printer) style(st lipgloss.Style, s string) string {
	if p.Level != LevelRich {
		return s
	}
	return st.Render(s)
}

func (p *Printer) icon(i Icon) string {
	if p.Level != LevelRich {
		return string(i)
	}
	return i.Render()
}

// Title prints a styled title. Suppressed at LevelMachine.
func (p *Printer) Title(text string) {
	if p.Level == LevelMachine {
		return
	}
	fmt.Fprintln(p.Out, p.style(Styles.Title, text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.Level == LevelMachine {
		fmt.Fprintf(p.Out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", p.icon(IconSuccess), p.style(Styles.Success, text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if p.Level == LevelMachine {
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", p.icon(IconWarning), p.style(Styles.Warning, text))
}

// Error prints an error message. Errors always go to Err.
func (p *Printer) Error(text string) {
	if p.Level == LevelMachine {
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.Err, "%s %s\n", p.icon(IconError), p.style(Styles.Error, text))
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.Level == LevelMachine {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", p.style(Styles.Muted, "│"), text)
}

// Muted prints secondary text. Suppressed at LevelMachine.
func (p *Printer) Muted(text string) {
	if p.Level == LevelMachine {
		return
	}
	fmt.Fprintln(p.Out, p.style(Styles.Muted, text))
}

// WarningBox prints a titled block of lines in a warning-styled box
func (p *Printer) WarningBox(title, content string) {
	switch p.Level {
	case LevelMachine:
		fmt.Fprintf(p.Err, "WARN %s: %s\n", title, content)
	case LevelPlain:
		fmt.Fprintf(p.Out, "%s %s\n%s\n", IconWarning, title, content)
	default:
		box := Styles.WarningBox.Width(72)
		fmt.Fprintln(p.Out, box.Render(Styles.Warning.Bold(true).Render(title)+"\n"+content))
	}
}
