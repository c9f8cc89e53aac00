// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table renders rows under headers.
//
// # Description
//
// LevelRich draws a rounded table with colored headers, LevelPlain a light
// uncolored one and LevelMachine tab-separated values with a header line.
// Cells are rendered as given; callers style them with Printer.State.
func (p *Printer) Table(headers []string, rows [][]string) {
	t := table.NewWriter()

	header := make(table.Row, len(headers))
	for i, h := range headers {
		h = strings.ToUpper(h)
		if p.Level == LevelRich {
			h = text.FgHiCyan.Sprint(h)
		}
		header[i] = h
	}
	t.AppendHeader(header)

	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, cell := range r {
			row[i] = cell
		}
		t.AppendRow(row)
	}

	switch p.Level {
	case LevelMachine:
		fmt.Fprintln(p.Out, t.RenderTSV())
	case LevelPlain:
		t.SetStyle(table.StyleLight)
		t.Style().Format.Header = text.FormatDefault
		fmt.Fprintln(p.Out, t.Render())
	default:
		t.SetStyle(table.StyleRounded)
		t.Style().Format.Header = text.FormatDefault
		fmt.Fprintln(p.Out, t.Render())
	}
}

// State colors a container state for a table cell.
func (p *Printer) State(state string) string {
	if p.Level != LevelRich {
		return state
	}
	switch state {
	case "running":
		return text.FgGreen.Sprint(state)
	case "created", "exited", "paused", "restarting":
		return text.FgYellow.Sprint(state)
	case "dead":
		return text.FgRed.Sprint(state)
	default:
		return text.FgHiBlack.Sprint(state)
	}
}

// Dash renders an empty cell.
func (p *Printer) Dash() string {
	if p.Level == LevelRich {
		return text.FgHiBlack.Sprint("-")
	}
	return "-"
}
