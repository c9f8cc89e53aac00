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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestPrinter(level Level) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Printer{Out: &out, Err: &errOut, Level: level}, &out, &errOut
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_MachineLevel(t *testing.T) {
	p, out, errOut := newTestPrinter(LevelMachine)

	p.Title("helm up")
	p.Muted("muted")
	p.Success("db started")
	p.Info("port 5432")
	p.Warning("hook failed")
	p.Error("engine gone")

	assert.Equal(t, "OK: db started\nport 5432\n", out.String())
	assert.Equal(t, "WARN: hook failed\nERROR: engine gone\n", errOut.String())
}

func TestPrinter_PlainLevelHasIconsWithoutColor(t *testing.T) {
	p, out, errOut := newTestPrinter(LevelPlain)

	p.Success("db started")
	p.Error("engine gone")

	assert.Equal(t, "✓ db started\n", out.String())
	assert.Equal(t, "✗ engine gone\n", errOut.String())
}

func TestPrinter_RichLevelKeepsText(t *testing.T) {
	p, out, _ := newTestPrinter(LevelRich)

	p.Title("helm up")
	p.Warning("kept https value")

	assert.Contains(t, out.String(), "helm up")
	assert.Contains(t, out.String(), "kept https value")
}

func TestPrinter_WarningBox(t *testing.T) {
	p, _, errOut := newTestPrinter(LevelMachine)
	p.WarningBox("blocked", "APP_URL")
	assert.Equal(t, "WARN blocked: APP_URL\n", errOut.String())
}

// =============================================================================
// Table Tests
// =============================================================================

func TestPrinter_Table_Machine(t *testing.T) {
	p, out, _ := newTestPrinter(LevelMachine)

	p.Table([]string{"name", "port"}, [][]string{{"db", "5432"}, {"cache", "6379"}})

	assert.Contains(t, out.String(), "NAME\tPORT")
	assert.Contains(t, out.String(), "db\t5432")
	assert.Contains(t, out.String(), "cache\t6379")
}

func TestPrinter_Table_Plain(t *testing.T) {
	p, out, _ := newTestPrinter(LevelPlain)

	p.Table([]string{"name"}, [][]string{{"db"}})

	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), "db")
	assert.Contains(t, out.String(), "─")
}

func TestPrinter_State(t *testing.T) {
	plain, _, _ := newTestPrinter(LevelPlain)
	assert.Equal(t, "running", plain.State("running"))
	assert.Equal(t, "-", plain.Dash())

	rich, _, _ := newTestPrinter(LevelRich)
	assert.Contains(t, rich.State("running"), "running")
	assert.Contains(t, rich.State("missing"), "missing")
}
