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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"":         LevelRich,
		"rich":     LevelRich,
		"PLAIN":    LevelPlain,
		"no-color": LevelPlain,
		"machine":  LevelMachine,
		"q":        LevelMachine,
		"fancy":    LevelRich,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestDetectLevel(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, LevelMachine, DetectLevel("", f, envOf(nil)), "a regular file is not a terminal")
	assert.Equal(t, LevelPlain, DetectLevel("plain", f, envOf(nil)), "explicit wins")
	assert.Equal(t, LevelRich, DetectLevel("", f, envOf(map[string]string{EnvLevel: "rich"})))
	assert.Equal(t, LevelPlain, DetectLevel("plain", f, envOf(map[string]string{EnvLevel: "machine"})))
}

func TestIsTerminal_Nil(t *testing.T) {
	assert.False(t, IsTerminal(nil))
}
