// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/subosito/gotenv"

	"github.com/jinterlante1206/helm/cmd/helm/internal/envcompose"
	"github.com/jinterlante1206/helm/cmd/helm/internal/resilience"
)

// =============================================================================
// Persister
// =============================================================================

// Binding is the final host and ports of one service, as written back to
// helm.toml.
type Binding struct {
	Service string
	Host    string
	Port    int

	// SecondaryField names the secondary port key, e.g. "smtp_port".
	SecondaryField string
	SecondaryPort  int
}

// Persister writes port bindings and inferred variables back to disk.
//
// # Description
//
// helm.toml is edited line by line inside each [[service]] table so user
// comments, ordering and formatting survive. The edited text is re-parsed
// before it replaces the original; a result that no longer validates is
// never written. Every overwrite is preceded by a timestamped backup.
//
// # Thread Safety
//
// Not safe for concurrent use. Callers serialize writes with the workspace
// lock.
type Persister struct {
	fs      afero.Fs
	backups *resilience.BackupManager
	logger  *slog.Logger
}

// NewPersister creates a Persister on fsys.
func NewPersister(fsys afero.Fs, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		fs:      fsys,
		backups: resilience.NewBackupManager(fsys, resilience.DefaultBackupConfig()),
		logger:  logger,
	}
}

// Backups exposes the backup manager, e.g. for listing or restoring.
func (p *Persister) Backups() *resilience.BackupManager {
	return p.backups
}

// SaveBindings writes every binding into the config at path in one write.
//
// # Inputs
//
//   - path: helm.toml path.
//   - bindings: Final bindings. Services absent from the file are skipped.
//
// # Outputs
//
//   - bool: True when the file changed.
//   - error: Read, validation or write failure. The file is untouched on error.
func (p *Persister) SaveBindings(path string, bindings []Binding) (bool, error) {
	original, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	edited := splitLines(string(original))
	for _, b := range bindings {
		var skipped bool
		edited, skipped = applyBinding(edited, b)
		if skipped {
			p.logger.Warn("service not found in config, binding not persisted", "service", b.Service)
		}
	}
	sep := "\n"
	if bytes.Contains(original, []byte("\r\n")) {
		sep = "\r\n"
	}
	out := strings.Join(edited, sep)
	if out == string(original) {
		return false, nil
	}

	if _, err := Parse([]byte(out)); err != nil {
		return false, fmt.Errorf("persisted config would be invalid: %w", err)
	}
	if err := p.write(path, []byte(out)); err != nil {
		return false, err
	}
	p.logger.Info("saved port bindings", "path", path, "services", len(bindings))
	return true, nil
}

// EnvResult reports what WriteEnv did.
type EnvResult struct {
	Changed bool

	// Blocked lists existing values kept because the new one was a downgrade.
	Blocked []envcompose.Downgrade
}

// WriteEnv upserts vars into the dotenv file at path.
//
// # Description
//
// Existing keys are replaced in place, new keys are appended in sorted
// order and unrelated lines are left alone. A value that would downgrade a
// secure setting already in the file (https to http, sslmode=require to
// disable) is kept and reported in Blocked. A missing file is created.
func (p *Persister) WriteEnv(path string, vars map[string]string) (EnvResult, error) {
	var result EnvResult

	original, err := afero.ReadFile(p.fs, path)
	if err != nil && !os.IsNotExist(err) {
		return result, fmt.Errorf("read %s: %w", path, err)
	}

	existing, err := gotenv.StrictParse(bytes.NewReader(original))
	if err != nil {
		return result, fmt.Errorf("parse %s: %w", path, err)
	}

	if len(vars) == 0 {
		return result, nil
	}

	accepted := make(map[string]string, len(vars))
	for k, v := range vars {
		if old, ok := existing[k]; ok && envcompose.IsDowngrade(k, old, v) {
			result.Blocked = append(result.Blocked, envcompose.Downgrade{Key: k, Kept: old, Rejected: v})
			continue
		}
		accepted[k] = v
	}
	sort.Slice(result.Blocked, func(i, j int) bool { return result.Blocked[i].Key < result.Blocked[j].Key })

	var lines []string
	if len(original) > 0 {
		lines = splitLines(strings.TrimRight(string(original), "\n"))
	}
	written := make(map[string]bool, len(accepted))
	for i, line := range lines {
		key, ok := envKey(line)
		if !ok {
			continue
		}
		v, ok := accepted[key]
		if !ok {
			continue
		}
		if existing[key] != v {
			lines[i] = key + "=" + quoteEnv(v)
		}
		written[key] = true
	}

	keys := make([]string, 0, len(accepted))
	for k := range accepted {
		if !written[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+"="+quoteEnv(accepted[k]))
	}

	if len(lines) == 0 {
		return result, nil
	}
	out := strings.Join(lines, "\n") + "\n"
	if out == string(original) {
		return result, nil
	}
	if err := p.write(path, []byte(out)); err != nil {
		return result, err
	}
	result.Changed = true
	return result, nil
}

func (p *Persister) write(path string, data []byte) error {
	if backup, err := p.backups.BackupBeforeOverwrite(path); err != nil {
		return err
	} else if backup != "" {
		p.logger.Debug("backed up file", "path", path, "backup", backup)
	}

	perm := os.FileMode(0o644)
	if info, err := p.fs.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	if err := p.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(p.fs, tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := p.fs.Rename(tmp, path); err != nil {
		_ = p.fs.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// TOML Line Editing
// =============================================================================

var (
	tableHeader   = regexp.MustCompile(`^\s*\[`)
	serviceHeader = regexp.MustCompile(`^\s*\[\[\s*service\s*\]\]\s*(#.*)?$`)
	nameLine      = regexp.MustCompile(`^\s*name\s*=\s*["']([^"']*)["']`)
)

// applyBinding edits the service's own key region: the lines between its
// [[service]] header and the next table header. Sub-tables such as
// [[service.hook]] start a new region, so keys are never written into them.
func applyBinding(lines []string, b Binding) ([]string, bool) {
	start, end, nameAt := -1, -1, -1
	for i := 0; i < len(lines); i++ {
		if !serviceHeader.MatchString(lines[i]) {
			continue
		}
		j := i + 1
		for j < len(lines) && !tableHeader.MatchString(lines[j]) {
			j++
		}
		for k := i + 1; k < j; k++ {
			if m := nameLine.FindStringSubmatch(lines[k]); m != nil && m[1] == b.Service {
				start, end, nameAt = i+1, j, k
			}
		}
		if start >= 0 {
			break
		}
		i = j - 1
	}
	if start < 0 {
		return lines, true
	}

	type edit struct {
		key   string
		value string
		skip  bool
	}
	edits := []edit{
		{key: "host", value: strconv.Quote(b.Host), skip: b.Host == ""},
		{key: "port", value: strconv.Itoa(b.Port), skip: b.Port <= 0},
		{key: b.SecondaryField, value: strconv.Itoa(b.SecondaryPort), skip: b.SecondaryField == "" || b.SecondaryPort <= 0},
	}

	insertAt := nameAt + 1
	for _, e := range edits {
		if e.skip {
			continue
		}
		idx := findKey(lines[start:end], e.key)
		if idx >= 0 {
			lines[start+idx] = replaceValue(lines[start+idx], e.value)
			continue
		}
		if e.key == "host" && b.Host == DefaultHost {
			continue
		}
		lines = insertLine(lines, insertAt, e.key+" = "+e.value)
		insertAt++
		end++
	}
	return lines, false
}

func findKey(region []string, key string) int {
	re := regexp.MustCompile(`^\s*` + regexp.QuoteMeta(key) + `\s*=`)
	for i, line := range region {
		if re.MatchString(line) {
			return i
		}
	}
	return -1
}

// keyValue splits "  port = 5432  # pinned" into indent+key+" = ", value and
// the trailing comment.
var keyValue = regexp.MustCompile(`^(\s*[A-Za-z0-9_-]+\s*=\s*)("[^"]*"|'[^']*'|[^#\s]*)(\s*#.*)?\s*$`)

func replaceValue(line, value string) string {
	m := keyValue.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	return m[1] + value + m[3]
}

func insertLine(lines []string, at int, line string) []string {
	lines = append(lines, "")
	copy(lines[at+1:], lines[at:])
	lines[at] = line
	return lines
}

func splitLines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if strings.HasSuffix(s, "\n") {
		out = append(out, "")
	}
	return out
}

// =============================================================================
// Dotenv Helpers
// =============================================================================

var envLine = regexp.MustCompile(`^\s*(?:export\s+)?([A-Za-z_][A-Za-z0-9_.]*)\s*=`)

func envKey(line string) (string, bool) {
	m := envLine.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func quoteEnv(v string) string {
	if v == "" || !strings.ContainsAny(v, " \t#\"'\\$`") {
		return v
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}
