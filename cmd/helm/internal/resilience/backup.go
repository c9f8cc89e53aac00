// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// BackupInfo describes one backup file.
type BackupInfo struct {
	Path         string
	OriginalPath string
	CreatedAt    time.Time
	Size         int64
}

// BackupConfig configures a BackupManager.
type BackupConfig struct {
	// MaxBackups kept per file; older ones are rotated out.
	// Default: 5
	MaxBackups int

	// BackupSuffix is inserted between the file name and the timestamp.
	// Default: ".backup"
	BackupSuffix string

	// TimeFormat formats the timestamp.
	// Default: "2006-01-02_150405.000"
	TimeFormat string
}

// DefaultBackupConfig returns sensible defaults.
func DefaultBackupConfig() BackupConfig {
	return BackupConfig{
		MaxBackups:   5,
		BackupSuffix: ".backup",
		TimeFormat:   "2006-01-02_150405.000",
	}
}

// BackupManager copies files aside before persistence rewrites them.
//
// Backups live next to the original as "<name><suffix>.<timestamp>".
type BackupManager struct {
	fs     afero.Fs
	config BackupConfig
	now    func() time.Time
}

// NewBackupManager creates a BackupManager on fs.
func NewBackupManager(fsys afero.Fs, config BackupConfig) *BackupManager {
	def := DefaultBackupConfig()
	if config.MaxBackups <= 0 {
		config.MaxBackups = def.MaxBackups
	}
	if config.BackupSuffix == "" {
		config.BackupSuffix = def.BackupSuffix
	}
	if config.TimeFormat == "" {
		config.TimeFormat = def.TimeFormat
	}
	return &BackupManager{fs: fsys, config: config, now: time.Now}
}

// BackupBeforeOverwrite copies path aside.
//
// # Outputs
//
//   - string: The backup path, or "" when path does not exist.
//   - error: Non-nil if the copy failed.
func (m *BackupManager) BackupBeforeOverwrite(path string) (string, error) {
	data, err := afero.ReadFile(m.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s for backup: %w", path, err)
	}

	info, err := m.fs.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	backupPath := path + m.config.BackupSuffix + "." + m.now().Format(m.config.TimeFormat)
	if err := afero.WriteFile(m.fs, backupPath, data, info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("write backup %s: %w", backupPath, err)
	}

	_ = m.rotate(path)
	return backupPath, nil
}

// ListBackups returns the backups of originalPath, newest first.
func (m *BackupManager) ListBackups(originalPath string) ([]BackupInfo, error) {
	dir := filepath.Dir(originalPath)
	prefix := filepath.Base(originalPath) + m.config.BackupSuffix + "."

	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		createdAt, err := time.Parse(m.config.TimeFormat, strings.TrimPrefix(name, prefix))
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Path:         filepath.Join(dir, name),
			OriginalPath: originalPath,
			CreatedAt:    createdAt,
			Size:         entry.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// RestoreBackup moves backupPath back over its original.
func (m *BackupManager) RestoreBackup(backupPath string) error {
	base := filepath.Base(backupPath)
	idx := strings.LastIndex(base, m.config.BackupSuffix+".")
	if idx <= 0 {
		return fmt.Errorf("cannot determine original path from backup: %s", backupPath)
	}
	original := filepath.Join(filepath.Dir(backupPath), base[:idx])

	if err := m.fs.Rename(backupPath, original); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	return nil
}

func (m *BackupManager) rotate(originalPath string) error {
	backups, err := m.ListBackups(originalPath)
	if err != nil {
		return err
	}
	for i := m.config.MaxBackups; i < len(backups); i++ {
		_ = m.fs.Remove(backups[i].Path)
	}
	return nil
}
