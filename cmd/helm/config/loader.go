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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// ErrNotFound is returned when no helm.toml exists in the directory or any
// parent.
var ErrNotFound = errors.New("no " + FileName + " found")

// Project is a loaded helm.toml together with where it was found.
type Project struct {
	// File is the decoded and validated config.
	File *File

	// Path is the config file path.
	Path string

	// Root is the workspace root, the directory containing Path.
	Root string
}

// Find walks from dir towards the filesystem root looking for helm.toml.
//
// # Outputs
//
//   - string: Absolute path of the first helm.toml found.
//   - error: ErrNotFound when none exists.
func Find(fsys afero.Fs, dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	for {
		candidate := filepath.Join(abs, FileName)
		if info, err := fsys.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("%w in %s or any parent directory", ErrNotFound, dir)
		}
		abs = parent
	}
}

// Load reads, decodes and validates the config at path.
//
// # Description
//
// Unknown keys are rejected so typos such as "prot = 5432" surface instead
// of silently falling back to an allocated port. Decoding and validation
// failures are reported as *util.ConfigurationError.
//
// # Inputs
//
//   - fsys: Filesystem, afero.NewOsFs() outside tests.
//   - path: Config file path.
//
// # Outputs
//
//   - *Project: The loaded project.
//   - error: Read, decode or validation failure.
func Load(fsys afero.Fs, path string) (*Project, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Project{File: f, Path: abs, Root: filepath.Dir(abs)}, nil
}

// Parse decodes and validates config bytes.
func Parse(data []byte) (*File, error) {
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, decodeError(err)
	}
	if err := Validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func decodeError(err error) error {
	var strict *toml.StrictMissingError
	if errors.As(err, &strict) && len(strict.Errors) > 0 {
		first := strict.Errors[0]
		row, col := first.Position()
		return &util.ConfigurationError{
			Field:  toKeyPath(first.Key()),
			Detail: fmt.Sprintf("unknown key at line %d column %d", row, col),
			Err:    util.ErrInvalidConfig,
		}
	}
	var decErr *toml.DecodeError
	if errors.As(err, &decErr) {
		row, col := decErr.Position()
		return &util.ConfigurationError{
			Detail: fmt.Sprintf("line %d column %d: %s", row, col, decErr.Error()),
			Err:    util.ErrInvalidConfig,
		}
	}
	return &util.ConfigurationError{Detail: err.Error(), Err: util.ErrInvalidConfig}
}

func toKeyPath(key toml.Key) string {
	var b bytes.Buffer
	for i, part := range key {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}
