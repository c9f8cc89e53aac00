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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/jinterlante1206/helm/cmd/helm/internal/scheduler"
)

// =============================================================================
// User Settings
// =============================================================================

// Settings are per-user defaults from ~/.config/helm/settings.yaml,
// overridable by HELM_* environment variables and then by CLI flags.
//
// # Example
//
//	engine: podman
//	port_strategy: stable
//	parallel: 4
//	scheduler:
//	  max_heavy_ops: 3
//	telemetry:
//	  traces: otlp
//	  otlp_endpoint: localhost:4317
type Settings struct {
	// Engine forces "docker" or "podman". Empty means autodetect.
	Engine string `mapstructure:"engine"`

	PortStrategy string `mapstructure:"port_strategy"`
	Seed         string `mapstructure:"seed"`
	PullPolicy   string `mapstructure:"pull_policy"`
	Parallel     int    `mapstructure:"parallel"`

	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
	LogDir   string `mapstructure:"log_dir"`

	Scheduler SchedulerSettings `mapstructure:"scheduler"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

// SchedulerSettings are file-level defaults for the scheduler policy. The
// HELM_DOCKER_* variables still take precedence.
type SchedulerSettings struct {
	MaxHeavyOps int `mapstructure:"max_heavy_ops"`
	MaxBuildOps int `mapstructure:"max_build_ops"`
	RetryBudget int `mapstructure:"retry_budget"`
}

// TelemetrySettings select exporters.
type TelemetrySettings struct {
	Traces       string `mapstructure:"traces"`
	Metrics      string `mapstructure:"metrics"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	MetricsFile  string `mapstructure:"metrics_file"`
}

// DefaultSettingsPath returns ~/.config/helm/settings.yaml, honoring
// XDG_CONFIG_HOME.
func DefaultSettingsPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "helm", "settings.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "helm", "settings.yaml")
}

// LoadSettings reads the settings file at path, layering HELM_* variables
// on top. A missing file yields the defaults.
//
// # Inputs
//
//   - fsys: Filesystem the settings file is read from.
//   - path: Settings file path; "" skips the file.
//
// # Outputs
//
//   - Settings: Resolved settings.
//   - error: Unreadable or malformed file.
func LoadSettings(fsys afero.Fs, path string) (Settings, error) {
	var s Settings

	v := viper.New()
	v.SetFs(fsys)
	v.SetEnvPrefix("HELM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port_strategy", "random")
	v.SetDefault("pull_policy", "missing")
	v.SetDefault("parallel", 1)
	v.SetDefault("health_timeout", 60*time.Second)
	v.SetDefault("health_interval", 2*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("telemetry.traces", "none")
	v.SetDefault("telemetry.metrics", "none")

	// AutomaticEnv only consults keys viper already knows about.
	for _, key := range []string{"engine", "seed", "log_json", "log_dir", "telemetry.otlp_endpoint", "telemetry.otlp_insecure", "telemetry.metrics_file"} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(fsys, path) {
				return s, fmt.Errorf("read settings %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("decode settings %s: %w", path, err)
	}
	return s, nil
}

func isNotExist(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return os.IsNotExist(err)
}

// PolicyLookup returns a scheduler lookup that consults env first and then
// the settings file, so PolicyFromEnv applies its usual validation to both.
// An empty variable counts as unset.
func (s Settings) PolicyLookup(env scheduler.LookupFunc) scheduler.LookupFunc {
	if env == nil {
		env = os.LookupEnv
	}
	fromFile := map[string]int{
		scheduler.EnvMaxHeavyOps: s.Scheduler.MaxHeavyOps,
		scheduler.EnvMaxBuildOps: s.Scheduler.MaxBuildOps,
		scheduler.EnvRetryBudget: s.Scheduler.RetryBudget,
	}
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		if v := fromFile[key]; v > 0 {
			return strconv.Itoa(v), true
		}
		return "", false
	}
}
