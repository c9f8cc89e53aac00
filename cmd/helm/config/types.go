// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads, validates, selects from and persists the project
// configuration file helm.toml.
//
// # Layout
//
//	name = "shop"               # container name prefix
//	environment = "local"       # scopes stable port seeds
//	port_strategy = "stable"    # or "random"
//	env_file = ".env"
//
//	[profiles]
//	backend = ["postgres", "redis"]
//
//	[[service]]
//	name = "postgres"
//	driver = "postgres"
//	port = 5432                 # pinned; omit to let helm allocate
//
//	[[service.hook]]
//	name = "migrate"
//	phase = "post_up"
//	exec = ["psql", "-c", "select 1"]
//
// Services keep their declaration order, which is also hook order.
package config

// FileName is the project config file name.
const FileName = "helm.toml"

// DefaultHost is the bind host when a service sets none.
const DefaultHost = "127.0.0.1"

// DefaultEnvironment names the runtime environment when none is set.
const DefaultEnvironment = "local"

// File is the decoded helm.toml.
type File struct {
	// Name prefixes container names: "<name>-<service>".
	Name string `toml:"name" validate:"omitempty,containername"`

	// Environment scopes stable port seeds, e.g. "local" or "ci".
	Environment string `toml:"environment,omitempty" validate:"omitempty,max=64"`

	// PortStrategy is "random" or "stable".
	PortStrategy string `toml:"port_strategy,omitempty" validate:"omitempty,oneof=random stable"`

	// Seed is an optional user seed for the stable strategy.
	Seed string `toml:"seed,omitempty"`

	// EnvFile is the dotenv file persistence writes, relative to the workspace.
	EnvFile string `toml:"env_file,omitempty"`

	// Profiles maps a profile name to service names.
	Profiles map[string][]string `toml:"profiles,omitempty"`

	// Services in declaration order.
	Services []Service `toml:"service" validate:"dive"`
}

// Service is one [[service]] table.
type Service struct {
	Name           string            `toml:"name" validate:"required,servicename"`
	Driver         string            `toml:"driver" validate:"required"`
	Kind           string            `toml:"kind,omitempty" validate:"omitempty,oneof=database cache object-store search mail app"`
	Image          string            `toml:"image,omitempty"`
	Host           string            `toml:"host,omitempty" validate:"omitempty,bindhost"`
	Port           int               `toml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	SMTPPort       int               `toml:"smtp_port,omitempty" validate:"omitempty,min=1,max=65535"`
	ContainerPort  int               `toml:"container_port,omitempty" validate:"omitempty,min=1,max=65535"`
	ContainerName  string            `toml:"container_name,omitempty" validate:"omitempty,containername"`
	Command        []string          `toml:"command,omitempty"`
	Volumes        []string          `toml:"volumes,omitempty" validate:"dive,required"`
	Env            map[string]string `toml:"env,omitempty"`
	HealthPath     string            `toml:"health_path,omitempty" validate:"omitempty,startswith=/"`
	HealthStatuses []int             `toml:"health_statuses,omitempty" validate:"dive,min=100,max=599"`
	Profiles       []string          `toml:"profiles,omitempty"`
	Build          *Build            `toml:"build,omitempty"`
	Hooks          []Hook            `toml:"hook,omitempty" validate:"dive"`
}

// Build is a [service.build] table.
type Build struct {
	Context    string            `toml:"context" validate:"required"`
	Dockerfile string            `toml:"dockerfile,omitempty"`
	Args       map[string]string `toml:"args,omitempty"`
}

// Hook is one [[service.hook]] table. Exactly one of Exec and Script is set.
type Hook struct {
	Name    string   `toml:"name" validate:"required"`
	Phase   string   `toml:"phase" validate:"required,oneof=post_up pre_down post_down"`
	Exec    []string `toml:"exec,omitempty" validate:"required_without=Script,excluded_with=Script"`
	Script  string   `toml:"script,omitempty"`
	OnError string   `toml:"on_error,omitempty" validate:"omitempty,oneof=fail warn"`

	// Timeout in seconds. Zero lets the hook run to completion.
	Timeout int `toml:"timeout,omitempty" validate:"min=0"`
}
