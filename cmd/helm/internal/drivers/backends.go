// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drivers

import (
	"strconv"

	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
)

// =============================================================================
// Key-Value Caches
// =============================================================================

// kvDriver covers redis and valkey, which share a protocol and CLI shape.
type kvDriver struct {
	name  string
	image string
	cli   string
}

func (d *kvDriver) Name() string              { return d.name }
func (d *kvDriver) Kind() service.Kind        { return service.KindCache }
func (d *kvDriver) DefaultImage() string      { return d.image }
func (d *kvDriver) ContainerPort() int        { return 6379 }
func (d *kvDriver) DefaultVolumePath() string { return "/data" }

func (d *kvDriver) HealthCheck(svc *service.Descriptor) Check {
	return Check{Kind: CheckExec, Argv: []string{d.cli, "PING"}, Expect: "PONG"}
}

func (d *kvDriver) ConnectionEnv(svc *service.Descriptor) map[string]string {
	host := clientHost(svc)
	port := strconv.Itoa(svc.Port)
	return map[string]string{
		"REDIS_HOST":   host,
		"REDIS_PORT":   port,
		"REDIS_CLIENT": "phpredis",
		"REDIS_URL":    "redis://" + host + ":" + port,
	}
}

// memcachedDriver has no CLI in its image; readiness falls back to a TCP dial.
type memcachedDriver struct{}

func (memcachedDriver) Name() string         { return "memcached" }
func (memcachedDriver) Kind() service.Kind   { return service.KindCache }
func (memcachedDriver) DefaultImage() string { return "memcached:1.6-alpine" }
func (memcachedDriver) ContainerPort() int   { return 11211 }

func (memcachedDriver) ConnectionEnv(svc *service.Descriptor) map[string]string {
	return map[string]string{
		"MEMCACHED_HOST": clientHost(svc),
		"MEMCACHED_PORT": strconv.Itoa(svc.Port),
	}
}

// =============================================================================
// HTTP Backends
// =============================================================================

// httpDriver covers object stores and search engines that expose an HTTP
// health endpoint.
type httpDriver struct {
	name       string
	kind       service.Kind
	image      string
	port       int
	volume     string
	healthPath string
	command    func(svc *service.Descriptor) []string
	runtime    func(svc *service.Descriptor) map[string]string
	connection func(svc *service.Descriptor) map[string]string
}

func (d *httpDriver) Name() string              { return d.name }
func (d *httpDriver) Kind() service.Kind        { return d.kind }
func (d *httpDriver) DefaultImage() string      { return d.image }
func (d *httpDriver) ContainerPort() int        { return d.port }
func (d *httpDriver) DefaultVolumePath() string { return d.volume }

func (d *httpDriver) HealthCheck(svc *service.Descriptor) Check {
	return Check{Kind: CheckHTTP, Path: d.healthPath}
}

func (d *httpDriver) DefaultCommand(svc *service.Descriptor) []string {
	if d.command == nil {
		return nil
	}
	return d.command(svc)
}

func (d *httpDriver) RuntimeEnv(svc *service.Descriptor) map[string]string {
	if d.runtime == nil {
		return nil
	}
	return d.runtime(svc)
}

func (d *httpDriver) ConnectionEnv(svc *service.Descriptor) map[string]string {
	if d.connection == nil {
		return nil
	}
	return d.connection(svc)
}

// =============================================================================
// Mail Catcher
// =============================================================================

// mailpitDriver publishes the web UI as the primary port and SMTP as the
// secondary one.
type mailpitDriver struct{}

func (mailpitDriver) Name() string                { return "mailpit" }
func (mailpitDriver) Kind() service.Kind          { return service.KindMail }
func (mailpitDriver) DefaultImage() string        { return "axllent/mailpit:latest" }
func (mailpitDriver) ContainerPort() int          { return 8025 }
func (mailpitDriver) SecondaryContainerPort() int { return 1025 }
func (mailpitDriver) SecondaryField() string      { return "smtp_port" }
func (mailpitDriver) DefaultVolumePath() string   { return "/data" }

func (mailpitDriver) HealthCheck(svc *service.Descriptor) Check {
	return Check{Kind: CheckHTTP, Path: "/livez"}
}

func (mailpitDriver) RuntimeEnv(svc *service.Descriptor) map[string]string {
	return map[string]string{"MP_DATABASE": "/data/mailpit.sqlite"}
}

func (mailpitDriver) ConnectionEnv(svc *service.Descriptor) map[string]string {
	return map[string]string{
		"MAIL_MAILER":     "smtp",
		"MAIL_HOST":       clientHost(svc),
		"MAIL_PORT":       strconv.Itoa(svc.SecondaryPort),
		"MAIL_ENCRYPTION": "null",
		"MAILPIT_URL":     httpURL(svc, svc.Port),
	}
}

// =============================================================================
// Applications
// =============================================================================

// appDriver runs the application itself. It has no default volume: the
// source tree is mounted explicitly.
type appDriver struct {
	name  string
	image string
	port  int
}

func (d *appDriver) Name() string         { return d.name }
func (d *appDriver) Kind() service.Kind   { return service.KindApp }
func (d *appDriver) DefaultImage() string { return d.image }
func (d *appDriver) ContainerPort() int   { return d.port }

func (d *appDriver) HealthCheck(svc *service.Descriptor) Check {
	return Check{Kind: CheckHTTP, Path: "/"}
}

func (d *appDriver) RuntimeEnv(svc *service.Descriptor) map[string]string {
	if d.name == "frankenphp" {
		return map[string]string{"SERVER_NAME": ":" + strconv.Itoa(ContainerPort(d, svc))}
	}
	return nil
}

func (d *appDriver) ConnectionEnv(svc *service.Descriptor) map[string]string {
	return map[string]string{"APP_URL": httpURL(svc, svc.Port)}
}

// =============================================================================
// Built-in Set
// =============================================================================

// Builtins returns a fresh instance of every built-in driver.
func Builtins() []Driver {
	return []Driver{
		&sqlDriver{name: "postgres", image: "postgres:16-alpine", port: 5432, volume: "/var/lib/postgresql/data", flavor: flavorPostgres},
		&sqlDriver{name: "mysql", image: "mysql:8.4", port: 3306, volume: "/var/lib/mysql", flavor: flavorMySQL},
		&sqlDriver{name: "mariadb", image: "mariadb:11", port: 3306, volume: "/var/lib/mysql", flavor: flavorMariaDB},
		&kvDriver{name: "redis", image: "redis:7-alpine", cli: "redis-cli"},
		&kvDriver{name: "valkey", image: "valkey/valkey:8-alpine", cli: "valkey-cli"},
		memcachedDriver{},
		minio(),
		meilisearch(),
		typesense(),
		elasticsearch(),
		opensearch(),
		mailpitDriver{},
		&appDriver{name: "frankenphp", image: "dunglas/frankenphp:latest", port: 80},
		&appDriver{name: "generic", image: "", port: 8080},
	}
}

func minio() *httpDriver {
	creds := func(svc *service.Descriptor) (string, string) {
		return envOr(svc, "MINIO_ROOT_USER", DefaultUser), envOr(svc, "MINIO_ROOT_PASSWORD", "helm-secret")
	}
	return &httpDriver{
		name:       "minio",
		kind:       service.KindObjectStore,
		image:      "minio/minio:latest",
		port:       9000,
		volume:     "/data",
		healthPath: "/minio/health/live",
		command: func(svc *service.Descriptor) []string {
			return []string{"server", "/data"}
		},
		runtime: func(svc *service.Descriptor) map[string]string {
			user, password := creds(svc)
			return map[string]string{"MINIO_ROOT_USER": user, "MINIO_ROOT_PASSWORD": password}
		},
		connection: func(svc *service.Descriptor) map[string]string {
			user, password := creds(svc)
			return map[string]string{
				"AWS_ENDPOINT":                httpURL(svc, svc.Port),
				"AWS_ACCESS_KEY_ID":           user,
				"AWS_SECRET_ACCESS_KEY":       password,
				"AWS_DEFAULT_REGION":          "us-east-1",
				"AWS_USE_PATH_STYLE_ENDPOINT": "true",
			}
		},
	}
}

func meilisearch() *httpDriver {
	key := func(svc *service.Descriptor) string { return envOr(svc, "MEILI_MASTER_KEY", "helm-master-key") }
	return &httpDriver{
		name:       "meilisearch",
		kind:       service.KindSearch,
		image:      "getmeili/meilisearch:v1.10",
		port:       7700,
		volume:     "/meili_data",
		healthPath: "/health",
		runtime: func(svc *service.Descriptor) map[string]string {
			return map[string]string{"MEILI_MASTER_KEY": key(svc), "MEILI_ENV": "development"}
		},
		connection: func(svc *service.Descriptor) map[string]string {
			return map[string]string{
				"SCOUT_DRIVER":     "meilisearch",
				"MEILISEARCH_HOST": httpURL(svc, svc.Port),
				"MEILISEARCH_KEY":  key(svc),
			}
		},
	}
}

func typesense() *httpDriver {
	key := func(svc *service.Descriptor) string { return envOr(svc, "TYPESENSE_API_KEY", "helm-api-key") }
	return &httpDriver{
		name:       "typesense",
		kind:       service.KindSearch,
		image:      "typesense/typesense:27.1",
		port:       8108,
		volume:     "/data",
		healthPath: "/health",
		runtime: func(svc *service.Descriptor) map[string]string {
			return map[string]string{"TYPESENSE_API_KEY": key(svc), "TYPESENSE_DATA_DIR": "/data"}
		},
		connection: func(svc *service.Descriptor) map[string]string {
			return map[string]string{
				"SCOUT_DRIVER":       "typesense",
				"TYPESENSE_HOST":     clientHost(svc),
				"TYPESENSE_PORT":     strconv.Itoa(svc.Port),
				"TYPESENSE_PROTOCOL": "http",
				"TYPESENSE_API_KEY":  key(svc),
			}
		},
	}
}

func elasticsearch() *httpDriver {
	return &httpDriver{
		name:       "elasticsearch",
		kind:       service.KindSearch,
		image:      "docker.elastic.co/elasticsearch/elasticsearch:8.15.0",
		port:       9200,
		volume:     "/usr/share/elasticsearch/data",
		healthPath: "/_cluster/health",
		runtime: func(svc *service.Descriptor) map[string]string {
			return map[string]string{
				"discovery.type":         "single-node",
				"xpack.security.enabled": "false",
				"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
			}
		},
		connection: func(svc *service.Descriptor) map[string]string {
			return map[string]string{"ELASTICSEARCH_HOST": httpURL(svc, svc.Port)}
		},
	}
}

func opensearch() *httpDriver {
	return &httpDriver{
		name:       "opensearch",
		kind:       service.KindSearch,
		image:      "opensearchproject/opensearch:2",
		port:       9200,
		volume:     "/usr/share/opensearch/data",
		healthPath: "/_cluster/health",
		runtime: func(svc *service.Descriptor) map[string]string {
			return map[string]string{
				"discovery.type":          "single-node",
				"DISABLE_SECURITY_PLUGIN": "true",
				"OPENSEARCH_JAVA_OPTS":    "-Xms512m -Xmx512m",
			}
		},
		connection: func(svc *service.Descriptor) map[string]string {
			return map[string]string{"OPENSEARCH_HOST": httpURL(svc, svc.Port)}
		},
	}
}
