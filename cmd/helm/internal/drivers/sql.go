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
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
)

// Default credentials for local databases.
const (
	DefaultDatabase = "app"
	DefaultUser     = "helm"
	DefaultPassword = "helm"
)

// sqlFlavor distinguishes the three SQL engines.
type sqlFlavor int

const (
	flavorPostgres sqlFlavor = iota
	flavorMySQL
	flavorMariaDB
)

// sqlDriver covers postgres, mysql and mariadb.
type sqlDriver struct {
	name   string
	image  string
	port   int
	volume string
	flavor sqlFlavor
}

func (d *sqlDriver) Name() string              { return d.name }
func (d *sqlDriver) Kind() service.Kind        { return service.KindDatabase }
func (d *sqlDriver) DefaultImage() string      { return d.image }
func (d *sqlDriver) ContainerPort() int        { return d.port }
func (d *sqlDriver) DefaultVolumePath() string { return d.volume }

// credentials reads user-facing credentials from the explicit service env,
// falling back to the helm defaults.
func (d *sqlDriver) credentials(svc *service.Descriptor) (db, user, password string) {
	switch d.flavor {
	case flavorPostgres:
		return envOr(svc, "POSTGRES_DB", DefaultDatabase),
			envOr(svc, "POSTGRES_USER", DefaultUser),
			envOr(svc, "POSTGRES_PASSWORD", DefaultPassword)
	case flavorMariaDB:
		return envOr(svc, "MARIADB_DATABASE", DefaultDatabase),
			envOr(svc, "MARIADB_USER", DefaultUser),
			envOr(svc, "MARIADB_PASSWORD", DefaultPassword)
	default:
		return envOr(svc, "MYSQL_DATABASE", DefaultDatabase),
			envOr(svc, "MYSQL_USER", DefaultUser),
			envOr(svc, "MYSQL_PASSWORD", DefaultPassword)
	}
}

func (d *sqlDriver) rootPassword(svc *service.Descriptor) string {
	if d.flavor == flavorMariaDB {
		return envOr(svc, "MARIADB_ROOT_PASSWORD", DefaultPassword)
	}
	return envOr(svc, "MYSQL_ROOT_PASSWORD", DefaultPassword)
}

func (d *sqlDriver) HealthCheck(svc *service.Descriptor) Check {
	switch d.flavor {
	case flavorPostgres:
		db, user, _ := d.credentials(svc)
		return Check{Kind: CheckExec, Argv: []string{"pg_isready", "-h", "127.0.0.1", "-U", user, "-d", db}}
	case flavorMariaDB:
		return Check{Kind: CheckExec, Argv: []string{"mariadb-admin", "ping", "-h", "127.0.0.1", "-uroot", "-p" + d.rootPassword(svc), "--silent"}}
	default:
		return Check{Kind: CheckExec, Argv: []string{"mysqladmin", "ping", "-h", "127.0.0.1", "-uroot", "-p" + d.rootPassword(svc), "--silent"}}
	}
}

func (d *sqlDriver) RuntimeEnv(svc *service.Descriptor) map[string]string {
	db, user, password := d.credentials(svc)
	switch d.flavor {
	case flavorPostgres:
		return map[string]string{
			"POSTGRES_DB":       db,
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
		}
	case flavorMariaDB:
		return map[string]string{
			"MARIADB_DATABASE":      db,
			"MARIADB_USER":          user,
			"MARIADB_PASSWORD":      password,
			"MARIADB_ROOT_PASSWORD": d.rootPassword(svc),
		}
	default:
		return map[string]string{
			"MYSQL_DATABASE":      db,
			"MYSQL_USER":          user,
			"MYSQL_PASSWORD":      password,
			"MYSQL_ROOT_PASSWORD": d.rootPassword(svc),
		}
	}
}

func (d *sqlDriver) ConnectionEnv(svc *service.Descriptor) map[string]string {
	db, user, password := d.credentials(svc)
	host := clientHost(svc)

	conn, scheme, query := "mysql", "mysql", ""
	switch d.flavor {
	case flavorPostgres:
		conn, scheme, query = "pgsql", "postgres", "sslmode=disable"
	case flavorMariaDB:
		conn = "mariadb"
	}

	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, strconv.Itoa(svc.Port)),
		Path:     "/" + db,
		RawQuery: query,
	}
	env := map[string]string{
		"DB_CONNECTION": conn,
		"DB_HOST":       host,
		"DB_PORT":       strconv.Itoa(svc.Port),
		"DB_DATABASE":   db,
		"DB_USERNAME":   user,
		"DB_PASSWORD":   password,
		"DATABASE_URL":  u.String(),
	}
	if d.flavor == flavorPostgres {
		env["DB_SSLMODE"] = "disable"
	}
	return env
}

func envOr(svc *service.Descriptor, key, def string) string {
	if v, ok := svc.Env[key]; ok && v != "" {
		return v
	}
	return def
}

// clientHost is the address applications on the host use to reach svc.
func clientHost(svc *service.Descriptor) string {
	switch svc.Host {
	case "", "0.0.0.0", "::", "*", "localhost":
		return "127.0.0.1"
	default:
		return svc.Host
	}
}

func httpURL(svc *service.Descriptor, port int) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(clientHost(svc), strconv.Itoa(port)))
}
