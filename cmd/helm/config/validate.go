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
	"net"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	serviceNameRegex   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	containerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("servicename", func(fl validator.FieldLevel) bool {
			return serviceNameRegex.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("containername", func(fl validator.FieldLevel) bool {
			return containerNameRegex.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("bindhost", func(fl validator.FieldLevel) bool {
			return validBindHost(fl.Field().String())
		})
	})
	return validate
}

func validBindHost(host string) bool {
	switch host {
	case "localhost", "*":
		return true
	}
	return net.ParseIP(host) != nil
}

// Validate checks f and returns the first problem as a ConfigurationError.
//
// # Description
//
// Runs struct tag validation, then the cross-field rules tags cannot
// express: unique service names and profiles that name known services.
func Validate(f *File) error {
	if err := validatorInstance().Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(f, verrs[0])
		}
		return &util.ConfigurationError{Detail: err.Error(), Err: util.ErrInvalidConfig}
	}

	seen := make(map[string]bool, len(f.Services))
	for _, svc := range f.Services {
		if seen[svc.Name] {
			return &util.ConfigurationError{Service: svc.Name, Field: "name", Detail: "declared more than once", Err: util.ErrInvalidConfig}
		}
		seen[svc.Name] = true
	}

	for profile, members := range f.Profiles {
		for _, m := range members {
			if !seen[m] {
				return &util.ConfigurationError{
					Field:  "profiles." + profile,
					Detail: fmt.Sprintf("unknown service %q", m),
					Err:    util.ErrInvalidConfig,
				}
			}
		}
	}
	return nil
}

// servicePath matches namespaces such as "File.service[2].hook[0].phase".
var servicePath = regexp.MustCompile(`^File\.service\[(\d+)\]\.?(.*)$`)

func fieldError(f *File, fe validator.FieldError) error {
	cfgErr := &util.ConfigurationError{
		Field:  strings.TrimPrefix(fe.Namespace(), "File."),
		Detail: describe(fe),
		Err:    util.ErrInvalidConfig,
	}
	if m := servicePath.FindStringSubmatch(fe.Namespace()); m != nil {
		idx, _ := strconv.Atoi(m[1])
		if idx < len(f.Services) && f.Services[idx].Name != "" {
			cfgErr.Service = f.Services[idx].Name
		} else {
			cfgErr.Service = fmt.Sprintf("#%d", idx+1)
		}
		cfgErr.Field = m[2]
	}
	return cfgErr
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "one of exec or script is required"
	case "excluded_with":
		return "exec and script are mutually exclusive"
	case "oneof":
		return fmt.Sprintf("must be one of %s, got %v", fe.Param(), fe.Value())
	case "min", "max":
		return fmt.Sprintf("%v is out of range (%s %s)", fe.Value(), fe.Tag(), fe.Param())
	case "servicename":
		return fmt.Sprintf("%q must be lowercase letters, digits, '-' or '_'", fe.Value())
	case "containername":
		return fmt.Sprintf("%q is not a valid container name", fe.Value())
	case "bindhost":
		return fmt.Sprintf("%q is not an IP address, localhost or *", fe.Value())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
