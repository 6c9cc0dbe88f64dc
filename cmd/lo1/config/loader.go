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
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultManifestName is the manifest filename looked up in the
// workspace directory.
const DefaultManifestName = "lo1.yaml"

// Proxy defaults applied when the manifest omits them.
const (
	DefaultProxyPort = 80
	DefaultTLSPort   = 443
	DefaultProxyTLD  = "test"
)

// =============================================================================
// Error Definition
// =============================================================================

// ConfigError reports a manifest read, parse, or validation failure.
//
// Path carries field breadcrumbs ("services.api.port") so the user can
// locate the offending manifest entry.
type ConfigError struct {
	// Path is the dotted field path ("" for file-level failures).
	Path string

	// Message describes the problem.
	Message string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// Error renders the breadcrumbed message.
func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Wrapped }

var _ error = (*ConfigError)(nil)

// =============================================================================
// Loader
// =============================================================================

// validate is the shared struct validator. validator.New is expensive;
// the instance is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, parses, validates, and defaults a workspace manifest.
//
// # Description
//
// The returned WorkspaceConfig is complete: every optional field with a
// documented default has been filled in (mode=dev, hostPort=port, proxy
// port/tld). Callers treat it as immutable.
//
// # Inputs
//
//   - path: Manifest file path (usually <workspaceDir>/lo1.yaml)
//
// # Outputs
//
//   - *WorkspaceConfig: The validated manifest
//   - error: *ConfigError with field breadcrumbs on any failure
func Load(path string) (*WorkspaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("read %s", path), Wrapped: err}
	}
	return Parse(data)
}

// Parse parses and validates manifest bytes. See Load.
func Parse(data []byte) (*WorkspaceConfig, error) {
	var cfg WorkspaceConfig

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, &ConfigError{Message: "parse manifest", Wrapped: err}
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills documented defaults on optional fields.
func applyDefaults(cfg *WorkspaceConfig) {
	for _, svc := range cfg.Services {
		if svc == nil {
			continue
		}
		if svc.Mode == "" {
			svc.Mode = ModeDev
		}
		if svc.HostPort == 0 {
			svc.HostPort = svc.Port
		}
		if svc.DependsOn == nil {
			svc.DependsOn = []string{}
		}
	}

	if cfg.Proxy != nil {
		if cfg.Proxy.Port == 0 {
			cfg.Proxy.Port = DefaultProxyPort
		}
		if cfg.Proxy.TLD == "" {
			cfg.Proxy.TLD = DefaultProxyTLD
		}
		if cfg.Proxy.TLS != nil && cfg.Proxy.TLS.Port == 0 {
			cfg.Proxy.TLS.Port = DefaultTLSPort
		}
	}
}

// validateConfig enforces schema and semantic manifest invariants.
func validateConfig(cfg *WorkspaceConfig) error {
	if cfg.Version != SchemaVersion {
		return &ConfigError{
			Path:    "version",
			Message: fmt.Sprintf("unsupported schema version %q (want %q)", cfg.Version, SchemaVersion),
		}
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return &ConfigError{
				Path:    breadcrumb(first.Namespace()),
				Message: fmt.Sprintf("failed %q validation", first.Tag()),
				Wrapped: err,
			}
		}
		return &ConfigError{Message: "validate manifest", Wrapped: err}
	}

	// Deterministic iteration keeps error messages stable across runs.
	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := cfg.Services[name]
		if err := validateService(cfg, name, svc); err != nil {
			return err
		}
	}
	return nil
}

// validateService checks per-service semantic invariants that struct
// tags cannot express.
func validateService(cfg *WorkspaceConfig, name string, svc *ServiceConfig) error {
	crumb := func(field string) string { return fmt.Sprintf("services.%s.%s", name, field) }

	_, hasPlugin := cfg.Plugins[svc.Type]
	if !IsBuiltinType(svc.Type) && !hasPlugin {
		return &ConfigError{
			Path:    crumb("type"),
			Message: fmt.Sprintf("unknown service type %q: not builtin and no plugin declared", svc.Type),
		}
	}

	switch svc.Mode {
	case ModeDev:
		// A plugin may contribute container configuration in dev mode,
		// so the command is only mandatory for builtin types.
		if IsBuiltinType(svc.Type) && svc.Command == "" {
			return &ConfigError{
				Path:    crumb("command"),
				Message: "dev-mode service requires a command",
			}
		}
	case ModeContainer:
		if svc.ContainerImage == "" && svc.Compose == "" && !hasPlugin {
			return &ConfigError{
				Path:    crumb("containerImage"),
				Message: "container-mode service requires a containerImage, a compose file, or a plugin",
			}
		}
	case ModeSkip:
		// Nothing to run, nothing to check.
	}

	for _, dep := range svc.DependsOn {
		if dep == name {
			return &ConfigError{
				Path:    crumb("dependsOn"),
				Message: "service cannot depend on itself",
			}
		}
	}
	return nil
}

// breadcrumb converts a validator namespace
// ("WorkspaceConfig.Services[api].Port") into manifest field notation
// ("services.api.port").
func breadcrumb(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:] // drop the struct type name
	}
	for i, p := range parts {
		if idx := strings.IndexByte(p, '['); idx >= 0 {
			key := strings.Trim(p[idx:], "[]")
			parts[i] = lowerFirst(p[:idx]) + "." + key
			continue
		}
		parts[i] = lowerFirst(p)
	}
	return strings.Join(parts, ".")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
