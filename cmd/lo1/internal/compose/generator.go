// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
)

// ErrGenerate is wrapped by all compose generation failures.
var ErrGenerate = errors.New("compose generation failed")

// GeneratedFileName is the generated compose document's name under .lo1.
const GeneratedFileName = "compose.generated.yaml"

// ProxyImage is the reverse proxy container image.
const ProxyImage = "caddy:2-alpine"

// ServiceDefinition is one compose service body. Plugin contributions
// arrive in this shape and are merged verbatim.
type ServiceDefinition map[string]any

// Contribution is a plugin-supplied set of compose services plus
// environment variables shared with consumers of that plugin's type.
type Contribution struct {
	// Services maps compose service names to their definitions.
	Services map[string]ServiceDefinition

	// EnvVars are exported to dependent services (subject to host
	// rewriting for host consumers).
	EnvVars map[string]string
}

// GenerateInput collects everything the generator consumes.
type GenerateInput struct {
	// Config is the loaded workspace manifest.
	Config *config.WorkspaceConfig

	// WorkspaceDir is the absolute workspace directory.
	WorkspaceDir string

	// Contributions are plugin compose contributions, keyed by plugin
	// type name.
	Contributions map[string]Contribution

	// CaddyfilePath is the generated proxy config path (bound into the
	// proxy container when the proxy is enabled).
	CaddyfilePath string
}

// GenerateResult describes the generated project.
type GenerateResult struct {
	// GeneratedFile is the absolute path of the generated document.
	GeneratedFile string

	// Files is the ordered compose file list: generated document,
	// preprocessed per-service files, extra-compose file.
	Files []string

	// FileArgs is Files flattened into ["-f", file, ...] form.
	FileArgs []string

	// InfraServices are compose services started in the infrastructure
	// phase: the proxy, plugin contributions, and extra-compose services.
	InfraServices []string

	// AppServices are compose services started in the application
	// phase: container-mode manifest services and the services defined
	// in per-service compose files.
	AppServices []string

	// InitTaskServices lists compose services gated on clean exit.
	InitTaskServices []string

	// ExtraComposeServices are the service names discovered in the
	// extra-compose file.
	ExtraComposeServices []string
}

// Generate emits the workspace compose document and assembles the
// project file list.
//
// # Description
//
// The generated document carries the project name, one bridge network
// every service joins, container-mode manifest services, plugin
// contributions, and the proxy service when enabled. Per-service
// compose files are preprocessed (relative host paths resolved against
// the compose file's own directory) into .lo1/ copies; the extra-compose file is appended
// last so user overrides win.
func Generate(input GenerateInput) (*GenerateResult, error) {
	cfg := input.Config
	workDir := filepath.Join(input.WorkspaceDir, ".lo1")
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrGenerate, workDir, err)
	}

	result := &GenerateResult{}
	networkName := config.NetworkName(cfg.Name)

	doc := map[string]any{
		"name": config.ProjectName(cfg.Name),
		"networks": map[string]any{
			networkName: map[string]any{"driver": "bridge"},
		},
	}
	services := map[string]any{}

	// Container-mode manifest services.
	for _, name := range sortedServiceNames(cfg) {
		svc := cfg.Services[name]
		if svc.Mode != config.ModeContainer || svc.ContainerImage == "" {
			continue
		}
		services[name] = containerServiceDefinition(svc, networkName)
		result.AppServices = append(result.AppServices, name)
		if svc.InitTask {
			result.InitTaskServices = append(result.InitTaskServices, name)
		}
	}

	// Plugin contributions, in deterministic plugin order.
	for _, pluginType := range sortedContributionKeys(input.Contributions) {
		contribution := input.Contributions[pluginType]
		for _, name := range sortedDefinitionKeys(contribution.Services) {
			def := attachNetwork(contribution.Services[name], networkName)
			if _, exists := services[name]; exists {
				return nil, fmt.Errorf("%w: plugin %q redefines service %q", ErrGenerate, pluginType, name)
			}
			services[name] = def
			result.InfraServices = append(result.InfraServices, name)
		}
	}

	// Reverse proxy.
	if cfg.Proxy != nil && cfg.Proxy.Enabled {
		proxyName := config.ProxyServiceName(cfg.Name)
		services[proxyName] = proxyServiceDefinition(cfg, input.CaddyfilePath, networkName)
		result.InfraServices = append(result.InfraServices, proxyName)
	}

	doc["services"] = services

	generated := filepath.Join(workDir, GeneratedFileName)
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode document: %v", ErrGenerate, err)
	}
	if err := os.WriteFile(generated, data, 0640); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrGenerate, generated, err)
	}
	result.GeneratedFile = generated
	result.Files = append(result.Files, generated)

	// Preprocessed per-service compose files.
	for _, name := range sortedServiceNames(cfg) {
		svc := cfg.Services[name]
		if svc.Compose == "" || svc.Mode == config.ModeSkip {
			continue
		}
		processed, composeServices, err := preprocessComposeFile(input.WorkspaceDir, workDir, name, svc.Compose)
		if err != nil {
			return nil, err
		}
		result.Files = append(result.Files, processed)
		result.AppServices = append(result.AppServices, composeServices...)
		if svc.InitTask {
			result.InitTaskServices = append(result.InitTaskServices, composeServices...)
		}
	}

	// Extra compose file, appended last so user overrides win.
	if cfg.ExtraCompose != nil {
		extraPath := cfg.ExtraCompose.File
		if !filepath.IsAbs(extraPath) {
			extraPath = filepath.Join(input.WorkspaceDir, extraPath)
		}
		names, err := discoverComposeServices(extraPath)
		if err != nil {
			return nil, err
		}
		result.Files = append(result.Files, extraPath)
		result.ExtraComposeServices = names
		result.InfraServices = append(result.InfraServices, names...)
		result.InitTaskServices = append(result.InitTaskServices, cfg.ExtraCompose.InitTaskServices...)
	}

	sort.Strings(result.InfraServices)
	sort.Strings(result.AppServices)
	sort.Strings(result.InitTaskServices)

	for _, f := range result.Files {
		result.FileArgs = append(result.FileArgs, "-f", f)
	}
	return result, nil
}

// containerServiceDefinition renders one container-mode manifest
// service into compose form.
func containerServiceDefinition(svc *config.ServiceConfig, networkName string) ServiceDefinition {
	def := ServiceDefinition{
		"image":    svc.ContainerImage,
		"networks": []string{networkName},
	}
	if svc.Port != 0 {
		def["ports"] = []string{fmt.Sprintf("%d:%d", svc.EffectiveHostPort(), svc.Port)}
	}
	if len(svc.Env) > 0 {
		env := map[string]string{}
		for k, v := range svc.Env {
			env[k] = v
		}
		def["environment"] = env
	}
	if svc.InitTask {
		def["restart"] = "no"
	}
	return def
}

// proxyServiceDefinition renders the Caddy reverse proxy service.
func proxyServiceDefinition(cfg *config.WorkspaceConfig, caddyfilePath, networkName string) ServiceDefinition {
	ports := []string{fmt.Sprintf("%d:80", cfg.Proxy.Port)}
	if cfg.Proxy.TLS != nil && cfg.Proxy.TLS.Enabled {
		ports = append(ports, fmt.Sprintf("%d:443", cfg.Proxy.TLS.Port))
	}

	def := ServiceDefinition{
		"image":    ProxyImage,
		"networks": []string{networkName},
		"ports":    ports,
		"volumes": []string{
			caddyfilePath + ":/etc/caddy/Caddyfile:ro",
		},
	}
	if runtime.GOOS == "linux" {
		// host.docker.internal is not provided by the Linux daemon.
		def["extra_hosts"] = []string{"host.docker.internal:host-gateway"}
	}
	return def
}

// attachNetwork ensures a contributed definition joins the workspace
// network without clobbering plugin-specified networks.
func attachNetwork(def ServiceDefinition, networkName string) ServiceDefinition {
	out := ServiceDefinition{}
	for k, v := range def {
		out[k] = v
	}
	if _, has := out["networks"]; !has {
		out["networks"] = []string{networkName}
	}
	return out
}

// preprocessComposeFile resolves relative host paths in a per-service
// compose file against the directory containing that compose file and
// writes the copy
// under .lo1/. Returns the copy's path and the services it defines.
func preprocessComposeFile(workspaceDir, workDir, serviceName, composePath string) (string, []string, error) {
	src := composePath
	if !filepath.IsAbs(src) {
		src = filepath.Join(workspaceDir, src)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return "", nil, fmt.Errorf("%w: read %s: %v", ErrGenerate, src, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("%w: parse %s: %v", ErrGenerate, src, err)
	}

	baseDir := filepath.Dir(src)
	names := resolveRelativePaths(doc, baseDir)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encode %s: %v", ErrGenerate, src, err)
	}

	processed := filepath.Join(workDir, fmt.Sprintf("compose.%s.yaml", serviceName))
	if err := os.WriteFile(processed, out, 0640); err != nil {
		return "", nil, fmt.Errorf("%w: write %s: %v", ErrGenerate, processed, err)
	}
	return processed, names, nil
}

// resolveRelativePaths rewrites build contexts and bind-mount host
// paths to absolute form, returning the document's service names.
func resolveRelativePaths(doc map[string]any, baseDir string) []string {
	services, _ := doc["services"].(map[string]any)
	names := make([]string, 0, len(services))
	for name, raw := range services {
		names = append(names, name)
		svc, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		switch build := svc["build"].(type) {
		case string:
			svc["build"] = absAgainst(baseDir, build)
		case map[string]any:
			if ctx, ok := build["context"].(string); ok {
				build["context"] = absAgainst(baseDir, ctx)
			}
		}

		if volumes, ok := svc["volumes"].([]any); ok {
			for i, v := range volumes {
				if bind, ok := v.(string); ok {
					volumes[i] = absBind(baseDir, bind)
				}
			}
		}
	}
	sort.Strings(names)
	return names
}

// discoverComposeServices returns the service names defined in a
// compose file.
func discoverComposeServices(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrGenerate, path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrGenerate, path, err)
	}

	services, _ := doc["services"].(map[string]any)
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// absAgainst resolves a possibly-relative path against baseDir.
func absAgainst(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// absBind resolves the host side of a "host:container[:mode]" bind.
// Named volumes (no path separator prefix) are left alone.
func absBind(baseDir, bind string) string {
	parts := splitBind(bind)
	if len(parts) < 2 {
		return bind
	}
	host := parts[0]
	if host == "" || (host[0] != '.' && host[0] != '/' && host[0] != '~') {
		return bind
	}
	parts[0] = absAgainst(baseDir, host)
	out := parts[0]
	for _, p := range parts[1:] {
		out += ":" + p
	}
	return out
}

// splitBind splits a bind spec on every ':'; a Windows drive letter
// ends up as a part of its own (the workspace manifest targets
// POSIX-style binds).
func splitBind(bind string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(bind); i++ {
		if bind[i] == ':' {
			parts = append(parts, bind[start:i])
			start = i + 1
		}
	}
	return append(parts, bind[start:])
}

// sortedServiceNames returns manifest service names in stable order.
func sortedServiceNames(cfg *config.WorkspaceConfig) []string {
	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortedContributionKeys returns contribution plugin types in order.
func sortedContributionKeys(m map[string]Contribution) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedDefinitionKeys returns contributed service names in order.
func sortedDefinitionKeys(m map[string]ServiceDefinition) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
