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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalManifest = `
version: "1"
name: demo
services:
  api:
    type: service
    command: go run ./cmd/api
    port: 8080
`

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalManifest))
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Name)
	require.Contains(t, cfg.Services, "api")

	api := cfg.Services["api"]
	assert.Equal(t, ModeDev, api.Mode, "mode defaults to dev")
	assert.Equal(t, 8080, api.HostPort, "hostPort defaults to port")
	assert.NotNil(t, api.DependsOn, "dependsOn defaults to empty list")
	assert.Empty(t, api.DependsOn)
}

func TestParse_FullManifest(t *testing.T) {
	manifest := `
version: "1"
name: shop
plugins:
  postgres: lo1-plugin-postgres
proxy:
  enabled: true
  tls:
    enabled: true
extraCompose:
  file: ./infra.yaml
  initTaskServices: [migrator]
hooks:
  postInfrastructure: ./scripts/seed.sh
  preStop: ./scripts/flush.sh
services:
  db:
    type: postgres
    mode: container
    port: 5432
  api:
    type: service
    command: make run
    port: 3000
    hostPort: 13000
    dependsOn: [db]
    readinessProbe: http://localhost:13000/healthz
    hooks:
      preStart: ./scripts/migrate.sh
  web:
    type: app
    mode: container
    containerImage: shop/web:dev
    port: 4000
    dependsOn: [api]
    proxy:
      domain: shop.local
`
	cfg, err := Parse([]byte(manifest))
	require.NoError(t, err)

	assert.Equal(t, DefaultProxyPort, cfg.Proxy.Port)
	assert.Equal(t, DefaultProxyTLD, cfg.Proxy.TLD)
	assert.Equal(t, DefaultTLSPort, cfg.Proxy.TLS.Port)

	assert.Equal(t, "./infra.yaml", cfg.ExtraCompose.File)
	assert.Equal(t, []string{"migrator"}, cfg.ExtraCompose.InitTaskServices)

	api := cfg.Services["api"]
	assert.Equal(t, 13000, api.EffectiveHostPort())
	assert.Equal(t, "./scripts/migrate.sh", api.Hooks.PreStart)
}

func TestParse_ExtraComposeScalarForm(t *testing.T) {
	manifest := `
version: "1"
name: demo
extraCompose: ./infra.yaml
services:
  api:
    type: service
    command: make run
`
	cfg, err := Parse([]byte(manifest))
	require.NoError(t, err)
	assert.Equal(t, "./infra.yaml", cfg.ExtraCompose.File)
	assert.Empty(t, cfg.ExtraCompose.InitTaskServices)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantPath string
	}{
		{
			name: "wrong version",
			manifest: `
version: "2"
name: demo
services:
  api: {type: service, command: run}
`,
			wantPath: "version",
		},
		{
			name: "missing services",
			manifest: `
version: "1"
name: demo
`,
			wantPath: "services",
		},
		{
			name: "dev service without command",
			manifest: `
version: "1"
name: demo
services:
  api:
    type: service
`,
			wantPath: "services.api.command",
		},
		{
			name: "container service without image or compose",
			manifest: `
version: "1"
name: demo
services:
  db:
    type: service
    mode: container
`,
			wantPath: "services.db.containerImage",
		},
		{
			name: "unknown plugin type",
			manifest: `
version: "1"
name: demo
services:
  db:
    type: postgres
    mode: container
`,
			wantPath: "services.db.type",
		},
		{
			name: "self dependency",
			manifest: `
version: "1"
name: demo
services:
  api:
    type: service
    command: run
    dependsOn: [api]
`,
			wantPath: "services.api.dependsOn",
		},
		{
			name: "invalid port",
			manifest: `
version: "1"
name: demo
services:
  api:
    type: service
    command: run
    port: -1
`,
			wantPath: "services.api.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.manifest))
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "want *ConfigError, got %T", err)
			assert.Equal(t, tt.wantPath, cfgErr.Path, "error: %v", err)
		})
	}
}

func TestParse_UnknownField(t *testing.T) {
	manifest := `
version: "1"
name: demo
servicez:
  api: {type: service, command: run}
services:
  api: {type: service, command: run}
`
	_, err := Parse([]byte(manifest))
	require.Error(t, err, "unknown top-level fields must be rejected")
	assert.Contains(t, err.Error(), "config:")
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultManifestName)
	require.NoError(t, os.WriteFile(path, []byte(minimalManifest), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, strings.Contains(cfgErr.Message, "read"), "message = %q", cfgErr.Message)
}

func TestProjectNaming(t *testing.T) {
	assert.Equal(t, "lo1-demo", ProjectName("demo"))
	assert.Equal(t, "lo1-demo-network", NetworkName("demo"))
	assert.Equal(t, "lo1-demo-proxy", ProxyServiceName("demo"))
	assert.Equal(t, "lo1-demo-api", ContainerName("demo", "api"))
}
