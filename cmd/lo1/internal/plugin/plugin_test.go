// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/compose"
)

// stubPlugin implements Plugin plus ComposeContributor.
type stubPlugin struct {
	name string
}

func (p *stubPlugin) Name() string { return p.name }

func (p *stubPlugin) Contribute(services map[string]*config.ServiceConfig, _ *config.WorkspaceConfig) (compose.Contribution, error) {
	defs := map[string]compose.ServiceDefinition{}
	for name := range services {
		defs[name] = compose.ServiceDefinition{"image": "stub:latest"}
	}
	return compose.Contribution{Services: defs}, nil
}

func pluginConfig() *config.WorkspaceConfig {
	return &config.WorkspaceConfig{
		Version: config.SchemaVersion,
		Name:    "demo",
		Plugins: map[string]string{
			"postgres": "lo1-plugin-postgres",
		},
		Services: map[string]*config.ServiceConfig{
			"db": {Type: "postgres", Mode: config.ModeContainer},
			"api": {
				Type: config.TypeService, Mode: config.ModeDev, Command: "run",
			},
		},
	}
}

func TestRegisterAndLoad(t *testing.T) {
	resetRegistry()
	Register("lo1-plugin-postgres", func() Plugin {
		return &stubPlugin{name: "lo1-plugin-postgres"}
	})

	loaded, err := Load(pluginConfig())
	require.NoError(t, err)
	require.Contains(t, loaded, "postgres", "plugins are keyed by service type")
	assert.Equal(t, "lo1-plugin-postgres", loaded["postgres"].Name())

	// Capability discovery by type assertion.
	_, isContributor := loaded["postgres"].(ComposeContributor)
	assert.True(t, isContributor)
	_, isProvisioner := loaded["postgres"].(InfraProvisioner)
	assert.False(t, isProvisioner)
}

func TestLoad_UnknownSpecifier(t *testing.T) {
	resetRegistry()

	_, err := Load(pluginConfig())
	require.Error(t, err)

	var pluginErr *Error
	require.True(t, errors.As(err, &pluginErr))
	assert.Equal(t, "lo1-plugin-postgres", pluginErr.Plugin)
	assert.Contains(t, pluginErr.Reason, "not registered")
}

func TestLoad_NilFactoryResult(t *testing.T) {
	resetRegistry()
	Register("lo1-plugin-postgres", func() Plugin { return nil })

	_, err := Load(pluginConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "factory returned nil")
}

func TestRegister_DuplicatePanics(t *testing.T) {
	resetRegistry()
	Register("dup", func() Plugin { return &stubPlugin{name: "dup"} })

	assert.Panics(t, func() {
		Register("dup", func() Plugin { return &stubPlugin{name: "dup"} })
	})
}

func TestRegistered_Sorted(t *testing.T) {
	resetRegistry()
	Register("zeta", func() Plugin { return &stubPlugin{name: "zeta"} })
	Register("alpha", func() Plugin { return &stubPlugin{name: "alpha"} })

	assert.Equal(t, []string{"alpha", "zeta"}, Registered())
}

func TestValidateServiceTypes(t *testing.T) {
	resetRegistry()
	Register("lo1-plugin-postgres", func() Plugin {
		return &stubPlugin{name: "lo1-plugin-postgres"}
	})

	cfg := pluginConfig()
	loaded, err := Load(cfg)
	require.NoError(t, err)

	assert.NoError(t, ValidateServiceTypes(cfg, loaded))

	// A service type with no plugin fails validation.
	cfg.Services["queue"] = &config.ServiceConfig{Type: "rabbitmq", Mode: config.ModeContainer}
	err = ValidateServiceTypes(cfg, loaded)
	require.Error(t, err)

	var pluginErr *Error
	require.True(t, errors.As(err, &pluginErr))
	assert.Equal(t, "rabbitmq", pluginErr.Plugin)
}
