// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvmforge/launcher/pkg/attestation/ita"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, ModeMeasure, cfg.Mode)
	assert.Equal(t, "/health", cfg.HealthEndpoint)
	assert.Equal(t, 8080, cfg.HealthPort)
	assert.Empty(t, cfg.HealthURL)
	assert.Equal(t, ita.DefaultAPIURL, cfg.IntelAPIURL)
	assert.Equal(t, "--build -d", cfg.ComposeUpArgs)
	assert.False(t, cfg.HasProbe())
}

func TestParseConfigExplicitValues(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"mode": "persistent",
		"repo": "git@example.com:org/app.git",
		"ref": "v1.2.3",
		"health_endpoint": "/status",
		"health_port": 9090,
		"intel_api_key": "k",
		"intel_api_url": "https://custom.example.com",
		"compose_up_args": "-d"
	}`))
	require.NoError(t, err)

	assert.Equal(t, ModePersistent, cfg.Mode)
	assert.Equal(t, "git@example.com:org/app.git", cfg.Repo)
	assert.Equal(t, "v1.2.3", cfg.Ref)
	assert.Equal(t, "/status", cfg.HealthEndpoint)
	assert.Equal(t, 9090, cfg.HealthPort)
	assert.Equal(t, "k", cfg.IntelAPIKey)
	assert.Equal(t, "https://custom.example.com", cfg.IntelAPIURL)
	assert.Equal(t, "-d", cfg.ComposeUpArgs)
	assert.True(t, cfg.HasProbe())
}

func TestParseConfigMalformed(t *testing.T) {
	_, err := ParseConfig([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrConfigMalformed)
}

func TestHasProbe(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"no probe fields", `{"mode": "persistent"}`, false},
		{"health_endpoint set", `{"health_endpoint": "/health"}`, true},
		{"health_url set", `{"health_url": "http://localhost:3000/ping"}`, true},
		{"health_port alone does not configure a probe", `{"health_port": 9090}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.HasProbe())
		})
	}
}

func TestProbeURL(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/health", cfg.ProbeURL())

	cfg, err = ParseConfig([]byte(`{"health_endpoint": "/status", "health_port": 3000}`))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/status", cfg.ProbeURL())

	// health_url wins over endpoint and port.
	cfg, err = ParseConfig([]byte(`{"health_url": "http://10.0.0.2/ping", "health_port": 3000}`))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2/ping", cfg.ProbeURL())
}

func TestComposeArgs(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"--build", "-d"}, cfg.ComposeArgs())

	cfg, err = ParseConfig([]byte(`{"compose_up_args": "  -d   --force-recreate "}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"-d", "--force-recreate"}, cfg.ComposeArgs())
}
