// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0

// Package launcher drives a confidential VM from boot to an attested,
// running workload: it waits for the host share, materializes and starts
// the workload, verifies its health and issues a TDX attestation that is
// reported back through the share.
package launcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cvmforge/launcher/pkg/attestation/ita"
)

// Mode selects the controller's terminal behavior.
type Mode string

const (
	// ModeMeasure runs the workload, requires health, attests and stops.
	ModeMeasure Mode = "measure"
	// ModePersistent keeps the VM alive after attestation.
	ModePersistent Mode = "persistent"
)

var ErrConfigMalformed = errors.New("malformed configuration")

// Config is the per-VM workload configuration the host writes to the
// share before booting the VM. It is read once per VM lifetime.
type Config struct {
	Mode Mode `json:"mode"`

	// Repo and Ref are informational; workload files are delivered
	// through the share by the host.
	Repo string `json:"repo"`
	Ref  string `json:"ref"`

	HealthEndpoint string `json:"health_endpoint"`
	HealthPort     int    `json:"health_port"`
	HealthURL      string `json:"health_url"`

	IntelAPIKey string `json:"intel_api_key"`
	IntelAPIURL string `json:"intel_api_url"`

	ComposeUpArgs string `json:"compose_up_args"`

	// probeConfigured records whether the artifact named a health probe
	// explicitly; persistent mode probes only in that case.
	probeConfigured bool
}

// ParseConfig decodes a configuration artifact and applies the documented
// defaults for absent fields.
func ParseConfig(data []byte) (Config, error) {
	var raw struct {
		HealthEndpoint *string `json:"health_endpoint"`
		HealthURL      *string `json:"health_url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigMalformed, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigMalformed, err)
	}
	cfg.probeConfigured = raw.HealthEndpoint != nil || raw.HealthURL != nil

	if cfg.Mode == "" {
		cfg.Mode = ModeMeasure
	}
	if cfg.HealthEndpoint == "" {
		cfg.HealthEndpoint = "/health"
	}
	if cfg.HealthPort == 0 {
		cfg.HealthPort = 8080
	}
	if cfg.IntelAPIURL == "" {
		cfg.IntelAPIURL = ita.DefaultAPIURL
	}
	if cfg.ComposeUpArgs == "" {
		cfg.ComposeUpArgs = "--build -d"
	}

	return cfg, nil
}

// ProbeURL is the workload health endpoint the launcher polls.
func (c Config) ProbeURL() string {
	if c.HealthURL != "" {
		return c.HealthURL
	}
	return fmt.Sprintf("http://localhost:%d%s", c.HealthPort, c.HealthEndpoint)
}

// HasProbe reports whether the artifact named a health probe explicitly.
func (c Config) HasProbe() bool {
	return c.probeConfigured
}

// ComposeArgs splits the compose up arguments the way a shell would split
// a flat argument string.
func (c Config) ComposeArgs() []string {
	return strings.Fields(c.ComposeUpArgs)
}
