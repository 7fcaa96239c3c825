// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cvmforge/launcher/internal/retry"
)

var ErrHealthTimeout = errors.New("health check timeout")

const healthRequestTimeout = 5 * time.Second

// Health status values reported in the attestation result.
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// HealthStatus is the outcome of the workload health probe.
type HealthStatus struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HealthProber polls a workload HTTP health endpoint.
type HealthProber struct {
	url    string
	client *http.Client
	policy retry.Policy
	logger *slog.Logger
}

func NewHealthProber(url string, policy retry.Policy, logger *slog.Logger) *HealthProber {
	return &HealthProber{
		url:    url,
		client: &http.Client{Timeout: healthRequestTimeout},
		policy: policy,
		logger: logger,
	}
}

func (p *HealthProber) URL() string {
	return p.url
}

// Wait polls the endpoint until it answers with a success status. On an
// exhausted budget it fails with ErrHealthTimeout carrying the probe URL.
func (p *HealthProber) Wait(ctx context.Context) (HealthStatus, error) {
	p.logger.Info("waiting for health endpoint", slog.String("url", p.url))

	var body string
	err := p.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
		if err != nil {
			return err
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = strings.TrimSpace(string(raw))

		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return HealthStatus{Status: HealthUnknown, Error: ctx.Err().Error()}, ctx.Err()
		}
		werr := fmt.Errorf("%w: %s", ErrHealthTimeout, p.url)
		return HealthStatus{Status: HealthUnhealthy, Error: werr.Error()}, werr
	}

	p.logger.Info("health check passed", slog.String("response", body))
	return HealthStatus{Status: HealthHealthy, Response: body}, nil
}
