// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package api

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/cvmforge/launcher/launcher"
	"github.com/cvmforge/launcher/launcher/workload"
)

var _ launcher.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     launcher.Service
}

// MetricsMiddleware instruments the lifecycle service by tracking stage
// count and latency.
func MetricsMiddleware(svc launcher.Service, counter metrics.Counter, latency metrics.Histogram) launcher.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (ms *metricsMiddleware) instrument(method string, begin time.Time) {
	ms.counter.With("method", method).Add(1)
	ms.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (ms *metricsMiddleware) AwaitShare(ctx context.Context) error {
	defer ms.instrument("await_share", time.Now())
	return ms.svc.AwaitShare(ctx)
}

func (ms *metricsMiddleware) LoadConfig(ctx context.Context) (launcher.Config, error) {
	defer ms.instrument("load_config", time.Now())
	return ms.svc.LoadConfig(ctx)
}

func (ms *metricsMiddleware) HasWorkload() bool {
	return ms.svc.HasWorkload()
}

func (ms *metricsMiddleware) SetupWorkload(ctx context.Context, cfg launcher.Config) error {
	defer ms.instrument("setup_workload", time.Now())
	return ms.svc.SetupWorkload(ctx, cfg)
}

func (ms *metricsMiddleware) BuildWorkload(ctx context.Context, cfg launcher.Config) error {
	defer ms.instrument("build_workload", time.Now())
	return ms.svc.BuildWorkload(ctx, cfg)
}

func (ms *metricsMiddleware) WaitForHealth(ctx context.Context, cfg launcher.Config) (workload.HealthStatus, error) {
	defer ms.instrument("wait_for_health", time.Now())
	return ms.svc.WaitForHealth(ctx, cfg)
}

func (ms *metricsMiddleware) Attest(ctx context.Context, cfg launcher.Config, health workload.HealthStatus) (launcher.AttestationResult, error) {
	defer ms.instrument("attest", time.Now())
	return ms.svc.Attest(ctx, cfg, health)
}

func (ms *metricsMiddleware) Persist(result launcher.AttestationResult) error {
	defer ms.instrument("persist", time.Now())
	return ms.svc.Persist(result)
}

func (ms *metricsMiddleware) Hold(ctx context.Context) error {
	defer ms.instrument("hold", time.Now())
	return ms.svc.Hold(ctx)
}
