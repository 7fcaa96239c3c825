// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cvmforge/launcher/launcher"
	"github.com/cvmforge/launcher/launcher/workload"
)

var _ launcher.Service = (*tracingMiddleware)(nil)

type tracingMiddleware struct {
	tracer trace.Tracer
	svc    launcher.Service
}

// New returns a lifecycle service with tracing capabilities.
func New(svc launcher.Service, tracer trace.Tracer) launcher.Service {
	return &tracingMiddleware{tracer, svc}
}

func (tm *tracingMiddleware) AwaitShare(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "await_share")
	defer span.End()

	return tm.svc.AwaitShare(ctx)
}

func (tm *tracingMiddleware) LoadConfig(ctx context.Context) (launcher.Config, error) {
	ctx, span := tm.tracer.Start(ctx, "load_config")
	defer span.End()

	return tm.svc.LoadConfig(ctx)
}

func (tm *tracingMiddleware) HasWorkload() bool {
	return tm.svc.HasWorkload()
}

func (tm *tracingMiddleware) SetupWorkload(ctx context.Context, cfg launcher.Config) error {
	ctx, span := tm.tracer.Start(ctx, "setup_workload", trace.WithAttributes(
		attribute.String("repo", cfg.Repo),
		attribute.String("ref", cfg.Ref),
	))
	defer span.End()

	return tm.svc.SetupWorkload(ctx, cfg)
}

func (tm *tracingMiddleware) BuildWorkload(ctx context.Context, cfg launcher.Config) error {
	ctx, span := tm.tracer.Start(ctx, "build_workload", trace.WithAttributes(
		attribute.String("compose_up_args", cfg.ComposeUpArgs),
	))
	defer span.End()

	return tm.svc.BuildWorkload(ctx, cfg)
}

func (tm *tracingMiddleware) WaitForHealth(ctx context.Context, cfg launcher.Config) (workload.HealthStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "wait_for_health", trace.WithAttributes(
		attribute.String("url", cfg.ProbeURL()),
	))
	defer span.End()

	return tm.svc.WaitForHealth(ctx, cfg)
}

func (tm *tracingMiddleware) Attest(ctx context.Context, cfg launcher.Config, health workload.HealthStatus) (launcher.AttestationResult, error) {
	ctx, span := tm.tracer.Start(ctx, "attest", trace.WithAttributes(
		attribute.String("mode", string(cfg.Mode)),
		attribute.String("health_status", health.Status),
	))
	defer span.End()

	return tm.svc.Attest(ctx, cfg, health)
}

func (tm *tracingMiddleware) Persist(result launcher.AttestationResult) error {
	return tm.svc.Persist(result)
}

func (tm *tracingMiddleware) Hold(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "hold")
	defer span.End()

	return tm.svc.Hold(ctx)
}
