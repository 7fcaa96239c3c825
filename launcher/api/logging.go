// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cvmforge/launcher/launcher"
	"github.com/cvmforge/launcher/launcher/workload"
)

var _ launcher.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    launcher.Service
}

// LoggingMiddleware adds logging facilities to the lifecycle service.
func LoggingMiddleware(svc launcher.Service, logger *slog.Logger) launcher.Service {
	return &loggingMiddleware{logger, svc}
}

func (lm *loggingMiddleware) log(method string, begin time.Time, err error) {
	message := fmt.Sprintf("Method %s took %s to complete", method, time.Since(begin))
	if err != nil {
		lm.logger.Warn(fmt.Sprintf("%s with error: %s.", message, err))
		return
	}
	lm.logger.Info(fmt.Sprintf("%s without errors.", message))
}

func (lm *loggingMiddleware) AwaitShare(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		lm.log("AwaitShare", begin, err)
	}(time.Now())

	return lm.svc.AwaitShare(ctx)
}

func (lm *loggingMiddleware) LoadConfig(ctx context.Context) (cfg launcher.Config, err error) {
	defer func(begin time.Time) {
		lm.log("LoadConfig", begin, err)
	}(time.Now())

	return lm.svc.LoadConfig(ctx)
}

func (lm *loggingMiddleware) HasWorkload() bool {
	return lm.svc.HasWorkload()
}

func (lm *loggingMiddleware) SetupWorkload(ctx context.Context, cfg launcher.Config) (err error) {
	defer func(begin time.Time) {
		lm.log("SetupWorkload", begin, err)
	}(time.Now())

	return lm.svc.SetupWorkload(ctx, cfg)
}

func (lm *loggingMiddleware) BuildWorkload(ctx context.Context, cfg launcher.Config) (err error) {
	defer func(begin time.Time) {
		lm.log("BuildWorkload", begin, err)
	}(time.Now())

	return lm.svc.BuildWorkload(ctx, cfg)
}

func (lm *loggingMiddleware) WaitForHealth(ctx context.Context, cfg launcher.Config) (health workload.HealthStatus, err error) {
	defer func(begin time.Time) {
		lm.log("WaitForHealth", begin, err)
	}(time.Now())

	return lm.svc.WaitForHealth(ctx, cfg)
}

func (lm *loggingMiddleware) Attest(ctx context.Context, cfg launcher.Config, health workload.HealthStatus) (result launcher.AttestationResult, err error) {
	defer func(begin time.Time) {
		lm.log("Attest", begin, err)
	}(time.Now())

	return lm.svc.Attest(ctx, cfg, health)
}

func (lm *loggingMiddleware) Persist(result launcher.AttestationResult) (err error) {
	defer func(begin time.Time) {
		lm.log("Persist", begin, err)
	}(time.Now())

	return lm.svc.Persist(result)
}

func (lm *loggingMiddleware) Hold(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		lm.log("Hold", begin, err)
	}(time.Now())

	return lm.svc.Hold(ctx)
}
