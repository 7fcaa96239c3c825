// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package launcher

import (
	"context"
	"log/slog"

	"github.com/cvmforge/launcher/launcher/events"
	"github.com/cvmforge/launcher/launcher/statemachine"
	"github.com/cvmforge/launcher/launcher/workload"
)

// Controller sequences the lifecycle stages through the state machine and
// projects phase changes onto the status reporter. It performs exactly one
// error-artifact write when the pipeline fails.
type Controller struct {
	svc      Service
	reporter events.Reporter
	logger   *slog.Logger
	machine  *statemachine.Machine
}

func NewController(svc Service, reporter events.Reporter, logger *slog.Logger) *Controller {
	c := &Controller{
		svc:      svc,
		reporter: reporter,
		logger:   logger,
	}
	c.machine = c.buildMachine()

	return c
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	return c.machine.Current().(Phase)
}

// Run drives the pipeline to its terminal state. A non-nil return means
// the controller reached Error and the process must exit non-zero.
func (c *Controller) Run(ctx context.Context) error {
	err := c.run(ctx)
	if err != nil {
		if ferr := c.machine.Fire(ctx, EventFail); ferr != nil {
			c.logger.Error("failed to enter error state", slog.Any("error", ferr))
		}
		c.reporter.Failure(err.Error())
	}

	return err
}

func (c *Controller) run(ctx context.Context) error {
	if err := c.svc.AwaitShare(ctx); err != nil {
		return err
	}
	if err := c.machine.Fire(ctx, EventMountReady); err != nil {
		return err
	}

	cfg, err := c.svc.LoadConfig(ctx)
	if err != nil {
		return err
	}
	if err := c.machine.Fire(ctx, EventConfigLoaded); err != nil {
		return err
	}

	if c.svc.HasWorkload() {
		if err := c.svc.SetupWorkload(ctx, cfg); err != nil {
			return err
		}
		if err := c.machine.Fire(ctx, EventSetupDone); err != nil {
			return err
		}
		if err := c.svc.BuildWorkload(ctx, cfg); err != nil {
			return err
		}
		if err := c.machine.Fire(ctx, EventBuildDone); err != nil {
			return err
		}
	} else {
		c.logger.Info("no compose descriptor in share, skipping workload setup")
		if err := c.machine.Fire(ctx, EventBuildSkipped); err != nil {
			return err
		}
	}

	health, err := c.checkHealth(ctx, cfg)
	if err != nil {
		return err
	}
	if err := c.machine.Fire(ctx, EventHealthChecked); err != nil {
		return err
	}

	if err := c.attest(ctx, cfg, health); err != nil {
		return err
	}
	if err := c.machine.Fire(ctx, EventAttested); err != nil {
		return err
	}

	if cfg.Mode == ModePersistent {
		if err := c.machine.Fire(ctx, EventHold); err != nil {
			return err
		}
		c.logger.Info("persistent mode: VM is ready")
		return c.svc.Hold(ctx)
	}

	c.logger.Info("launcher completed successfully")
	return nil
}

// checkHealth applies the mode branch: measure mode requires a healthy
// workload, persistent mode records a degraded status instead of failing
// and probes only when a probe was configured.
func (c *Controller) checkHealth(ctx context.Context, cfg Config) (workload.HealthStatus, error) {
	if cfg.Mode == ModePersistent {
		if !cfg.HasProbe() {
			return workload.HealthStatus{Status: workload.HealthUnknown}, nil
		}

		health, err := c.svc.WaitForHealth(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return health, ctx.Err()
			}
			c.logger.Warn("health check failed in persistent mode", slog.Any("error", err))
		}
		return health, nil
	}

	return c.svc.WaitForHealth(ctx, cfg)
}

// attest applies the mode branch of the attestation stage: measure mode
// attests unconditionally and fatally, persistent mode attests only with
// a credential and records failures as warnings.
func (c *Controller) attest(ctx context.Context, cfg Config, health workload.HealthStatus) error {
	if cfg.Mode == ModePersistent && cfg.IntelAPIKey == "" {
		c.logger.Info("no trust authority credential, skipping attestation")
		return nil
	}

	result, err := c.svc.Attest(ctx, cfg, health)
	if err != nil {
		if cfg.Mode == ModePersistent {
			c.logger.Warn("attestation failed in persistent mode", slog.Any("error", err))
			return nil
		}
		return err
	}

	return c.svc.Persist(result)
}

func (c *Controller) buildMachine() *statemachine.Machine {
	m := statemachine.New(PhaseAwaitingMount)

	m.AddTransition(statemachine.Transition{From: PhaseAwaitingMount, Event: EventMountReady, To: PhaseAwaitingConfig})
	m.AddTransition(statemachine.Transition{From: PhaseAwaitingConfig, Event: EventConfigLoaded, To: PhaseSetup})
	m.AddTransition(statemachine.Transition{From: PhaseSetup, Event: EventSetupDone, To: PhaseBuilding})
	m.AddTransition(statemachine.Transition{From: PhaseSetup, Event: EventBuildSkipped, To: PhaseAwaitingHealth})
	m.AddTransition(statemachine.Transition{From: PhaseBuilding, Event: EventBuildDone, To: PhaseAwaitingHealth})
	m.AddTransition(statemachine.Transition{From: PhaseAwaitingHealth, Event: EventHealthChecked, To: PhaseAttesting})
	m.AddTransition(statemachine.Transition{From: PhaseAttesting, Event: EventAttested, To: PhaseReady})
	m.AddTransition(statemachine.Transition{From: PhaseReady, Event: EventHold, To: PhaseHold})

	for _, from := range []Phase{
		PhaseAwaitingMount, PhaseAwaitingConfig, PhaseSetup, PhaseBuilding,
		PhaseAwaitingHealth, PhaseAttesting, PhaseReady, PhaseHold,
	} {
		m.AddTransition(statemachine.Transition{From: from, Event: EventFail, To: PhaseError})
	}

	// The status artifact mirrors every phase reachable after the share
	// is writable. PhaseHold keeps the "ready" status.
	for _, phase := range []Phase{
		PhaseAwaitingConfig, PhaseSetup, PhaseBuilding,
		PhaseAwaitingHealth, PhaseAttesting, PhaseReady,
	} {
		p := phase
		m.SetAction(p, func(context.Context, statemachine.State) error {
			c.reporter.Phase(p.String())
			return nil
		})
	}

	return m
}
