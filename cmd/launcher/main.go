// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/cvmforge/launcher/internal"
	"github.com/cvmforge/launcher/internal/retry"
	"github.com/cvmforge/launcher/launcher"
	"github.com/cvmforge/launcher/launcher/api"
	"github.com/cvmforge/launcher/launcher/events"
	"github.com/cvmforge/launcher/launcher/share"
	"github.com/cvmforge/launcher/launcher/tracing"
	"github.com/cvmforge/launcher/launcher/workload"
	"github.com/cvmforge/launcher/pkg/attestation/quoteprovider"
)

const svcName = "launcher"

type config struct {
	LogLevel       string        `env:"LAUNCHER_LOG_LEVEL"       envDefault:"info"`
	ShareDir       string        `env:"LAUNCHER_SHARE_DIR"       envDefault:"/mnt/share"`
	WorkloadDir    string        `env:"LAUNCHER_WORKLOAD_DIR"    envDefault:"/home/tdx/workload"`
	MountInterval  time.Duration `env:"LAUNCHER_MOUNT_INTERVAL"  envDefault:"2s"`
	MountAttempts  uint64        `env:"LAUNCHER_MOUNT_ATTEMPTS"  envDefault:"60"`
	ConfigInterval time.Duration `env:"LAUNCHER_CONFIG_INTERVAL" envDefault:"1s"`
	DaemonInterval time.Duration `env:"LAUNCHER_DAEMON_INTERVAL" envDefault:"2s"`
	DaemonAttempts uint64        `env:"LAUNCHER_DAEMON_ATTEMPTS" envDefault:"30"`
	HealthInterval time.Duration `env:"LAUNCHER_HEALTH_INTERVAL" envDefault:"2s"`
	HealthAttempts uint64        `env:"LAUNCHER_HEALTH_ATTEMPTS" envDefault:"60"`
	HoldInterval   time.Duration `env:"LAUNCHER_HOLD_INTERVAL"   envDefault:"60s"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:          svcName,
		Short:        "Boot-time attestation lifecycle controller for TDX VMs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	rootCmd.AddCommand(decodeCmd())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load %s configuration: %s", svcName, err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("invalid log level %q: %s", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	launchID := uuid.NewString()
	logger.Info("TDX launcher starting",
		slog.String("share_dir", cfg.ShareDir),
		slog.String("launch_id", launchID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	ch := share.New(cfg.ShareDir, logger)
	wl := workload.NewManager(cfg.ShareDir, cfg.WorkloadDir, logger)

	svc := launcher.NewService(ch, wl, launcher.ServiceConfig{
		MountPolicy:    retry.Policy{Interval: cfg.MountInterval, MaxAttempts: cfg.MountAttempts},
		ConfigInterval: cfg.ConfigInterval,
		DaemonPolicy:   retry.Policy{Interval: cfg.DaemonInterval, MaxAttempts: cfg.DaemonAttempts},
		HealthPolicy:   retry.Policy{Interval: cfg.HealthInterval, MaxAttempts: cfg.HealthAttempts},
		HoldInterval:   cfg.HoldInterval,
	}, logger)

	svc = api.LoggingMiddleware(svc, logger)
	counter, latency := internal.MakeMetrics(svcName, "api")
	svc = api.MetricsMiddleware(svc, counter, latency)
	svc = tracing.New(svc, otel.Tracer(svcName))

	reporter := events.New(ch, logger, launchID)
	ctl := launcher.NewController(svc, reporter, logger)

	g.Go(func() error {
		defer cancel()
		return ctl.Run(ctx)
	})

	g.Go(func() error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-c:
			cancel()
			logger.Info(fmt.Sprintf("%s shutdown by signal: %s", svcName, sig))
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s terminated: %s", svcName, err))
		return err
	}

	return nil
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <quote-file>",
		Short: "Decode the measurement fields of a TDX quote (raw or base64)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			if decoded, derr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data))); derr == nil {
				data = decoded
			}

			measurements, err := quoteprovider.Decode(data)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(measurements, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return nil
		},
	}
}
