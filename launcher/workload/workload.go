// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0

// Package workload materializes the workload directory from the share,
// drives docker compose and probes the workload health endpoint.
package workload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docker/docker/client"

	"github.com/cvmforge/launcher/internal"
	"github.com/cvmforge/launcher/internal/retry"
	"github.com/cvmforge/launcher/launcher/share"
)

var ErrComposeFailure = errors.New("docker compose failed")

// Control artifacts that belong to the share channel and must not be
// copied into the workload directory.
var shareArtifacts = map[string]bool{
	share.ConfigFile: true,
	share.StatusFile: true,
	share.ErrorFile:  true,
	share.ResultFile: true,
}

// ExecFn runs a command in dir and returns its standard output. Injectable
// for tests.
type ExecFn func(ctx context.Context, dir, command string, args ...string) (string, error)

type Option func(*Manager)

func WithExec(fn ExecFn) Option {
	return func(m *Manager) { m.exec = fn }
}

// Manager owns the workload directory lifecycle.
type Manager struct {
	shareDir string
	workDir  string
	logger   *slog.Logger
	exec     ExecFn
}

func NewManager(shareDir, workDir string, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		shareDir: shareDir,
		workDir:  workDir,
		logger:   logger,
		exec:     internal.RunCmd,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// HasCompose reports whether the share carries a compose descriptor.
func (m *Manager) HasCompose() bool {
	_, err := os.Stat(filepath.Join(m.shareDir, share.ComposeFile))
	return err == nil
}

// Setup recreates the workload directory and copies every share entry
// except the control artifacts into it.
func (m *Manager) Setup(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(m.shareDir, share.ComposeFile)); err != nil {
		return fmt.Errorf("compose file not found in share directory: %s", filepath.Join(m.shareDir, share.ComposeFile))
	}

	if err := os.RemoveAll(m.workDir); err != nil {
		return err
	}
	if err := os.MkdirAll(m.workDir, 0o755); err != nil {
		return err
	}

	entries, err := os.ReadDir(m.shareDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if shareArtifacts[entry.Name()] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		src := filepath.Join(m.shareDir, entry.Name())
		dst := filepath.Join(m.workDir, entry.Name())
		if entry.IsDir() {
			if err := internal.CopyDir(src, dst); err != nil {
				return err
			}
			m.logger.Info("copied directory", slog.String("name", entry.Name()))
			continue
		}
		if err := internal.CopyFile(src, dst); err != nil {
			return err
		}
		m.logger.Info("copied file", slog.String("name", entry.Name()))
	}

	return nil
}

// WriteEnv writes the compose .env file carrying the trust-authority
// credentials for workloads that consume them directly.
func (m *Manager) WriteEnv(apiKey, apiURL string) error {
	content := fmt.Sprintf("INTEL_API_KEY=%s\nINTEL_API_URL=%s\n", apiKey, apiURL)
	return os.WriteFile(filepath.Join(m.workDir, ".env"), []byte(content), 0o600)
}

// ComposeUp runs docker compose in the workload directory with the given
// up arguments.
func (m *Manager) ComposeUp(ctx context.Context, upArgs []string) error {
	args := append([]string{"compose", "-f", share.ComposeFile, "up"}, upArgs...)
	m.logger.Info("running docker compose", slog.Any("args", args))

	if _, err := m.exec(ctx, m.workDir, "docker", args...); err != nil {
		return fmt.Errorf("%w: %s", ErrComposeFailure, err)
	}

	m.logger.Info("docker compose completed")
	return nil
}

// ComposeHash returns the SHA-256 hex digest of the workload's compose
// descriptor, or the empty string if no descriptor is present.
func (m *Manager) ComposeHash() (string, error) {
	path := filepath.Join(m.workDir, share.ComposeFile)
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	return internal.Sha256File(path)
}

// WaitDaemon blocks until the docker daemon answers a ping.
func WaitDaemon(ctx context.Context, policy retry.Policy, logger *slog.Logger) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("could not create docker client: %w", err)
	}
	defer cli.Close()

	return policy.Do(ctx, func() error {
		if _, err := cli.Ping(ctx); err != nil {
			logger.Info("waiting for docker daemon")
			return err
		}
		return nil
	})
}
