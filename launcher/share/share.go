// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0

// Package share implements the channel between the launcher and the host
// orchestrator: a single shared directory the host populates with the
// workload configuration and the launcher answers with status, error and
// attestation artifacts.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cvmforge/launcher/internal"
	"github.com/cvmforge/launcher/internal/retry"
)

// Artifact names under the share root.
const (
	ConfigFile  = "config.json"
	StatusFile  = "status"
	ErrorFile   = "error.log"
	ResultFile  = "attestation.json"
	ComposeFile = "docker-compose.yml"
)

// A manual mount is attempted every mountRetryEvery'th wait attempt. The
// 9p share is not always auto-mounted at boot.
const mountRetryEvery = 3

var ErrMountTimeout = errors.New("share directory not mounted within budget")

// MountFn attempts to mount the share. MountCheckFn reports whether the
// share directory currently is a mountpoint. Both are injectable for tests.
type (
	MountFn      func(ctx context.Context) error
	MountCheckFn func() (bool, error)
)

type Option func(*Channel)

func WithMounter(m MountFn) Option {
	return func(c *Channel) { c.mount = m }
}

func WithMountCheck(f MountCheckFn) Option {
	return func(c *Channel) { c.mounted = f }
}

// Channel is the launcher's handle to the shared directory.
type Channel struct {
	dir     string
	logger  *slog.Logger
	mount   MountFn
	mounted MountCheckFn
}

func New(dir string, logger *slog.Logger, opts ...Option) *Channel {
	c := &Channel{
		dir:    dir,
		logger: logger,
	}
	c.mount = c.mount9p
	c.mounted = c.isMountpoint

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Channel) Dir() string {
	return c.dir
}

// AwaitMount blocks until the share directory is a mounted filesystem,
// attempting a manual mount every third attempt. It fails with
// ErrMountTimeout once the policy budget is exhausted.
func (c *Channel) AwaitMount(ctx context.Context, policy retry.Policy) error {
	attempt := 0
	err := policy.Do(ctx, func() error {
		ok, err := c.mounted()
		if err == nil && ok {
			return nil
		}

		c.logger.Info("waiting for share directory to be mounted", slog.String("dir", c.dir))
		if attempt > 0 && attempt%mountRetryEvery == 0 {
			if merr := c.mount(ctx); merr != nil {
				c.logger.Debug("manual mount failed (may not be ready)", slog.Any("error", merr))
			} else {
				c.logger.Info("manual mount succeeded")
			}
		}
		attempt++

		return fmt.Errorf("share not mounted: %s", c.dir)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrMountTimeout, c.dir)
	}

	return nil
}

// AwaitConfig blocks until the configuration artifact exists and returns
// its raw bytes.
func (c *Channel) AwaitConfig(ctx context.Context, interval time.Duration) ([]byte, error) {
	path := filepath.Join(c.dir, ConfigFile)
	c.logger.Info("waiting for configuration", slog.String("path", path))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			c.logger.Info("configuration artifact found")
			return os.ReadFile(path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WriteStatus overwrites the status artifact with the given phase string.
func (c *Channel) WriteStatus(status string) error {
	return os.WriteFile(filepath.Join(c.dir, StatusFile), []byte(status), 0o644)
}

// WriteError records the failure message and flips the status artifact to
// "error".
func (c *Channel) WriteError(message string) error {
	if err := os.WriteFile(filepath.Join(c.dir, ErrorFile), []byte(message), 0o644); err != nil {
		return err
	}
	return c.WriteStatus("error")
}

// WriteResult overwrites the attestation result artifact.
func (c *Channel) WriteResult(result any) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, ResultFile), data, 0o644)
}

// isMountpoint compares the device IDs of the directory and its parent.
func (c *Channel) isMountpoint() (bool, error) {
	var dirStat, parentStat unix.Stat_t
	if err := unix.Stat(c.dir, &dirStat); err != nil {
		return false, err
	}
	if err := unix.Stat(filepath.Dir(c.dir), &parentStat); err != nil {
		return false, err
	}

	return dirStat.Dev != parentStat.Dev, nil
}

func (c *Channel) mount9p(ctx context.Context) error {
	_, err := internal.RunCmd(ctx, "", "mount", "-t", "9p", "-o", "trans=virtio,version=9p2000.L", "share", c.dir)
	return err
}
