// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0

// Package events projects the controller's current phase and failures
// onto the share-channel artifacts the host orchestrator watches.
package events

import (
	"log/slog"

	"github.com/cvmforge/launcher/launcher/share"
)

// Reporter is the controller's status sink.
type Reporter interface {
	Phase(phase string)
	Failure(message string)
}

type reporter struct {
	ch       *share.Channel
	logger   *slog.Logger
	launchID string
}

func New(ch *share.Channel, logger *slog.Logger, launchID string) Reporter {
	return &reporter{
		ch:       ch,
		logger:   logger,
		launchID: launchID,
	}
}

func (r *reporter) Phase(phase string) {
	if err := r.ch.WriteStatus(phase); err != nil {
		r.logger.Error("failed to write status artifact", slog.Any("error", err))
		return
	}
	r.logger.Info("status", slog.String("phase", phase), slog.String("launch_id", r.launchID))
}

func (r *reporter) Failure(message string) {
	if err := r.ch.WriteError(message); err != nil {
		r.logger.Error("failed to write error artifact", slog.Any("error", err))
	}
	r.logger.Error("launcher failed", slog.String("error", message), slog.String("launch_id", r.launchID))
}
