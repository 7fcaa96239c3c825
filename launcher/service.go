// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package launcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/cvmforge/launcher/internal/retry"
	"github.com/cvmforge/launcher/launcher/share"
	"github.com/cvmforge/launcher/launcher/workload"
	"github.com/cvmforge/launcher/pkg/attestation/ita"
	"github.com/cvmforge/launcher/pkg/attestation/quoteprovider"
)

// Service is the set of lifecycle stages the controller sequences. All of
// its decorators (logging, metrics, tracing) implement it as well.
type Service interface {
	// AwaitShare blocks until the share directory is mounted.
	AwaitShare(ctx context.Context) error
	// LoadConfig blocks until the configuration artifact exists, then
	// parses it.
	LoadConfig(ctx context.Context) (Config, error)
	// HasWorkload reports whether the share carries a compose descriptor.
	HasWorkload() bool
	// SetupWorkload materializes the workload directory from the share.
	SetupWorkload(ctx context.Context, cfg Config) error
	// BuildWorkload starts the workload through docker compose.
	BuildWorkload(ctx context.Context, cfg Config) error
	// WaitForHealth polls the workload health endpoint.
	WaitForHealth(ctx context.Context, cfg Config) (workload.HealthStatus, error)
	// Attest produces the attestation result: quote, local measurements
	// and, when a credential is configured, the remote appraisal.
	Attest(ctx context.Context, cfg Config, health workload.HealthStatus) (AttestationResult, error)
	// Persist writes the attestation result artifact.
	Persist(result AttestationResult) error
	// Hold keeps the VM alive with periodic no-op ticks until ctx ends.
	Hold(ctx context.Context) error
}

// QuoteProvider produces raw TDX quotes.
type QuoteProvider interface {
	RawQuote(userData []byte) ([]byte, error)
}

// TokenVerifier submits a quote for remote appraisal.
type TokenVerifier interface {
	Attest(ctx context.Context, quoteB64 string) (string, error)
}

// VerifierFactory builds a TokenVerifier from the configured credential.
type VerifierFactory func(apiKey, apiURL string) (TokenVerifier, error)

// ProviderFactory opens the hardware quote interface. It is called at
// attestation time, not at startup, so the interface may appear late.
type ProviderFactory func() (QuoteProvider, error)

// ServiceConfig carries the polling budgets of the blocking stages.
type ServiceConfig struct {
	MountPolicy    retry.Policy
	ConfigInterval time.Duration
	DaemonPolicy   retry.Policy
	HealthPolicy   retry.Policy
	HoldInterval   time.Duration
}

type ServiceOption func(*launcherService)

// WithProviderFactory overrides the hardware quote interface. Used by
// tests.
func WithProviderFactory(f ProviderFactory) ServiceOption {
	return func(s *launcherService) { s.newProvider = f }
}

// WithVerifierFactory overrides the trust authority client constructor.
func WithVerifierFactory(f VerifierFactory) ServiceOption {
	return func(s *launcherService) { s.newVerifier = f }
}

type launcherService struct {
	share    *share.Channel
	workload *workload.Manager
	cfg      ServiceConfig
	logger   *slog.Logger

	newProvider ProviderFactory
	newVerifier VerifierFactory
}

var _ Service = (*launcherService)(nil)

// NewService instantiates the lifecycle service over the given share
// channel and workload manager.
func NewService(ch *share.Channel, wl *workload.Manager, cfg ServiceConfig, logger *slog.Logger, opts ...ServiceOption) Service {
	s := &launcherService{
		share:    ch,
		workload: wl,
		cfg:      cfg,
		logger:   logger,
	}
	s.newProvider = func() (QuoteProvider, error) {
		return quoteprovider.New(logger)
	}
	s.newVerifier = func(apiKey, apiURL string) (TokenVerifier, error) {
		return ita.NewClient(apiKey, apiURL)
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *launcherService) AwaitShare(ctx context.Context) error {
	return s.share.AwaitMount(ctx, s.cfg.MountPolicy)
}

func (s *launcherService) LoadConfig(ctx context.Context) (Config, error) {
	raw, err := s.share.AwaitConfig(ctx, s.cfg.ConfigInterval)
	if err != nil {
		return Config{}, err
	}

	cfg, err := ParseConfig(raw)
	if err != nil {
		return Config{}, err
	}
	s.logger.Info("configuration loaded",
		slog.String("mode", string(cfg.Mode)),
		slog.String("repo", cfg.Repo),
		slog.String("ref", cfg.Ref))

	return cfg, nil
}

func (s *launcherService) HasWorkload() bool {
	return s.workload.HasCompose()
}

func (s *launcherService) SetupWorkload(ctx context.Context, cfg Config) error {
	return s.workload.Setup(ctx)
}

func (s *launcherService) BuildWorkload(ctx context.Context, cfg Config) error {
	if err := workload.WaitDaemon(ctx, s.cfg.DaemonPolicy, s.logger); err != nil {
		return fmt.Errorf("docker daemon not ready: %w", err)
	}

	if err := s.workload.WriteEnv(cfg.IntelAPIKey, cfg.IntelAPIURL); err != nil {
		return err
	}

	return s.workload.ComposeUp(ctx, cfg.ComposeArgs())
}

func (s *launcherService) WaitForHealth(ctx context.Context, cfg Config) (workload.HealthStatus, error) {
	prober := workload.NewHealthProber(cfg.ProbeURL(), s.cfg.HealthPolicy, s.logger)
	return prober.Wait(ctx)
}

func (s *launcherService) Attest(ctx context.Context, cfg Config, health workload.HealthStatus) (AttestationResult, error) {
	qp, err := s.newProvider()
	if err != nil {
		return AttestationResult{}, err
	}

	s.logger.Info("generating TDX quote")
	quote, err := qp.RawQuote(nil)
	if err != nil {
		return AttestationResult{}, err
	}

	measurements, err := quoteprovider.Decode(quote)
	if err != nil {
		// Recorded in the result, not fatal: the quote is still reported
		// for out-of-band inspection.
		s.logger.Warn("failed to decode quote", slog.Any("error", err))
		measurements = quoteprovider.Measurements{Error: err.Error()}
	}

	composeHash, err := s.workload.ComposeHash()
	if err != nil {
		return AttestationResult{}, err
	}

	result := AttestationResult{
		Timestamp: time.Now().UTC(),
		TDX: TDXReport{
			QuoteB64:     base64.StdEncoding.EncodeToString(quote),
			Measurements: measurements,
		},
		Workload: WorkloadReport{
			ComposeHash:  "sha256:" + composeHash,
			HealthStatus: health.Status,
		},
	}

	if cfg.IntelAPIKey == "" {
		s.logger.Info("no trust authority credential, local measurements only")
		return result, nil
	}

	verifier, err := s.newVerifier(cfg.IntelAPIKey, cfg.IntelAPIURL)
	if err != nil {
		result.TDX.IntelTAError = err.Error()
		return result, nil
	}

	s.logger.Info("calling trust authority", slog.String("url", cfg.IntelAPIURL))
	token, err := verifier.Attest(ctx, result.TDX.QuoteB64)
	if err != nil {
		s.logger.Warn("trust authority call failed", slog.Any("error", err))
		result.TDX.IntelTAError = err.Error()
		return result, nil
	}
	result.TDX.IntelTAToken = token

	claims, err := ita.DecodeClaims(token)
	if err != nil {
		s.logger.Warn("could not decode token claims", slog.Any("error", err))
		return result, nil
	}
	result.TDX.VerifiedMeasurements = claims
	s.logger.Info("trust authority attestation successful")

	return result, nil
}

func (s *launcherService) Persist(result AttestationResult) error {
	if err := s.share.WriteResult(result); err != nil {
		return err
	}
	s.logger.Info("attestation result written", slog.String("file", share.ResultFile))
	return nil
}

func (s *launcherService) Hold(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HoldInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Keep-alive tick, no work performed.
		}
	}
}
