// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package launcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvmforge/launcher/internal/retry"
	"github.com/cvmforge/launcher/launcher/share"
	"github.com/cvmforge/launcher/launcher/workload"
	"github.com/cvmforge/launcher/pkg/attestation/quoteprovider"
)

type fakeQuoteProvider struct {
	quote []byte
	err   error
}

func (f *fakeQuoteProvider) RawQuote([]byte) ([]byte, error) {
	return f.quote, f.err
}

type fakeVerifier struct {
	token string
	err   error

	gotQuote string
}

func (f *fakeVerifier) Attest(_ context.Context, quoteB64 string) (string, error) {
	f.gotQuote = quoteB64
	return f.token, f.err
}

func testServiceConfig() ServiceConfig {
	return ServiceConfig{
		MountPolicy:    retry.Policy{Interval: time.Millisecond, MaxAttempts: 3},
		ConfigInterval: time.Millisecond,
		DaemonPolicy:   retry.Policy{Interval: time.Millisecond, MaxAttempts: 3},
		HealthPolicy:   retry.Policy{Interval: time.Millisecond, MaxAttempts: 3},
		HoldInterval:   time.Millisecond,
	}
}

func newTestService(t *testing.T, shareDir string, opts ...ServiceOption) Service {
	t.Helper()

	ch := share.New(shareDir, testLogger,
		share.WithMountCheck(func() (bool, error) { return true, nil }))
	wl := workload.NewManager(shareDir, filepath.Join(t.TempDir(), "workload"), testLogger)

	return NewService(ch, wl, testServiceConfig(), testLogger, opts...)
}

// minimalQuote is 584 bytes so the decoded measurements carry a truncated
// report_data, mirroring what the fixed-size report interface returns.
func minimalQuote() []byte {
	quote := make([]byte, 584)
	quote[0] = 4
	for i := 232; i < 280; i++ {
		quote[i] = 0xab
	}
	return quote
}

func TestLoadConfig(t *testing.T) {
	shareDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(shareDir, share.ConfigFile),
		[]byte(`{"mode": "persistent", "intel_api_key": "k"}`), 0o644))

	svc := newTestService(t, shareDir)

	cfg, err := svc.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModePersistent, cfg.Mode)
	assert.Equal(t, "k", cfg.IntelAPIKey)
}

func TestLoadConfigMalformed(t *testing.T) {
	shareDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(shareDir, share.ConfigFile), []byte(`{broken`), 0o644))

	svc := newTestService(t, shareDir)

	_, err := svc.LoadConfig(context.Background())
	assert.ErrorIs(t, err, ErrConfigMalformed)
}

func TestAttestLocalOnly(t *testing.T) {
	quote := minimalQuote()
	verifier := &fakeVerifier{}

	svc := newTestService(t, t.TempDir(),
		WithProviderFactory(func() (QuoteProvider, error) {
			return &fakeQuoteProvider{quote: quote}, nil
		}),
		WithVerifierFactory(func(string, string) (TokenVerifier, error) {
			return verifier, nil
		}))

	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)

	result, err := svc.Attest(context.Background(), cfg, workload.HealthStatus{Status: workload.HealthHealthy})
	require.NoError(t, err)

	assert.Equal(t, base64.StdEncoding.EncodeToString(quote), result.TDX.QuoteB64)
	assert.Equal(t, 584, result.TDX.Measurements.QuoteSize)
	assert.Equal(t, uint16(4), result.TDX.Measurements.Version)
	assert.Equal(t, workload.HealthHealthy, result.Workload.HealthStatus)
	assert.Equal(t, "sha256:", result.Workload.ComposeHash)

	// No credential, no trust authority call.
	assert.Empty(t, verifier.gotQuote)
	assert.Empty(t, result.TDX.IntelTAToken)
	assert.Nil(t, result.TDX.VerifiedMeasurements)
}

func TestAttestWithTrustAuthority(t *testing.T) {
	quote := minimalQuote()
	token := makeTestToken(t, map[string]any{
		"tdx": map[string]any{"tdx_mrtd": "ab12"},
	})
	verifier := &fakeVerifier{token: token}

	svc := newTestService(t, t.TempDir(),
		WithProviderFactory(func() (QuoteProvider, error) {
			return &fakeQuoteProvider{quote: quote}, nil
		}),
		WithVerifierFactory(func(apiKey, apiURL string) (TokenVerifier, error) {
			assert.Equal(t, "secret", apiKey)
			return verifier, nil
		}))

	cfg, err := ParseConfig([]byte(`{"intel_api_key": "secret"}`))
	require.NoError(t, err)

	result, err := svc.Attest(context.Background(), cfg, workload.HealthStatus{Status: workload.HealthHealthy})
	require.NoError(t, err)

	assert.Equal(t, result.TDX.QuoteB64, verifier.gotQuote)
	assert.Equal(t, token, result.TDX.IntelTAToken)
	require.NotNil(t, result.TDX.VerifiedMeasurements)
	require.NotNil(t, result.TDX.VerifiedMeasurements.MrTd)
	assert.Equal(t, "ab12", *result.TDX.VerifiedMeasurements.MrTd)
	assert.Empty(t, result.TDX.IntelTAError)
}

func TestAttestTrustAuthorityFailureIsRecorded(t *testing.T) {
	svc := newTestService(t, t.TempDir(),
		WithProviderFactory(func() (QuoteProvider, error) {
			return &fakeQuoteProvider{quote: minimalQuote()}, nil
		}),
		WithVerifierFactory(func(string, string) (TokenVerifier, error) {
			return &fakeVerifier{err: errors.New("trust authority returned 401: invalid api key")}, nil
		}))

	cfg, err := ParseConfig([]byte(`{"intel_api_key": "wrong"}`))
	require.NoError(t, err)

	result, err := svc.Attest(context.Background(), cfg, workload.HealthStatus{Status: workload.HealthHealthy})
	require.NoError(t, err)

	assert.NotEmpty(t, result.TDX.QuoteB64)
	assert.Empty(t, result.TDX.IntelTAToken)
	assert.Contains(t, result.TDX.IntelTAError, "401")
}

func TestAttestShortQuoteEmbedsDecodeError(t *testing.T) {
	svc := newTestService(t, t.TempDir(),
		WithProviderFactory(func() (QuoteProvider, error) {
			return &fakeQuoteProvider{quote: make([]byte, 100)}, nil
		}))

	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)

	result, err := svc.Attest(context.Background(), cfg, workload.HealthStatus{Status: workload.HealthUnknown})
	require.NoError(t, err)

	assert.Contains(t, result.TDX.Measurements.Error, "quote too short")
	assert.Empty(t, result.TDX.Measurements.MrTd)
	assert.NotEmpty(t, result.TDX.QuoteB64)
}

func TestAttestProviderUnavailable(t *testing.T) {
	unavailable := errors.New("TDX attestation interface not available")
	svc := newTestService(t, t.TempDir(),
		WithProviderFactory(func() (QuoteProvider, error) {
			return nil, unavailable
		}))

	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)

	_, err = svc.Attest(context.Background(), cfg, workload.HealthStatus{})
	assert.ErrorIs(t, err, unavailable)
}

func TestPersist(t *testing.T) {
	shareDir := t.TempDir()
	svc := newTestService(t, shareDir)

	result := AttestationResult{
		Timestamp: time.Now().UTC(),
		TDX: TDXReport{
			QuoteB64:     "cXVvdGU=",
			Measurements: quoteprovider.Measurements{QuoteSize: 584, Version: 4, MrTd: "ab"},
		},
		Workload: WorkloadReport{ComposeHash: "sha256:abc", HealthStatus: workload.HealthHealthy},
	}
	require.NoError(t, svc.Persist(result))

	data, err := os.ReadFile(filepath.Join(shareDir, share.ResultFile))
	require.NoError(t, err)

	var decoded AttestationResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, result.TDX.QuoteB64, decoded.TDX.QuoteB64)
	assert.Equal(t, result.Workload.ComposeHash, decoded.Workload.ComposeHash)
}

func TestHoldEndsOnCancel(t *testing.T) {
	svc := newTestService(t, t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := svc.Hold(ctx)
	assert.NoError(t, err)
}

// makeTestToken builds an unsigned three-segment JWT carrying claims.
func makeTestToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"PS384","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("signature"))
}
