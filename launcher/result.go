// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package launcher

import (
	"time"

	"github.com/cvmforge/launcher/pkg/attestation/ita"
	"github.com/cvmforge/launcher/pkg/attestation/quoteprovider"
)

// TDXReport carries the quote, the locally decoded measurements and, when
// a trust authority credential was configured and the call succeeded, the
// remotely appraised token and its claims.
type TDXReport struct {
	QuoteB64     string                     `json:"quote_b64"`
	Measurements quoteprovider.Measurements `json:"measurements"`

	IntelTAToken string `json:"intel_ta_token,omitempty"`
	// VerifiedMeasurements are decoded from the token without signature
	// verification; they are trusted only as far as the transport is.
	VerifiedMeasurements *ita.Claims `json:"verified_measurements,omitempty"`
	IntelTAError         string      `json:"intel_ta_error,omitempty"`
}

// WorkloadReport identifies the workload and its observed health.
type WorkloadReport struct {
	// ComposeHash is "sha256:<hex>" of the compose descriptor bytes, or
	// "sha256:" when no descriptor is present.
	ComposeHash  string `json:"compose_hash"`
	HealthStatus string `json:"health_status"`
}

// AttestationResult is the result artifact written to the share once per
// measure/attest cycle. It is never mutated after the write.
type AttestationResult struct {
	Timestamp time.Time      `json:"timestamp"`
	TDX       TDXReport      `json:"tdx"`
	Workload  WorkloadReport `json:"workload"`
}
