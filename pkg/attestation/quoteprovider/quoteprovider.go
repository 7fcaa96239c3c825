// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0

// Package quoteprovider generates TDX attestation quotes through the
// configfs-tsm report interface and decodes their fixed binary layout.
//
// The report interface is a process-wide OS resource. Quote generation
// holds a report entry from creation through deletion as one scoped
// critical section; concurrent generation from multiple processes against
// the same interface must be serialized by the caller.
package quoteprovider

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/go-configfs-tsm/configfs/configfsi"
	"github.com/google/go-configfs-tsm/configfs/linuxtsm"
	"github.com/google/go-configfs-tsm/report"
	"github.com/google/go-tdx-guest/abi"
	tgclient "github.com/google/go-tdx-guest/client"
)

// UserDataSize is the size of the report_data blob mixed into a quote.
const UserDataSize = 64

var ErrAttestationUnavailable = errors.New("TDX attestation interface not available")

// Provider produces raw TDX quotes from the configfs-tsm report
// subsystem.
type Provider struct {
	tsm    configfsi.Client
	logger *slog.Logger
}

// New probes the TDX quote interface and returns a Provider bound to the
// kernel configfs-tsm client. It fails with ErrAttestationUnavailable when
// the interface is absent.
func New(logger *slog.Logger) (*Provider, error) {
	qp, err := tgclient.GetQuoteProvider()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAttestationUnavailable, err)
	}
	if err := qp.IsSupported(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAttestationUnavailable, err)
	}

	tsm, err := linuxtsm.MakeClient()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAttestationUnavailable, err)
	}

	return &Provider{tsm: tsm, logger: logger}, nil
}

// NewWithClient returns a Provider over the given configfs client.
func NewWithClient(tsm configfsi.Client, logger *slog.Logger) *Provider {
	return &Provider{tsm: tsm, logger: logger}
}

// RawQuote generates a quote carrying userData (at most UserDataSize
// bytes, zero-padded) in its report_data field. The report entry is
// created, written, read and released as one scoped operation.
func (p *Provider) RawQuote(userData []byte) ([]byte, error) {
	if len(userData) > UserDataSize {
		return nil, fmt.Errorf("user data too long: %d bytes, max %d", len(userData), UserDataSize)
	}

	var inBlob [UserDataSize]byte
	copy(inBlob[:], userData)

	resp, err := report.Get(p.tsm, &report.Request{InBlob: inBlob[:]})
	if err != nil {
		return nil, fmt.Errorf("failed to generate quote: %w", err)
	}

	if _, err := abi.QuoteToProto(resp.OutBlob); err != nil {
		p.logger.Warn("generated quote failed structural check", slog.Any("error", err))
	}

	return resp.OutBlob, nil
}
