// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package quoteprovider

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// MinQuoteSize is the quote header plus the TD report body.
const MinQuoteSize = 584

// TD report field offsets relative to the report body, which starts after
// the 48-byte quote header.
const (
	reportOffset = 48

	teeTcbSvnOffset      = 0
	mrSeamOffset         = 16
	mrSignerSeamOffset   = 64
	seamAttributesOffset = 112
	tdAttributesOffset   = 120
	xfamOffset           = 128
	mrTdOffset           = 136
	mrConfigIDOffset     = 184
	mrOwnerOffset        = 232
	mrOwnerConfigOffset  = 280
	rtmrOffset           = 328
	reportDataOffset     = 520

	svnSize         = 16
	measurementSize = 48
	attributesSize  = 8
	reportDataSize  = 64
)

var ErrQuoteTooShort = errors.New("quote too short")

// Measurements are the named fields extracted from a raw TDX quote. All
// binary fields are rendered as lowercase hex of the raw bytes.
type Measurements struct {
	// Error is set instead of the fields below when the quote could not
	// be decoded.
	Error string `json:"error,omitempty"`

	QuoteSize      int    `json:"quote_size,omitempty"`
	Version        uint16 `json:"version,omitempty"`
	TeeTcbSvn      string `json:"tee_tcb_svn,omitempty"`
	MrSeam         string `json:"mrseam,omitempty"`
	MrSignerSeam   string `json:"mrsigner_seam,omitempty"`
	SeamAttributes string `json:"seam_attributes,omitempty"`
	TdAttributes   string `json:"td_attributes,omitempty"`
	Xfam           string `json:"xfam,omitempty"`
	MrTd           string `json:"mrtd,omitempty"`
	MrConfigID     string `json:"mr_config_id,omitempty"`
	MrOwner        string `json:"mr_owner,omitempty"`
	MrOwnerConfig  string `json:"mr_owner_config,omitempty"`
	Rtmr0          string `json:"rtmr0,omitempty"`
	Rtmr1          string `json:"rtmr1,omitempty"`
	Rtmr2          string `json:"rtmr2,omitempty"`
	Rtmr3          string `json:"rtmr3,omitempty"`
	ReportData     string `json:"report_data,omitempty"`
}

// Decode extracts the measurement fields from a raw quote. It fails with
// ErrQuoteTooShort when the quote cannot hold a TD report.
func Decode(quote []byte) (Measurements, error) {
	if len(quote) < MinQuoteSize {
		return Measurements{}, ErrQuoteTooShort
	}

	body := func(offset, size int) string {
		return hexField(quote, reportOffset+offset, size)
	}

	return Measurements{
		QuoteSize:      len(quote),
		Version:        binary.LittleEndian.Uint16(quote[0:2]),
		TeeTcbSvn:      body(teeTcbSvnOffset, svnSize),
		MrSeam:         body(mrSeamOffset, measurementSize),
		MrSignerSeam:   body(mrSignerSeamOffset, measurementSize),
		SeamAttributes: body(seamAttributesOffset, attributesSize),
		TdAttributes:   body(tdAttributesOffset, attributesSize),
		Xfam:           body(xfamOffset, attributesSize),
		MrTd:           body(mrTdOffset, measurementSize),
		MrConfigID:     body(mrConfigIDOffset, measurementSize),
		MrOwner:        body(mrOwnerOffset, measurementSize),
		MrOwnerConfig:  body(mrOwnerConfigOffset, measurementSize),
		Rtmr0:          body(rtmrOffset, measurementSize),
		Rtmr1:          body(rtmrOffset+measurementSize, measurementSize),
		Rtmr2:          body(rtmrOffset+2*measurementSize, measurementSize),
		Rtmr3:          body(rtmrOffset+3*measurementSize, measurementSize),
		ReportData:     body(reportDataOffset, reportDataSize),
	}, nil
}

// hexField renders quote[offset:offset+size] as hex, truncating at the end
// of the quote for minimally-sized quotes.
func hexField(quote []byte, offset, size int) string {
	end := offset + size
	if end > len(quote) {
		end = len(quote)
	}
	if offset >= len(quote) {
		return ""
	}
	return hex.EncodeToString(quote[offset:end])
}
