// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package ita

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenMalformed = errors.New("malformed attestation token")

// Claims are the TDX leaves of the attestation token. A nil field means
// the authority did not assert that claim.
type Claims struct {
	MrTd              *string `json:"mrtd"`
	Rtmr0             *string `json:"rtmr0"`
	Rtmr1             *string `json:"rtmr1"`
	Rtmr2             *string `json:"rtmr2"`
	Rtmr3             *string `json:"rtmr3"`
	ReportData        *string `json:"report_data"`
	AttesterTcbStatus *string `json:"attester_tcb_status"`
}

// DecodeClaims extracts the TDX claims from a signed token without
// verifying its signature. A token that is not a three-segment JWT or
// whose payload is not valid JSON fails with ErrTokenMalformed; callers
// treat that as an empty claim set, never as a fatal error.
func DecodeClaims(token string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithPaddingAllowed())

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenMalformed, err)
	}

	tdx, _ := claims["tdx"].(map[string]any)

	return &Claims{
		MrTd:              stringClaim(tdx, "tdx_mrtd"),
		Rtmr0:             stringClaim(tdx, "tdx_rtmr0"),
		Rtmr1:             stringClaim(tdx, "tdx_rtmr1"),
		Rtmr2:             stringClaim(tdx, "tdx_rtmr2"),
		Rtmr3:             stringClaim(tdx, "tdx_rtmr3"),
		ReportData:        stringClaim(tdx, "tdx_report_data"),
		AttesterTcbStatus: stringClaim(tdx, "attester_tcb_status"),
	}, nil
}

func stringClaim(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	v, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &v
}
