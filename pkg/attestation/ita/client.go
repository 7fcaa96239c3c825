// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0

// Package ita submits TDX quotes to the Intel Trust Authority and decodes
// the claims of the returned attestation token. The token signature is
// deliberately not verified; trust in the decoded claims derives only from
// the authority's endpoint identity.
package ita

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultAPIURL is the public Intel Trust Authority endpoint.
	DefaultAPIURL = "https://api.trustauthority.intel.com"

	attestEndpoint = "/appraisal/v1/attest"

	apiKeyHeader      = "x-api-key"
	acceptHeader      = "Accept"
	contentTypeHeader = "Content-Type"
	applicationJSON   = "application/json"

	requestTimeout = 30 * time.Second
)

// RemoteError is a non-success answer from the trust authority. It is
// recoverable: callers record it in the attestation result instead of
// failing the pipeline.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("trust authority returned %d: %s", e.StatusCode, e.Body)
}

// Client calls the trust authority appraisal API.
type Client struct {
	inner  *http.Client
	apiURL string
	apiKey string
}

func NewClient(apiKey, apiURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("API key required to initialize trust authority client")
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	return &Client{
		inner:  &http.Client{Timeout: requestTimeout},
		apiURL: apiURL,
		apiKey: apiKey,
	}, nil
}

type tokenRequest struct {
	Quote string `json:"quote"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Attest submits a base64-encoded quote for appraisal and returns the
// signed attestation token.
func (c *Client) Attest(ctx context.Context, quoteB64 string) (string, error) {
	payload, err := json.Marshal(tokenRequest{Quote: quoteB64})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+attestEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set(contentTypeHeader, applicationJSON)
	req.Header.Set(acceptHeader, applicationJSON)

	resp, err := c.inner.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", &RemoteError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("malformed trust authority response: %w", err)
	}
	if tr.Token == "" {
		return "", errors.New("trust authority response carries no token")
	}

	return tr.Token, nil
}
