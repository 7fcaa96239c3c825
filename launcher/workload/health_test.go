// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0
package workload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvmforge/launcher/internal/retry"
)

func testPolicy(attempts uint64) retry.Policy {
	return retry.Policy{Interval: time.Millisecond, MaxAttempts: attempts}
}

func TestWaitHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	}))
	defer srv.Close()

	p := NewHealthProber(srv.URL, testPolicy(3), testLogger)

	health, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, health.Status)
	assert.Equal(t, "OK", health.Response)
	assert.Empty(t, health.Error)
}

func TestWaitBecomesHealthy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	}))
	defer srv.Close()

	p := NewHealthProber(srv.URL, testPolicy(10), testLogger)

	health, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, health.Status)
	assert.Equal(t, "ready", health.Response)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHealthProber(srv.URL, testPolicy(3), testLogger)

	health, err := p.Wait(context.Background())
	assert.ErrorIs(t, err, ErrHealthTimeout)
	assert.ErrorContains(t, err, srv.URL)
	assert.Equal(t, HealthUnhealthy, health.Status)
	assert.Contains(t, health.Error, srv.URL)
}

func TestWaitUnreachable(t *testing.T) {
	// A closed server refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewHealthProber(url, testPolicy(2), testLogger)

	health, err := p.Wait(context.Background())
	assert.ErrorIs(t, err, ErrHealthTimeout)
	assert.Equal(t, HealthUnhealthy, health.Status)
}

func TestWaitCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewHealthProber(srv.URL, retry.Policy{Interval: time.Hour, MaxAttempts: 10}, testLogger)

	health, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, HealthUnknown, health.Status)
}
