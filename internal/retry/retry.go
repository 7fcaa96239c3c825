// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0

// Package retry wraps constant-interval polling loops in an explicit,
// injectable policy so callers and tests control time budgets.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a constant-interval retry budget.
type Policy struct {
	Interval    time.Duration
	MaxAttempts uint64
}

// Do runs op every Interval until it succeeds, the attempt budget is
// exhausted or ctx is canceled. The first attempt runs immediately.
func (p Policy) Do(ctx context.Context, op backoff.Operation) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), p.MaxAttempts-1), ctx)
	return backoff.Retry(op, b)
}

// DoNotify behaves like Do and additionally invokes notify after every
// failed attempt.
func (p Policy) DoNotify(ctx context.Context, op backoff.Operation, notify backoff.Notify) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), p.MaxAttempts-1), ctx)
	return backoff.RetryNotify(op, b, notify)
}
