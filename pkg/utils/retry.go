// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrConflict signals RetryOnConflict that the operation lost a race and
// should be re-run against fresh state.
var ErrConflict = errors.New("conflict")

// RetryConfig defines the configuration for retry operations
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries)
	MaxRetries int
	// InitialBackoff is the initial backoff duration before the first retry
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration between retries
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which backoff is multiplied after each retry
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the retry configuration used for call attempt
// state writes. Conflicts are rare and short lived, so the budget is small.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// RetryOnConflict runs fn until it returns something other than ErrConflict,
// the retry budget is used up or ctx is done. fn is expected to re-read the
// state it modifies on every call. The last ErrConflict is returned when the
// budget is exhausted.
func RetryOnConflict(ctx context.Context, config RetryConfig, fn func(attempt int) error) error {
	backoff := config.InitialBackoff

	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if !errors.Is(err, ErrConflict) || attempt >= config.MaxRetries {
			return err
		}

		zap.S().Debugw("State write conflict, retrying",
			"attempt", attempt+1,
			"maxRetries", config.MaxRetries,
			"backoff", backoff.String(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}
}
