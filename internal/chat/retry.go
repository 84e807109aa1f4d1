// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Defaults for the retrying directory decorator.
const (
	DefaultLookupAttempts = 3
	DefaultLookupBackoff  = 100 * time.Millisecond
)

// RetryingDirectory wraps a UserDirectory and retries not-found lookups
// with a short backoff. The upstream directory ingests users from the
// platform asynchronously, so a user who just sent their first message
// may not be resolvable for a brief window.
type RetryingDirectory struct {
	inner    UserDirectory
	attempts uint64
	backoff  time.Duration
}

// RetryOption configures a RetryingDirectory.
type RetryOption func(*RetryingDirectory)

// WithLookupAttempts sets the total number of lookup attempts.
func WithLookupAttempts(n int) RetryOption {
	return func(d *RetryingDirectory) {
		if n > 0 {
			d.attempts = uint64(n)
		}
	}
}

// WithLookupBackoff sets the initial backoff between attempts.
func WithLookupBackoff(b time.Duration) RetryOption {
	return func(d *RetryingDirectory) {
		if b > 0 {
			d.backoff = b
		}
	}
}

// NewRetryingDirectory wraps inner with not-found retry behavior.
// Panics if inner is nil.
func NewRetryingDirectory(inner UserDirectory, opts ...RetryOption) *RetryingDirectory {
	if inner == nil {
		panic("chat: inner directory cannot be nil")
	}
	d := &RetryingDirectory{
		inner:    inner,
		attempts: DefaultLookupAttempts,
		backoff:  DefaultLookupBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LookupUser resolves a user, retrying ErrUserNotFound until the attempt
// budget is exhausted. Other errors fail immediately.
func (d *RetryingDirectory) LookupUser(ctx context.Context, userID string) (*UserProfile, error) {
	backoff := retry.WithMaxRetries(d.attempts-1, retry.NewConstant(d.backoff))

	var profile *UserProfile
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := d.inner.LookupUser(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				slog.Debug("user not in directory yet, retrying",
					"user_id", userID)
				return retry.RetryableError(err)
			}
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}
